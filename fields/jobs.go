package fields

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MediaKind selects the vendor pipeline a job runs through.
type MediaKind string

const (
	KindImage  MediaKind = "image"
	KindVideo  MediaKind = "video"
	KindAvatar MediaKind = "avatar"
)

func (k MediaKind) Valid() bool {
	switch k {
	case KindImage, KindVideo, KindAvatar:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a generation job. Transitions move
// queued → processing → completed|error; retry moves error → queued.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusError      JobStatus = "error"
)

func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusError:
		return true
	}
	return false
}

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotRetryable = errors.New("only failed jobs can be retried")
	ErrBadTransition   = errors.New("invalid job status transition")
)

// GenerationJob is one generation request of any media kind. A single table
// backs image, video and avatar jobs; vendor-specific knobs live in Params
// and vendor handles in GenerationID/ImageKey/GroupID.
type GenerationJob struct {
	ID           string    `json:"job_id" gorm:"primaryKey"`
	UserID       uint      `json:"-" gorm:"index"`
	Kind         MediaKind `json:"kind" gorm:"index"`
	Prompt       string    `json:"prompt"`
	Params       string    `json:"params,omitempty"`
	Status       JobStatus `json:"status" gorm:"index;default:queued"`
	Progress     int       `json:"progress"`
	ResultURL    string    `json:"result_url,omitempty"`
	GenerationID string    `json:"generation_id,omitempty"`
	ImageKey     string    `json:"image_key,omitempty"`
	GroupID      string    `json:"group_id,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Attempts     int       `json:"attempts"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ReferenceImages []ReferenceImage `json:"reference_images,omitempty" gorm:"foreignKey:JobID"`
}

// ReferenceImage is a base64 payload attached to a job, many-to-one.
type ReferenceImage struct {
	gorm.Model
	JobID    string `json:"-" gorm:"index"`
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
}

func (j *GenerationJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = StatusQueued
	}
	return nil
}

// NewGenerationJob builds a queued job owned by userID.
func NewGenerationJob(userID uint, kind MediaKind, prompt, params string) *GenerationJob {
	return &GenerationJob{
		ID:     uuid.NewString(),
		UserID: userID,
		Kind:   kind,
		Prompt: prompt,
		Params: params,
		Status: StatusQueued,
	}
}

// GetJob retrieves a job with its reference images.
func GetJob(id string, db *gorm.DB) (GenerationJob, error) {
	var job GenerationJob
	res := db.Preload("ReferenceImages").First(&job, "id = ?", id)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return job, ErrJobNotFound
	}
	return job, res.Error
}

// GetUserJob retrieves a job only when it belongs to userID.
func GetUserJob(id string, userID uint, db *gorm.DB) (GenerationJob, error) {
	var job GenerationJob
	res := db.Preload("ReferenceImages").First(&job, "id = ? AND user_id = ?", id, userID)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return job, ErrJobNotFound
	}
	return job, res.Error
}

// ListJobs returns a page of the user's jobs, newest first. Zero-value kind
// or status means no filter.
func ListJobs(db *gorm.DB, userID uint, kind MediaKind, status JobStatus, limit, offset int) ([]GenerationJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := db.Where("user_id = ?", userID)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var jobs []GenerationJob
	err := q.Order("created_at desc").Limit(limit).Offset(offset).Find(&jobs).Error
	return jobs, err
}

// MarkProcessing moves a queued (or re-queued) job into processing and
// stamps StartedAt once.
func (j *GenerationJob) MarkProcessing(db *gorm.DB) error {
	if j.Status != StatusQueued && j.Status != StatusProcessing {
		return ErrBadTransition
	}
	updates := map[string]interface{}{"status": StatusProcessing}
	if j.StartedAt == nil {
		now := time.Now()
		j.StartedAt = &now
		updates["started_at"] = now
	}
	j.Status = StatusProcessing
	return db.Model(j).Updates(updates).Error
}

// SetProgress writes a new progress value. Progress is monotonic while the
// job is processing: a smaller value than the current one is dropped.
func (j *GenerationJob) SetProgress(db *gorm.DB, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress <= j.Progress {
		return nil
	}
	j.Progress = progress
	return db.Model(j).Update("progress", progress).Error
}

// MarkCompleted finalizes a processing job with its public result URL.
func (j *GenerationJob) MarkCompleted(db *gorm.DB, resultURL string) error {
	if j.Status != StatusProcessing {
		return ErrBadTransition
	}
	now := time.Now()
	j.Status = StatusCompleted
	j.Progress = 100
	j.ResultURL = resultURL
	j.CompletedAt = &now
	return db.Model(j).Updates(map[string]interface{}{
		"status":       StatusCompleted,
		"progress":     100,
		"result_url":   resultURL,
		"completed_at": now,
	}).Error
}

// MarkError moves the job into the error state with an operator-readable
// message. Valid from any non-terminal state.
func (j *GenerationJob) MarkError(db *gorm.DB, msg string) error {
	if j.Status == StatusCompleted {
		return ErrBadTransition
	}
	j.Status = StatusError
	j.ErrorMessage = msg
	return db.Model(j).Updates(map[string]interface{}{
		"status":        StatusError,
		"error_message": msg,
	}).Error
}

// ResetForRetry re-queues a failed job: progress back to zero, every result
// field and vendor handle cleared. Only valid from the error state.
func (j *GenerationJob) ResetForRetry(db *gorm.DB) error {
	if j.Status != StatusError {
		return ErrJobNotRetryable
	}
	j.Status = StatusQueued
	j.Progress = 0
	j.ResultURL = ""
	j.GenerationID = ""
	j.ImageKey = ""
	j.GroupID = ""
	j.ErrorMessage = ""
	j.Attempts = 0
	j.StartedAt = nil
	j.CompletedAt = nil
	return db.Model(j).Updates(map[string]interface{}{
		"status":        StatusQueued,
		"progress":      0,
		"result_url":    "",
		"generation_id": "",
		"image_key":     "",
		"group_id":      "",
		"error_message": "",
		"attempts":      0,
		"started_at":    nil,
		"completed_at":  nil,
	}).Error
}

// IncrementAttempts bumps the poll counter.
func (j *GenerationJob) IncrementAttempts(db *gorm.DB) error {
	j.Attempts++
	return db.Model(j).Update("attempts", j.Attempts).Error
}

// ClaimAssetUpload elects a single winner to perform the slow vendor asset
// upload for this job. The guard is a conditional update on image_key being
// empty, so exactly one concurrent caller sees a claimed row. The winner
// later replaces the claim with the vendor handle via SetImageKey.
func (j *GenerationJob) ClaimAssetUpload(db *gorm.DB) (bool, error) {
	res := db.Model(&GenerationJob{}).
		Where("id = ? AND (image_key IS NULL OR image_key = '')", j.ID).
		Update("image_key", "claimed:"+time.Now().UTC().Format(time.RFC3339))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetImageKey stores the vendor asset handle, replacing any claim marker.
func (j *GenerationJob) SetImageKey(db *gorm.DB, key string) error {
	j.ImageKey = key
	return db.Model(j).Update("image_key", key).Error
}

// SetGenerationID stores the vendor generation/operation identifier.
func (j *GenerationJob) SetGenerationID(db *gorm.DB, id string) error {
	j.GenerationID = id
	return db.Model(j).Update("generation_id", id).Error
}

// SetGroupID stores the vendor group identifier (avatar pipeline).
func (j *GenerationJob) SetGroupID(db *gorm.DB, id string) error {
	j.GroupID = id
	return db.Model(j).Update("group_id", id).Error
}

// DeleteJob removes the job row and its reference images in one
// transaction, leaving no orphaned reference rows behind.
func DeleteJob(id string, userID uint, db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var job GenerationJob
		res := tx.First(&job, "id = ? AND user_id = ?", id, userID)
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return ErrJobNotFound
		}
		if res.Error != nil {
			return res.Error
		}
		if err := tx.Unscoped().Where("job_id = ?", id).Delete(&ReferenceImage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&GenerationJob{}, "id = ?", id).Error
	})
}

// ListAllJobs pages jobs across every user for the ops dashboard. It also
// returns the total row count under the same filters so clients can page.
func ListAllJobs(db *gorm.DB, kind MediaKind, status JobStatus, limit, offset int) ([]GenerationJob, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := db.Model(&GenerationJob{})
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var jobs []GenerationJob
	err := q.Order("created_at desc").Limit(limit).Offset(offset).Find(&jobs).Error
	return jobs, total, err
}

// QueueDepth counts jobs still waiting on a vendor.
func QueueDepth(db *gorm.DB) (int64, error) {
	var n int64
	err := db.Model(&GenerationJob{}).
		Where("status IN ?", []JobStatus{StatusQueued, StatusProcessing}).
		Count(&n).Error
	return n, err
}

// CountJobsByStatus aggregates job counts per (kind, status) for the ops
// dashboard.
func CountJobsByStatus(db *gorm.DB) (map[string]int64, error) {
	type row struct {
		Kind   string
		Status string
		N      int64
	}
	var rows []row
	err := db.Model(&GenerationJob{}).
		Select("kind, status, count(*) as n").
		Group("kind").Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Kind+":"+r.Status] = r.N
	}
	return out, nil
}

// ResumableJobs returns jobs that were in flight when the process stopped.
func ResumableJobs(db *gorm.DB) ([]GenerationJob, error) {
	var jobs []GenerationJob
	err := db.Where("status IN ?", []JobStatus{StatusQueued, StatusProcessing}).Find(&jobs).Error
	return jobs, err
}
