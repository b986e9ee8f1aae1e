package studio

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/mediadesk/mediadesk/apperr"
	"github.com/mediadesk/mediadesk/fields"
)

// GenerateImage queues an image job and starts its runner task.
func (s *Service) GenerateImage(c *fiber.Ctx) error {
	var req fields.GenerateImageRequest
	if err := bindJSON(c, &req); err != nil {
		return fields.RespondError(c, err)
	}
	params := fields.JobParams{AspectRatio: req.AspectRatio}
	return s.createJob(c, fields.KindImage, req.Prompt, params, req.ReferenceImages)
}

// GenerateVideo queues a video job and starts its runner task.
func (s *Service) GenerateVideo(c *fiber.Ctx) error {
	var req fields.GenerateVideoRequest
	if err := bindJSON(c, &req); err != nil {
		return fields.RespondError(c, err)
	}
	params := fields.JobParams{AspectRatio: req.AspectRatio, DurationSeconds: req.DurationSeconds}
	return s.createJob(c, fields.KindVideo, req.Prompt, params, req.ReferenceImages)
}

// GenerateAvatar queues an avatar job. The spoken script either comes with
// the request or is drafted from script_topic before the job is stored, so
// the runner always starts from a complete script.
func (s *Service) GenerateAvatar(c *fiber.Ctx) error {
	var req fields.GenerateAvatarRequest
	if err := bindJSON(c, &req); err != nil {
		return fields.RespondError(c, err)
	}
	script := strings.TrimSpace(req.Script)
	if script == "" {
		if strings.TrimSpace(req.ScriptTopic) == "" {
			return fields.RespondError(c, apperr.Wrap(errors.New("script"), apperr.ErrValidation, "either script or script_topic is required"))
		}
		drafted, err := s.AI.GenerateScript(c.UserContext(), req.ScriptTopic)
		if err != nil {
			return fields.RespondError(c, err)
		}
		script = drafted
	}
	params := fields.JobParams{
		AvatarName: req.AvatarName,
		VoiceID:    req.VoiceID,
		Script:     script,
	}
	return s.createJob(c, fields.KindAvatar, script, params, req.ReferenceImages)
}

func (s *Service) createJob(c *fiber.Ctx, kind fields.MediaKind, prompt string, params fields.JobParams, refs []fields.ReferenceImagePayload) error {
	blob, err := json.Marshal(params)
	if err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrMarshal, "encode job params"))
	}
	job := fields.NewGenerationJob(getUserID(c), kind, prompt, string(blob))
	for _, ref := range refs {
		job.ReferenceImages = append(job.ReferenceImages, fields.ReferenceImage{
			JobID:    job.ID,
			Data:     ref.Data,
			MimeType: ref.MimeType,
		})
	}
	if err := s.Db.Create(job).Error; err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrDatabase, "create job"))
	}
	s.Runner.Start(job.ID)
	s.Logger.WithFields(map[string]interface{}{
		"job_id": job.ID,
		"kind":   kind,
	}).Info("job queued")
	return fields.Respond(c, http.StatusAccepted, job)
}

// ImageStatus returns one image job owned by the caller.
func (s *Service) ImageStatus(c *fiber.Ctx) error {
	return s.jobStatus(c, fields.KindImage)
}

// VideoStatus returns one video job owned by the caller.
func (s *Service) VideoStatus(c *fiber.Ctx) error {
	return s.jobStatus(c, fields.KindVideo)
}

// AvatarStatus returns one avatar job owned by the caller.
func (s *Service) AvatarStatus(c *fiber.Ctx) error {
	return s.jobStatus(c, fields.KindAvatar)
}

func (s *Service) jobStatus(c *fiber.Ctx, kind fields.MediaKind) error {
	job, err := fields.GetUserJob(c.Params("job_id"), getUserID(c), s.Db)
	if err != nil || job.Kind != kind {
		return fields.RespondError(c, apperr.Wrap(fields.ErrJobNotFound, apperr.ErrNotFound, "job not found"))
	}
	return fields.Respond(c, http.StatusOK, job)
}

// ListJobs pages through the caller's jobs, newest first. kind and status
// filters are optional.
func (s *Service) ListJobs(c *fiber.Ctx) error {
	kind := fields.MediaKind(c.Query("kind"))
	if kind != "" && !kind.Valid() {
		return fields.RespondError(c, apperr.Wrap(errors.New(string(kind)), apperr.ErrValidation, "unknown kind filter"))
	}
	status := fields.JobStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		return fields.RespondError(c, apperr.Wrap(errors.New(string(status)), apperr.ErrValidation, "unknown status filter"))
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	jobs, err := fields.ListJobs(s.Db, getUserID(c), kind, status, limit, offset)
	if err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrDatabase, "list jobs"))
	}
	return fields.Respond(c, http.StatusOK, fiber.Map{"jobs": jobs, "count": len(jobs)})
}

// RetryJob re-queues a failed job and restarts its runner task. Only jobs
// in the error state can be retried.
func (s *Service) RetryJob(c *fiber.Ctx) error {
	job, err := fields.GetUserJob(c.Params("job_id"), getUserID(c), s.Db)
	if err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrNotFound, "job not found"))
	}
	if err := job.ResetForRetry(s.Db); err != nil {
		return fields.RespondError(c, apperr.ErrJobNotRetryable)
	}
	s.Runner.Start(job.ID)
	s.Logger.WithField("job_id", job.ID).Info("job requeued")
	return fields.Respond(c, http.StatusOK, job)
}

// DeleteJob cancels any in-flight polling for the job, then removes the
// row, its reference images and the stored result asset.
func (s *Service) DeleteJob(c *fiber.Ctx) error {
	job, err := fields.GetUserJob(c.Params("job_id"), getUserID(c), s.Db)
	if err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrNotFound, "job not found"))
	}
	s.Runner.Cancel(job.ID)
	if err := fields.DeleteJob(job.ID, getUserID(c), s.Db); err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrDatabase, "delete job"))
	}
	if job.ResultURL != "" && s.Store != nil {
		if err := s.Store.Remove(job.ResultURL); err != nil {
			s.Logger.WithFields(map[string]interface{}{
				"job_id": job.ID,
				"error":  err.Error(),
			}).Warn("stored asset could not be removed")
		}
	}
	s.Logger.WithField("job_id", job.ID).Info("job deleted")
	return fields.RespondMessage(c, http.StatusOK, fiber.Map{"job_id": job.ID}, "job deleted")
}

// GeneratePrompt expands a short brief into a generation-ready prompt.
func (s *Service) GeneratePrompt(c *fiber.Ctx) error {
	var req fields.GeneratePromptRequest
	if err := bindJSON(c, &req); err != nil {
		return fields.RespondError(c, err)
	}
	prompt, err := s.AI.GeneratePrompt(c.UserContext(), req.Brief, req.Style)
	if err != nil {
		return fields.RespondError(c, err)
	}
	return fields.Respond(c, http.StatusOK, fiber.Map{"prompt": prompt})
}
