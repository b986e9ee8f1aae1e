package providers

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/mediadesk/mediadesk/fields"
	"github.com/mediadesk/mediadesk/storage"
)

// A claim older than this belongs to a run that died mid-upload; the
// current worker takes the upload over.
const staleClaimAfter = 5 * time.Minute

// HeyGen drives the photo-avatar pipeline: upload the reference photo as a
// vendor asset, create an avatar group from it, start the talking-photo
// video, then poll video_status until the vendor says completed.
//
// The asset upload must happen at most once per job even when several
// workers race on it, so it runs behind the job's upload claim: the claim
// column holds a timestamped marker while the upload is in flight and the
// vendor's image_key once it lands.
type HeyGen struct {
	Db     *gorm.DB
	Config *fields.Config
	Logger *logrus.Logger
	Store  *storage.Store
	client *vendorClient
}

func NewHeyGen(db *gorm.DB, cfg *fields.Config, logger *logrus.Logger, store *storage.Store) *HeyGen {
	return &HeyGen{
		Db:     db,
		Config: cfg,
		Logger: logger,
		Store:  store,
		client: newVendorClient("heygen", logger),
	}
}

func (h *HeyGen) Kind() fields.MediaKind { return fields.KindAvatar }

type heygenError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type heygenUploadResponse struct {
	Code int `json:"code"`
	Data struct {
		ID       string `json:"id"`
		ImageKey string `json:"image_key"`
		URL      string `json:"url"`
	} `json:"data"`
	Message string `json:"message"`
}

type heygenGroupCreateRequest struct {
	Name     string `json:"name"`
	ImageKey string `json:"image_key"`
}

type heygenGroupCreateResponse struct {
	Error *heygenError `json:"error"`
	Data  struct {
		ID      string `json:"id"`
		GroupID string `json:"group_id"`
	} `json:"data"`
}

type heygenGroupAvatarsResponse struct {
	Error *heygenError `json:"error"`
	Data  struct {
		AvatarList []struct {
			ID string `json:"id"`
		} `json:"avatar_list"`
	} `json:"data"`
}

type heygenCharacter struct {
	Type           string `json:"type"`
	TalkingPhotoID string `json:"talking_photo_id"`
}

type heygenVoice struct {
	Type      string `json:"type"`
	InputText string `json:"input_text"`
	VoiceID   string `json:"voice_id,omitempty"`
}

type heygenVideoInput struct {
	Character heygenCharacter `json:"character"`
	Voice     heygenVoice     `json:"voice"`
}

type heygenDimension struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type heygenVideoGenerateRequest struct {
	Title       string             `json:"title,omitempty"`
	VideoInputs []heygenVideoInput `json:"video_inputs"`
	Dimension   *heygenDimension   `json:"dimension,omitempty"`
}

type heygenVideoGenerateResponse struct {
	Error *heygenError `json:"error"`
	Data  struct {
		VideoID string `json:"video_id"`
	} `json:"data"`
}

type heygenStatusResponse struct {
	Code int `json:"code"`
	Data struct {
		Status   string `json:"status"`
		VideoURL string `json:"video_url"`
		Error    *struct {
			Message string `json:"message"`
			Detail  string `json:"detail"`
		} `json:"error"`
	} `json:"data"`
}

func (h *HeyGen) Submit(ctx context.Context, job *fields.GenerationJob, refs []fields.ReferenceImage) (Submission, error) {
	params := decodeParams(job)
	script := strings.TrimSpace(params.Script)
	if script == "" {
		return Submission{}, fatal("avatar job has no script")
	}

	imageKey, err := h.ensureAsset(ctx, job, refs)
	if err != nil {
		return Submission{}, err
	}

	groupID, photoID, err := h.ensureGroup(ctx, job, params, imageKey)
	if err != nil {
		return Submission{}, err
	}

	req := heygenVideoGenerateRequest{
		Title: orDefault(params.AvatarName, "avatar job "+job.ID),
		VideoInputs: []heygenVideoInput{{
			Character: heygenCharacter{Type: "talking_photo", TalkingPhotoID: photoID},
			Voice:     heygenVoice{Type: "text", InputText: script, VoiceID: params.VoiceID},
		}},
		Dimension: &heygenDimension{Width: 1280, Height: 720},
	}
	var resp heygenVideoGenerateResponse
	url := strings.TrimSuffix(h.Config.HeyGenBaseURL, "/") + "/v2/video/generate"
	if err := h.client.doJSON(ctx, "video_generate", http.MethodPost, url, h.headers(), req, &resp); err != nil {
		return Submission{}, err
	}
	if resp.Error != nil {
		return Submission{}, fatal("vendor rejected video generate (%s: %s)", resp.Error.Code, resp.Error.Message)
	}
	if resp.Data.VideoID == "" {
		return Submission{}, fatal("vendor returned no video id")
	}

	h.Logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"video_id": resp.Data.VideoID,
	}).Info("avatar video started")
	return Submission{
		GenerationID: resp.Data.VideoID,
		ImageKey:     imageKey,
		GroupID:      groupID,
		Progress:     10,
	}, nil
}

// ensureAsset returns the vendor image_key, uploading the reference photo
// exactly once. Callers racing on the same job either win the claim and
// upload, or back off with a transient error until the winner's key lands.
func (h *HeyGen) ensureAsset(ctx context.Context, job *fields.GenerationJob, refs []fields.ReferenceImage) (string, error) {
	key := job.ImageKey
	switch {
	case key != "" && !strings.HasPrefix(key, "claimed:"):
		return key, nil
	case key == "":
		won, err := job.ClaimAssetUpload(h.Db)
		if err != nil {
			return "", err
		}
		if !won {
			return "", errUploadInFlight
		}
	default:
		// A claim marker from a previous run. Take it over only once it
		// is old enough that its owner cannot still be uploading.
		stamp, err := time.Parse(time.RFC3339, strings.TrimPrefix(key, "claimed:"))
		if err == nil && time.Since(stamp) < staleClaimAfter {
			return "", errUploadInFlight
		}
	}

	if len(refs) == 0 {
		return "", fatal("avatar job has no reference image")
	}
	raw, err := base64.StdEncoding.DecodeString(refs[0].Data)
	if err != nil {
		return "", fatal("reference image is not valid base64")
	}
	mime := orDefault(refs[0].MimeType, "image/jpeg")

	var resp heygenUploadResponse
	url := strings.TrimSuffix(h.Config.HeyGenUploadURL, "/") + "/v1/asset"
	headers := h.headers()
	headers["Content-Type"] = mime
	if err := h.client.do(ctx, "asset_upload", http.MethodPost, url, headers, raw, &resp); err != nil {
		// Drop the claim so a later attempt does not wait out the
		// staleness window.
		_ = job.SetImageKey(h.Db, "")
		return "", err
	}
	if resp.Code != 100 || resp.Data.ImageKey == "" {
		_ = job.SetImageKey(h.Db, "")
		return "", fatal("vendor rejected asset upload (%d: %s)", resp.Code, resp.Message)
	}
	if err := job.SetImageKey(h.Db, resp.Data.ImageKey); err != nil {
		return "", err
	}
	return resp.Data.ImageKey, nil
}

// ensureGroup returns the avatar group id and the talking-photo id inside
// it, creating the group on first call and looking the photo up again when
// resuming with a stored group.
func (h *HeyGen) ensureGroup(ctx context.Context, job *fields.GenerationJob, params fields.JobParams, imageKey string) (groupID, photoID string, err error) {
	base := strings.TrimSuffix(h.Config.HeyGenBaseURL, "/")
	if job.GroupID != "" {
		var resp heygenGroupAvatarsResponse
		url := base + "/v2/avatar_group/" + job.GroupID + "/avatars"
		if err := h.client.doJSON(ctx, "avatar_group_list", http.MethodGet, url, h.headers(), nil, &resp); err != nil {
			return "", "", err
		}
		if resp.Error != nil || len(resp.Data.AvatarList) == 0 {
			return "", "", fatal("avatar group %s has no photos", job.GroupID)
		}
		return job.GroupID, resp.Data.AvatarList[0].ID, nil
	}

	req := heygenGroupCreateRequest{
		Name:     orDefault(params.AvatarName, "job-"+job.ID),
		ImageKey: imageKey,
	}
	var resp heygenGroupCreateResponse
	if err := h.client.doJSON(ctx, "avatar_group_create", http.MethodPost, base+"/v2/photo_avatar/avatar_group/create", h.headers(), req, &resp); err != nil {
		return "", "", err
	}
	if resp.Error != nil {
		return "", "", fatal("vendor rejected avatar group (%s: %s)", resp.Error.Code, resp.Error.Message)
	}
	groupID = orDefault(resp.Data.GroupID, resp.Data.ID)
	photoID = orDefault(resp.Data.ID, resp.Data.GroupID)
	if groupID == "" {
		return "", "", fatal("vendor returned no avatar group id")
	}
	if err := job.SetGroupID(h.Db, groupID); err != nil {
		return "", "", err
	}
	return groupID, photoID, nil
}

func (h *HeyGen) Poll(ctx context.Context, job *fields.GenerationJob) (Update, error) {
	url := strings.TrimSuffix(h.Config.HeyGenBaseURL, "/") + "/v1/video_status.get?video_id=" + job.GenerationID
	var resp heygenStatusResponse
	if err := h.client.doJSON(ctx, "video_status", http.MethodGet, url, h.headers(), nil, &resp); err != nil {
		return Update{}, err
	}

	switch resp.Data.Status {
	case "waiting", "pending":
		return Update{Progress: 15}, nil
	case "processing":
		p := pollProgress(job.Attempts, h.Config.PollMaxAttemptsAvatar)
		if p < 30 {
			p = 30
		}
		return Update{Progress: p}, nil
	case "completed":
		if resp.Data.VideoURL == "" {
			return Update{}, fatal("vendor completed without a video url")
		}
		// The result URL is a signed link; no vendor auth on the download.
		body, err := h.client.download(ctx, "video_download", resp.Data.VideoURL, nil)
		if err != nil {
			return Update{}, err
		}
		defer body.Close()
		resultURL, err := h.Store.Save("job-"+job.ID+".mp4", body)
		if err != nil {
			return Update{}, err
		}
		h.Logger.WithFields(logrus.Fields{
			"job_id":   job.ID,
			"video_id": job.GenerationID,
		}).Info("avatar video generated")
		return Update{Done: true, Progress: 100, ResultURL: resultURL}, nil
	case "failed":
		msg := "vendor reported failed"
		if resp.Data.Error != nil {
			msg = orDefault(resp.Data.Error.Detail, orDefault(resp.Data.Error.Message, msg))
		}
		return Update{}, fatal("%s", msg)
	default:
		h.Logger.WithFields(logrus.Fields{
			"job_id": job.ID,
			"status": resp.Data.Status,
		}).Warn("unknown avatar video status")
		return Update{Progress: job.Progress}, nil
	}
}

func (h *HeyGen) headers() map[string]string {
	return map[string]string{"x-api-key": h.Config.HeyGenKey}
}
