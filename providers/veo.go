package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mediadesk/mediadesk/fields"
	"github.com/mediadesk/mediadesk/storage"
)

// Veo drives Google Veo video generation through the long-running
// operations surface: Submit starts the operation, Poll reads it until
// done and then pulls the finished video down into local storage.
type Veo struct {
	Config *fields.Config
	Logger *logrus.Logger
	Store  *storage.Store
	client *vendorClient
}

func NewVeo(cfg *fields.Config, logger *logrus.Logger, store *storage.Store) *Veo {
	return &Veo{
		Config: cfg,
		Logger: logger,
		Store:  store,
		client: newVendorClient("veo", logger),
	}
}

func (v *Veo) Kind() fields.MediaKind { return fields.KindVideo }

type veoImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

type veoInstance struct {
	Prompt string    `json:"prompt"`
	Image  *veoImage `json:"image,omitempty"`
}

type veoParameters struct {
	AspectRatio     string `json:"aspectRatio,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
}

type veoPredictRequest struct {
	Instances  []veoInstance  `json:"instances"`
	Parameters *veoParameters `json:"parameters,omitempty"`
}

type veoOperation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response *struct {
		GenerateVideoResponse *struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
			RaiMediaFilteredReasons []string `json:"raiMediaFilteredReasons"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
}

func (v *Veo) Submit(ctx context.Context, job *fields.GenerationJob, refs []fields.ReferenceImage) (Submission, error) {
	params := decodeParams(job)

	inst := veoInstance{Prompt: job.Prompt}
	if len(refs) > 0 {
		inst.Image = &veoImage{
			BytesBase64Encoded: refs[0].Data,
			MimeType:           orDefault(refs[0].MimeType, "image/png"),
		}
	}
	req := veoPredictRequest{Instances: []veoInstance{inst}}
	if params.AspectRatio != "" || params.DurationSeconds > 0 {
		req.Parameters = &veoParameters{
			AspectRatio:     params.AspectRatio,
			DurationSeconds: params.DurationSeconds,
		}
	}

	url := fmt.Sprintf("%s/models/%s:predictLongRunning",
		strings.TrimSuffix(v.Config.GenaiBaseURL, "/"), v.Config.VeoModel)
	var op veoOperation
	if err := v.client.doJSON(ctx, "predict_long_running", http.MethodPost, url, v.headers(), req, &op); err != nil {
		return Submission{}, err
	}
	if op.Name == "" {
		return Submission{}, fatal("vendor returned no operation name")
	}

	v.Logger.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"operation": op.Name,
	}).Info("video generation started")
	return Submission{GenerationID: op.Name, Progress: 5}, nil
}

func (v *Veo) Poll(ctx context.Context, job *fields.GenerationJob) (Update, error) {
	url := strings.TrimSuffix(v.Config.GenaiBaseURL, "/") + "/" + job.GenerationID
	var op veoOperation
	if err := v.client.doJSON(ctx, "operation_get", http.MethodGet, url, v.headers(), nil, &op); err != nil {
		return Update{}, err
	}
	if op.Error != nil {
		return Update{}, fatal("vendor failed the operation (%d: %s)", op.Error.Code, op.Error.Message)
	}
	if !op.Done {
		return Update{Progress: pollProgress(job.Attempts, v.Config.PollMaxAttemptsVideo)}, nil
	}

	uri := ""
	if op.Response != nil && op.Response.GenerateVideoResponse != nil {
		gvr := op.Response.GenerateVideoResponse
		if len(gvr.GeneratedSamples) > 0 {
			uri = gvr.GeneratedSamples[0].Video.URI
		}
		if uri == "" && len(gvr.RaiMediaFilteredReasons) > 0 {
			return Update{}, fatal("video filtered by vendor (%s)", strings.Join(gvr.RaiMediaFilteredReasons, "; "))
		}
	}
	if uri == "" {
		return Update{}, fatal("operation finished without a video")
	}

	body, err := v.client.download(ctx, "video_download", uri, v.headers())
	if err != nil {
		return Update{}, err
	}
	defer body.Close()
	resultURL, err := v.Store.Save("job-"+job.ID+".mp4", body)
	if err != nil {
		return Update{}, err
	}

	v.Logger.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"operation": job.GenerationID,
	}).Info("video generated")
	return Update{Done: true, Progress: 100, ResultURL: resultURL}, nil
}

func (v *Veo) headers() map[string]string {
	return map[string]string{"x-goog-api-key": v.Config.GenaiKey}
}
