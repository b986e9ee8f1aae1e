package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mediadesk/mediadesk/fields"
	"github.com/mediadesk/mediadesk/storage"
)

// NanoBanana drives Google Genai image generation. The generateContent call
// is synchronous: the image bytes ride back inline, so Submit stores the
// asset and finishes the job in one round trip.
type NanoBanana struct {
	Config *fields.Config
	Logger *logrus.Logger
	Store  *storage.Store
	client *vendorClient
}

func NewNanoBanana(cfg *fields.Config, logger *logrus.Logger, store *storage.Store) *NanoBanana {
	return &NanoBanana{
		Config: cfg,
		Logger: logger,
		Store:  store,
		client: newVendorClient("genai", logger),
	}
}

func (n *NanoBanana) Kind() fields.MediaKind { return fields.KindImage }

type genaiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type genaiPart struct {
	Text       string     `json:"text,omitempty"`
	InlineData *genaiBlob `json:"inlineData,omitempty"`
}

type genaiContent struct {
	Role  string      `json:"role,omitempty"`
	Parts []genaiPart `json:"parts"`
}

type genaiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type genaiGenerationConfig struct {
	ResponseModalities []string          `json:"responseModalities,omitempty"`
	ImageConfig        *genaiImageConfig `json:"imageConfig,omitempty"`
}

type genaiGenerateRequest struct {
	Contents         []genaiContent         `json:"contents"`
	GenerationConfig *genaiGenerationConfig `json:"generationConfig,omitempty"`
}

type genaiGenerateResponse struct {
	Candidates []struct {
		Content      genaiContent `json:"content"`
		FinishReason string       `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// firstImage walks the candidate parts for the first inline image blob.
func (r *genaiGenerateResponse) firstImage() (data, mime string, ok bool) {
	for _, cand := range r.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				return part.InlineData.Data, part.InlineData.MimeType, true
			}
		}
	}
	return "", "", false
}

func (n *NanoBanana) Submit(ctx context.Context, job *fields.GenerationJob, refs []fields.ReferenceImage) (Submission, error) {
	params := decodeParams(job)

	parts := []genaiPart{{Text: job.Prompt}}
	for _, ref := range refs {
		parts = append(parts, genaiPart{InlineData: &genaiBlob{
			MimeType: orDefault(ref.MimeType, "image/png"),
			Data:     ref.Data,
		}})
	}
	req := genaiGenerateRequest{
		Contents:         []genaiContent{{Parts: parts}},
		GenerationConfig: &genaiGenerationConfig{ResponseModalities: []string{"IMAGE"}},
	}
	if params.AspectRatio != "" {
		req.GenerationConfig.ImageConfig = &genaiImageConfig{AspectRatio: params.AspectRatio}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent",
		strings.TrimSuffix(n.Config.GenaiBaseURL, "/"), n.Config.GenaiImageModel)
	var resp genaiGenerateResponse
	if err := n.client.doJSON(ctx, "generate_content", http.MethodPost, url, n.headers(), req, &resp); err != nil {
		return Submission{}, err
	}

	data, mime, ok := resp.firstImage()
	if !ok {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return Submission{}, fatal("prompt blocked by vendor (%s)", resp.PromptFeedback.BlockReason)
		}
		return Submission{}, fatal("vendor returned no image")
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Submission{}, fatal("vendor image is not valid base64")
	}
	resultURL, err := n.Store.SaveBytes("job-"+job.ID+extFromMime(mime, ".png"), raw)
	if err != nil {
		return Submission{}, err
	}

	n.Logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"bytes":  len(raw),
	}).Info("image generated")
	return Submission{Done: true, Progress: 100, ResultURL: resultURL}, nil
}

// Poll is never reached for images: Submit already finished the job. A job
// that lands here lost its result between restarts and must be resubmitted.
func (n *NanoBanana) Poll(ctx context.Context, job *fields.GenerationJob) (Update, error) {
	return Update{}, fatal("image jobs complete on submit")
}

func (n *NanoBanana) headers() map[string]string {
	return map[string]string{"x-goog-api-key": n.Config.GenaiKey}
}
