// Package providers holds one adapter per generation vendor behind a single
// submit/poll interface, so the job runner never knows which vendor it is
// driving.
package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/mediadesk/mediadesk/fields"
)

// ErrJobFailed marks vendor outcomes that no amount of further polling can
// heal: content blocks, rejected inputs, vendor-side generation failures.
// Anything else coming out of Submit or Poll is treated as transient.
var ErrJobFailed = errors.New("vendor reported failure")

// errUploadInFlight means another worker holds the asset upload claim for
// this job; the caller backs off and tries again on its next tick.
var errUploadInFlight = errors.New("asset upload claimed by another worker")

func fatal(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrJobFailed)...)
}

// Submission is what a vendor hands back when a job is first submitted.
// Synchronous vendors return Done with a stored ResultURL; asynchronous
// ones return the handles later polls need.
type Submission struct {
	GenerationID string
	ImageKey     string
	GroupID      string
	Progress     int
	Done         bool
	ResultURL    string
}

// Update is the outcome of one poll round for an in-flight job.
type Update struct {
	Progress  int
	Done      bool
	ResultURL string
}

// Provider adapts one vendor pipeline. Submit may be called again for a job
// that already holds vendor handles (process restart); implementations skip
// the stages those handles prove done.
type Provider interface {
	Kind() fields.MediaKind
	Submit(ctx context.Context, job *fields.GenerationJob, refs []fields.ReferenceImage) (Submission, error)
	Poll(ctx context.Context, job *fields.GenerationJob) (Update, error)
}

// decodeParams reads the vendor-knob blob off a job. A missing or broken
// blob degrades to defaults rather than failing the job.
func decodeParams(job *fields.GenerationJob) fields.JobParams {
	var p fields.JobParams
	if job.Params == "" {
		return p
	}
	_ = json.Unmarshal([]byte(job.Params), &p)
	return p
}

// pollProgress is the heuristic progress of a vendor that reports none:
// it creeps from 10 toward 95 as attempts approach the cap, and the final
// jump to 100 is reserved for completion.
func pollProgress(attempts, maxAttempts int) int {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	p := 10 + attempts*85/maxAttempts
	if p > 95 {
		p = 95
	}
	return p
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// extFromMime picks a filename extension for a stored asset.
func extFromMime(mime, fallback string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	}
	return fallback
}
