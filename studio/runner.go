package studio

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/mediadesk/mediadesk/fields"
	"github.com/mediadesk/mediadesk/providers"
)

// Runner drives every live job to a terminal state: one goroutine per job,
// submit once, then poll the vendor on a fixed tick until the job
// completes, fails, times out, or its task is canceled. The task map is
// the per-job single-writer lease inside this process; deleting a job
// cancels its task deterministically before the row goes away.
type Runner struct {
	db          *gorm.DB
	logger      *logrus.Logger
	providers   map[fields.MediaKind]providers.Provider
	interval    time.Duration
	maxAttempts map[fields.MediaKind]int

	mu    sync.Mutex
	tasks map[string]context.CancelFunc
	wg    sync.WaitGroup
	base  context.Context
	stop  context.CancelFunc
}

func NewRunner(db *gorm.DB, logger *logrus.Logger, provs map[fields.MediaKind]providers.Provider, cfg *fields.Config) *Runner {
	interval := time.Duration(cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	base, stop := context.WithCancel(context.Background())
	return &Runner{
		db:        db,
		logger:    logger,
		providers: provs,
		interval:  interval,
		maxAttempts: map[fields.MediaKind]int{
			fields.KindImage:  cfg.PollMaxAttemptsImage,
			fields.KindVideo:  cfg.PollMaxAttemptsVideo,
			fields.KindAvatar: cfg.PollMaxAttemptsAvatar,
		},
		tasks: make(map[string]context.CancelFunc),
		base:  base,
		stop:  stop,
	}
}

// Start begins (or resumes) driving a job. Starting a job that already has
// a live task is a no-op.
func (r *Runner) Start(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.base.Done():
		return
	default:
	}
	if _, ok := r.tasks[jobID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(r.base)
	r.tasks[jobID] = cancel
	r.wg.Add(1)
	go r.run(ctx, jobID)
}

// Cancel stops the job's task. An in-flight vendor call aborts through the
// context and the loop exits without touching the row again.
func (r *Runner) Cancel(jobID string) {
	r.mu.Lock()
	cancel, ok := r.tasks[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// Running reports whether a task currently drives the job.
func (r *Runner) Running(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[jobID]
	return ok
}

// ActiveTasks returns the number of live tasks.
func (r *Runner) ActiveTasks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Resume restarts tasks for every job that was queued or processing when
// the process last stopped.
func (r *Runner) Resume() int {
	jobs, err := fields.ResumableJobs(r.db)
	if err != nil {
		r.logger.WithField("error", err.Error()).Error("resume scan failed")
		return 0
	}
	for i := range jobs {
		r.Start(jobs[i].ID)
	}
	return len(jobs)
}

// Shutdown cancels every task and waits for the loops to drain or the
// context to give up.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.stop()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) run(ctx context.Context, jobID string) {
	defer r.teardown(jobID)

	log := r.logger.WithField("job_id", jobID)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		job, err := fields.GetJob(jobID, r.db)
		if err != nil {
			if errors.Is(err, fields.ErrJobNotFound) {
				return
			}
			log.WithField("error", err.Error()).Error("job reload failed")
		} else if r.step(ctx, &job, log) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// teardown releases the task entry. A retry that lands while the loop is
// exiting would be swallowed by Start's no-op, so the row is checked once
// more and a fresh task spawned if it was re-queued under us.
func (r *Runner) teardown(jobID string) {
	r.mu.Lock()
	if cancel, ok := r.tasks[jobID]; ok {
		cancel()
		delete(r.tasks, jobID)
	}
	r.mu.Unlock()
	r.wg.Done()

	if r.base.Err() != nil {
		return
	}
	job, err := fields.GetJob(jobID, r.db)
	if err == nil && job.Status == fields.StatusQueued {
		r.Start(jobID)
	}
}

// step advances the job one round. It reports true when the task is over:
// terminal status, attempt cap, or cancellation.
func (r *Runner) step(ctx context.Context, job *fields.GenerationJob, log *logrus.Entry) bool {
	switch job.Status {
	case fields.StatusCompleted, fields.StatusError:
		return true
	}
	provider, ok := r.providers[job.Kind]
	if !ok {
		_ = job.MarkError(r.db, "no provider configured for "+string(job.Kind))
		return true
	}
	if max := r.maxAttempts[job.Kind]; max > 0 && job.Attempts >= max {
		_ = job.MarkError(r.db, "timed out waiting for vendor")
		log.Warn("job timed out")
		return true
	}
	if err := job.MarkProcessing(r.db); err != nil {
		log.WithField("error", err.Error()).Error("job could not enter processing")
		return true
	}
	_ = job.IncrementAttempts(r.db)

	if job.GenerationID == "" {
		sub, err := provider.Submit(ctx, job, job.ReferenceImages)
		if err != nil {
			return r.vendorRound(ctx, job, err, log)
		}
		if sub.ImageKey != "" && sub.ImageKey != job.ImageKey {
			_ = job.SetImageKey(r.db, sub.ImageKey)
		}
		if sub.GroupID != "" && sub.GroupID != job.GroupID {
			_ = job.SetGroupID(r.db, sub.GroupID)
		}
		if sub.GenerationID != "" {
			_ = job.SetGenerationID(r.db, sub.GenerationID)
		}
		if sub.Progress > 0 {
			_ = job.SetProgress(r.db, sub.Progress)
		}
		if sub.Done {
			return r.complete(job, sub.ResultURL, log)
		}
		return false
	}

	up, err := provider.Poll(ctx, job)
	if err != nil {
		return r.vendorRound(ctx, job, err, log)
	}
	if up.Progress > 0 {
		_ = job.SetProgress(r.db, up.Progress)
	}
	if up.Done {
		return r.complete(job, up.ResultURL, log)
	}
	return false
}

func (r *Runner) complete(job *fields.GenerationJob, resultURL string, log *logrus.Entry) bool {
	if err := job.MarkCompleted(r.db, resultURL); err != nil {
		log.WithField("error", err.Error()).Error("completion write failed")
		return true
	}
	log.WithField("result_url", resultURL).Info("job completed")
	return true
}

// vendorRound sorts a Submit/Poll error: cancellation ends the task with
// no further writes, a permanent vendor verdict fails the job, anything
// else is retried on the next tick.
func (r *Runner) vendorRound(ctx context.Context, job *fields.GenerationJob, err error, log *logrus.Entry) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, providers.ErrJobFailed) {
		_ = job.MarkError(r.db, vendorMessage(err))
		log.WithField("error", err.Error()).Warn("job failed")
		return true
	}
	log.WithField("error", err.Error()).Warn("vendor round failed, will retry")
	return false
}

// vendorMessage strips the sentinel suffix off a permanent vendor error so
// the stored message reads like the vendor's own words.
func vendorMessage(err error) string {
	msg := strings.TrimSuffix(err.Error(), ": "+providers.ErrJobFailed.Error())
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return msg
}
