package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"intelligrade/pkg/grading"
	"intelligrade/pkg/observability"
	"intelligrade/pkg/provider"
)

// JobStore is the slice of the persisted store the worker needs. Implemented
// by *Store; faked in tests.
type JobStore interface {
	FetchPending(ctx context.Context, limit int) ([]Job, error)
	Claim(ctx context.Context, jobID string) (*Job, error)
	MarkCompleted(ctx context.Context, jobID string, result json.RawMessage, took time.Duration) error
	MarkFailed(ctx context.Context, jobID, errMsg string) error
	ReturnForRetry(ctx context.Context, jobID, errMsg string) error
	RecordFailure(ctx context.Context, jobID string, attempt int, errType, message string) error
	UpdateProgress(ctx context.Context, jobID string, progress json.RawMessage) error
}

// Grader runs the synchronous grading pipeline for one question. Implemented
// by routing.Engine.
type Grader interface {
	Grade(ctx context.Context, req grading.Request) (*grading.Result, error)
}

// FileHandler processes one file of a file-batch job.
type FileHandler interface {
	Process(ctx context.Context, item FileItem) (json.RawMessage, error)
}

// StatusNotifier pushes job status changes to subscribers. Best-effort:
// the worker logs and ignores publish failures.
type StatusNotifier interface {
	PublishStatus(ctx context.Context, j *Job) error
}

type WorkerConfig struct {
	// BatchSize bounds how many pending jobs one cycle fetches.
	BatchSize int
	// JobDelay is the pacing pause between jobs within a cycle.
	JobDelay time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize: 5,
		JobDelay:  500 * time.Millisecond,
	}
}

// Worker drains the persisted queue one bounded cycle at a time. Jobs within
// a cycle run sequentially; repeated invocation is the concurrency primitive.
type Worker struct {
	store    JobStore
	grader   Grader
	files    FileHandler
	notifier StatusNotifier
	cfg      WorkerConfig
	logger   *slog.Logger

	sleep func(context.Context, time.Duration)
}

func NewWorker(store JobStore, grader Grader, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultWorkerConfig().BatchSize
	}
	if cfg.JobDelay < 0 {
		cfg.JobDelay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:  store,
		grader: grader,
		files:  basicFileHandler{},
		cfg:    cfg,
		logger: logger,
		sleep: func(ctx context.Context, d time.Duration) {
			if d <= 0 {
				return
			}
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
}

// SetFileHandler replaces the default file-batch handler.
func (w *Worker) SetFileHandler(h FileHandler) {
	if h != nil {
		w.files = h
	}
}

// SetNotifier enables best-effort status push on terminal transitions.
func (w *Worker) SetNotifier(n StatusNotifier) {
	w.notifier = n
}

// RunCycle fetches one batch of pending jobs in priority order and processes
// them to completion. Returns the number of jobs actually executed.
func (w *Worker) RunCycle(ctx context.Context) (int, error) {
	jobs, err := w.store.FetchPending(ctx, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending jobs: %w", err)
	}

	processed := 0
	for i := range jobs {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if w.runJob(ctx, jobs[i].ID) {
			processed++
		}
		if i < len(jobs)-1 {
			// defensive pacing independent of the rate limiter
			w.sleep(ctx, w.cfg.JobDelay)
		}
	}
	return processed, nil
}

func (w *Worker) runJob(ctx context.Context, jobID string) bool {
	l := w.logger.With("job_id", jobID)

	// Claim before executing: a crash mid-job leaves an observable
	// PROCESSING row instead of silently lost work.
	job, err := w.store.Claim(ctx, jobID)
	if err != nil {
		l.Error("failed to claim job", "error", err)
		return false
	}
	if job == nil {
		l.Info("job no longer pending, skipping")
		return false
	}

	kind := JobKind(job.Payload)
	l = l.With("kind", kind)
	l.Info("job claimed, starting processing", "attempt", job.RetryCount+1)

	timer := time.Now()
	result, procErr := w.execute(ctx, l, job)
	took := time.Since(timer)
	observability.JobDuration.WithLabelValues(kind).Observe(took.Seconds())

	if procErr != nil {
		l.Error("job processing failed", "error", procErr)
		w.handleFailure(ctx, l, job, kind, procErr)
		return true
	}

	if err := w.store.MarkCompleted(ctx, job.ID, result, took); err != nil {
		l.Error("failed to persist completion", "error", err)
		return true
	}
	observability.JobsProcessed.WithLabelValues(kind, "completed").Inc()
	l.Info("job completed", "took_ms", took.Milliseconds())
	w.notify(ctx, l, job, StatusCompleted, "")
	return true
}

func (w *Worker) handleFailure(ctx context.Context, l *slog.Logger, job *Job, kind string, procErr error) {
	attempt := job.RetryCount + 1
	errType := provider.Classify(procErr)
	if err := w.store.RecordFailure(ctx, job.ID, attempt, errType, procErr.Error()); err != nil {
		l.Error("failed to record failure", "error", err)
	}

	if job.RetryCount < job.MaxRetries {
		l.Info("returning job to queue for retry", "attempt", attempt, "max_retries", job.MaxRetries)
		if err := w.store.ReturnForRetry(ctx, job.ID, procErr.Error()); err != nil {
			l.Error("failed to return job for retry", "error", err)
		}
		observability.JobsProcessed.WithLabelValues(kind, "retried").Inc()
		return
	}

	l.Warn("job failed after all retries", "attempts", attempt)
	if err := w.store.MarkFailed(ctx, job.ID, procErr.Error()); err != nil {
		l.Error("failed to persist terminal failure", "error", err)
	}
	observability.JobsProcessed.WithLabelValues(kind, "failed").Inc()
	w.notify(ctx, l, job, StatusFailed, procErr.Error())
}

func (w *Worker) notify(ctx context.Context, l *slog.Logger, job *Job, status Status, errMsg string) {
	if w.notifier == nil {
		return
	}
	j := *job
	j.Status = status
	j.LastError = errMsg
	if err := w.notifier.PublishStatus(ctx, &j); err != nil {
		l.Warn("status notification failed", "error", err)
	}
}

// batchProgress is the incremental result payload written after every
// sub-item, so a mid-batch crash preserves prior sub-results.
type batchProgress struct {
	Total     int               `json:"total"`
	Completed int               `json:"completed"`
	Items     []json.RawMessage `json:"items"`
}

func (w *Worker) execute(ctx context.Context, l *slog.Logger, job *Job) (json.RawMessage, error) {
	var p Payload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, fmt.Errorf("unreadable payload: %w", err)
	}
	kind, err := p.Kind()
	if err != nil {
		return nil, err
	}

	if kind == KindGrading {
		return w.runGradingBatch(ctx, l, job, p.Questions)
	}
	return w.runFileBatch(ctx, l, job, p.Files)
}

func (w *Worker) runGradingBatch(ctx context.Context, l *slog.Logger, job *Job, questions []grading.Request) (json.RawMessage, error) {
	progress := batchProgress{Total: len(questions)}

	for i, q := range questions {
		res, err := w.grader.Grade(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("question %d of %d: %w", i+1, len(questions), err)
		}
		item, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("question %d: encode result: %w", i+1, err)
		}
		progress.Items = append(progress.Items, item)
		progress.Completed++
		w.saveProgress(ctx, l, job.ID, progress)
	}

	return json.Marshal(progress)
}

func (w *Worker) runFileBatch(ctx context.Context, l *slog.Logger, job *Job, files []FileItem) (json.RawMessage, error) {
	progress := batchProgress{Total: len(files)}

	for i, f := range files {
		out, err := w.files.Process(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("file %q (%d of %d): %w", f.Name, i+1, len(files), err)
		}
		progress.Items = append(progress.Items, out)
		progress.Completed++
		w.saveProgress(ctx, l, job.ID, progress)
	}

	return json.Marshal(progress)
}

// saveProgress is best-effort: a failed write costs recoverable progress, not
// the job.
func (w *Worker) saveProgress(ctx context.Context, l *slog.Logger, jobID string, progress batchProgress) {
	raw, err := json.Marshal(progress)
	if err != nil {
		l.Warn("failed to encode progress", "error", err)
		return
	}
	if err := w.store.UpdateProgress(ctx, jobID, raw); err != nil {
		l.Warn("failed to persist progress", "error", err)
	}
}

// basicFileHandler records the file as received; real extraction happens in a
// downstream system that reads the job result.
type basicFileHandler struct{}

func (basicFileHandler) Process(_ context.Context, item FileItem) (json.RawMessage, error) {
	if item.Name == "" {
		return nil, fmt.Errorf("file item missing name")
	}
	return json.Marshal(map[string]string{
		"id":     item.ID,
		"name":   item.Name,
		"status": "processed",
	})
}
