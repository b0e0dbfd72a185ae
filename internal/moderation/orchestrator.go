// Package moderation drives a moderation job end to end: classify the
// object, dispatch it to the analyzer, poll async jobs under a wall-clock
// budget, normalize the result and persist it.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kdimtricp/modcheck/internal/analyzer"
	"github.com/kdimtricp/modcheck/internal/metrics"
	"github.com/kdimtricp/modcheck/internal/models"
	"github.com/kdimtricp/modcheck/internal/processing"
	"github.com/kdimtricp/modcheck/internal/storage"
)

const maxObjectKeyLength = 1024

// RecordStore persists one record per object.
type RecordStore interface {
	Create(ctx context.Context, record *models.ModerationRecord) error
	UpdateFields(ctx context.Context, objectID string, update models.RecordUpdate) error
	Get(ctx context.Context, objectID string) (*models.ModerationRecord, error)
}

type Config struct {
	PollInterval time.Duration
	// PollBudget is measured from entry into the poll loop.
	PollBudget time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		PollBudget:   15 * time.Minute,
	}
}

type Request struct {
	UserID  string `json:"userId"`
	FileKey string `json:"fileKey"`
}

func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.UserID) == "":
		return fmt.Errorf("userId is required: %w", ErrInvalidInput)
	case strings.TrimSpace(r.FileKey) == "":
		return fmt.Errorf("fileKey is required: %w", ErrInvalidInput)
	case len(r.FileKey) > maxObjectKeyLength:
		return fmt.Errorf("fileKey exceeds %d bytes: %w", maxObjectKeyLength, ErrInvalidInput)
	case !utf8.ValidString(r.FileKey) || strings.ContainsAny(r.FileKey, "\x00\r\n"):
		return fmt.Errorf("fileKey contains invalid characters: %w", ErrInvalidInput)
	}
	return nil
}

// Outcome is what a finished (or budget-exhausted) job reports to its caller.
type Outcome struct {
	Record *models.ModerationRecord
	Media  processing.MediaType
	State  State
	// BudgetExceeded is set when polling stopped with the job still running.
	// The record stays IN_PROGRESS so the client can re-query later.
	BudgetExceeded bool
}

type Option func(*Orchestrator)

// WithObjectStorage checks that the object exists before it is analyzed.
func WithObjectStorage(s storage.Storage) Option {
	return func(o *Orchestrator) { o.objects = s }
}

func WithMetrics(m *metrics.ModerationMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func withClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

type Orchestrator struct {
	analyzer analyzer.Analyzer
	store    RecordStore
	objects  storage.Storage
	metrics  *metrics.ModerationMetrics
	logger   *slog.Logger
	config   Config
	now      func() time.Time

	// pollCtx outlives individual requests; it is only cancelled when
	// Shutdown gives up waiting.
	pollCtx    context.Context
	cancelPoll context.CancelFunc

	mu      sync.Mutex
	closing bool
	jobs    sync.WaitGroup
}

func New(a analyzer.Analyzer, store RecordStore, config Config, opts ...Option) (*Orchestrator, error) {
	if a == nil {
		return nil, errors.New("analyzer is required")
	}
	if store == nil {
		return nil, errors.New("record store is required")
	}

	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.PollBudget <= 0 {
		config.PollBudget = defaults.PollBudget
	}

	o := &Orchestrator{
		analyzer: a,
		store:    store,
		config:   config,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "orchestrator")
	o.pollCtx, o.cancelPoll = context.WithCancel(context.Background())
	return o, nil
}

// Job is a handle on a dispatched moderation job.
type Job struct {
	ObjectID string
	JobID    string
	Media    processing.MediaType
	// Record is the row as first written.
	Record *models.ModerationRecord

	done    chan struct{}
	outcome *Outcome
	err     error
}

// Done is closed once the job reached a terminal state, errored or ran out
// of poll budget.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx ends. Ending ctx does not stop
// the job.
func (j *Job) Wait(ctx context.Context) (*Outcome, error) {
	select {
	case <-j.done:
		return j.outcome, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (j *Job) finish(outcome *Outcome, err error) {
	j.outcome, j.err = outcome, err
	close(j.done)
}

// Submit runs a job and waits for its outcome.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*Outcome, error) {
	job, err := o.Dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	return job.Wait(ctx)
}

// Dispatch classifies the object, calls the analyzer and writes the first
// record. Images complete before it returns. For videos the poll loop keeps
// running in its own goroutine after Dispatch returns.
func (o *Orchestrator) Dispatch(ctx context.Context, req Request) (*Job, error) {
	if err := req.Validate(); err != nil {
		o.metrics.Error(ErrorKind(err))
		return nil, err
	}

	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		return nil, ErrShuttingDown
	}
	o.jobs.Add(1)
	o.mu.Unlock()

	job, err := o.dispatch(ctx, req)
	if err != nil {
		o.jobs.Done()
		o.metrics.Error(ErrorKind(err))
		return nil, err
	}
	return job, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, req Request) (*Job, error) {
	log := o.logger.With("object", req.FileKey, "owner", req.UserID)

	media := processing.Classify(req.FileKey)
	log.Debug("job state", "state", StateClassifying, "media", media)

	if err := o.checkNew(ctx, req.FileKey); err != nil {
		return nil, err
	}

	job := &Job{ObjectID: req.FileKey, Media: media, done: make(chan struct{})}

	if media == processing.MediaImage {
		outcome, err := o.moderateImage(ctx, req, log)
		if err != nil {
			return nil, err
		}
		job.JobID = models.NoJobID
		job.Record = outcome.Record
		job.finish(outcome, nil)
		o.jobs.Done()
		return job, nil
	}

	jobID, err := o.analyzer.StartAsync(ctx, req.FileKey)
	if err != nil {
		log.Error("failed to start video analysis", "error", err)
		return nil, fmt.Errorf("failed to start analysis: %w", err)
	}
	o.metrics.Submitted(string(media))
	log = log.With("job_id", jobID)
	log.Debug("job state", "state", StateDispatched)

	started := o.now()
	record := models.NewInProgressRecord(req.FileKey, jobID, req.UserID, started)
	if err := o.store.Create(ctx, record); err != nil {
		// The analyzer job keeps running but nothing will ever read it.
		log.Error("failed to create in-progress record", "error", err)
		return nil, fmt.Errorf("failed to create record: %w", err)
	}

	job.JobID = jobID
	job.Record = record

	stopped := o.metrics.PollerStarted()
	go func() {
		defer o.jobs.Done()
		defer stopped()

		outcome, err := o.pollUntilDone(o.pollCtx, job, started, log)
		if err != nil {
			o.metrics.Error(ErrorKind(err))
		}
		job.finish(outcome, err)
	}()

	return job, nil
}

// checkNew rejects objects that already have a record and, when object
// storage is configured, objects that do not exist.
func (o *Orchestrator) checkNew(ctx context.Context, objectID string) error {
	if _, err := o.store.Get(ctx, objectID); err == nil {
		return fmt.Errorf("object %s: %w", objectID, ErrDuplicateObject)
	} else if !errors.Is(err, models.ErrRecordNotFound) {
		return fmt.Errorf("failed to check existing record: %w", err)
	}

	if o.objects == nil {
		return nil
	}
	if _, err := o.objects.Stat(ctx, objectID); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return errors.Join(ErrInvalidObject, err)
		}
		return fmt.Errorf("failed to check object: %w", err)
	}
	return nil
}

func (o *Orchestrator) moderateImage(ctx context.Context, req Request, log *slog.Logger) (*Outcome, error) {
	started := o.now()
	findings, err := o.analyzer.DetectSync(ctx, req.FileKey)
	if err != nil {
		log.Error("image analysis failed", "error", err)
		return nil, fmt.Errorf("failed to analyze image: %w", err)
	}
	o.metrics.Submitted(string(processing.MediaImage))
	log.Debug("job state", "state", StateNormalizing, "findings", len(findings))

	update := NormalizeImage(findings)
	record := &models.ModerationRecord{
		ObjectID:    req.FileKey,
		JobID:       models.NoJobID,
		OwnerID:     req.UserID,
		SubmittedAt: started.UTC(),
	}
	update.Apply(record, o.now())

	if err := o.store.Create(ctx, record); err != nil {
		log.Error("failed to save image result", "error", err)
		return nil, fmt.Errorf("failed to save image result: %w", err)
	}
	log.Debug("job state", "state", StatePersisted, "status", record.Status)

	persisted, err := o.store.Get(ctx, req.FileKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read back record: %w", err)
	}

	o.metrics.Verdict(string(processing.MediaImage), string(persisted.Status), o.now().Sub(started))
	log.Info("image moderated", "status", persisted.Status, "findings", persisted.Findings)
	return &Outcome{Record: persisted, Media: processing.MediaImage, State: StateResponded}, nil
}

// pollUntilDone parks on a timer between polls until the analyzer reports a
// terminal job status or the budget runs out.
func (o *Orchestrator) pollUntilDone(ctx context.Context, job *Job, dispatched time.Time, log *slog.Logger) (*Outcome, error) {
	deadline := o.now().Add(o.config.PollBudget)
	timer := time.NewTimer(min(o.config.PollInterval, o.config.PollBudget))
	defer timer.Stop()

	polls := 0
	for {
		select {
		case <-ctx.Done():
			log.Warn("polling stopped before completion", "polls", polls, "error", ctx.Err())
			return nil, ctx.Err()
		case <-timer.C:
		}

		polls++
		result, err := o.analyzer.PollAsync(ctx, job.JobID)
		switch {
		case err != nil && errors.Is(err, ErrAnalyzerUnavailable):
			o.metrics.Poll("error")
			log.Warn("poll failed, retrying on next tick", "poll", polls, "error", err)
		case err != nil:
			o.metrics.Poll("error")
			log.Error("poll failed", "poll", polls, "error", err)
			return nil, fmt.Errorf("failed to poll job %s: %w", job.JobID, err)
		default:
			o.metrics.Poll(string(result.Status))
			log.Debug("job state", "state", StatePolling, "poll", polls, "job_status", result.Status)

			switch result.Status {
			case analyzer.JobSucceeded:
				return o.finishVideo(ctx, job, result.Findings, dispatched, log)
			case analyzer.JobFailed:
				return nil, o.markErrored(ctx, job, result.Message, log)
			case analyzer.JobInProgress:
			default:
				log.Warn("unknown job status, treating as in progress", "job_status", result.Status)
			}
		}

		remaining := deadline.Sub(o.now())
		if remaining <= 0 {
			return o.budgetExhausted(ctx, job, polls, log), nil
		}
		timer.Reset(min(o.config.PollInterval, remaining))
	}
}

func (o *Orchestrator) finishVideo(ctx context.Context, job *Job, findings []analyzer.Finding, dispatched time.Time, log *slog.Logger) (*Outcome, error) {
	update := NormalizeVideo(findings)
	log.Debug("job state", "state", StateNormalizing, "findings", len(update.Findings))

	if err := o.store.UpdateFields(ctx, job.ObjectID, update); err != nil {
		log.Error("failed to save video result", "error", err)
		return nil, fmt.Errorf("failed to save video result: %w", err)
	}
	log.Debug("job state", "state", StatePersisted, "status", update.Status)

	persisted, err := o.store.Get(ctx, job.ObjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to read back record: %w", err)
	}

	o.metrics.Verdict(string(processing.MediaVideo), string(persisted.Status), o.now().Sub(dispatched))
	log.Info("video moderated", "status", persisted.Status, "findings", persisted.Findings, "offsets", persisted.Offsets)
	return &Outcome{Record: persisted, Media: processing.MediaVideo, State: StateResponded}, nil
}

// markErrored moves the record to ERRORED so it does not stay IN_PROGRESS
// forever, then reports the job failure.
func (o *Orchestrator) markErrored(ctx context.Context, job *Job, message string, log *slog.Logger) error {
	if message == "" {
		message = "analyzer reported job failure"
	}
	jobErr := fmt.Errorf("job %s: %s: %w", job.JobID, message, ErrAnalyzerJobFailed)
	log.Error("analyzer job failed", "message", message)

	err := o.store.UpdateFields(ctx, job.ObjectID, models.RecordUpdate{
		Status: models.StatusErrored,
		Error:  message,
	})
	if err != nil {
		log.Error("failed to mark record errored", "error", err)
		return errors.Join(jobErr, fmt.Errorf("failed to mark record errored: %w", err))
	}
	return jobErr
}

func (o *Orchestrator) budgetExhausted(ctx context.Context, job *Job, polls int, log *slog.Logger) *Outcome {
	o.metrics.Exhausted()
	log.Warn("poll budget exhausted, record left in progress", "polls", polls, "budget", o.config.PollBudget)

	record := job.Record
	if persisted, err := o.store.Get(ctx, job.ObjectID); err == nil {
		record = persisted
	} else {
		log.Warn("failed to read back in-progress record", "error", err)
	}
	return &Outcome{
		Record:         record,
		Media:          processing.MediaVideo,
		State:          StatePolling,
		BudgetExceeded: true,
	}
}

// Shutdown stops accepting jobs and waits for running poll loops. If ctx
// ends first the loops are cancelled and their records stay IN_PROGRESS.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.jobs.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancelPoll()
		return nil
	case <-ctx.Done():
		o.cancelPoll()
		<-done
		return ctx.Err()
	}
}
