package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go-pcg-core/internal/event"
	"go-pcg-core/internal/metrics"
	"go-pcg-core/internal/model"
	"go-pcg-core/internal/repository"
	"go-pcg-core/internal/storage"
	"go-pcg-core/internal/util"
	"go-pcg-core/pkg/apierror"
)

// Producer builds the artifact for one job kind and returns its location.
type Producer interface {
	Produce(ctx context.Context, job model.Job) (string, error)
}

type ProducerFunc func(ctx context.Context, job model.Job) (string, error)

func (f ProducerFunc) Produce(ctx context.Context, job model.Job) (string, error) {
	return f(ctx, job)
}

type JobConfig struct {
	Workers      int
	QueueSize    int
	Timeout      time.Duration
	StuckAfter   time.Duration
	ReapInterval time.Duration
}

const (
	msgProcessingTimeout = "processing timeout"
	msgCancelled         = "processing cancelled"
	msgInternal          = "job failed due to an internal error"
	msgQueueFull         = "job queue is full"
	msgSuperseded        = "superseded by a regenerated job"
)

// JobService owns jobs from submission to a terminal state. Jobs run on a
// fixed worker pool fed by a buffered queue; each submission runs at most once.
type JobService struct {
	store     repository.JobStore
	producers map[model.JobKind]Producer
	artifacts *storage.ArtifactStore
	bus       event.Bus
	cfg       JobConfig
	queue     chan string
	now       func() time.Time
	logger    *slog.Logger
	wg        sync.WaitGroup
	startOnce sync.Once
}

func NewJobService(store repository.JobStore, producers map[model.JobKind]Producer, artifacts *storage.ArtifactStore, bus event.Bus, cfg JobConfig, logger *slog.Logger) *JobService {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 3 * cfg.Timeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &JobService{
		store:     store,
		producers: producers,
		artifacts: artifacts,
		bus:       bus,
		cfg:       cfg,
		queue:     make(chan string, cfg.QueueSize),
		now:       time.Now,
		logger:    logger,
	}
}

func (s *JobService) SetClock(now func() time.Time) {
	s.now = now
}

// Start launches the workers and the reaper. Pending jobs left by a previous
// process are queued again. Workers stop when ctx is cancelled; Wait blocks
// until they have.
func (s *JobService) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		for i := 0; i < s.cfg.Workers; i++ {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.workerLoop(ctx)
			}()
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.StartReaper(ctx)
		}()

		s.requeuePending(ctx)
	})
}

func (s *JobService) Wait() {
	s.wg.Wait()
}

func (s *JobService) Submit(ctx context.Context, owner model.Identity, kind model.JobKind, params map[string]any) (model.Job, error) {
	if !kind.Valid() {
		return model.Job{}, apierror.BadRequest("unsupported job kind", string(kind))
	}
	if _, ok := s.producers[kind]; !ok {
		return model.Job{}, apierror.BadRequest("job kind is not enabled", string(kind))
	}
	if params == nil {
		params = map[string]any{}
	}

	now := s.now().UTC()
	job := model.Job{
		ID:        util.NewID(now),
		OwnerID:   owner.ID,
		Kind:      kind,
		Params:    params,
		State:     model.JobPending,
		CreatedAt: now,
	}

	if err := s.store.Create(ctx, job); err != nil {
		return model.Job{}, fmt.Errorf("create job: %w", err)
	}

	metrics.JobTransitions.WithLabelValues(string(kind), string(model.JobPending)).Inc()
	s.publish(event.TypeJobSubmitted, job, owner.ID)

	return s.enqueue(ctx, job), nil
}

// Status returns a job to its owner or an administrator.
func (s *JobService) Status(ctx context.Context, jobID string, requester model.Identity) (model.Job, error) {
	job, err := s.store.FindByID(ctx, jobID)
	if err != nil {
		return model.Job{}, err
	}

	if job.OwnerID != requester.ID && !model.Authorize(requester, model.RoleAdmin) {
		return model.Job{}, model.ErrForbidden
	}
	return job, nil
}

// List returns the requester's live jobs; administrators see every owner.
func (s *JobService) List(ctx context.Context, requester model.Identity, page int, limit int) ([]model.Job, model.Meta, error) {
	ownerID := requester.ID
	if model.Authorize(requester, model.RoleAdmin) {
		ownerID = ""
	}
	return s.store.List(ctx, ownerID, page, limit)
}

// Regenerate supersedes a job that is not processing with a fresh pending job
// carrying the same owner, kind and parameters. The old artifact is discarded.
func (s *JobService) Regenerate(ctx context.Context, jobID string, requester model.Identity) (model.Job, error) {
	current, err := s.Status(ctx, jobID, requester)
	if err != nil {
		return model.Job{}, err
	}
	if current.State == model.JobProcessing {
		return model.Job{}, model.ErrJobProcessing
	}

	now := s.now().UTC()
	replacementID := util.NewID(now)

	old, err := s.store.Supersede(ctx, jobID, replacementID)
	if err != nil {
		return model.Job{}, err
	}

	replacement := model.Job{
		ID:        replacementID,
		OwnerID:   old.OwnerID,
		Kind:      old.Kind,
		Params:    old.Params,
		State:     model.JobPending,
		CreatedAt: now,
	}
	if err := s.store.Create(ctx, replacement); err != nil {
		writeCtx, cancel := detached(ctx)
		defer cancel()
		if clearErr := s.store.ClearSupersede(writeCtx, old.ID, replacementID); clearErr != nil {
			s.logger.ErrorContext(ctx, "restore job after failed regenerate", "job_id", old.ID, "error", clearErr)
		}
		return model.Job{}, fmt.Errorf("create replacement job: %w", err)
	}

	if old.ResultLocation != nil && s.artifacts != nil {
		if err := s.artifacts.Remove(*old.ResultLocation); err != nil {
			s.logger.WarnContext(ctx, "discard superseded artifact", "job_id", old.ID, "error", err)
		}
	}
	s.publish(event.TypeJobSuperseded, old, requester.ID)

	// A superseded job never starts, so a pending one is closed here.
	if old.State == model.JobPending {
		s.fail(ctx, old, msgSuperseded)
	}

	metrics.JobTransitions.WithLabelValues(string(replacement.Kind), string(model.JobPending)).Inc()
	s.publish(event.TypeJobSubmitted, replacement, requester.ID)

	return s.enqueue(ctx, replacement), nil
}

// enqueue hands a job to the workers without blocking. A full queue fails the job.
func (s *JobService) enqueue(ctx context.Context, job model.Job) model.Job {
	select {
	case s.queue <- job.ID:
		metrics.JobQueueDepth.Set(float64(len(s.queue)))
		return job
	default:
	}

	s.logger.WarnContext(ctx, "job queue full", "job_id", job.ID, "capacity", cap(s.queue))
	if failed, ok := s.fail(ctx, job, msgQueueFull); ok {
		return failed
	}
	return job
}

func (s *JobService) requeuePending(ctx context.Context) {
	pending, err := s.store.FindPending(ctx)
	if err != nil {
		s.logger.Error("load pending jobs", "error", err)
		return
	}
	for _, job := range pending {
		s.enqueue(ctx, job)
	}
	if len(pending) > 0 {
		s.logger.Info("requeued pending jobs", "count", len(pending))
	}
}

func (s *JobService) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-s.queue:
			metrics.JobQueueDepth.Set(float64(len(s.queue)))
			s.process(ctx, jobID)
		}
	}
}

func (s *JobService) process(ctx context.Context, jobID string) {
	job, err := s.store.FindByID(ctx, jobID)
	if err != nil {
		s.logger.Error("load queued job", "job_id", jobID, "error", err)
		return
	}

	startedAt := s.now().UTC()
	if err := s.store.MarkProcessing(ctx, jobID, startedAt); err != nil {
		if errors.Is(err, model.ErrJobStateChange) {
			s.logger.Debug("skipping job no longer pending", "job_id", jobID)
			return
		}
		s.logger.Error("mark job processing", "job_id", jobID, "error", err)
		return
	}

	job.State = model.JobProcessing
	job.StartedAt = &startedAt
	metrics.JobTransitions.WithLabelValues(string(job.Kind), string(model.JobProcessing)).Inc()
	s.publish(event.TypeJobStarted, job, "")

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	location, err := s.produce(runCtx, job)
	cancel()
	metrics.JobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(startedAt).Seconds())

	if err != nil {
		s.logger.Error("job failed", "job_id", job.ID, "kind", job.Kind, "error", err)
		s.fail(ctx, job, redactJobError(err))
		return
	}

	s.complete(ctx, job, location)
}

func (s *JobService) produce(ctx context.Context, job model.Job) (location string, err error) {
	producer, ok := s.producers[job.Kind]
	if !ok {
		return "", fmt.Errorf("no producer for job kind %q", job.Kind)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("producer panic: %v", recovered)
		}
	}()

	return producer.Produce(ctx, job)
}

func (s *JobService) complete(ctx context.Context, job model.Job, location string) {
	at := s.now().UTC()
	writeCtx, cancel := detached(ctx)
	defer cancel()

	if err := s.store.Complete(writeCtx, job.ID, location, at); err != nil {
		s.logger.Warn("record job completion", "job_id", job.ID, "error", err)
		return
	}

	job.State = model.JobCompleted
	job.CompletedAt = &at
	job.ResultLocation = &location
	metrics.JobTransitions.WithLabelValues(string(job.Kind), string(model.JobCompleted)).Inc()
	s.publish(event.TypeJobCompleted, job, "")
}

func (s *JobService) fail(ctx context.Context, job model.Job, message string) (model.Job, bool) {
	at := s.now().UTC()
	writeCtx, cancel := detached(ctx)
	defer cancel()

	if err := s.store.Fail(writeCtx, job.ID, message, at); err != nil {
		s.logger.Warn("record job failure", "job_id", job.ID, "error", err)
		return job, false
	}

	job.State = model.JobFailed
	job.CompletedAt = &at
	job.Error = &message
	metrics.JobTransitions.WithLabelValues(string(job.Kind), string(model.JobFailed)).Inc()
	s.publish(event.TypeJobFailed, job, "")
	return job, true
}

// StartReaper fails processing jobs older than StuckAfter on every ReapInterval
// tick until ctx is cancelled.
func (s *JobService) StartReaper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ReapStuck(ctx); err != nil {
				s.logger.Error("reap stuck jobs", "error", err)
			}
		}
	}
}

func (s *JobService) ReapStuck(ctx context.Context) (int, error) {
	stuck, err := s.store.FindStuck(ctx, s.now().UTC().Add(-s.cfg.StuckAfter))
	if err != nil {
		return 0, fmt.Errorf("find stuck jobs: %w", err)
	}

	reaped := 0
	for _, job := range stuck {
		if _, ok := s.fail(ctx, job, msgProcessingTimeout); ok {
			reaped++
		}
	}
	if reaped > 0 {
		s.logger.Warn("reaped stuck jobs", "count", reaped)
	}
	return reaped, nil
}

func (s *JobService) publish(t event.Type, job model.Job, actorID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.Event{
		Type:    t,
		Subject: job.ID,
		ActorID: actorID,
		Payload: job,
	})
}

// redactJobError keeps internal detail out of the stored job error.
func redactJobError(err error) string {
	var apiErr *apierror.APIError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return msgProcessingTimeout
	case errors.Is(err, context.Canceled):
		return msgCancelled
	case errors.As(err, &apiErr):
		return apiErr.Message
	default:
		return msgInternal
	}
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}
