package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go-pcg-core/internal/model"
)

type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]model.Job
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]model.Job)}
}

func (s *JobStore) Create(_ context.Context, job model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *JobStore) FindByID(_ context.Context, id string) (model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return model.Job{}, model.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *JobStore) List(_ context.Context, ownerID string, page int, limit int) ([]model.Job, model.Meta, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	live := s.filter(func(job model.Job) bool {
		return job.SupersededBy == nil && (ownerID == "" || job.OwnerID == ownerID)
	})
	sort.SliceStable(live, func(i int, j int) bool {
		if live[i].CreatedAt.Equal(live[j].CreatedAt) {
			return live[i].ID > live[j].ID
		}
		return live[i].CreatedAt.After(live[j].CreatedAt)
	})

	total := len(live)
	start := min((page-1)*limit, total)
	end := min(start+limit, total)

	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return live[start:end], model.Meta{Page: page, Limit: limit, Total: total, TotalPages: totalPages}, nil
}

func (s *JobStore) MarkProcessing(_ context.Context, id string, at time.Time) error {
	return s.transition(id, func(job *model.Job) bool {
		if job.State != model.JobPending || job.SupersededBy != nil {
			return false
		}
		job.State = model.JobProcessing
		job.StartedAt = &at
		return true
	})
}

func (s *JobStore) Complete(_ context.Context, id string, location string, at time.Time) error {
	return s.transition(id, func(job *model.Job) bool {
		if job.State != model.JobProcessing {
			return false
		}
		job.State = model.JobCompleted
		job.CompletedAt = &at
		job.ResultLocation = &location
		job.Error = nil
		return true
	})
}

func (s *JobStore) Fail(_ context.Context, id string, message string, at time.Time) error {
	return s.transition(id, func(job *model.Job) bool {
		if job.State.Terminal() {
			return false
		}
		job.State = model.JobFailed
		job.CompletedAt = &at
		job.Error = &message
		return true
	})
}

func (s *JobStore) Supersede(_ context.Context, id string, replacementID string) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return model.Job{}, model.ErrJobNotFound
	}
	if job.SupersededBy != nil {
		return model.Job{}, model.ErrJobSuperseded
	}
	if job.State == model.JobProcessing {
		return model.Job{}, model.ErrJobProcessing
	}

	job = cloneJob(job)
	job.SupersededBy = &replacementID
	s.jobs[id] = job
	return cloneJob(job), nil
}

func (s *JobStore) ClearSupersede(_ context.Context, id string, replacementID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return model.ErrJobNotFound
	}
	if job.SupersededBy == nil || *job.SupersededBy != replacementID {
		return model.ErrJobStateChange
	}

	job = cloneJob(job)
	job.SupersededBy = nil
	s.jobs[id] = job
	return nil
}

func (s *JobStore) FindStuck(_ context.Context, startedBefore time.Time) ([]model.Job, error) {
	stuck := s.filter(func(job model.Job) bool {
		return job.State == model.JobProcessing && job.StartedAt != nil && job.StartedAt.Before(startedBefore)
	})
	sort.Slice(stuck, func(i int, j int) bool { return stuck[i].StartedAt.Before(*stuck[j].StartedAt) })
	return stuck, nil
}

func (s *JobStore) FindPending(context.Context) ([]model.Job, error) {
	pending := s.filter(func(job model.Job) bool {
		return job.State == model.JobPending && job.SupersededBy == nil
	})
	sort.Slice(pending, func(i int, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	return pending, nil
}

func (s *JobStore) filter(keep func(model.Job) bool) []model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Job, 0)
	for _, job := range s.jobs {
		if keep(job) {
			out = append(out, cloneJob(job))
		}
	}
	return out
}

func (s *JobStore) transition(id string, apply func(*model.Job) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return model.ErrJobNotFound
	}

	job = cloneJob(job)
	if !apply(&job) {
		return model.ErrJobStateChange
	}
	s.jobs[id] = job
	return nil
}

func cloneJob(job model.Job) model.Job {
	if job.Params != nil {
		params := make(map[string]any, len(job.Params))
		for k, v := range job.Params {
			params[k] = v
		}
		job.Params = params
	}
	job.StartedAt = clonePtr(job.StartedAt)
	job.CompletedAt = clonePtr(job.CompletedAt)
	job.ResultLocation = clonePtr(job.ResultLocation)
	job.Error = clonePtr(job.Error)
	job.SupersededBy = clonePtr(job.SupersededBy)
	return job
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
