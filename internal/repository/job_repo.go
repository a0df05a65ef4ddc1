package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"go-pcg-core/internal/database"
	"go-pcg-core/internal/model"
)

const jobColumns = `id, owner_id, kind, params, state, created_at, started_at,
		        completed_at, result_location, error, superseded_by`

type JobRepository struct {
	pool database.Querier
}

func NewJobRepository(pool database.Querier) *JobRepository {
	return &JobRepository{pool: pool}
}

func scanJob(row pgx.Row) (model.Job, error) {
	var job model.Job
	var params []byte
	err := row.Scan(&job.ID, &job.OwnerID, &job.Kind, &params, &job.State, &job.CreatedAt,
		&job.StartedAt, &job.CompletedAt, &job.ResultLocation, &job.Error, &job.SupersededBy)
	if err != nil {
		return model.Job{}, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Params); err != nil {
			return model.Job{}, fmt.Errorf("decode job params: %w", err)
		}
	}
	return job, nil
}

func (r *JobRepository) Create(ctx context.Context, job model.Job) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("encode job params: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO jobs (id, owner_id, kind, params, state, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.OwnerID, job.Kind, params, job.State, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (r *JobRepository) FindByID(ctx context.Context, id string) (model.Job, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Job{}, model.ErrJobNotFound
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("find job: %w", err)
	}
	return job, nil
}

func (r *JobRepository) List(ctx context.Context, ownerID string, page int, limit int) ([]model.Job, model.Meta, error) {
	page, limit = normalizePage(page, limit, 50, 200)

	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs
		 WHERE superseded_by IS NULL AND ($1 = '' OR owner_id = $1)`, ownerID).Scan(&total)
	if err != nil {
		return nil, model.Meta{}, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE superseded_by IS NULL AND ($1 = '' OR owner_id = $1)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`, ownerID, limit, (page-1)*limit)
	if err != nil {
		return nil, model.Meta{}, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]model.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, model.Meta{}, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, buildMeta(page, limit, total), rows.Err()
}

func (r *JobRepository) MarkProcessing(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE jobs SET state = 'processing', started_at = $2
		 WHERE id = $1 AND state = 'pending' AND superseded_by IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrJobStateChange
	}
	return nil
}

func (r *JobRepository) Complete(ctx context.Context, id string, location string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE jobs SET state = 'completed', completed_at = $3, result_location = $2, error = NULL
		 WHERE id = $1 AND state = 'processing'`, id, location, at)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrJobStateChange
	}
	return nil
}

func (r *JobRepository) Fail(ctx context.Context, id string, message string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE jobs SET state = 'failed', completed_at = $3, error = $2
		 WHERE id = $1 AND state IN ('pending', 'processing')`, id, message, at)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrJobStateChange
	}
	return nil
}

func (r *JobRepository) Supersede(ctx context.Context, id string, replacementID string) (model.Job, error) {
	job, err := scanJob(r.pool.QueryRow(ctx,
		`UPDATE jobs SET superseded_by = $2
		 WHERE id = $1 AND superseded_by IS NULL AND state <> 'processing'
		 RETURNING `+jobColumns, id, replacementID))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Job{}, fmt.Errorf("supersede job: %w", err)
	}

	current, err := r.FindByID(ctx, id)
	if err != nil {
		return model.Job{}, err
	}
	return model.Job{}, supersedeConflict(current)
}

func (r *JobRepository) ClearSupersede(ctx context.Context, id string, replacementID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE jobs SET superseded_by = NULL
		 WHERE id = $1 AND superseded_by = $2`, id, replacementID)
	if err != nil {
		return fmt.Errorf("clear job supersede: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrJobStateChange
	}
	return nil
}

func (r *JobRepository) FindStuck(ctx context.Context, startedBefore time.Time) ([]model.Job, error) {
	return r.findMany(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE state = 'processing' AND started_at < $1
		 ORDER BY started_at`, startedBefore)
}

func (r *JobRepository) FindPending(ctx context.Context) ([]model.Job, error) {
	return r.findMany(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE state = 'pending' AND superseded_by IS NULL
		 ORDER BY created_at`)
}

func (r *JobRepository) findMany(ctx context.Context, sql string, args ...any) ([]model.Job, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]model.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// supersedeConflict explains why a supersede matched no row.
func supersedeConflict(current model.Job) error {
	if current.SupersededBy != nil {
		return model.ErrJobSuperseded
	}
	if current.State == model.JobProcessing {
		return model.ErrJobProcessing
	}
	return model.ErrJobStateChange
}
