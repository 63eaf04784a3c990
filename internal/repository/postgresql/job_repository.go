package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"itinerary-service/internal/entity"
	"itinerary-service/internal/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS itinerary_jobs (
    id            uuid PRIMARY KEY,
    status        text        NOT NULL,
    destination   text        NOT NULL,
    duration_days integer     NOT NULL,
    created_at    timestamptz NOT NULL,
    completed_at  timestamptz,
    itinerary     jsonb,
    error         text
);
CREATE INDEX IF NOT EXISTS itinerary_jobs_processing_idx
    ON itinerary_jobs (created_at) WHERE status = 'processing';
`

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return err
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	var itinerary []byte
	if job.Itinerary != nil {
		b, err := json.Marshal(job.Itinerary)
		if err != nil {
			return err
		}
		itinerary = b
	}

	const q = `
INSERT INTO itinerary_jobs (id, status, destination, duration_days, created_at, completed_at, itinerary, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	_, err := r.pool.Exec(ctx, q,
		job.ID,
		string(job.Status),
		job.Destination,
		job.DurationDays,
		job.CreatedAt,
		job.CompletedAt,
		itinerary,
		job.Error,
	)
	return err
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	const q = `
SELECT id, status, destination, duration_days, created_at, completed_at, itinerary, error
FROM itinerary_jobs
WHERE id = $1;
`

	var (
		job            entity.Job
		statusText     string
		completedAt    *time.Time
		itineraryBytes []byte
		errText        *string
	)

	if err := r.pool.QueryRow(ctx, q, id).Scan(
		&job.ID,
		&statusText,
		&job.Destination,
		&job.DurationDays,
		&job.CreatedAt,
		&completedAt,    // NULL => nil
		&itineraryBytes, // NULL => nil
		&errText,        // NULL => nil
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	job.Status = entity.JobStatus(statusText)
	job.CreatedAt = job.CreatedAt.UTC()
	if completedAt != nil {
		t := completedAt.UTC()
		job.CompletedAt = &t
	}
	if itineraryBytes != nil {
		if err := json.Unmarshal(itineraryBytes, &job.Itinerary); err != nil {
			return nil, fmt.Errorf("job %s: decode itinerary: %w", id, err)
		}
	}
	job.Error = errText

	return &job, nil
}

func (r *JobRepository) SetResultDone(ctx context.Context, id uuid.UUID, itinerary []entity.Day, completedAt time.Time) error {
	out, err := json.Marshal(itinerary)
	if err != nil {
		return err
	}
	const q = `
UPDATE itinerary_jobs SET status='completed', itinerary=$2, error=NULL, completed_at=$3
WHERE id=$1 AND status='processing';
`
	tag, err := r.pool.Exec(ctx, q, id, out, completedAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrTerminal(ctx, id)
	}
	return nil
}

func (r *JobRepository) SetResultError(ctx context.Context, id uuid.UUID, errText string, completedAt time.Time) error {
	const q = `
UPDATE itinerary_jobs SET status='failed', itinerary=NULL, error=$2, completed_at=$3
WHERE id=$1 AND status='processing';
`
	tag, err := r.pool.Exec(ctx, q, id, errText, completedAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrTerminal(ctx, id)
	}
	return nil
}

// FailStale marks jobs still processing since before cutoff as failed and
// returns how many were updated.
func (r *JobRepository) FailStale(ctx context.Context, cutoff time.Time, errText string) (int64, error) {
	const q = `
UPDATE itinerary_jobs SET status='failed', itinerary=NULL, error=$2, completed_at=now()
WHERE status='processing' AND created_at < $1;
`
	tag, err := r.pool.Exec(ctx, q, cutoff.UTC(), errText)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *JobRepository) missOrTerminal(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM itinerary_jobs WHERE id=$1);`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrAlreadyTerminal
}
