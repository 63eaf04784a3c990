package firestore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"itinerary-service/internal/entity"
	fs "itinerary-service/internal/firestore"
	"itinerary-service/internal/repository"
)

const DefaultCollection = "itineraries"

// JobRepository stores one document per job, keyed by the job id.
type JobRepository struct {
	client     *fs.Client
	collection string
}

func NewJobRepository(client *fs.Client, collection string) *JobRepository {
	if collection == "" {
		collection = DefaultCollection
	}
	return &JobRepository{client: client, collection: collection}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	fields := map[string]any{
		"status":       string(job.Status),
		"destination":  job.Destination,
		"durationDays": int64(job.DurationDays),
		"createdAt":    job.CreatedAt,
		"completedAt":  nil,
		"itinerary":    nil,
		"error":        nil,
	}
	if job.CompletedAt != nil {
		fields["completedAt"] = *job.CompletedAt
	}
	if job.Itinerary != nil {
		fields["itinerary"] = itineraryFields(job.Itinerary)
	}
	if job.Error != nil {
		fields["error"] = *job.Error
	}
	return r.client.CreateDocument(ctx, r.collection, job.ID.String(), fields)
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	fields, err := r.client.GetDocument(ctx, r.collection, id.String())
	if err != nil {
		if errors.Is(err, fs.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	job, err := jobFromFields(id, fields)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	return job, nil
}

// SetResultDone writes the terminal result fields only. error is cleared so
// a completed job never carries a message from an earlier write.
func (r *JobRepository) SetResultDone(ctx context.Context, id uuid.UUID, itinerary []entity.Day, completedAt time.Time) error {
	return r.update(ctx, id, map[string]any{
		"status":      string(entity.StatusCompleted),
		"itinerary":   itineraryFields(itinerary),
		"error":       nil,
		"completedAt": completedAt.UTC(),
	})
}

// SetResultError writes the terminal result fields only. itinerary is
// cleared so a failed job never exposes a half-committed result.
func (r *JobRepository) SetResultError(ctx context.Context, id uuid.UUID, errText string, completedAt time.Time) error {
	return r.update(ctx, id, map[string]any{
		"status":      string(entity.StatusFailed),
		"itinerary":   nil,
		"error":       errText,
		"completedAt": completedAt.UTC(),
	})
}

func (r *JobRepository) update(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	err := r.client.UpdateDocument(ctx, r.collection, id.String(), fields)
	var serr *fs.StoreError
	if errors.As(err, &serr) && serr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", repository.ErrNotFound, err)
	}
	return err
}

func itineraryFields(days []entity.Day) []any {
	out := make([]any, 0, len(days))
	for _, d := range days {
		acts := make([]any, 0, len(d.Activities))
		for _, a := range d.Activities {
			acts = append(acts, map[string]any{
				"time":        string(a.Time),
				"description": a.Description,
				"location":    a.Location,
			})
		}
		out = append(out, map[string]any{
			"day":        int64(d.Day),
			"theme":      d.Theme,
			"activities": acts,
		})
	}
	return out
}

func jobFromFields(id uuid.UUID, f map[string]any) (*entity.Job, error) {
	job := &entity.Job{ID: id}

	status, _ := f["status"].(string)
	job.Status = entity.JobStatus(status)
	job.Destination, _ = f["destination"].(string)
	if n, ok := f["durationDays"].(int64); ok {
		job.DurationDays = int(n)
	}
	if t, ok := f["createdAt"].(time.Time); ok {
		job.CreatedAt = t
	}
	if t, ok := f["completedAt"].(time.Time); ok {
		job.CompletedAt = &t
	}
	if s, ok := f["error"].(string); ok {
		job.Error = &s
	}

	if raw, ok := f["itinerary"].([]any); ok {
		days, err := itineraryFromFields(raw)
		if err != nil {
			return nil, err
		}
		job.Itinerary = days
	}
	return job, nil
}

func itineraryFromFields(raw []any) ([]entity.Day, error) {
	days := make([]entity.Day, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("itinerary[%d]: expected map, got %T", i, item)
		}
		var d entity.Day
		if n, ok := m["day"].(int64); ok {
			d.Day = int(n)
		}
		d.Theme, _ = m["theme"].(string)

		acts, _ := m["activities"].([]any)
		for j, a := range acts {
			am, ok := a.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("itinerary[%d].activities[%d]: expected map, got %T", i, j, a)
			}
			var act entity.Activity
			slot, _ := am["time"].(string)
			act.Time = entity.TimeSlot(slot)
			act.Description, _ = am["description"].(string)
			act.Location, _ = am["location"].(string)
			d.Activities = append(d.Activities, act)
		}
		days = append(days, d)
	}
	return days, nil
}
