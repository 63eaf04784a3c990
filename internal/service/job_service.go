package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"itinerary-service/internal/entity"
)

// JobRepository is the store port (implementations: repository/firestore,
// repository/postgresql).
type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	SetResultError(ctx context.Context, id uuid.UUID, errText string, completedAt time.Time) error
}

// Dispatcher runs a persisted job in the background (implementation: worker.Pool).
type Dispatcher interface {
	Dispatch(job *entity.Job) error
}

// ValidationError lists the rejected request fields and why.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

var ErrDispatch = errors.New("job could not be scheduled")

type CreateJobRequest struct {
	Destination  string `json:"destination" validate:"required"`
	DurationDays int    `json:"durationDays" validate:"gte=1,lte=30"`
}

type JobService struct {
	repo     JobRepository
	dispatch Dispatcher
	validate *validator.Validate

	newID func() (uuid.UUID, error)
	now   func() time.Time
}

func NewJobService(repo JobRepository, dispatch Dispatcher) *JobService {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	return &JobService{
		repo:     repo,
		dispatch: dispatch,
		validate: v,
		newID:    uuid.NewRandom,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob validates req, persists a processing job and schedules it. The
// job is stored before the id is returned.
func (s *JobService) CreateJob(ctx context.Context, req CreateJobRequest) (uuid.UUID, error) {
	req.Destination = strings.TrimSpace(req.Destination)
	if err := s.validateRequest(req); err != nil {
		return uuid.Nil, err
	}

	id, err := s.newID()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate id: %w", err)
	}
	job := entity.NewJob(id, req.Destination, req.DurationDays, s.now())

	if err := s.repo.Create(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.dispatch.Dispatch(job); err != nil {
		// the record must still reach a terminal state
		if ferr := s.repo.SetResultError(context.WithoutCancel(ctx), id, "job could not be scheduled: "+err.Error(), s.now()); ferr != nil {
			return uuid.Nil, errors.Join(fmt.Errorf("%w: %w", ErrDispatch, err), ferr)
		}
		return uuid.Nil, fmt.Errorf("%w: %w", ErrDispatch, err)
	}

	return id, nil
}

func (s *JobService) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *JobService) validateRequest(req CreateJobRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &ValidationError{Fields: map[string]string{}}
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			out.Fields[fe.Field()] = "is required"
		case "gte", "lte":
			out.Fields[fe.Field()] = "must be an integer between 1 and 30"
		default:
			out.Fields[fe.Field()] = "failed " + fe.Tag()
		}
	}
	return out
}
