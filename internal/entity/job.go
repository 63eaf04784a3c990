package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Job struct {
	ID           uuid.UUID  `json:"id"`
	Status       JobStatus  `json:"status"`
	Destination  string     `json:"destination"`
	DurationDays int        `json:"durationDays"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt"`
	Itinerary    []Day      `json:"itinerary"`
	Error        *string    `json:"error"`
}

// NewJob returns a job in the initial processing state.
func NewJob(id uuid.UUID, destination string, durationDays int, createdAt time.Time) *Job {
	return &Job{
		ID:           id,
		Status:       StatusProcessing,
		Destination:  destination,
		DurationDays: durationDays,
		CreatedAt:    createdAt.UTC(),
	}
}
