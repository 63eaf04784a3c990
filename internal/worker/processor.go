package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"itinerary-service/internal/entity"
)

// JobRepo records the terminal state of a job.
type JobRepo interface {
	SetResultDone(ctx context.Context, id uuid.UUID, itinerary []entity.Day, completedAt time.Time) error
	SetResultError(ctx context.Context, id uuid.UUID, errText string, completedAt time.Time) error
}

type Generator interface {
	Generate(ctx context.Context, destination string, durationDays int) ([]entity.Day, error)
}

const defaultWriteTimeout = 30 * time.Second

type Processor struct {
	repo         JobRepo
	gen          Generator
	timeout      time.Duration
	writeTimeout time.Duration
	now          func() time.Time
	log          logrus.FieldLogger
}

// NewProcessor builds a processor. A zero timeout disables the per-job deadline.
func NewProcessor(repo JobRepo, gen Generator, timeout time.Duration, log logrus.FieldLogger) *Processor {
	return &Processor{
		repo:         repo,
		gen:          gen,
		timeout:      timeout,
		writeTimeout: defaultWriteTimeout,
		now:          func() time.Time { return time.Now().UTC() },
		log:          log,
	}
}

// Process generates the itinerary for job and writes exactly one terminal
// update. The returned error is the reason the job failed, if it did.
func (p *Processor) Process(ctx context.Context, job *entity.Job) error {
	start := time.Now()
	log := p.log.WithFields(logrus.Fields{
		"job_id":        job.ID.String(),
		"destination":   job.Destination,
		"duration_days": job.DurationDays,
	})
	log.Info("[worker] status=processing")

	genCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.timeout > 0 {
		genCtx, cancel = context.WithTimeout(ctx, p.timeout)
	}
	days, procErr := p.generate(genCtx, job)
	cancel()

	// the terminal write must land even when ctx is already done
	wctx, wcancel := context.WithTimeout(context.WithoutCancel(ctx), p.writeTimeout)
	defer wcancel()

	if procErr == nil {
		err := p.repo.SetResultDone(wctx, job.ID, days, p.now())
		if err == nil {
			log.WithField("duration_ms", time.Since(start).Milliseconds()).Info("[worker] status=completed")
			return nil
		}
		log.WithError(err).Error("[worker] set_done failed")
		procErr = fmt.Errorf("store itinerary: %w", err)
	}

	msg := procErr.Error()
	if err := p.repo.SetResultError(wctx, job.ID, msg, p.now()); err != nil {
		log.WithError(err).Error("[worker] set_error failed")
	}
	log.WithFields(logrus.Fields{
		"duration_ms": time.Since(start).Milliseconds(),
		"error":       msg,
	}).Warn("[worker] status=failed")
	return procErr
}

func (p *Processor) generate(ctx context.Context, job *entity.Job) (days []entity.Day, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generation panicked: %v", r)
		}
	}()
	return p.gen.Generate(ctx, job.Destination, job.DurationDays)
}
