package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"itinerary-service/internal/entity"
)

var ErrPoolClosed = errors.New("worker pool is shut down")

type JobProcessor interface {
	Process(ctx context.Context, job *entity.Job) error
}

// Pool runs jobs in the background, detached from the request that created
// them. Dispatch never blocks: when every worker is busy and the queue is
// full the job runs on an extra goroutine.
type Pool struct {
	processor JobProcessor
	workers   int
	jobs      chan *entity.Job
	log       logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	start  sync.Once
}

func NewPool(processor JobProcessor, workers, queueSize int, log logrus.FieldLogger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		processor: processor,
		workers:   workers,
		jobs:      make(chan *entity.Job, queueSize),
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (p *Pool) Start() {
	p.start.Do(func() {
		p.log.WithField("workers", p.workers).Info("worker pool started")
		for i := 0; i < p.workers; i++ {
			go func(n int) {
				for job := range p.jobs {
					p.run(n, job)
				}
			}(i + 1)
		}
	})
}

// Dispatch hands job to the pool. It fails only after Shutdown.
func (p *Pool) Dispatch(job *entity.Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.wg.Add(1)
	select {
	case p.jobs <- job:
	default:
		go p.run(0, job)
	}
	return nil
}

func (p *Pool) run(n int, job *entity.Job) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{
				"worker": n,
				"job_id": job.ID.String(),
				"panic":  r,
			}).Error("[worker] job panicked")
		}
	}()

	if err := p.processor.Process(p.ctx, job); err != nil {
		p.log.WithFields(logrus.Fields{
			"worker": n,
			"job_id": job.ID.String(),
		}).WithError(err).Debug("[worker] job failed")
	}
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish. When ctx expires first, running jobs are cancelled and ctx.Err()
// is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	// workers drain the closed channel only if they were started
	p.Start()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.log.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		p.log.WithError(ctx.Err()).Warn("worker pool stopped before jobs finished")
		return ctx.Err()
	}
}
