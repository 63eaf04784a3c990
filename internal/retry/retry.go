// Package retry runs an operation with exponential backoff until it succeeds,
// fails with a non-retryable error, or exhausts its retry budget.
package retry

import (
	"context"
	"errors"
	"time"
)

// Kind classifies an error for retry decisions.
type Kind int

const (
	KindFatal Kind = iota
	KindRetryable
)

func (k Kind) String() string {
	if k == KindRetryable {
		return "retryable"
	}
	return "fatal"
}

// Error attaches a Kind to an underlying error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Retryable marks err as worth another attempt.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindRetryable, Err: err}
}

// Fatal marks err as permanent.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindFatal, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
// Unclassified errors are fatal.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindFatal
}

// IsRetryable is the default classifier for Do.
func IsRetryable(err error) bool {
	return KindOf(err) == KindRetryable
}

// Policy configures Do.
type Policy struct {
	// MaxRetries is the number of re-invocations after the first attempt,
	// so a persistently failing operation runs MaxRetries+1 times.
	MaxRetries int
	// BaseDelay is the wait before the first retry; it doubles afterwards.
	BaseDelay time.Duration
	// Sleep waits for d or until ctx is done. Nil means a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Delay returns BaseDelay * 2^attempt, attempt being the 0-based index of the
// failed invocation.
func (p Policy) Delay(attempt int) time.Duration {
	return p.BaseDelay << uint(attempt)
}

// Do invokes op until it succeeds or fails with an error for which
// isRetryable is false or the retry budget is spent. The last error is
// returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), isRetryable func(error) bool) (T, error) {
	if isRetryable == nil {
		isRetryable = IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepTimer
	}

	for attempt := 0; ; attempt++ {
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		if attempt >= p.MaxRetries || !isRetryable(err) {
			return res, err
		}
		if serr := sleep(ctx, p.Delay(attempt)); serr != nil {
			return res, errors.Join(err, serr)
		}
	}
}

func sleepTimer(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
