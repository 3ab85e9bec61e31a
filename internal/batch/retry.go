package batch

import (
	"context"
	"errors"
	"time"
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

type RetryConfig struct {
	MaxRetries int
	RetryDelay time.Duration
}

// RetryProcessor retries a failing item up to MaxRetries times, waiting
// RetryDelay*(attempt+1) between tries. Only the final failure is counted.
type RetryProcessor[T any] struct {
	inner *Processor[T]
	rc    RetryConfig
	sleep func(context.Context, time.Duration) error
}

func NewRetry[T any](cfg Config, rc RetryConfig, opts ...Option[T]) *RetryProcessor[T] {
	if rc.MaxRetries < 0 {
		rc.MaxRetries = 0
	}
	return &RetryProcessor[T]{
		inner: New(cfg, opts...),
		rc:    rc,
		sleep: sleepCtx,
	}
}

// WithSleep swaps the delay function, for tests.
func (r *RetryProcessor[T]) WithSleep(fn func(context.Context, time.Duration) error) *RetryProcessor[T] {
	r.sleep = fn
	return r
}

func (r *RetryProcessor[T]) Process(ctx context.Context, items []T, uow UnitOfWork[T]) Stats {
	return r.inner.Process(ctx, items, r.wrap(uow))
}

func (r *RetryProcessor[T]) wrap(uow UnitOfWork[T]) UnitOfWork[T] {
	return func(ctx context.Context, item T) error {
		var err error
		for attempt := 0; ; attempt++ {
			err = safeCall(ctx, uow, item)
			if err == nil || IsPermanent(err) || attempt >= r.rc.MaxRetries {
				return err
			}
			if serr := r.sleep(ctx, r.rc.RetryDelay*time.Duration(attempt+1)); serr != nil {
				return errors.Join(err, serr)
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
