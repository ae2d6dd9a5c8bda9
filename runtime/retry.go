// Package runtime schedules transfer work: admission control, worker slots and retries.
// It holds no file or broker logic of its own.
package runtime

import (
	"context"
	"file-relay/contract"
	apperrors "file-relay/errors"
	"file-relay/observability"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var _ contract.Retrier = (*Retrier)(nil)

// Retrier runs an operation up to maxAttempts times, waiting unit*2^k between
// attempt k and k+1. Permanent failures stop the loop immediately.
type Retrier struct {
	log         *slog.Logger
	maxAttempts int
	unit        time.Duration
	timer       backoff.Timer
	metrics     *observability.TransferMetrics
}

type RetrierOption func(*Retrier)

// WithTimer replaces the wall-clock timer used between attempts.
func WithTimer(timer backoff.Timer) RetrierOption {
	return func(r *Retrier) {
		r.timer = timer
	}
}

func WithRetryMetrics(metrics *observability.TransferMetrics) RetrierOption {
	return func(r *Retrier) {
		r.metrics = metrics
	}
}

func NewRetrier(log *slog.Logger, maxAttempts int, unit time.Duration, opts ...RetrierOption) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	r := &Retrier{
		log:         log,
		maxAttempts: maxAttempts,
		unit:        unit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do calls op with a 0-based attempt index until it succeeds, fails permanently,
// ctx is done, or maxAttempts is reached. Exhaustion returns a
// *errors.RetryExhaustedError wrapping the last failure.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(r.newBackOff(), uint64(r.maxAttempts-1)),
		ctx,
	)

	attempt := 0
	var last error
	err := backoff.RetryNotifyWithTimer(func() error {
		err := op(ctx, attempt)
		attempt++
		if err == nil {
			return nil
		}
		last = err
		if apperrors.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		r.metrics.IncrRetries()
		r.log.Warn("Attempt failed, backing off",
			"attempt", attempt, "max_attempts", r.maxAttempts, "next_in", next, "error", err)
	}, r.timer)

	switch {
	case err == nil:
		return nil
	case apperrors.IsPermanent(err):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return &apperrors.RetryExhaustedError{Attempts: attempt, Err: last}
	}
}

func (r *Retrier) newBackOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     r.unit,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         time.Duration(math.MaxInt64),
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
}
