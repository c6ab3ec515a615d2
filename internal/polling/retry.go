package polling

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

const (
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = time.Second
)

// Retrier re-runs remote calls that fail with a transient error.
type Retrier struct {
	maxRetries int
	baseDelay  time.Duration
	clock      Clock
	jitter     func() time.Duration
	log        *slog.Logger
	metrics    *Metrics
}

// RetrierOption customizes a Retrier.
type RetrierOption func(*Retrier)

// WithJitter replaces the uniform [0,1s) jitter source.
func WithJitter(jitter func() time.Duration) RetrierOption {
	return func(r *Retrier) { r.jitter = jitter }
}

// WithBaseDelay overrides the 1s base retry delay.
func WithBaseDelay(d time.Duration) RetrierOption {
	return func(r *Retrier) { r.baseDelay = d }
}

// NewRetrier builds a Retrier making at most maxRetries attempts per call.
func NewRetrier(maxRetries int, clock Clock, log *slog.Logger, metrics *Metrics, opts ...RetrierOption) *Retrier {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if clock == nil {
		clock = RealClock()
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Retrier{
		maxRetries: maxRetries,
		baseDelay:  defaultRetryBaseDelay,
		clock:      clock,
		jitter:     uniformJitter,
		log:        log,
		metrics:    metrics,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func uniformJitter() time.Duration {
	return time.Duration(rand.Int63n(int64(time.Second)))
}

// Do runs op until it succeeds, fails permanently, or attempts run out. The
// last error is returned unchanged.
func Do[T any](ctx context.Context, r *Retrier, label string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			r.log.Error("remote call failed with non-retryable error", "operation", label, "err", err)
			return zero, err
		}
		if attempt == r.maxRetries-1 {
			break
		}

		wait := RetryDelay(r.baseDelay, attempt, r.jitter())
		r.log.Warn("remote call failed; retrying",
			"operation", label,
			"attempt", attempt+1,
			"wait", wait,
			"err", err,
		)
		r.metrics.retry(label)
		if sleepErr := r.clock.Sleep(ctx, wait); sleepErr != nil {
			return zero, sleepErr
		}
	}
	return zero, lastErr
}
