package polling

import (
	"context"
	"time"
)

// Clock abstracts wall time and interruptible sleeping so the engine can be
// driven by a virtual clock in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// RealClock returns the wall-clock implementation.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

// Sleep blocks for d or until ctx is done, whichever comes first.
func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Budget is the single wall-clock window granted to one question. It is
// computed once at submission and passed unchanged through nested polls.
type Budget struct {
	Start    time.Time
	Deadline time.Time
}

// NewBudget opens a budget of timeout starting at now.
func NewBudget(now time.Time, timeout time.Duration) Budget {
	return Budget{Start: now, Deadline: now.Add(timeout)}
}

// Elapsed returns the seconds spent since the budget opened.
func (b Budget) Elapsed(now time.Time) float64 {
	return now.Sub(b.Start).Seconds()
}

// Exceeded reports whether now is at or past the deadline.
func (b Budget) Exceeded(now time.Time) bool {
	return !now.Before(b.Deadline)
}
