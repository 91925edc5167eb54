// Package retry provides a bounded exponential-backoff combinator for
// operations that classify their own outcome.
package retry

import (
	"context"
	"errors"
	"time"
)

// Outcome classifies a single attempt.
type Outcome int

const (
	// Done means the attempt succeeded; Do returns immediately.
	Done Outcome = iota
	// Retryable means the attempt failed transiently; Do sleeps and tries again.
	Retryable
	// Fatal means the attempt failed permanently; Do returns without sleeping.
	Fatal
)

// String returns the outcome name used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ErrExhausted is returned when every attempt was retryable.
var ErrExhausted = errors.New("retry attempts exhausted")

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy configures attempts and backoff. Delays are InitialDelay * Multiplier^n
// with no jitter.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64

	// Sleep defaults to a context-aware timer.
	Sleep SleepFunc
	// OnRetry, when set, is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy is five attempts at 1s, 2s, 4s, 8s, 16s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		Multiplier:   2,
	}
}

// Delays returns the backoff sequence the policy would sleep through if
// every attempt were retryable.
func (p Policy) Delays() []time.Duration {
	p = p.normalized()
	delays := make([]time.Duration, 0, p.MaxAttempts)
	delay := p.InitialDelay
	for i := 0; i < p.MaxAttempts; i++ {
		delays = append(delays, delay)
		delay = time.Duration(float64(delay) * p.Multiplier)
	}
	return delays
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.Sleep == nil {
		p.Sleep = Sleep
	}
	return p
}

// Op is one attempt. The returned error is kept as the last cause when the
// outcome is Retryable and returned directly when it is Fatal.
type Op func(ctx context.Context, attempt int) (Outcome, error)

// Do runs op until it reports Done or Fatal, the attempts run out, or ctx is
// cancelled. A sleep follows every retryable attempt, including the last one.
func Do(ctx context.Context, p Policy, op Op) error {
	p = p.normalized()
	delay := p.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome, err := op(ctx, attempt)
		switch outcome {
		case Done:
			return nil
		case Fatal:
			return err
		}

		lastErr = err
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := p.Sleep(ctx, delay); err != nil {
			return err
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}

	if lastErr != nil {
		return &ExhaustedError{Attempts: p.MaxAttempts, Cause: lastErr}
	}
	return &ExhaustedError{Attempts: p.MaxAttempts}
}

// ExhaustedError reports that all attempts were retryable.
type ExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *ExhaustedError) Error() string {
	if e.Cause != nil {
		return ErrExhausted.Error() + ": " + e.Cause.Error()
	}
	return ErrExhausted.Error()
}

// Is matches ErrExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

func (e *ExhaustedError) Unwrap() error {
	return e.Cause
}

// Sleep waits for d, returning early with ctx.Err() if ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
