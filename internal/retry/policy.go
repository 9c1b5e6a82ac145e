// Package retry runs an operation under an explicit, inspectable retry policy.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	JitterRatio float64

	// Retryable decides whether a failed attempt may be repeated. Nil retries every error.
	Retryable func(error) bool
	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default mirrors the relay client: three tries with a short exponential backoff.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Factor:      2.0,
		JitterRatio: 0.2,
	}
}

func (p Policy) Normalize() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 250 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Factor < 1 {
		p.Factor = 2.0
	}
	if p.JitterRatio < 0 {
		p.JitterRatio = 0
	} else if p.JitterRatio > 1 {
		p.JitterRatio = 1
	}
	return p
}

// Bail returns a predicate that refuses to retry errors matching any target.
func Bail(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return false
			}
		}
		return true
	}
}

// Do runs fn until it succeeds, the policy gives up or ctx is done. The error of
// the last attempt is returned.
func Do[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	p = p.Normalize()
	delays := p.backOff()

	var zero T
	for attempt := 1; ; attempt++ {
		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		if attempt >= p.MaxAttempts || !p.retryable(err) || ctx.Err() != nil {
			return zero, err
		}
		delay := delays.NextBackOff()
		if delay == backoff.Stop {
			return zero, err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
			return zero, errors.Join(err, sleepErr)
		}
	}
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Factor
	b.RandomizationFactor = p.JitterRatio
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
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
