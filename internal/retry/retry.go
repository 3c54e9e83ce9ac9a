// Package retry provides the bounded-backoff wait primitive used for
// container mounting and overlay attachment. Exhaustion is a terminal
// failure, never an endless loop.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned when every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy describes a bounded exponential backoff.
type Policy struct {
	// Initial is the delay after the first failed attempt.
	Initial time.Duration
	// Max caps the delay between attempts.
	Max time.Duration
	// Factor scales the delay after each failed attempt.
	Factor float64
	// Attempts is the total number of tries.
	Attempts int
}

// AttachPolicy is the documented overlay-attachment sequence: 500 ms growing
// by 1.5x, capped at 3 s, for at most 10 attempts.
var AttachPolicy = Policy{
	Initial:  500 * time.Millisecond,
	Max:      3 * time.Second,
	Factor:   1.5,
	Attempts: 10,
}

// ContainerPolicy is the documented container-mount wait: a fixed short poll
// interval for up to roughly one second.
var ContainerPolicy = Policy{
	Initial:  100 * time.Millisecond,
	Max:      100 * time.Millisecond,
	Factor:   1.0,
	Attempts: 10,
}

// Do runs fn until it reports success, the policy is exhausted, or the
// context is canceled. The first attempt runs immediately.
func (p Policy) Do(ctx context.Context, fn func() bool) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Initial
	for i := 0; i < attempts; i++ {
		if fn() {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * p.Factor)
		if p.Max > 0 && delay > p.Max {
			delay = p.Max
		}
	}
	return ErrExhausted
}
