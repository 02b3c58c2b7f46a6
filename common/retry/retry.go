// Package retry provides the single shared exponential-backoff policy used
// behind every transient-error retry site in the Core (spec §7: base
// 500ms, factor 2, max 3 attempts, jitter 20%). It replaces the teacher's
// inline per-call-site backoff loops with one dependency-backed helper.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy tunes the shared backoff behavior. Zero value yields spec
// defaults.
type Policy struct {
	BaseDelay   time.Duration
	Factor      float64
	MaxAttempts uint
	Jitter      float64
}

// DefaultPolicy matches spec §7's stated retry policy.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   500 * time.Millisecond,
		Factor:      2,
		MaxAttempts: 3,
		Jitter:      0.2,
	}
}

func (p Policy) orDefaults() Policy {
	d := DefaultPolicy()
	if p.BaseDelay == 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Factor == 0 {
		p.Factor = d.Factor
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.Jitter == 0 {
		p.Jitter = d.Jitter
	}
	return p
}

// Permanent marks err so Do stops retrying immediately, surfacing err
// unwrapped to the caller.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op, retrying transient failures under policy until it succeeds,
// a permanent error is returned, ctx is cancelled, or attempts are
// exhausted.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	policy = policy.orDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.Multiplier = policy.Factor
	b.RandomizationFactor = policy.Jitter

	attempt := 0
	return backoff.Retry[T](ctx, func() (T, error) {
		attempt++
		return op(ctx, attempt)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(policy.MaxAttempts))
}
