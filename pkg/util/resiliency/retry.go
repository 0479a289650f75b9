// Package resiliency wraps outbound port calls with retry and circuit
// breaking. Only rxerr transient errors are retried.
package resiliency

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"github.com/openpharma/rxengine/pkg/rxerr"
)

// Policy controls the retry loop: base * factor^attempt with ±JitterPct
// jitter, capped at Cap, at most Attempts tries.
type Policy struct {
	Base      time.Duration
	Factor    float64
	JitterPct int
	Cap       time.Duration
	Attempts  int
}

// ClaimSwitchPolicy is the adjudicator's retry schedule: 500 ms doubling
// with ±20% jitter, capped at 60 s, 5 attempts.
var ClaimSwitchPolicy = Policy{
	Base:      500 * time.Millisecond,
	Factor:    2,
	JitterPct: 20,
	Cap:       60 * time.Second,
	Attempts:  5,
}

// Backoff returns the delay before the given zero-based retry attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	d := time.Duration(float64(p.Base) * math.Pow(p.Factor, float64(attempt)))
	if d > p.Cap {
		d = p.Cap
	}
	if p.JitterPct > 0 {
		span := int64(d) * int64(p.JitterPct) / 100
		if span > 0 {
			if n, err := rand.Int(rand.Reader, big.NewInt(2*span+1)); err == nil {
				d = time.Duration(int64(d) - span + n.Int64())
			}
		}
	}
	return d
}

// Do runs fn with the policy, sleeping between transient failures. The
// context aborts the loop between attempts; non-transient errors return
// immediately.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, rxerr.ErrExternalTimeout.Wrap(ctx.Err())
			case <-time.After(p.Backoff(attempt - 1)):
			}
		}
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		if !rxerr.IsRetryable(err) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}
