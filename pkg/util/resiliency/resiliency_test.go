package resiliency_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpharma/rxengine/pkg/rxerr"
	"github.com/openpharma/rxengine/pkg/util/resiliency"
)

func fastPolicy() resiliency.Policy {
	return resiliency.Policy{Base: time.Millisecond, Factor: 2, Cap: 5 * time.Millisecond, Attempts: 5}
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	out, err := resiliency.Do(context.Background(), fastPolicy(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", rxerr.ErrExternalUnavailable
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	_, err := resiliency.Do(context.Background(), fastPolicy(), func(ctx context.Context) (string, error) {
		calls++
		return "", rxerr.ErrExternalReject
	})
	assert.ErrorIs(t, err, rxerr.ErrExternalReject)
	assert.Equal(t, 1, calls)
}

func TestDo_Exhaustion(t *testing.T) {
	calls := 0
	_, err := resiliency.Do(context.Background(), fastPolicy(), func(ctx context.Context) (string, error) {
		calls++
		return "", rxerr.ErrExternalTimeout
	})
	assert.ErrorIs(t, err, rxerr.ErrExternalTimeout)
	assert.Equal(t, 5, calls)
}

func TestDo_ContextCancelBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := resiliency.Do(ctx, resiliency.Policy{Base: time.Hour, Factor: 2, Cap: time.Hour, Attempts: 3},
		func(ctx context.Context) (int, error) {
			calls++
			cancel()
			return 0, rxerr.ErrExternalUnavailable
		})
	assert.ErrorIs(t, err, rxerr.ErrExternalTimeout)
	assert.Equal(t, 1, calls)
}

func TestBackoff_CapAndGrowth(t *testing.T) {
	p := resiliency.Policy{Base: 500 * time.Millisecond, Factor: 2, Cap: 60 * time.Second, Attempts: 5}
	assert.Equal(t, 500*time.Millisecond, p.Backoff(0))
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 60*time.Second, p.Backoff(20))
}

func TestBackoff_JitterBounds(t *testing.T) {
	p := resiliency.ClaimSwitchPolicy
	for i := 0; i < 50; i++ {
		d := p.Backoff(0)
		assert.GreaterOrEqual(t, d, 400*time.Millisecond)
		assert.LessOrEqual(t, d, 600*time.Millisecond)
	}
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	cb := resiliency.NewCircuitBreaker("claimswitch", 3, 10*time.Second).
		WithClock(func() time.Time { return now })

	require.True(t, cb.Allow())
	cb.Failure()
	cb.Failure()
	require.True(t, cb.Allow())
	cb.Failure()
	assert.False(t, cb.Allow(), "open after threshold")

	now = now.Add(11 * time.Second)
	assert.True(t, cb.Allow(), "half-open probe after reset timeout")

	cb.Failure()
	assert.False(t, cb.Allow(), "half-open failure reopens")

	now = now.Add(11 * time.Second)
	require.True(t, cb.Allow())
	cb.Success()
	assert.True(t, cb.Allow(), "closed after half-open success")
}

func TestDo_WrapsNonRxerrAsIs(t *testing.T) {
	sentinel := errors.New("parse failure")
	_, err := resiliency.Do(context.Background(), fastPolicy(), func(ctx context.Context) (int, error) {
		return 0, sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}
