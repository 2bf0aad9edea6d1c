package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		perSecond uint
		burst     uint
		wantNil   bool
		wantBurst int
	}{
		{name: "standard rate", perSecond: 100, burst: 200, wantBurst: 200},
		{name: "default burst", perSecond: 50, burst: 0, wantBurst: 50},
		{name: "unlimited", perSecond: 0, burst: 10, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.perSecond, tt.burst)
			if tt.wantNil {
				assert.Nil(t, limiter)
				return
			}
			require.NotNil(t, limiter)
			assert.Equal(t, tt.wantBurst, limiter.limiter.Burst())
		})
	}
}

func TestAllow(t *testing.T) {
	limiter := New(10, 10)

	for i := 0; i < 10; i++ {
		require.True(t, limiter.Allow(), "request %d should be allowed within burst", i)
	}
	assert.False(t, limiter.Allow(), "request should be limited after burst exhausted")

	time.Sleep(110 * time.Millisecond)
	assert.True(t, limiter.Allow(), "request should be allowed after replenishment")
}

func TestWait(t *testing.T) {
	limiter := New(10, 1)
	require.NoError(t, limiter.Wait(context.Background()))

	start := time.Now()
	require.NoError(t, limiter.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestWaitCancelled(t *testing.T) {
	limiter := New(1, 1)
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.Error(t, limiter.Wait(ctx))
}

func TestWaitNSplitsLargeRequests(t *testing.T) {
	limiter := New(1000, 100)

	start := time.Now()
	require.NoError(t, limiter.WaitN(context.Background(), 250))

	// 100 tokens come from the burst, the remaining 150 take ~150ms.
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestNilLimiterNeverBlocks(t *testing.T) {
	var limiter *RateLimiter

	assert.True(t, limiter.Allow())
	assert.NoError(t, limiter.Wait(context.Background()))
	assert.NoError(t, limiter.WaitN(context.Background(), 1<<30))
	assert.Zero(t, limiter.Tokens())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, limiter.Wait(ctx), context.Canceled)
}
