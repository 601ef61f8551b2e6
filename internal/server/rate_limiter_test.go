package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowsBurst(t *testing.T) {
	rl := newRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow(), "message %d within burst", i)
	}
	assert.False(t, rl.allow())
}

func TestRateLimiterRefills(t *testing.T) {
	rl := newRateLimiter(2, 100*time.Millisecond)

	require.True(t, rl.allow())
	require.True(t, rl.allow())
	require.False(t, rl.allow())

	time.Sleep(150 * time.Millisecond)
	assert.True(t, rl.allow())
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := newRateLimiter(0, 0)
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())
}
