package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// testClock returns a deterministic clock and a function to advance it.
func testClock() (func() time.Time, func(time.Duration)) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return current },
		func(d time.Duration) { current = current.Add(d) }
}

func testLimits() map[EndpointClass]ClassLimit {
	return WithVolumeLimit(map[EndpointClass]ClassLimit{
		ClassAdmin:      {Capacity: 10, Interval: time.Minute},
		ClassWeather:    {Capacity: 30, Interval: time.Minute},
		ClassPlaceWrite: {Capacity: 20, Interval: time.Minute},
		ClassPlaceRead:  {Capacity: 60, Interval: time.Minute},
		ClassOther:      {Capacity: 60, Interval: time.Minute},
	}, 100)
}

func TestTryConsume_CapacityBoundary_Allows30Of31(t *testing.T) {
	now, _ := testClock()
	limiter := NewBucketLimiter(testLimits(), 10000, now)

	for i := 0; i < 30; i++ {
		assert.True(t, limiter.TryConsume("1.2.3.4", ClassWeather), "request %d should be admitted", i+1)
	}

	assert.False(t, limiter.TryConsume("1.2.3.4", ClassWeather), "request 31 should be rejected")
	assert.Equal(t, 0, limiter.Available("1.2.3.4", ClassWeather))
}

func TestTryConsume_RefillRestoresTokens(t *testing.T) {
	now, advance := testClock()
	limiter := NewBucketLimiter(testLimits(), 10000, now)

	for i := 0; i < 30; i++ {
		limiter.TryConsume("1.2.3.4", ClassWeather)
	}
	assert.False(t, limiter.TryConsume("1.2.3.4", ClassWeather))

	// 30 tokens/minute accrue at 0.5 tokens/second
	advance(2 * time.Second)
	assert.True(t, limiter.TryConsume("1.2.3.4", ClassWeather))
}

func TestTryConsume_RefillNeverExceedsCapacity(t *testing.T) {
	now, advance := testClock()
	limiter := NewBucketLimiter(testLimits(), 10000, now)

	limiter.TryConsume("1.2.3.4", ClassWeather)
	advance(time.Hour)

	assert.Equal(t, 30, limiter.Available("1.2.3.4", ClassWeather))
}

func TestTryConsume_ClientsAndClassesAreIsolated(t *testing.T) {
	now, _ := testClock()
	limiter := NewBucketLimiter(testLimits(), 10000, now)

	for i := 0; i < 10; i++ {
		assert.True(t, limiter.TryConsume("1.2.3.4", ClassAdmin))
	}
	assert.False(t, limiter.TryConsume("1.2.3.4", ClassAdmin))

	// same client, other class; other client, same class
	assert.True(t, limiter.TryConsume("1.2.3.4", ClassWeather))
	assert.True(t, limiter.TryConsume("5.6.7.8", ClassAdmin))
}

func TestAvailable_DoesNotMutateState(t *testing.T) {
	now, _ := testClock()
	limiter := NewBucketLimiter(testLimits(), 10000, now)

	// querying an untouched client creates no bucket
	assert.Equal(t, 30, limiter.Available("1.2.3.4", ClassWeather))
	assert.Equal(t, 0, limiter.Size())

	limiter.TryConsume("1.2.3.4", ClassWeather)
	for i := 0; i < 5; i++ {
		assert.Equal(t, 29, limiter.Available("1.2.3.4", ClassWeather))
	}
}

func TestTryConsume_UnknownClassFallsBackToMostPermissive(t *testing.T) {
	now, _ := testClock()
	limiter := NewBucketLimiter(testLimits(), 10000, now)

	assert.Equal(t, 60, limiter.Available("1.2.3.4", EndpointClass("UNMAPPED")))
}

func TestCompact_OnlyAboveHighWaterMark(t *testing.T) {
	now, _ := testClock()
	limiter := NewBucketLimiter(testLimits(), 2, now)

	limiter.TryConsume("a", ClassWeather)
	limiter.TryConsume("b", ClassWeather)
	assert.Equal(t, 0, limiter.Compact(), "at the mark nothing is evicted")
	assert.Equal(t, 2, limiter.Size())

	limiter.TryConsume("c", ClassWeather)
	assert.Equal(t, 3, limiter.Compact())
	assert.Equal(t, 0, limiter.Size())
}
