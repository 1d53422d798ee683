// Package admission implements the request-admission chain: API-key gating,
// per-endpoint-class token buckets, suspicious-client detection and temporary
// IP blocking. All state is in-memory and owned by the constructed instances,
// so tests can run isolated pipelines with a simulated clock.
package admission

import (
	"math"
	"sync"
	"time"
)

// EndpointClass is a coarse request category with its own rate limit.
type EndpointClass string

const (
	ClassAdmin      EndpointClass = "ADMIN"
	ClassWeather    EndpointClass = "WEATHER"
	ClassPlaceWrite EndpointClass = "PLACE_WRITE"
	ClassPlaceRead  EndpointClass = "PLACE_READ"
	ClassOther      EndpointClass = "OTHER"

	// classVolume is the dedicated aggregate bucket the detector consumes
	// from; it shares the table so the high-water eviction covers it too.
	classVolume EndpointClass = "VOLUME"
)

// ClassLimit is the (capacity, interval) pair applied to one endpoint class.
type ClassLimit struct {
	Capacity int
	Interval time.Duration
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// BucketLimiter keeps one token bucket per (client key, endpoint class) pair.
// Refill is computed lazily from elapsed wall-clock time, so there is no
// background ticking goroutine on the admission path.
type BucketLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limits    map[EndpointClass]ClassLimit
	highWater int
	now       func() time.Time
}

// NewBucketLimiter creates a limiter for the given per-class limits. Classes
// without an entry fall back to the ClassOther limit. A nil clock means
// time.Now.
func NewBucketLimiter(limits map[EndpointClass]ClassLimit, highWater int, now func() time.Time) *BucketLimiter {
	if now == nil {
		now = time.Now
	}
	copied := make(map[EndpointClass]ClassLimit, len(limits))
	for class, limit := range limits {
		copied[class] = limit
	}
	return &BucketLimiter{
		buckets:   make(map[string]*bucket),
		limits:    copied,
		highWater: highWater,
		now:       now,
	}
}

// WithVolumeLimit adds the aggregate per-client bucket the detector consumes
// from to a per-class limit table.
func WithVolumeLimit(limits map[EndpointClass]ClassLimit, perMinute int) map[EndpointClass]ClassLimit {
	limits[classVolume] = ClassLimit{Capacity: perMinute, Interval: time.Minute}
	return limits
}

func (l *BucketLimiter) limitFor(class EndpointClass) ClassLimit {
	if limit, ok := l.limits[class]; ok {
		return limit
	}
	// unclassified traffic gets the most permissive configured limit
	return l.limits[ClassOther]
}

func bucketKey(clientKey string, class EndpointClass) string {
	return clientKey + ":" + string(class)
}

// refill accrues tokens continuously at capacity/interval, capped at capacity.
func refill(b *bucket, limit ClassLimit, now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rate := float64(limit.Capacity) / limit.Interval.Seconds()
	b.tokens = math.Min(float64(limit.Capacity), b.tokens+elapsed*rate)
	b.lastRefill = now
}

// TryConsume takes one token from the (clientKey, class) bucket. It reports
// false when the bucket is exhausted; exhaustion is an expected outcome, not
// an error.
func (l *BucketLimiter) TryConsume(clientKey string, class EndpointClass) bool {
	limit := l.limitFor(class)

	l.mu.Lock()
	defer l.mu.Unlock()

	key := bucketKey(clientKey, class)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(limit.Capacity), lastRefill: l.now()}
		l.buckets[key] = b
	}

	refill(b, limit, l.now())
	if b.tokens < 1 {
		return false
	}
	b.tokens -= 1
	return true
}

// Available reports the whole tokens currently in the bucket without mutating
// it; a client that never consumed reads the full capacity.
func (l *BucketLimiter) Available(clientKey string, class EndpointClass) int {
	limit := l.limitFor(class)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[bucketKey(clientKey, class)]
	if !ok {
		return limit.Capacity
	}

	elapsed := l.now().Sub(b.lastRefill).Seconds()
	rate := float64(limit.Capacity) / limit.Interval.Seconds()
	tokens := math.Min(float64(limit.Capacity), b.tokens+elapsed*rate)
	return int(tokens)
}

// Size reports the number of live buckets.
func (l *BucketLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Compact drops the whole bucket table once it has grown past the high-water
// mark and reports how many buckets were evicted. Dropped clients simply
// start over with full buckets.
func (l *BucketLimiter) Compact() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buckets) <= l.highWater {
		return 0
	}
	evicted := len(l.buckets)
	l.buckets = make(map[string]*bucket)
	return evicted
}
