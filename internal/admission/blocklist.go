package admission

import (
	"sync"
	"time"
)

// BlockRegistry is the single source of truth for "is this client currently
// blocked". Blocks are binary and time-bounded; expiry is detected lazily on
// the next lookup, which also resets the client's suspicion counter. The
// suspicion counter itself counts rate-limit violations and is the
// escalation signal the detector reads.
type BlockRegistry struct {
	mu        sync.Mutex
	blocked   map[string]time.Time
	suspicion map[string]int
	duration  time.Duration
	now       func() time.Time
}

// NewBlockRegistry creates a registry that blocks clients for the given
// duration. A nil clock means time.Now.
func NewBlockRegistry(duration time.Duration, now func() time.Time) *BlockRegistry {
	if now == nil {
		now = time.Now
	}
	return &BlockRegistry{
		blocked:   make(map[string]time.Time),
		suspicion: make(map[string]int),
		duration:  duration,
		now:       now,
	}
}

// IsBlocked reports whether the client is inside an active block window.
// An expired block is removed on this lookup and its suspicion counter
// starts over from zero.
func (r *BlockRegistry) IsBlocked(clientKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	until, ok := r.blocked[clientKey]
	if !ok {
		return false
	}
	// strictly after: at the exact expiry instant the block still holds
	if r.now().After(until) {
		delete(r.blocked, clientKey)
		delete(r.suspicion, clientKey)
		return false
	}
	return true
}

// Block inserts or overwrites a block ending duration from now.
func (r *BlockRegistry) Block(clientKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked[clientKey] = r.now().Add(r.duration)
}

// RetryAfter reports the remaining block time, zero when not blocked.
func (r *BlockRegistry) RetryAfter(clientKey string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	until, ok := r.blocked[clientKey]
	if !ok {
		return 0
	}
	remaining := until.Sub(r.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// BlockDuration is the configured block window, used for the retry-after
// hint when a block is freshly created.
func (r *BlockRegistry) BlockDuration() time.Duration {
	return r.duration
}

// NoteViolation increments the client's rate-limit violation counter and
// returns the new count.
func (r *BlockRegistry) NoteViolation(clientKey string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suspicion[clientKey]++
	return r.suspicion[clientKey]
}

// Violations reads the client's current violation count.
func (r *BlockRegistry) Violations(clientKey string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suspicion[clientKey]
}
