package sticky

import "sync"

// Guard is an owned handle bound to exactly one reserved/active stream. It
// must be released exactly once, normally via a deferred call to Release
// immediately after TryAcquire succeeds. Release is idempotent so a defer
// combined with an explicit early release can never double-decrement.
type Guard struct {
	tracker  *Tracker
	streamID uint64

	mu       sync.Mutex
	released bool
}

// NewGuard wraps a stream id returned by a successful TryAcquire.
func NewGuard(tracker *Tracker, streamID uint64) *Guard {
	return &Guard{tracker: tracker, streamID: streamID}
}

// Activate marks the underlying stream activated. Idempotent.
func (g *Guard) Activate() {
	g.tracker.ActivateStream(g.streamID)
}

// Touch refreshes the underlying stream's last-touch timestamp.
func (g *Guard) Touch() {
	g.tracker.TouchStream(g.streamID)
}

// StreamID returns the id of the stream this guard owns.
func (g *Guard) StreamID() uint64 {
	return g.streamID
}

// Release deactivates the stream and frees its concurrency credit. Safe to
// call more than once or from a defer after an earlier explicit call; only
// the first call has any effect.
func (g *Guard) Release() {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return
	}
	g.released = true
	g.mu.Unlock()
	g.tracker.DeactivateStream(g.streamID)
}
