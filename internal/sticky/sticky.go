// Package sticky implements the routing & sticky concurrency engine: it binds
// an API-key identity to a credential, reserves and releases concurrency
// slots, and reclaims zombie streams and expired bindings.
//
// Lock order is fixed across the package and must never be taken in any
// other order: bindings -> concurrency -> activeStreams -> stats.
package sticky

import (
	"sync"
	"sync/atomic"
	"time"
)

const reservationTimeout = 2 * time.Minute

// Identity is the caller-supplied routing key for a sticky request.
type Identity struct {
	APIKey    string
	SessionID string
}

// AcquireResult is returned by TryAcquire.
type AcquireResult struct {
	Acquired       bool
	CredentialID   string
	StreamID       uint64
	RetryAfterSecs float64
}

// binding records which credential an api key is currently pinned to.
type binding struct {
	credentialID  string
	lastRequestAt time.Time
}

// concurrencyRecord is the per-credential concurrency bookkeeping.
type concurrencyRecord struct {
	active      int
	perKeyCount map[string]int
}

// activeStream is a live reservation/stream.
type activeStream struct {
	streamID     uint64
	credentialID string
	apiKey       string
	activated    bool
	lastTouchAt  time.Time
	sessionID    string
}

// Stats holds the monotone counters exposed by the tracker.
type Stats struct {
	Hits          uint64
	Assignments   uint64
	Unbinds       uint64
	QueueJumps    uint64
	Rejections429 uint64
}

// Params configures tracker thresholds.
type Params struct {
	MaxConcurrentPerCredential int
	MaxConcurrentPerKey        int
	StickyExpiry               time.Duration
	ZombieStreamTimeout        time.Duration
}

// Tracker is the Sticky Tracker. Zero value is not usable; use New.
type Tracker struct {
	params Params

	bindingsMu sync.Mutex
	bindings   map[string]*binding // api_key -> binding

	concurrencyMu sync.Mutex
	concurrency   map[string]*concurrencyRecord // credential_id -> record

	activeStreamsMu sync.Mutex
	activeStreams   map[uint64]*activeStream

	statsMu sync.Mutex
	stats   Stats

	nextStreamID atomic.Uint64
}

// New constructs a Tracker with the given parameters.
func New(params Params) *Tracker {
	return &Tracker{
		params:        params,
		bindings:      make(map[string]*binding),
		concurrency:   make(map[string]*concurrencyRecord),
		activeStreams: make(map[uint64]*activeStream),
	}
}

func jitterRetryAfter() float64 {
	n := time.Now().UnixNano() % 5000
	return 5 + float64(n)/1000.0
}

// TryAcquire implements the full algorithm: a sticky-binding fast path (hit,
// queue-jump, or unbind-and-fall-through), followed by two-bucket global
// selection. bindingsMu and concurrencyMu are held for the whole call, in
// that order, so no two callers can observe the same remaining slot.
func (t *Tracker) TryAcquire(identity Identity, availableCredentials []string) AcquireResult {
	t.bindingsMu.Lock()
	defer t.bindingsMu.Unlock()
	t.concurrencyMu.Lock()
	defer t.concurrencyMu.Unlock()

	available := make(map[string]bool, len(availableCredentials))
	for _, c := range availableCredentials {
		available[c] = true
	}

	b, hasBinding := t.bindings[identity.APIKey]
	if hasBinding {
		boundCred := b.credentialID
		if !available[boundCred] {
			t.dropBindingLocked(identity.APIKey)
			hasBinding = false
		} else {
			active, perKey := t.countsLocked(boundCred, identity.APIKey)
			switch {
			case active < t.params.MaxConcurrentPerCredential:
				streamID := t.reserveLocked(boundCred, identity.APIKey, identity.SessionID)
				b.lastRequestAt = time.Now()
				t.incrStat(func(s *Stats) { s.Hits++ })
				return AcquireResult{Acquired: true, CredentialID: boundCred, StreamID: streamID}
			case perKey > 0 && perKey < t.params.MaxConcurrentPerKey:
				streamID := t.reserveLocked(boundCred, identity.APIKey, identity.SessionID)
				b.lastRequestAt = time.Now()
				t.incrStat(func(s *Stats) { s.QueueJumps++ })
				return AcquireResult{Acquired: true, CredentialID: boundCred, StreamID: streamID}
			case perKey == 0:
				t.dropBindingLocked(identity.APIKey)
			default:
				// saturated both ways: fall through to global selection
			}
		}
	}

	chosen, ok := t.selectGlobalLocked(availableCredentials)
	if !ok {
		t.incrStat(func(s *Stats) { s.Rejections429++ })
		return AcquireResult{Acquired: false, RetryAfterSecs: jitterRetryAfter()}
	}

	t.bindings[identity.APIKey] = &binding{credentialID: chosen, lastRequestAt: time.Now()}
	t.incrStat(func(s *Stats) { s.Assignments++ })

	streamID := t.reserveLocked(chosen, identity.APIKey, identity.SessionID)
	return AcquireResult{Acquired: true, CredentialID: chosen, StreamID: streamID}
}

// selectGlobalLocked must be called with concurrencyMu held.
func (t *Tracker) selectGlobalLocked(availableCredentials []string) (string, bool) {
	var preferredBest, fallbackBest string
	preferredBestActive, fallbackBestActive := -1, -1

	for _, credID := range availableCredentials {
		active, _ := t.countsLocked(credID, "")
		if active >= t.params.MaxConcurrentPerCredential {
			continue
		}
		if 2*active < t.params.MaxConcurrentPerCredential {
			if preferredBestActive == -1 || active < preferredBestActive {
				preferredBestActive = active
				preferredBest = credID
			}
		} else if fallbackBestActive == -1 || active < fallbackBestActive {
			fallbackBestActive = active
			fallbackBest = credID
		}
	}

	if preferredBestActive != -1 {
		return preferredBest, true
	}
	if fallbackBestActive != -1 {
		return fallbackBest, true
	}
	return "", false
}

// countsLocked returns (active, perKeyForAPIKey) for a credential. Must be
// called with concurrencyMu held. apiKey == "" skips the per-key lookup.
func (t *Tracker) countsLocked(credID, apiKey string) (int, int) {
	rec, ok := t.concurrency[credID]
	if !ok {
		return 0, 0
	}
	if apiKey == "" {
		return rec.active, 0
	}
	return rec.active, rec.perKeyCount[apiKey]
}

// reserveLocked must be called with concurrencyMu held. It assigns a stream
// id, increments concurrency counters, and records the active stream, all
// under the same critical section used for the check above.
func (t *Tracker) reserveLocked(credID, apiKey, sessionID string) uint64 {
	streamID := t.nextStreamID.Add(1)

	rec, ok := t.concurrency[credID]
	if !ok {
		rec = &concurrencyRecord{perKeyCount: make(map[string]int)}
		t.concurrency[credID] = rec
	}
	rec.active++
	rec.perKeyCount[apiKey]++

	t.activeStreamsMu.Lock()
	t.activeStreams[streamID] = &activeStream{
		streamID:     streamID,
		credentialID: credID,
		apiKey:       apiKey,
		activated:    false,
		lastTouchAt:  time.Now(),
		sessionID:    sessionID,
	}
	t.activeStreamsMu.Unlock()

	return streamID
}

// dropBindingLocked must be called with bindingsMu held.
func (t *Tracker) dropBindingLocked(apiKey string) {
	delete(t.bindings, apiKey)
	t.incrStat(func(s *Stats) { s.Unbinds++ })
}

func (t *Tracker) incrStat(f func(*Stats)) {
	t.statsMu.Lock()
	f(&t.stats)
	t.statsMu.Unlock()
}

// ActivateStream marks a reserved stream as activated (upstream responded).
// Idempotent: calling it more than once is harmless.
func (t *Tracker) ActivateStream(streamID uint64) {
	t.activeStreamsMu.Lock()
	defer t.activeStreamsMu.Unlock()
	if s, ok := t.activeStreams[streamID]; ok {
		s.activated = true
		s.lastTouchAt = time.Now()
	}
}

// TouchStream refreshes the last-touch timestamp for a live stream.
func (t *Tracker) TouchStream(streamID uint64) {
	t.activeStreamsMu.Lock()
	defer t.activeStreamsMu.Unlock()
	if s, ok := t.activeStreams[streamID]; ok {
		s.lastTouchAt = time.Now()
	}
}

// CancelReservation removes a never-activated stream and releases its
// concurrency credit. Equivalent in effect to DeactivateStream.
func (t *Tracker) CancelReservation(streamID uint64) {
	t.release(streamID)
}

// DeactivateStream removes an active stream and releases its concurrency
// credit, regardless of whether it was ever activated. Safe to call at most
// once per stream; a second call on an already-removed id is a no-op, which
// is what makes the StreamGuard's deferred release structurally safe against
// double-release.
func (t *Tracker) DeactivateStream(streamID uint64) {
	t.release(streamID)
}

func (t *Tracker) release(streamID uint64) {
	t.activeStreamsMu.Lock()
	s, ok := t.activeStreams[streamID]
	if ok {
		delete(t.activeStreams, streamID)
	}
	t.activeStreamsMu.Unlock()
	if !ok {
		return
	}

	t.concurrencyMu.Lock()
	if rec, ok := t.concurrency[s.credentialID]; ok {
		rec.active--
		if rec.perKeyCount[s.apiKey] > 0 {
			rec.perKeyCount[s.apiKey]--
		}
		if rec.perKeyCount[s.apiKey] == 0 {
			delete(rec.perKeyCount, s.apiKey)
		}
		if rec.active <= 0 && len(rec.perKeyCount) == 0 {
			delete(t.concurrency, s.credentialID)
		}
	}
	t.concurrencyMu.Unlock()
}

// CleanupZombies reclaims streams that have gone quiet past their timeout:
// activated streams past ZombieStreamTimeout, or unactivated reservations
// past the fixed 2-minute reservation timeout. Returns the count removed.
func (t *Tracker) CleanupZombies() int {
	now := time.Now()

	var toRemove []uint64
	t.activeStreamsMu.Lock()
	for id, s := range t.activeStreams {
		if s.activated {
			// A zero ZombieStreamTimeout means "reap immediately", not
			// "never reap": don't special-case it away with a > 0 guard.
			if now.Sub(s.lastTouchAt) > t.params.ZombieStreamTimeout {
				toRemove = append(toRemove, id)
			}
		} else if now.Sub(s.lastTouchAt) > reservationTimeout {
			toRemove = append(toRemove, id)
		}
	}
	t.activeStreamsMu.Unlock()

	for _, id := range toRemove {
		t.release(id)
	}
	return len(toRemove)
}

// CleanupExpiredBindings removes bindings older than StickyExpiry, but only
// when no active stream currently references that api key. Returns the
// count removed.
func (t *Tracker) CleanupExpiredBindings() int {
	now := time.Now()

	t.activeStreamsMu.Lock()
	keysWithActiveStreams := make(map[string]bool, len(t.activeStreams))
	for _, s := range t.activeStreams {
		keysWithActiveStreams[s.apiKey] = true
	}
	t.activeStreamsMu.Unlock()

	removed := 0
	t.bindingsMu.Lock()
	for apiKey, b := range t.bindings {
		if keysWithActiveStreams[apiKey] {
			continue
		}
		if t.params.StickyExpiry > 0 && now.Sub(b.lastRequestAt) > t.params.StickyExpiry {
			delete(t.bindings, apiKey)
			removed++
		}
	}
	t.bindingsMu.Unlock()
	return removed
}

// Snapshot is a consistent point-in-time view of tracker state.
type Snapshot struct {
	Bindings      map[string]string // api_key -> credential_id
	ActiveStreams int
	Stats         Stats
}

// Snapshot acquires the fixed lock order (bindings -> concurrency ->
// activeStreams -> stats) and returns a consistent view.
func (t *Tracker) Snapshot() Snapshot {
	t.bindingsMu.Lock()
	defer t.bindingsMu.Unlock()
	t.concurrencyMu.Lock()
	defer t.concurrencyMu.Unlock()
	t.activeStreamsMu.Lock()
	defer t.activeStreamsMu.Unlock()
	t.statsMu.Lock()
	defer t.statsMu.Unlock()

	bindings := make(map[string]string, len(t.bindings))
	for k, b := range t.bindings {
		bindings[k] = b.credentialID
	}

	return Snapshot{
		Bindings:      bindings,
		ActiveStreams: len(t.activeStreams),
		Stats:         t.stats,
	}
}

// StreamInfo is an admin-facing view of one active stream.
type StreamInfo struct {
	StreamID     uint64
	CredentialID string
	APIKey       string
	Activated    bool
	LastTouchAt  time.Time
	SessionID    string
}

// ActiveStreamsList returns a point-in-time view of every active stream, for
// the admin sticky/streams view.
func (t *Tracker) ActiveStreamsList() []StreamInfo {
	t.activeStreamsMu.Lock()
	defer t.activeStreamsMu.Unlock()
	out := make([]StreamInfo, 0, len(t.activeStreams))
	for _, s := range t.activeStreams {
		out = append(out, StreamInfo{
			StreamID:     s.streamID,
			CredentialID: s.credentialID,
			APIKey:       s.apiKey,
			Activated:    s.activated,
			LastTouchAt:  s.lastTouchAt,
			SessionID:    s.sessionID,
		})
	}
	return out
}
