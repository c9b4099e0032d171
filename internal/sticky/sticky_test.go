package sticky

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultParams() Params {
	return Params{
		MaxConcurrentPerCredential: 2,
		MaxConcurrentPerKey:        5,
		StickyExpiry:               30 * time.Minute,
		ZombieStreamTimeout:        15 * time.Minute,
	}
}

func TestStickyHit(t *testing.T) {
	tr := New(defaultParams())

	r1 := tr.TryAcquire(Identity{APIKey: "A"}, []string{"1", "2"})
	require.True(t, r1.Acquired)
	require.Equal(t, "1", r1.CredentialID)
	tr.ActivateStream(r1.StreamID)

	r2 := tr.TryAcquire(Identity{APIKey: "A"}, []string{"1", "2"})
	require.True(t, r2.Acquired)
	assert.Equal(t, "1", r2.CredentialID)
	assert.NotEqual(t, r1.StreamID, r2.StreamID)

	snap := tr.Snapshot()
	assert.GreaterOrEqual(t, snap.Stats.Hits, uint64(1))
}

func Test429WhenSaturated(t *testing.T) {
	tr := New(Params{MaxConcurrentPerCredential: 1, MaxConcurrentPerKey: 5})

	rA := tr.TryAcquire(Identity{APIKey: "A"}, []string{"1"})
	require.True(t, rA.Acquired)
	tr.ActivateStream(rA.StreamID)

	rB := tr.TryAcquire(Identity{APIKey: "B"}, []string{"1"})
	require.False(t, rB.Acquired)
	assert.GreaterOrEqual(t, rB.RetryAfterSecs, 5.0)
	assert.Less(t, rB.RetryAfterSecs, 10.0)

	snap := tr.Snapshot()
	assert.Equal(t, uint64(1), snap.Stats.Rejections429)
}

func TestQueueJump(t *testing.T) {
	tr := New(Params{MaxConcurrentPerCredential: 2, MaxConcurrentPerKey: 5})

	rA1 := tr.TryAcquire(Identity{APIKey: "A"}, []string{"1"})
	require.True(t, rA1.Acquired)
	tr.ActivateStream(rA1.StreamID)

	rB1 := tr.TryAcquire(Identity{APIKey: "B"}, []string{"1"})
	require.True(t, rB1.Acquired)
	tr.ActivateStream(rB1.StreamID)

	// credential 1 is now full (2/2); A requests again and should queue-jump
	rA2 := tr.TryAcquire(Identity{APIKey: "A"}, []string{"1"})
	require.True(t, rA2.Acquired)
	assert.Equal(t, "1", rA2.CredentialID)

	snap := tr.Snapshot()
	assert.GreaterOrEqual(t, snap.Stats.QueueJumps, uint64(1))
}

func TestReservationCounts(t *testing.T) {
	tr := New(Params{MaxConcurrentPerCredential: 1, MaxConcurrentPerKey: 5})

	rA := tr.TryAcquire(Identity{APIKey: "A"}, []string{"1"})
	require.True(t, rA.Acquired)
	// do NOT activate

	rB := tr.TryAcquire(Identity{APIKey: "B"}, []string{"1"})
	require.False(t, rB.Acquired)

	tr.CancelReservation(rA.StreamID)

	rB2 := tr.TryAcquire(Identity{APIKey: "B"}, []string{"1"})
	require.True(t, rB2.Acquired)
}

func TestZombieCleanupRespectsReservationTimeout(t *testing.T) {
	tr := New(Params{MaxConcurrentPerCredential: 2, MaxConcurrentPerKey: 5, ZombieStreamTimeout: 0})

	rUnactivated := tr.TryAcquire(Identity{APIKey: "A"}, []string{"1"})
	require.True(t, rUnactivated.Acquired)

	rActivated := tr.TryAcquire(Identity{APIKey: "B"}, []string{"1"})
	require.True(t, rActivated.Acquired)
	tr.ActivateStream(rActivated.StreamID)
	// artificially age the activated stream past a zero zombie timeout
	tr.activeStreamsMu.Lock()
	tr.activeStreams[rActivated.StreamID].lastTouchAt = time.Now().Add(-time.Minute)
	tr.activeStreamsMu.Unlock()

	removed := tr.CleanupZombies()
	assert.Equal(t, 1, removed)

	snap := tr.Snapshot()
	assert.Equal(t, 1, snap.ActiveStreams)
}

func TestInvariantCountsMatchActiveStreams(t *testing.T) {
	tr := New(Params{MaxConcurrentPerCredential: 100, MaxConcurrentPerKey: 100})

	var wg sync.WaitGroup
	keys := []string{"A", "B", "C", "D"}
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := keys[i%len(keys)]
			r := tr.TryAcquire(Identity{APIKey: key}, []string{"1", "2", "3"})
			if r.Acquired {
				if i%3 == 0 {
					tr.ActivateStream(r.StreamID)
				}
				if i%7 == 0 {
					tr.DeactivateStream(r.StreamID)
				}
			}
		}(i)
	}
	wg.Wait()

	t.Cleanup(func() {
		snap := tr.Snapshot()
		total := 0
		for _, rec := range tr.concurrency {
			sum := 0
			for _, c := range rec.perKeyCount {
				sum += c
			}
			assert.Equal(t, rec.active, sum)
			total += rec.active
		}
		assert.LessOrEqual(t, total, snap.ActiveStreams)
	})
}

func TestDoubleReleaseIsSafe(t *testing.T) {
	tr := New(defaultParams())
	r := tr.TryAcquire(Identity{APIKey: "A"}, []string{"1"})
	require.True(t, r.Acquired)

	g := NewGuard(tr, r.StreamID)
	g.Activate()
	g.Release()
	g.Release() // must not panic or double-decrement

	snap := tr.Snapshot()
	assert.Equal(t, 0, snap.ActiveStreams)
}

func TestAllFullWithZeroOwnStreamsNeverAcquires(t *testing.T) {
	tr := New(Params{MaxConcurrentPerCredential: 1, MaxConcurrentPerKey: 5})
	r1 := tr.TryAcquire(Identity{APIKey: "A"}, []string{"1"})
	require.True(t, r1.Acquired)
	tr.ActivateStream(r1.StreamID)

	r2 := tr.TryAcquire(Identity{APIKey: "C"}, []string{"1"})
	assert.False(t, r2.Acquired)
}
