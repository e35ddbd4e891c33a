package monitor

import (
	"sync/atomic"
	"testing"
	"time"

	"chatwarden/internal/clock"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func newTracker(clk clock.Clock, capacity int) *Tracker {
	return New(Options{
		Retention:     600 * time.Second,
		Capacity:      capacity,
		SweepInterval: 10 * time.Second,
		EvictFraction: 0.1,
	}, clk, zap.NewNop())
}

func entry(messageID int) Entry {
	return Entry{Key: Key{ChatID: -1001, UserID: 42, MessageID: messageID}, Text: "hello", OwnerID: 7, ChatTitle: "Group"}
}

func TestTrackRefreshCountsHit(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	tracker := newTracker(clk, 100)

	key := tracker.Track(entry(1))
	tracker.Sweep()
	clk.Advance(30 * time.Second)
	require.Equal(t, key, tracker.Track(entry(1)))

	stats := tracker.Stats()
	require.Equal(t, 1, stats.Active)
	require.EqualValues(t, 1, stats.TotalTracked)
	require.EqualValues(t, 1, stats.CacheHits)
	require.EqualValues(t, 1, stats.CacheMisses)
	require.Zero(t, stats.OldestAge, "refresh must reset the timestamp")
	require.Zero(t, stats.AverageChecks, "refresh must reset the check counter")
}

func TestSweepEvictsAtRetentionBoundary(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	tracker := newTracker(clk, 100)
	tracker.Track(entry(1))

	clk.Advance(600*time.Second - time.Millisecond)
	tracker.Sweep()
	require.Equal(t, 1, tracker.Stats().Active)

	clk.Advance(2 * time.Millisecond)
	tracker.Sweep()
	require.Equal(t, 0, tracker.Stats().Active)
}

func TestSweepCountsOnlyLiveEntries(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	tracker := newTracker(clk, 100)
	tracker.Track(entry(1))
	tracker.Track(entry(2))

	tracker.Sweep()
	tracker.Sweep()

	stats := tracker.Stats()
	require.EqualValues(t, 4, stats.TotalChecked)
	require.InDelta(t, 2.0, stats.AverageChecks, 0.001)
}

func TestCapacityEvictsOldestByInsertion(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	tracker := newTracker(clk, 50)

	for i := 1; i <= 51; i++ {
		tracker.Track(entry(i))
		clk.Advance(time.Millisecond)
	}

	stats := tracker.Stats()
	require.LessOrEqual(t, stats.Active, 50-5+1)
	require.EqualValues(t, 51, stats.TotalTracked)

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	for i := 1; i <= 5; i++ {
		_, ok := tracker.entries[entry(i).Key]
		require.False(t, ok, "message %d should have been evicted", i)
	}
	for i := 47; i <= 51; i++ {
		_, ok := tracker.entries[entry(i).Key]
		require.True(t, ok, "message %d should survive", i)
	}
}

func TestEvictOldestFractionRemovesAtLeastOne(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	tracker := newTracker(clk, 100)
	tracker.Track(entry(1))
	tracker.Track(entry(2))

	require.Equal(t, 1, tracker.EvictOldestFraction(0.1))
	require.Equal(t, 1, tracker.Stats().Active)
}

func TestClearAndCounters(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	tracker := newTracker(clk, 100)
	tracker.Track(entry(1))
	tracker.Track(entry(2))
	tracker.RecordViolation()
	tracker.RecordEdit(entry(1).Key)
	tracker.RecordEdit(Key{ChatID: 1, UserID: 1, MessageID: 1})

	require.Equal(t, 2, tracker.Clear())
	stats := tracker.Stats()
	require.Zero(t, stats.Active)
	require.EqualValues(t, 1, stats.ViolationsFound)
	require.EqualValues(t, 2, stats.EditsDetected)
	require.EqualValues(t, 2, stats.TotalTracked)

	tracker.Track(entry(1))
	require.Equal(t, 1, tracker.Stats().Active)
}

func TestStartStopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	tracker := New(Options{Retention: time.Minute, Capacity: 10, SweepInterval: 5 * time.Millisecond}, clock.Real(), zap.NewNop())
	tracker.Stop()
	tracker.Start()
	tracker.Start()
	tracker.Track(entry(1))

	require.Eventually(t, func() bool {
		return tracker.Stats().TotalChecked > 0
	}, time.Second, 5*time.Millisecond)

	tracker.Stop()
	tracker.Stop()
}

// panickyClock panics on every Now call while armed.
type panickyClock struct {
	clock.Clock
	armed atomic.Bool
}

func (c *panickyClock) Now() time.Time {
	if c.armed.Load() {
		panic("clock exploded")
	}
	return c.Clock.Now()
}

func TestLoopSurvivesPanickingSweep(t *testing.T) {
	defer goleak.VerifyNone(t)

	clk := &panickyClock{Clock: clock.Real()}
	tracker := New(Options{Retention: time.Minute, Capacity: 10, SweepInterval: 5 * time.Millisecond}, clk, zap.NewNop())
	tracker.Track(entry(1))

	clk.armed.Store(true)
	tracker.Start()
	defer tracker.Stop()
	time.Sleep(30 * time.Millisecond)
	clk.armed.Store(false)

	require.Eventually(t, func() bool {
		return tracker.Stats().TotalChecked > 0
	}, time.Second, 5*time.Millisecond)
}
