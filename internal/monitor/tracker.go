package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"chatwarden/internal/clock"
	"chatwarden/internal/storage"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// Key identifies one observed message.
type Key struct {
	ChatID    int64
	UserID    int64
	MessageID int
}

// Entry is what callers hand to Track.
type Entry struct {
	Key       Key
	Text      string
	OwnerID   int64
	ChatTitle string
	Settings  storage.OwnerSettings
}

type tracked struct {
	Entry
	insertedAt time.Time
	checks     int
	edits      int
}

type Options struct {
	Retention     time.Duration
	Capacity      int
	SweepInterval time.Duration
	EvictFraction float64
}

type Stats struct {
	Active          int
	TotalTracked    int64
	TotalChecked    int64
	TotalProcessed  int64
	ViolationsFound int64
	CacheHits       int64
	CacheMisses     int64
	EditsDetected   int64
	OldestAge       time.Duration
	AverageChecks   float64
}

// Tracker is a bounded, time-windowed record of recently seen messages.
type Tracker struct {
	opts   Options
	clock  clock.Clock
	logger *zap.Logger

	mu      sync.Mutex
	entries map[Key]*tracked
	order   []Key

	totalTracked    atomic.Int64
	totalChecked    atomic.Int64
	totalProcessed  atomic.Int64
	violationsFound atomic.Int64
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64
	editsDetected   atomic.Int64

	loopMu sync.Mutex
	done   chan struct{}
	wg     sync.WaitGroup
}

func New(opts Options, clk clock.Clock, logger *zap.Logger) *Tracker {
	if opts.EvictFraction <= 0 || opts.EvictFraction > 1 {
		opts.EvictFraction = 0.1
	}
	return &Tracker{
		opts:    opts,
		clock:   clk,
		logger:  logger.Named("monitor"),
		entries: make(map[Key]*tracked),
	}
}

// Track inserts a message or refreshes an existing one with the same key.
func (t *Tracker) Track(entry Entry) Key {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.entries[entry.Key]; ok {
		existing.insertedAt = now
		existing.checks = 0
		t.cacheHits.Add(1)
		return entry.Key
	}

	t.entries[entry.Key] = &tracked{Entry: entry, insertedAt: now}
	t.order = append(t.order, entry.Key)
	t.totalTracked.Add(1)
	t.cacheMisses.Add(1)
	t.totalProcessed.Add(1)

	if t.opts.Capacity > 0 && len(t.entries) > t.opts.Capacity {
		t.evictOldestLocked(t.opts.EvictFraction)
	}
	return entry.Key
}

// Sweep bumps the check counter of every live entry and drops expired ones.
func (t *Tracker) Sweep() {
	now := t.clock.Now()

	t.mu.Lock()
	checked := 0
	for _, entry := range t.entries {
		if now.Sub(entry.insertedAt) < t.opts.Retention {
			entry.checks++
			checked++
		}
	}
	active := len(t.entries)
	t.mu.Unlock()

	total := t.totalChecked.Add(int64(checked))
	if checked > 0 {
		t.logger.Debug("sweep", zap.Int("active", active), zap.Int("checked", checked), zap.Int64("total_checked", total))
	}
	t.EvictExpired()
}

// EvictExpired removes entries older than the retention window.
func (t *Tracker) EvictExpired() int {
	now := t.clock.Now()

	t.mu.Lock()
	removed := 0
	for key, entry := range t.entries {
		if now.Sub(entry.insertedAt) > t.opts.Retention {
			delete(t.entries, key)
			removed++
		}
	}
	if removed > 0 {
		t.compactOrderLocked()
	}
	t.mu.Unlock()

	if removed > 0 {
		t.logger.Info("expired tracked messages", zap.Int("removed", removed))
	}
	return removed
}

// EvictOldestFraction drops the oldest share of entries by insertion order, at least one.
func (t *Tracker) EvictOldestFraction(fraction float64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evictOldestLocked(fraction)
}

func (t *Tracker) evictOldestLocked(fraction float64) int {
	if len(t.order) == 0 {
		return 0
	}
	count := int(float64(len(t.order)) * fraction)
	if count < 1 {
		count = 1
	}
	if count > len(t.order) {
		count = len(t.order)
	}
	for _, key := range t.order[:count] {
		delete(t.entries, key)
	}
	t.order = append([]Key(nil), t.order[count:]...)
	return count
}

func (t *Tracker) compactOrderLocked() {
	kept := t.order[:0]
	for _, key := range t.order {
		if _, ok := t.entries[key]; ok {
			kept = append(kept, key)
		}
	}
	t.order = kept
}

func (t *Tracker) RecordViolation() {
	t.violationsFound.Add(1)
}

// RecordEdit counts an edit and bumps the entry's edit counter when it is still tracked.
func (t *Tracker) RecordEdit(key Key) {
	t.editsDetected.Add(1)
	t.mu.Lock()
	if entry, ok := t.entries[key]; ok {
		entry.edits++
	}
	t.mu.Unlock()
}

func (t *Tracker) Stats() Stats {
	now := t.clock.Now()

	t.mu.Lock()
	stats := Stats{Active: len(t.entries)}
	var oldest time.Time
	checks := 0
	for _, entry := range t.entries {
		if oldest.IsZero() || entry.insertedAt.Before(oldest) {
			oldest = entry.insertedAt
		}
		checks += entry.checks
	}
	t.mu.Unlock()

	if stats.Active > 0 {
		stats.OldestAge = now.Sub(oldest)
		stats.AverageChecks = float64(checks) / float64(stats.Active)
	}
	stats.TotalTracked = t.totalTracked.Load()
	stats.TotalChecked = t.totalChecked.Load()
	stats.TotalProcessed = t.totalProcessed.Load()
	stats.ViolationsFound = t.violationsFound.Load()
	stats.CacheHits = t.cacheHits.Load()
	stats.CacheMisses = t.cacheMisses.Load()
	stats.EditsDetected = t.editsDetected.Load()
	return stats
}

// Clear empties the cache and returns how many entries were dropped.
func (t *Tracker) Clear() int {
	t.mu.Lock()
	removed := len(t.entries)
	t.entries = make(map[Key]*tracked)
	t.order = nil
	t.mu.Unlock()

	t.logger.Info("tracking cache cleared", zap.Int("removed", removed))
	return removed
}

// Start launches the sweep loop. Calling it on a running tracker does nothing.
func (t *Tracker) Start() {
	t.loopMu.Lock()
	defer t.loopMu.Unlock()
	if t.done != nil {
		return
	}
	t.done = make(chan struct{})
	t.wg.Add(1)
	go t.loop(t.done)
	t.logger.Info("monitoring started",
		zap.Duration("retention", t.opts.Retention),
		zap.Duration("interval", t.opts.SweepInterval),
	)
}

// Stop ends the sweep loop and waits for it. Safe to call repeatedly or before Start.
func (t *Tracker) Stop() {
	t.loopMu.Lock()
	done := t.done
	t.done = nil
	t.loopMu.Unlock()
	if done == nil {
		return
	}
	close(done)
	t.wg.Wait()
	t.logger.Info("monitoring stopped")
}

func (t *Tracker) loop(done <-chan struct{}) {
	defer t.wg.Done()
	tick := make(chan struct{})
	for {
		timer := t.clock.AfterFunc(t.opts.SweepInterval, func() {
			select {
			case tick <- struct{}{}:
			case <-done:
			}
		})
		select {
		case <-done:
			timer.Stop()
			return
		case <-tick:
		}

		var catcher panics.Catcher
		catcher.Try(t.Sweep)
		if recovered := catcher.Recovered(); recovered != nil {
			t.logger.Error("sweep failed", zap.Error(recovered.AsError()))
		}
	}
}
