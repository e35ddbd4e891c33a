package transport

import (
	"context"
	"sync"
	"time"

	"chatwarden/internal/clock"

	"go.uber.org/zap"
)

const janitorDeleteTimeout = 10 * time.Second

// Janitor deletes short-lived notices after a delay. Deletion is best effort.
type Janitor struct {
	transport Transport
	clock     clock.Clock
	logger    *zap.Logger

	mu     sync.Mutex
	nextID uint64
	timers map[uint64]clock.Timer
	closed bool
}

func NewJanitor(transport Transport, clk clock.Clock, logger *zap.Logger) *Janitor {
	return &Janitor{
		transport: transport,
		clock:     clk,
		logger:    logger.Named("janitor"),
		timers:    make(map[uint64]clock.Timer),
	}
}

// DeleteAfter schedules ref for deletion. It is a no-op once the janitor is closed.
func (j *Janitor) DeleteAfter(ref MessageRef, delay time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	j.nextID++
	id := j.nextID
	j.timers[id] = j.clock.AfterFunc(delay, func() { j.fire(id, ref) })
}

func (j *Janitor) fire(id uint64, ref MessageRef) {
	j.mu.Lock()
	if _, ok := j.timers[id]; !ok {
		j.mu.Unlock()
		return
	}
	delete(j.timers, id)
	j.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), janitorDeleteTimeout)
	defer cancel()
	if err := j.transport.DeleteMessage(ctx, ref.ChatID, ref.MessageID); err != nil {
		j.logger.Debug("notice delete failed", zap.Int64("chat_id", ref.ChatID), zap.Int("message_id", ref.MessageID), zap.Error(err))
	}
}

// Pending reports how many deletions are scheduled.
func (j *Janitor) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.timers)
}

// Close cancels every scheduled deletion. Safe to call more than once.
func (j *Janitor) Close() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	for id, timer := range j.timers {
		timer.Stop()
		delete(j.timers, id)
	}
}
