// Package challenge issues arithmetic puzzles to suspected offenders and
// resolves each one exactly once: correct answer, wrong answer or timeout.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chatwarden/internal/clock"
	"chatwarden/internal/config"
	"chatwarden/internal/enforce"
	"chatwarden/internal/storage"
	"chatwarden/internal/transport"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

const (
	annotationWrong   = " (неправильная капча)"
	annotationTimeout = " (таймаут капчи)"

	resolveTimeout = 30 * time.Second
)

var (
	ErrDisabled       = errors.New("challenge: captcha disabled")
	ErrNoOwner        = errors.New("challenge: chat owner unknown")
	ErrAlreadyPending = errors.New("challenge: puzzle already pending")
	ErrClosed         = errors.New("challenge: engine closed")
	ErrWithdrawn      = errors.New("challenge: puzzle withdrawn before delivery")
)

// Key identifies the (chat, user) pair a puzzle is issued to.
type Key struct {
	ChatID int64
	UserID int64
}

// Fallback is the action applied when a puzzle is failed or ignored.
type Fallback interface {
	Punish(ctx context.Context, v enforce.Violation, reason string)
}

type Options struct {
	Timeout       time.Duration
	SuccessNotice time.Duration
	FailureNotice time.Duration
	Problems      []config.Problem
}

type Deps struct {
	Transport transport.Transport
	Store     *storage.Store
	Fallback  Fallback
	Janitor   *transport.Janitor
	Runtime   *config.Runtime
	Clock     clock.Clock
	Logger    *zap.Logger
}

type Stats struct {
	Sent     int64
	Passed   int64
	Failed   int64
	TimedOut int64
	Active   int
}

// pending is immutable once ready; it leaves the map exactly once.
type pending struct {
	id        uuid.UUID
	ready     bool
	answer    string
	puzzle    transport.MessageRef
	violation enforce.Violation
	reason    string
	timer     clock.Timer
}

type Engine struct {
	opts      Options
	transport transport.Transport
	store     *storage.Store
	fallback  Fallback
	janitor   *transport.Janitor
	runtime   *config.Runtime
	clock     clock.Clock
	logger    *zap.Logger

	// Pick chooses a puzzle index in [0, n).
	Pick func(n int) int

	mu      sync.Mutex
	pending map[Key]*pending
	closed  bool

	sent     atomic.Int64
	passed   atomic.Int64
	failed   atomic.Int64
	timedOut atomic.Int64
}

func New(opts Options, deps Deps) *Engine {
	if len(opts.Problems) == 0 {
		opts.Problems = config.DefaultProblems()
	}
	return &Engine{
		opts:      opts,
		transport: deps.Transport,
		store:     deps.Store,
		fallback:  deps.Fallback,
		janitor:   deps.Janitor,
		runtime:   deps.Runtime,
		clock:     deps.Clock,
		logger:    deps.Logger.Named("challenge"),
		Pick:      rand.Intn,
		pending:   make(map[Key]*pending),
	}
}

func KeyOf(v enforce.Violation) Key {
	return Key{ChatID: v.ChatID, UserID: v.Offender.ID}
}

// Enabled reports the process-wide toggle.
func (e *Engine) Enabled() bool {
	return e.runtime.CaptchaEnabled()
}

// Pending reports whether a puzzle is waiting for an answer from key.
func (e *Engine) Pending(key Key) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.pending[key]
	return ok && entry.ready
}

// Issue sends a puzzle for v. A non-nil error means no new puzzle is pending
// for v. ErrAlreadyPending reports that an earlier puzzle for the pair is still
// outstanding; that puzzle is left untouched.
func (e *Engine) Issue(ctx context.Context, v enforce.Violation, reason string) error {
	if !e.Enabled() {
		return ErrDisabled
	}
	if v.OwnerID == 0 {
		return ErrNoOwner
	}
	key := KeyOf(v)
	id := uuid.New()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if _, exists := e.pending[key]; exists {
		e.mu.Unlock()
		e.logger.Info("challenge already pending", zap.Int64("chat_id", key.ChatID), zap.Int64("user_id", key.UserID))
		return ErrAlreadyPending
	}
	e.pending[key] = &pending{id: id}
	e.mu.Unlock()

	problem := e.opts.Problems[e.Pick(len(e.opts.Problems))]
	text := fmt.Sprintf(
		"🤖 Обнаружено нарушение: %s\n\n🔐 Докажите что вы не бот:\nРешите: %s = ?\n\n⏰ У вас %d секунд...\n✅ При успехе добавлю вас в исключения",
		reason, problem.Question, int(e.opts.Timeout/time.Second),
	)
	ref, err := e.transport.SendMessage(ctx, key.ChatID, text, nil)

	e.mu.Lock()
	entry, ok := e.pending[key]
	if err != nil || !ok || entry.id != id || e.closed {
		if ok && entry.id == id {
			delete(e.pending, key)
		}
		e.mu.Unlock()
		if err != nil {
			e.logger.Warn("challenge send failed", zap.Int64("chat_id", key.ChatID), zap.Int64("user_id", key.UserID), zap.Error(err))
			return fmt.Errorf("challenge send: %w", err)
		}
		e.deleteMessage(ctx, ref)
		return ErrWithdrawn
	}
	entry.ready = true
	entry.answer = problem.Answer
	entry.puzzle = ref
	entry.violation = v
	entry.reason = reason
	entry.timer = e.clock.AfterFunc(e.opts.Timeout, func() { e.expire(key, id) })
	e.mu.Unlock()

	e.sent.Add(1)
	e.logger.Info("challenge issued",
		zap.Int64("chat_id", key.ChatID),
		zap.Int64("user_id", key.UserID),
		zap.String("problem", problem.Question),
		zap.String("reason", reason),
	)
	return nil
}

// Answer resolves the pending puzzle for key with text. It reports whether a
// puzzle was pending and has now been consumed.
func (e *Engine) Answer(ctx context.Context, key Key, text string) bool {
	entry := e.take(key, uuid.Nil)
	if entry == nil {
		return false
	}
	if strings.TrimSpace(text) == entry.answer {
		e.pass(ctx, entry, strings.TrimSpace(text))
	} else {
		e.fail(ctx, entry)
	}
	return true
}

// take removes the ready entry for key in one step. A non-nil id must match the issuance.
func (e *Engine) take(key Key, id uuid.UUID) *pending {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.pending[key]
	if !ok || !entry.ready {
		return nil
	}
	if id != uuid.Nil && entry.id != id {
		return nil
	}
	delete(e.pending, key)
	if entry.timer != nil {
		entry.timer.Stop()
	}
	return entry
}

func (e *Engine) expire(key Key, id uuid.UUID) {
	var catcher panics.Catcher
	catcher.Try(func() {
		entry := e.take(key, id)
		if entry == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
		defer cancel()
		e.timeout(ctx, entry)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		e.logger.Error("challenge timeout failed", zap.Int64("chat_id", key.ChatID), zap.Error(recovered.AsError()))
	}
}

func (e *Engine) pass(ctx context.Context, entry *pending, answer string) {
	e.passed.Add(1)
	v := entry.violation
	e.deleteMessage(ctx, entry.puzzle)
	e.notice(ctx, v.ChatID, "✅ "+v.Offender.Mention()+" прошел проверку!\nВы добавлены в исключения.", e.opts.SuccessNotice)

	name := v.Offender.DisplayName()
	added, err := e.store.AddException(ctx, storage.Exception{
		UserID:   v.Offender.ID,
		Username: name,
		ChatID:   v.ChatID,
		OwnerID:  v.OwnerID,
		Reason:   "Автоматически после успешной капчи (" + entry.reason + ")",
	})
	if err != nil {
		e.logger.Warn("exception not stored", zap.Int64("user_id", v.Offender.ID), zap.Error(err))
	}
	e.logger.Info("challenge passed", zap.Int64("chat_id", v.ChatID), zap.Int64("user_id", v.Offender.ID), zap.Bool("exception_added", added))

	if !v.Settings.NotifyAdmin {
		return
	}
	text := fmt.Sprintf(
		"🟢 Капча пройдена - пользователь добавлен в исключения\n\n💬 Чат: %s\n👤 Пользователь: %s\n🆔 ID: %d\n📝 Нарушение: %s\n✅ Ответ на капчу: %s\n\n✅ Пользователь добавлен в исключения автоматически",
		v.ChatTitle, name, v.Offender.ID, entry.reason, answer,
	)
	if _, err := e.transport.SendMessage(ctx, v.OwnerID, text, nil); err != nil {
		e.logger.Warn("owner notice failed", zap.Int64("owner_id", v.OwnerID), zap.Error(err))
	}
}

func (e *Engine) fail(ctx context.Context, entry *pending) {
	e.failed.Add(1)
	v := entry.violation
	e.deleteMessage(ctx, entry.puzzle)
	e.notice(ctx, v.ChatID, "❌ "+v.Offender.Mention()+" не прошел проверку!\nПравильный ответ: "+entry.answer+"\nВыполняю стандартное действие...", e.opts.FailureNotice)
	e.logger.Info("challenge failed", zap.Int64("chat_id", v.ChatID), zap.Int64("user_id", v.Offender.ID))
	e.fallback.Punish(ctx, v, entry.reason+annotationWrong)
}

func (e *Engine) timeout(ctx context.Context, entry *pending) {
	e.timedOut.Add(1)
	v := entry.violation
	e.deleteMessage(ctx, entry.puzzle)
	e.notice(ctx, v.ChatID, "⏰ Время вышло!\nПравильный ответ был: "+entry.answer+"\nВыполняю стандартное действие...", e.opts.FailureNotice)
	e.logger.Info("challenge timed out", zap.Int64("chat_id", v.ChatID), zap.Int64("user_id", v.Offender.ID))
	e.fallback.Punish(ctx, v, entry.reason+annotationTimeout)
}

func (e *Engine) notice(ctx context.Context, chatID int64, text string, ttl time.Duration) {
	ref, err := e.transport.SendMessage(ctx, chatID, text, nil)
	if err != nil {
		e.logger.Warn("notice failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	e.janitor.DeleteAfter(ref, ttl)
}

func (e *Engine) deleteMessage(ctx context.Context, ref transport.MessageRef) {
	if ref.MessageID == 0 {
		return
	}
	if err := e.transport.DeleteMessage(ctx, ref.ChatID, ref.MessageID); err != nil {
		e.logger.Debug("puzzle delete failed", zap.Int64("chat_id", ref.ChatID), zap.Error(err))
	}
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	active := 0
	for _, entry := range e.pending {
		if entry.ready {
			active++
		}
	}
	e.mu.Unlock()
	return Stats{
		Sent:     e.sent.Load(),
		Passed:   e.passed.Load(),
		Failed:   e.failed.Load(),
		TimedOut: e.timedOut.Load(),
		Active:   active,
	}
}

// Close stops every timeout and rejects further issues. Outstanding puzzles are dropped.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for key, entry := range e.pending {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(e.pending, key)
	}
}
