package challenge

import (
	"context"
	"sync"
	"testing"
	"time"

	"chatwarden/internal/clock"
	"chatwarden/internal/config"
	"chatwarden/internal/enforce"
	"chatwarden/internal/storage"
	"chatwarden/internal/transport"
	"chatwarden/internal/transport/transporttest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type punishment struct {
	violation enforce.Violation
	reason    string
}

type recordingFallback struct {
	mu    sync.Mutex
	calls []punishment
}

func (r *recordingFallback) Punish(_ context.Context, v enforce.Violation, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, punishment{violation: v, reason: reason})
}

func (r *recordingFallback) Calls() []punishment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]punishment(nil), r.calls...)
}

type harness struct {
	engine   *Engine
	fake     *transporttest.Fake
	store    *storage.Store
	clock    *clock.Fake
	fallback *recordingFallback
	runtime  *config.Runtime
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate())

	fake := transporttest.New()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	janitor := transport.NewJanitor(fake, clk, zap.NewNop())
	t.Cleanup(janitor.Close)
	fallback := &recordingFallback{}
	runtime := config.NewRuntime(config.DefaultConfig())

	engine := New(Options{
		Timeout:       15 * time.Second,
		SuccessNotice: 5 * time.Second,
		FailureNotice: 3 * time.Second,
		Problems:      []config.Problem{{Question: "2+3", Answer: "5"}, {Question: "4*2", Answer: "8"}},
	}, Deps{
		Transport: fake,
		Store:     store,
		Fallback:  fallback,
		Janitor:   janitor,
		Runtime:   runtime,
		Clock:     clk,
		Logger:    zap.NewNop(),
	})
	engine.Pick = func(int) int { return 0 }
	t.Cleanup(engine.Close)
	return &harness{engine: engine, fake: fake, store: store, clock: clk, fallback: fallback, runtime: runtime}
}

func offence() enforce.Violation {
	return enforce.Violation{
		ChatID:    -1001234,
		ChatTitle: "Group",
		MessageID: 10,
		OwnerID:   77,
		Offender:  transport.User{ID: 42, Username: "spammer"},
		Settings:  storage.DefaultOwnerSettings(77),
	}
}

var key = Key{ChatID: -1001234, UserID: 42}

func TestIssueSendsPuzzleOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.Issue(ctx, offence(), "стоп-слова: реклама"))
	sent := h.fake.SentTo(-1001234)
	require.Len(t, sent, 1)
	require.Contains(t, sent[0].Text, "Решите: 2+3 = ?")
	require.Contains(t, sent[0].Text, "У вас 15 секунд")

	h.engine.Pick = func(int) int { return 1 }
	require.ErrorIs(t, h.engine.Issue(ctx, offence(), "другая причина"), ErrAlreadyPending)
	require.Len(t, h.fake.SentTo(-1001234), 1)
	require.EqualValues(t, 1, h.engine.Stats().Sent)
	require.True(t, h.engine.Pending(key))

	// the original puzzle is untouched: its answer still resolves it
	require.True(t, h.engine.Answer(ctx, key, " 5 "))
	require.EqualValues(t, 1, h.engine.Stats().Passed)
}

func TestCorrectAnswerGrantsException(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.Issue(ctx, offence(), "стоп-слова: реклама"))
	puzzle := h.fake.SentTo(-1001234)[0].Ref

	require.True(t, h.engine.Answer(ctx, key, "5"))
	require.False(t, h.engine.Pending(key))
	require.True(t, h.fake.WasDeleted(puzzle.ChatID, puzzle.MessageID))

	ok, err := h.store.IsException(ctx, 42, -1001234)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, h.fallback.Calls())

	owner := h.fake.SentTo(77)
	require.Len(t, owner, 1)
	require.Contains(t, owner[0].Text, "Капча пройдена")

	stats := h.engine.Stats()
	require.EqualValues(t, 1, stats.Passed)
	require.Zero(t, stats.Failed)
	require.Zero(t, stats.Active)

	// the timer was cancelled, nothing fires later
	h.clock.Advance(time.Minute)
	require.Zero(t, h.engine.Stats().TimedOut)
	require.Empty(t, h.fallback.Calls())
}

func TestWrongAnswerRunsFallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.Issue(ctx, offence(), "стоп-слова: реклама"))
	require.True(t, h.engine.Answer(ctx, key, "6"))

	calls := h.fallback.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "стоп-слова: реклама (неправильная капча)", calls[0].reason)
	require.EqualValues(t, 1, h.engine.Stats().Failed)

	notices := h.fake.SentTo(-1001234)
	require.Contains(t, notices[len(notices)-1].Text, "Правильный ответ: 5")

	h.clock.Advance(3 * time.Second)
	require.True(t, h.fake.WasDeleted(-1001234, notices[len(notices)-1].Ref.MessageID))

	require.False(t, h.engine.Answer(ctx, key, "5"))
	h.clock.Advance(time.Minute)
	require.Len(t, h.fallback.Calls(), 1)
	require.Zero(t, h.engine.Stats().TimedOut)
}

func TestTimeoutRunsFallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.Issue(ctx, offence(), "каналы в профиле: t.me/x"))
	h.clock.Advance(15*time.Second - time.Millisecond)
	require.True(t, h.engine.Pending(key))

	h.clock.Advance(time.Millisecond)
	require.False(t, h.engine.Pending(key))
	calls := h.fallback.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "каналы в профиле: t.me/x (таймаут капчи)", calls[0].reason)
	require.EqualValues(t, 1, h.engine.Stats().TimedOut)

	require.False(t, h.engine.Answer(ctx, key, "5"))
	require.Zero(t, h.engine.Stats().Passed)
}

func TestStaleTimerDoesNotConsumeNewChallenge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.Issue(ctx, offence(), "first"))
	first := h.engine.take(key, uuid.Nil)
	require.NotNil(t, first)

	require.NoError(t, h.engine.Issue(ctx, offence(), "second"))
	h.engine.expire(key, first.id)
	require.True(t, h.engine.Pending(key))
	require.Zero(t, h.engine.Stats().TimedOut)
}

func TestIssueDisabledGlobally(t *testing.T) {
	h := newHarness(t)
	h.runtime.SetCaptchaEnabled(false)

	require.ErrorIs(t, h.engine.Issue(context.Background(), offence(), "r"), ErrDisabled)
	require.Empty(t, h.fake.Sent())
	require.Zero(t, h.engine.Stats().Sent)
}

func TestIssueRequiresOwner(t *testing.T) {
	h := newHarness(t)
	v := offence()
	v.OwnerID = 0

	require.ErrorIs(t, h.engine.Issue(context.Background(), v, "r"), ErrNoOwner)
	require.Empty(t, h.fake.Sent())
}

func TestIssueSendFailureLeavesNothingPending(t *testing.T) {
	h := newHarness(t)
	h.fake.FailSend = true

	err := h.engine.Issue(context.Background(), offence(), "r")
	require.ErrorIs(t, err, transporttest.ErrInjected)
	require.NotErrorIs(t, err, ErrAlreadyPending)
	require.False(t, h.engine.Pending(key))
	require.Zero(t, h.clock.Pending())

	h.fake.FailSend = false
	require.NoError(t, h.engine.Issue(context.Background(), offence(), "r"))
}

func TestConcurrentIssueSendsOnePuzzle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- h.engine.Issue(ctx, offence(), "r")
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, ErrAlreadyPending)
		}
	}
	require.Equal(t, 1, wins)
	require.Len(t, h.fake.SentTo(-1001234), 1)
}

func TestConcurrentAnswerAndTimeoutResolveOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Issue(ctx, offence(), "r"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.engine.Answer(ctx, key, "wrong")
	}()
	go func() {
		defer wg.Done()
		h.clock.Advance(15 * time.Second)
	}()
	wg.Wait()

	stats := h.engine.Stats()
	require.EqualValues(t, 1, stats.Failed+stats.TimedOut)
	require.Len(t, h.fallback.Calls(), 1)
}

func TestCloseStopsTimers(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Issue(context.Background(), offence(), "r"))

	h.engine.Close()
	h.engine.Close()
	h.clock.Advance(time.Minute)

	require.Empty(t, h.fallback.Calls())
	require.ErrorIs(t, h.engine.Issue(context.Background(), offence(), "r"), ErrClosed)
}
