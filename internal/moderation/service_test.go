package moderation

import (
	"context"
	"strings"
	"testing"
	"time"

	"chatwarden/internal/challenge"
	"chatwarden/internal/clock"
	"chatwarden/internal/config"
	"chatwarden/internal/enforce"
	"chatwarden/internal/modules/audit"
	"chatwarden/internal/modules/channels"
	"chatwarden/internal/monitor"
	"chatwarden/internal/storage"
	"chatwarden/internal/transport"
	"chatwarden/internal/transport/transporttest"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	ownerID = int64(77)
	chatID  = int64(-1001234567890)
	userID  = int64(42)
	botID   = int64(9000)
)

type world struct {
	service *Service
	store   *storage.Store
	fake    *transporttest.Fake
	clock   *clock.Fake
	tracker *monitor.Tracker
	engine  *challenge.Engine
	runtime *config.Runtime
}

func newWorld(t *testing.T) *world {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	store, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate())
	require.NoError(t, store.AddChat(ctx, chatID, "Test Group", ownerID))
	_, err = store.AddStopWord(ctx, ownerID, "реклама")
	require.NoError(t, err)

	fake := transporttest.New()
	fake.SetChat(chatID, "Test Group")
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	janitor := transport.NewJanitor(fake, clk, logger)
	t.Cleanup(janitor.Close)

	cfg := config.DefaultConfig()
	runtime := config.NewRuntime(cfg)
	auditLogger := audit.NewLogger(store, logger)
	tracker := monitor.New(monitor.Options{Retention: 600 * time.Second, Capacity: 5000, SweepInterval: 10 * time.Second}, clk, logger)
	scanner, err := channels.NewScanner(cfg.Profile.Patterns, fake, logger)
	require.NoError(t, err)
	executor := enforce.New(fake, store, auditLogger, janitor, 5*time.Second, logger)
	engine := challenge.New(challenge.Options{
		Timeout:       15 * time.Second,
		SuccessNotice: 5 * time.Second,
		FailureNotice: 3 * time.Second,
		Problems:      []config.Problem{{Question: "2+3", Answer: "5"}},
	}, challenge.Deps{
		Transport: fake,
		Store:     store,
		Fallback:  executor,
		Janitor:   janitor,
		Runtime:   runtime,
		Clock:     clk,
		Logger:    logger,
	})
	t.Cleanup(engine.Close)

	service := New(Deps{
		Store:     store,
		Transport: fake,
		Tracker:   tracker,
		Scanner:   scanner,
		Engine:    engine,
		Executor:  executor,
		Audit:     auditLogger,
		BotID:     botID,
		Logger:    logger,
	})
	return &world{service: service, store: store, fake: fake, clock: clk, tracker: tracker, engine: engine, runtime: runtime}
}

func (w *world) say(messageID int, text string) {
	w.service.HandleMessage(context.Background(), Message{
		ChatID:    chatID,
		MessageID: messageID,
		From:      transport.User{ID: userID, Username: "spammer", FirstName: "Spam"},
		Text:      text,
	})
}

func (w *world) bans(t *testing.T) []storage.BanRecord {
	t.Helper()
	bans, err := w.store.ListBans(context.Background(), ownerID)
	require.NoError(t, err)
	return bans
}

func (w *world) puzzleSent() bool {
	for _, sent := range w.fake.SentTo(chatID) {
		if strings.Contains(sent.Text, "Решите: 2+3 = ?") {
			return true
		}
	}
	return false
}

func TestStopWordThenCorrectAnswer(t *testing.T) {
	w := newWorld(t)

	w.say(10, "тут РЕКЛАМА дешево")
	require.True(t, w.fake.WasDeleted(chatID, 10))
	require.True(t, w.puzzleSent())
	require.EqualValues(t, 1, w.engine.Stats().Sent)

	w.say(11, "5")
	require.EqualValues(t, 1, w.engine.Stats().Passed)
	ok, err := w.store.IsException(context.Background(), userID, chatID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, w.bans(t))
	require.Empty(t, w.fake.Banned())
}

func TestStopWordThenWrongAnswer(t *testing.T) {
	w := newWorld(t)

	w.say(10, "реклама")
	w.say(11, "7")

	require.EqualValues(t, 1, w.engine.Stats().Failed)
	bans := w.bans(t)
	require.Len(t, bans, 1)
	require.Contains(t, bans[0].Reason, "неправильная капча")
	require.Equal(t, "Test Group", bans[0].ChatTitle)
}

func TestStopWordThenTimeout(t *testing.T) {
	w := newWorld(t)

	w.say(10, "реклама")
	w.clock.Advance(15 * time.Second)

	require.EqualValues(t, 1, w.engine.Stats().TimedOut)
	bans := w.bans(t)
	require.Len(t, bans, 1)
	require.Equal(t, "стоп-слова: реклама (таймаут капчи)", bans[0].Reason)
}

func TestChallengeDisabledBansImmediately(t *testing.T) {
	w := newWorld(t)
	w.runtime.SetCaptchaEnabled(false)

	w.say(10, "реклама")

	require.True(t, w.fake.WasDeleted(chatID, 10))
	require.False(t, w.puzzleSent())
	require.Zero(t, w.engine.Stats().Sent)
	bans := w.bans(t)
	require.Len(t, bans, 1)
	require.Equal(t, "стоп-слова: реклама", bans[0].Reason)
}

func TestExceptionSkipsDetection(t *testing.T) {
	w := newWorld(t)
	_, err := w.store.AddException(context.Background(), storage.Exception{UserID: userID, ChatID: chatID, OwnerID: ownerID})
	require.NoError(t, err)

	w.say(10, "реклама")

	require.Empty(t, w.fake.Deleted())
	require.Empty(t, w.fake.Sent())
	require.Zero(t, w.tracker.Stats().TotalTracked)
}

func TestAdminsAndBotsAreSkipped(t *testing.T) {
	w := newWorld(t)
	w.fake.SetStatus(chatID, userID, transport.StatusAdministrator)

	w.say(10, "реклама")
	w.service.HandleMessage(context.Background(), Message{ChatID: chatID, MessageID: 11, From: transport.User{ID: botID}, Text: "реклама"})

	require.Empty(t, w.fake.Deleted())
}

func TestUnknownChatAndDisabledModeration(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	w.service.HandleMessage(ctx, Message{ChatID: -5, MessageID: 1, From: transport.User{ID: userID}, Text: "реклама"})
	require.Empty(t, w.fake.Deleted())

	require.NoError(t, w.store.SetChatModeration(ctx, chatID, false))
	w.say(10, "реклама")
	require.Empty(t, w.fake.Deleted())
}

func TestCleanMessageIsTrackedOnly(t *testing.T) {
	w := newWorld(t)

	w.say(10, "всем привет")

	require.EqualValues(t, 1, w.tracker.Stats().TotalTracked)
	require.Empty(t, w.fake.Deleted())
	require.Zero(t, w.tracker.Stats().ViolationsFound)
}

func TestOwnerIsNotifiedWithButtons(t *testing.T) {
	w := newWorld(t)

	w.say(10, "реклама")

	owner := w.fake.SentTo(ownerID)
	require.Len(t, owner, 1)
	require.Contains(t, owner[0].Text, "Нарушение в \"Test Group\"")
	require.Len(t, owner[0].Controls, 2)

	cb, err := ParseCallback(owner[0].Controls[0][0].Data)
	require.NoError(t, err)
	require.Equal(t, ActionUnban, cb.Action)
	require.Equal(t, chatID, cb.ChatID)
	require.Equal(t, userID, cb.UserID)

	pending, err := w.store.PendingNotifications(context.Background(), ownerID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, owner[0].Ref.MessageID, pending[0].MessageID)
}

func TestEditedMessageDuringChallengePunishesOnce(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	_, err := w.store.AddStopWord(ctx, ownerID, "казино")
	require.NoError(t, err)

	w.say(10, "реклама")
	require.True(t, w.engine.Pending(challenge.Key{ChatID: chatID, UserID: userID}))

	w.service.HandleEdited(ctx, Message{ChatID: chatID, MessageID: 9, From: transport.User{ID: userID, Username: "spammer"}, Text: "теперь казино"})

	require.True(t, w.fake.WasDeleted(chatID, 9))
	require.EqualValues(t, 1, w.tracker.Stats().EditsDetected)
	require.EqualValues(t, 1, w.engine.Stats().Sent)
	require.Empty(t, w.bans(t))
	require.Empty(t, w.fake.Banned())
	require.True(t, w.engine.Pending(challenge.Key{ChatID: chatID, UserID: userID}))

	w.clock.Advance(16 * time.Second)

	require.EqualValues(t, 1, w.engine.Stats().TimedOut)
	bans := w.bans(t)
	require.Len(t, bans, 1)
	require.Equal(t, "стоп-слова: реклама (таймаут капчи)", bans[0].Reason)
	require.Len(t, w.fake.Banned(), 1)
}

func TestEditedMessageWithoutChallengeIsPunished(t *testing.T) {
	w := newWorld(t)
	w.runtime.SetCaptchaEnabled(false)

	w.service.HandleEdited(context.Background(), Message{ChatID: chatID, MessageID: 9, From: transport.User{ID: userID, Username: "spammer"}, Text: "теперь реклама"})

	bans := w.bans(t)
	require.Len(t, bans, 1)
	require.Equal(t, "стоп-слова в редактировании: реклама", bans[0].Reason)
}

func TestEditedCaptionRequiresMediaCheck(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.runtime.SetCaptchaEnabled(false)
	caption := Message{ChatID: chatID, MessageID: 21, From: transport.User{ID: userID}, Text: "реклама", Media: true}

	w.service.HandleEdited(ctx, caption)
	require.Empty(t, w.fake.Deleted())
	require.EqualValues(t, 1, w.tracker.Stats().EditsDetected)

	settings := storage.DefaultOwnerSettings(ownerID)
	settings.CheckMedia = true
	require.NoError(t, w.store.UpsertOwnerSettings(ctx, settings))
	w.service.HandleEdited(ctx, caption)
	require.True(t, w.fake.WasDeleted(chatID, 21))
}

func TestMediaCaptionRequiresMediaCheck(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	caption := Message{ChatID: chatID, MessageID: 20, From: transport.User{ID: userID}, Text: "реклама"}

	w.service.HandleMedia(ctx, caption)
	require.Empty(t, w.fake.Deleted())

	settings := storage.DefaultOwnerSettings(ownerID)
	settings.CheckMedia = true
	require.NoError(t, w.store.UpsertOwnerSettings(ctx, settings))
	w.service.HandleMedia(ctx, caption)
	require.True(t, w.fake.WasDeleted(chatID, 20))
}

func TestProfileSignalTriggersAction(t *testing.T) {
	w := newWorld(t)
	w.runtime.SetCaptchaEnabled(false)
	w.fake.SetProfile(userID, transport.Profile{Bio: "мой t.me/best_deals"})

	w.say(10, "всем привет")

	bans := w.bans(t)
	require.Len(t, bans, 1)
	require.Equal(t, "каналы в профиле: t.me/best_deals", bans[0].Reason)
}

func TestCallbackRoundTrip(t *testing.T) {
	cb := Callback{Action: ActionException, UserID: 42, ChatID: -1001234567890, NotificationID: 3}
	parsed, err := ParseCallback(cb.Encode())
	require.NoError(t, err)
	require.Equal(t, cb, parsed)

	for _, bad := range []string{"", "ban|1|2", "kick|1|2|3", "ban|x|2|3", "ban|1|-|3"} {
		_, err := ParseCallback(bad)
		require.ErrorIs(t, err, ErrMalformedCallback, bad)
	}
}

func TestHandleCallbackChecksOwner(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	_, err := w.service.HandleCallback(ctx, 1, Callback{Action: ActionBan, UserID: userID, ChatID: chatID})
	require.ErrorIs(t, err, ErrNotOwner)

	text, err := w.service.HandleCallback(ctx, ownerID, Callback{Action: ActionException, UserID: userID, ChatID: chatID})
	require.NoError(t, err)
	require.Contains(t, text, "добавлен в исключения")

	text, err = w.service.HandleCallback(ctx, ownerID, Callback{Action: ActionException, UserID: userID, ChatID: chatID})
	require.NoError(t, err)
	require.Equal(t, "⚠️ Пользователь уже в исключениях", text)

	_, err = w.service.HandleCallback(ctx, ownerID, Callback{Action: ActionUnban, UserID: userID, ChatID: chatID})
	require.NoError(t, err)
	require.Len(t, w.fake.Unbanned(), 1)
}
