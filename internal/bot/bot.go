// Package bot wires telebot updates to the moderation pipeline and exposes the
// owner and operator commands.
package bot

import (
	"context"
	"time"

	"chatwarden/internal/analytics"
	"chatwarden/internal/challenge"
	"chatwarden/internal/clock"
	"chatwarden/internal/config"
	"chatwarden/internal/moderation"
	"chatwarden/internal/modules/audit"
	"chatwarden/internal/monitor"
	"chatwarden/internal/storage"
	"chatwarden/internal/transport"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

const handlerTimeout = 30 * time.Second

type Deps struct {
	Config    config.Config
	Runtime   *config.Runtime
	Store     *storage.Store
	Transport transport.Transport
	Service   *moderation.Service
	Engine    *challenge.Engine
	Tracker   *monitor.Tracker
	Analytics *analytics.Service
	Audit     *audit.Logger
	Clock     clock.Clock
	BotID     int64
	Logger    *zap.Logger
}

type Bot struct {
	tele      *tele.Bot
	cfg       config.Config
	runtime   *config.Runtime
	store     *storage.Store
	transport transport.Transport
	service   *moderation.Service
	engine    *challenge.Engine
	tracker   *monitor.Tracker
	analytics *analytics.Service
	clock     clock.Clock
	botID     int64
	logger    *zap.Logger
}

// New builds the bot. tb may be nil when only the command logic is needed.
func New(tb *tele.Bot, deps Deps) *Bot {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	botID := deps.BotID
	if botID == 0 && tb != nil && tb.Me != nil {
		botID = tb.Me.ID
	}
	b := &Bot{
		tele:      tb,
		cfg:       deps.Config,
		runtime:   deps.Runtime,
		store:     deps.Store,
		transport: deps.Transport,
		service:   deps.Service,
		engine:    deps.Engine,
		tracker:   deps.Tracker,
		analytics: deps.Analytics,
		clock:     clk,
		botID:     botID,
		logger:    deps.Logger.Named("bot"),
	}
	if deps.Audit != nil && b.cfg.LogChatID != 0 {
		deps.Audit.SetNotifier(b.forwardLog)
	}
	return b
}

// Start registers the handlers and blocks polling until Stop is called.
func (b *Bot) Start() {
	b.registerHandlers()
	b.logger.Info("telegram polling started", zap.Int64("bot_id", b.botID))
	b.tele.Start()
}

func (b *Bot) Stop() {
	if b.tele != nil {
		b.tele.Stop()
	}
}

func (b *Bot) registerHandlers() {
	b.tele.Handle(tele.OnText, b.onText)
	b.tele.Handle(tele.OnEdited, b.onEdited)
	b.tele.Handle(tele.OnMedia, b.onMedia)
	b.tele.Handle(tele.OnCallback, b.onCallback)
	b.tele.Handle(tele.OnMyChatMember, b.onMyChatMember)

	b.tele.Handle("/start", b.onStart)
	b.tele.Handle("/help", b.onStart)
	b.tele.Handle("/register", b.onRegister)

	owner := b.tele.Group()
	owner.Use(privateOnly)
	owner.Handle("/words", b.ownerCommand(func(ctx context.Context, ownerID int64, args []string) string {
		return b.listWords(ctx, ownerID)
	}))
	owner.Handle("/delword", b.ownerCommand(b.deleteWords))
	owner.Handle("/action", b.ownerCommand(b.setAction))
	owner.Handle("/toggle", b.ownerCommand(b.toggle))
	owner.Handle("/report", b.ownerCommand(b.report))
	owner.Handle("/chats", b.ownerCommand(func(ctx context.Context, ownerID int64, args []string) string {
		return b.listChats(ctx, ownerID)
	}))
	owner.Handle("/chat", b.ownerCommand(b.setChat))
	owner.Handle("/exceptions", b.ownerCommand(func(ctx context.Context, ownerID int64, args []string) string {
		return b.listExceptions(ctx, ownerID)
	}))
	owner.Handle("/addexception", b.ownerCommand(b.addException))
	owner.Handle("/delexception", b.ownerCommand(b.removeException))
	owner.Handle("/bans", b.ownerCommand(func(ctx context.Context, ownerID int64, args []string) string {
		return b.listBans(ctx, ownerID)
	}))
	owner.Handle("/unban", b.ownerCommand(b.unban))
	owner.Handle("/notifications", b.ownerCommand(func(ctx context.Context, ownerID int64, args []string) string {
		return b.listNotifications(ctx, ownerID)
	}))

	ops := b.tele.Group()
	ops.Use(privateOnly, b.operatorOnly)
	ops.Handle("/captcha", b.ownerCommand(func(ctx context.Context, _ int64, args []string) string {
		return b.setCaptcha(args)
	}))
	ops.Handle("/stats", b.ownerCommand(func(ctx context.Context, _ int64, args []string) string {
		return b.stats()
	}))
	ops.Handle("/clearcache", b.ownerCommand(func(ctx context.Context, _ int64, args []string) string {
		return b.clearCache()
	}))
	ops.Handle("/cleanlogs", b.ownerCommand(func(ctx context.Context, _ int64, args []string) string {
		return b.cleanupLogs(ctx)
	}))
}

func (b *Bot) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), handlerTimeout)
}

func privateOnly(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Chat() == nil || c.Chat().Type != tele.ChatPrivate {
			return nil
		}
		return next(c)
	}
}

func (b *Bot) operatorOnly(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Sender() == nil || !b.cfg.IsOperator(c.Sender().ID) {
			return c.Send("❌ Доступ запрещен")
		}
		return next(c)
	}
}

// ownerCommand adapts a command that answers the sender with a single text.
func (b *Bot) ownerCommand(run func(ctx context.Context, ownerID int64, args []string) string) tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Sender() == nil {
			return nil
		}
		ctx, cancel := b.context()
		defer cancel()
		return c.Send(run(ctx, c.Sender().ID, c.Args()))
	}
}

func userFrom(u *tele.User) transport.User {
	if u == nil {
		return transport.User{}
	}
	return transport.User{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		IsBot:     u.IsBot,
	}
}

// messageFrom converts a group message. Media messages carry their text in the caption.
func messageFrom(m *tele.Message) moderation.Message {
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	msg := moderation.Message{
		MessageID: m.ID,
		From:      userFrom(m.Sender),
		Text:      text,
		Media:     m.Media() != nil,
	}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
		msg.ChatTitle = m.Chat.Title
	}
	return msg
}

func isGroup(chat *tele.Chat) bool {
	return chat != nil && (chat.Type == tele.ChatGroup || chat.Type == tele.ChatSuperGroup)
}
