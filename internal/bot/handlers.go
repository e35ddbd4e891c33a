package bot

import (
	"errors"
	"strings"

	"chatwarden/internal/moderation"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

func (b *Bot) onText(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Sender == nil {
		return nil
	}
	ctx, cancel := b.context()
	defer cancel()

	if c.Chat().Type == tele.ChatPrivate {
		text := strings.TrimSpace(msg.Text)
		if strings.HasPrefix(text, "+") {
			return c.Send(b.addWords(ctx, msg.Sender.ID, strings.TrimPrefix(text, "+")))
		}
		return nil
	}
	if !isGroup(msg.Chat) {
		return nil
	}
	b.service.HandleMessage(ctx, messageFrom(msg))
	return nil
}

func (b *Bot) onEdited(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Sender == nil || !isGroup(msg.Chat) {
		return nil
	}
	ctx, cancel := b.context()
	defer cancel()
	b.service.HandleEdited(ctx, messageFrom(msg))
	return nil
}

func (b *Bot) onMedia(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Sender == nil || !isGroup(msg.Chat) {
		return nil
	}
	ctx, cancel := b.context()
	defer cancel()
	b.service.HandleMedia(ctx, messageFrom(msg))
	return nil
}

func (b *Bot) onCallback(c tele.Context) error {
	cb := c.Callback()
	if cb == nil || c.Sender() == nil {
		return nil
	}
	parsed, err := moderation.ParseCallback(strings.TrimSpace(cb.Data))
	if err != nil {
		b.logger.Debug("unknown callback", zap.String("data", cb.Data))
		return c.Respond(&tele.CallbackResponse{Text: "❌ Неизвестная команда"})
	}

	ctx, cancel := b.context()
	defer cancel()
	text, err := b.service.HandleCallback(ctx, c.Sender().ID, parsed)
	switch {
	case errors.Is(err, moderation.ErrNotOwner):
		return c.Respond(&tele.CallbackResponse{Text: "❌ Это не ваш чат", ShowAlert: true})
	case err != nil:
		b.logger.Warn("callback failed",
			zap.Int64("user_id", c.Sender().ID),
			zap.String("action", string(parsed.Action)),
			zap.Error(err))
		return c.Respond(&tele.CallbackResponse{Text: "❌ Ошибка"})
	}

	if err := c.Edit(text); err != nil {
		b.logger.Debug("notification edit failed", zap.Error(err))
	}
	return c.Respond()
}

func (b *Bot) onMyChatMember(c tele.Context) error {
	upd := c.ChatMember()
	if upd == nil || upd.Chat == nil || upd.NewChatMember == nil {
		return nil
	}
	ctx, cancel := b.context()
	defer cancel()

	switch upd.NewChatMember.Role {
	case tele.Administrator:
		b.botPromoted(ctx, upd.Chat.ID, upd.Chat.Title, userFrom(upd.Sender))
	case tele.Kicked, tele.Left:
		b.botRemoved(ctx, upd.Chat.ID)
	}
	return nil
}

func (b *Bot) onStart(c tele.Context) error {
	if c.Chat() == nil || c.Sender() == nil {
		return nil
	}
	if c.Chat().Type != tele.ChatPrivate {
		return c.Reply(groupOnlyPrivateText)
	}
	return c.Send(startText(c.Sender().FirstName))
}

func (b *Bot) onRegister(c tele.Context) error {
	chat := c.Chat()
	if chat == nil || c.Sender() == nil {
		return nil
	}
	if chat.Type == tele.ChatPrivate {
		return c.Send("Эта команда работает только в группах!")
	}
	ctx, cancel := b.context()
	defer cancel()
	return c.Reply(b.register(ctx, chat.ID, chat.Title, userFrom(c.Sender())))
}
