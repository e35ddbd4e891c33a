package transport

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

// Telebot adapts a telebot.v3 bot to the Transport contract.
type Telebot struct {
	bot    *tele.Bot
	logger *zap.Logger
}

func NewTelebot(bot *tele.Bot, logger *zap.Logger) *Telebot {
	return &Telebot{bot: bot, logger: logger.Named("transport")}
}

func (t *Telebot) SendMessage(ctx context.Context, targetID int64, text string, controls Controls) (MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return MessageRef{}, err
	}
	var opts []interface{}
	if markup := toMarkup(controls); markup != nil {
		opts = append(opts, markup)
	}
	msg, err := t.bot.Send(tele.ChatID(targetID), text, opts...)
	if err != nil {
		return MessageRef{}, fmt.Errorf("send to %d: %w", targetID, err)
	}
	return MessageRef{ChatID: msg.Chat.ID, MessageID: msg.ID}, nil
}

func (t *Telebot) EditMessage(ctx context.Context, targetID int64, messageID int, text string, controls Controls) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: targetID}
	var opts []interface{}
	if markup := toMarkup(controls); markup != nil {
		opts = append(opts, markup)
	}
	if _, err := t.bot.Edit(stored, text, opts...); err != nil {
		return fmt.Errorf("edit %d/%d: %w", targetID, messageID, err)
	}
	return nil
}

func (t *Telebot) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}
	if err := t.bot.Delete(stored); err != nil {
		return fmt.Errorf("delete %d/%d: %w", chatID, messageID, err)
	}
	return nil
}

func (t *Telebot) BanMember(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	member := &tele.ChatMember{User: &tele.User{ID: userID}}
	if err := t.bot.Ban(&tele.Chat{ID: chatID}, member); err != nil {
		return fmt.Errorf("ban %d in %d: %w", userID, chatID, err)
	}
	return nil
}

func (t *Telebot) UnbanMember(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.bot.Unban(&tele.Chat{ID: chatID}, &tele.User{ID: userID}, true); err != nil {
		return fmt.Errorf("unban %d in %d: %w", userID, chatID, err)
	}
	return nil
}

func (t *Telebot) ChatMemberStatus(ctx context.Context, chatID, userID int64) (MemberStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	member, err := t.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return "", fmt.Errorf("member %d of %d: %w", userID, chatID, err)
	}
	return MemberStatus(member.Role), nil
}

func (t *Telebot) ChatInfo(ctx context.Context, chatID int64) (ChatInfo, error) {
	if err := ctx.Err(); err != nil {
		return ChatInfo{}, err
	}
	chat, err := t.bot.ChatByID(chatID)
	if err != nil {
		return ChatInfo{}, fmt.Errorf("chat %d: %w", chatID, err)
	}
	title := chat.Title
	if title == "" {
		title = chat.FirstName
	}
	return ChatInfo{ID: chat.ID, Title: title}, nil
}

// ExtendedProfile reads whatever getChat exposes for a user. A failed lookup
// yields an empty profile and the error, callers are expected to carry on.
func (t *Telebot) ExtendedProfile(ctx context.Context, userID int64) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	chat, err := t.bot.ChatByID(userID)
	if err != nil {
		t.logger.Debug("profile unavailable", zap.Int64("user_id", userID), zap.Error(err))
		return Profile{}, fmt.Errorf("profile %d: %w", userID, err)
	}
	profile := Profile{
		Bio:          chat.Bio,
		Description:  chat.Description,
		LinkedChatID: chat.LinkedChatID,
	}
	if pinned := chat.PinnedMessage; pinned != nil {
		profile.Pinned = pinnedFrom(pinned)
	}
	return profile, nil
}

func pinnedFrom(msg *tele.Message) *PinnedMessage {
	pinned := &PinnedMessage{Text: msg.Text}
	entities := msg.Entities
	if pinned.Text == "" {
		pinned.Text = msg.Caption
		entities = msg.CaptionEntities
	}
	for _, entity := range entities {
		switch entity.Type {
		case tele.EntityURL:
			if link := msg.EntityText(entity); link != "" {
				pinned.Links = append(pinned.Links, link)
			}
		case tele.EntityTextLink:
			if entity.URL != "" {
				pinned.Links = append(pinned.Links, entity.URL)
			}
		}
	}
	return pinned
}

func toMarkup(controls Controls) *tele.ReplyMarkup {
	if len(controls) == 0 {
		return nil
	}
	rows := make([][]tele.InlineButton, 0, len(controls))
	for _, row := range controls {
		buttons := make([]tele.InlineButton, 0, len(row))
		for _, button := range row {
			buttons = append(buttons, tele.InlineButton{Text: button.Text, Data: button.Data})
		}
		rows = append(rows, buttons)
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}
