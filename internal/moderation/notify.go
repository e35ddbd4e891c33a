package moderation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"chatwarden/internal/storage"
	"chatwarden/internal/transport"

	"go.uber.org/zap"
)

type Action string

const (
	ActionUnban     Action = "unban"
	ActionBan       Action = "ban"
	ActionException Action = "exception"
	ActionResolve   Action = "resolve"
)

var (
	ErrMalformedCallback = errors.New("moderation: malformed callback data")
	ErrNotOwner          = errors.New("moderation: chat belongs to another owner")
)

// Callback is the payload carried by a notification button.
type Callback struct {
	Action         Action
	UserID         int64
	ChatID         int64
	NotificationID int64
}

// Encode renders "action|user|chat|notification".
func (c Callback) Encode() string {
	return strings.Join([]string{
		string(c.Action),
		strconv.FormatInt(c.UserID, 10),
		strconv.FormatInt(c.ChatID, 10),
		strconv.FormatInt(c.NotificationID, 10),
	}, "|")
}

// ParseCallback decodes button data field by field. Negative chat ids are fine.
func ParseCallback(data string) (Callback, error) {
	parts := strings.Split(data, "|")
	if len(parts) != 4 {
		return Callback{}, ErrMalformedCallback
	}
	action := Action(parts[0])
	switch action {
	case ActionUnban, ActionBan, ActionException, ActionResolve:
	default:
		return Callback{}, ErrMalformedCallback
	}
	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Callback{}, ErrMalformedCallback
	}
	chatID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Callback{}, ErrMalformedCallback
	}
	notificationID, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Callback{}, ErrMalformedCallback
	}
	return Callback{Action: action, UserID: userID, ChatID: chatID, NotificationID: notificationID}, nil
}

func notificationControls(userID, chatID, notificationID int64) transport.Controls {
	button := func(text string, action Action) transport.Button {
		return transport.Button{Text: text, Data: Callback{Action: action, UserID: userID, ChatID: chatID, NotificationID: notificationID}.Encode()}
	}
	return transport.Controls{
		{button("✅ Разбанить", ActionUnban), button("🔒 Забанить", ActionBan)},
		{button("👤 В исключения", ActionException), button("❌ Пропустить", ActionResolve)},
	}
}

func (s *Service) notifyOwner(ctx context.Context, subj subject, reason string) {
	user := subj.msg.From
	log := s.logger.With(zap.Int64("owner_id", subj.ownerID), zap.Int64("chat_id", subj.msg.ChatID))

	id, err := s.store.AddNotification(ctx, storage.Notification{
		OwnerID:   subj.ownerID,
		ChatID:    subj.msg.ChatID,
		ChatTitle: subj.title,
		UserID:    user.ID,
		Username:  user.DisplayName(),
		Reason:    reason,
		MessageID: subj.msg.MessageID,
	})
	if err != nil {
		log.Warn("notification not stored", zap.Error(err))
	}

	text := fmt.Sprintf(
		"🚨 Нарушение в \"%s\"\n\n👤 Пользователь: %s\n🆔 ID: %d\n📝 Причина: %s\n\nВыберите действие:",
		subj.title, user.Mention(), user.ID, reason,
	)
	ref, err := s.transport.SendMessage(ctx, subj.ownerID, text, notificationControls(user.ID, subj.msg.ChatID, id))
	if err != nil {
		log.Warn("owner notification failed", zap.Error(err))
		return
	}
	if id != 0 {
		if err := s.store.AttachNotificationMessage(ctx, id, ref.MessageID); err != nil {
			log.Debug("notification message not attached", zap.Error(err))
		}
	}
}

// HandleCallback applies a notification button pressed by ownerID and returns
// the text that replaces the notification.
func (s *Service) HandleCallback(ctx context.Context, ownerID int64, cb Callback) (string, error) {
	owner, ok, err := s.store.OwnerForChat(ctx, cb.ChatID)
	if err != nil {
		return "", err
	}
	if !ok || owner != ownerID {
		return "", ErrNotOwner
	}

	var text string
	switch cb.Action {
	case ActionUnban:
		if err := s.transport.UnbanMember(ctx, cb.ChatID, cb.UserID); err != nil {
			return fmt.Sprintf("❌ Ошибка при разбане: %v", err), nil
		}
		if err := s.store.RemoveBanRecord(ctx, cb.UserID, cb.ChatID); err != nil {
			return "", err
		}
		text = fmt.Sprintf("✅ Пользователь разбанен!\n\n👤 ID: %d\n💬 Чат: %d", cb.UserID, cb.ChatID)
	case ActionBan:
		if err := s.transport.BanMember(ctx, cb.ChatID, cb.UserID); err != nil {
			return fmt.Sprintf("❌ Ошибка при бане: %v", err), nil
		}
		text = fmt.Sprintf("✅ Пользователь забанен!\n\n👤 ID: %d\n💬 Чат: %d", cb.UserID, cb.ChatID)
	case ActionException:
		name := strconv.FormatInt(cb.UserID, 10)
		if n, err := s.store.NotificationByID(ctx, cb.NotificationID); err == nil && n.Username != "" {
			name = n.Username
		}
		added, err := s.store.AddException(ctx, storage.Exception{
			UserID:   cb.UserID,
			Username: name,
			ChatID:   cb.ChatID,
			OwnerID:  ownerID,
			Reason:   "Добавлено через уведомление",
		})
		if err != nil {
			return "", err
		}
		if !added {
			text = "⚠️ Пользователь уже в исключениях"
			break
		}
		text = fmt.Sprintf("✅ Пользователь добавлен в исключения!\n\n👤 %s\n💬 Чат: %d\n\nТеперь этот пользователь не будет проверяться ботом.", name, cb.ChatID)
	case ActionResolve:
		text = "✅ Уведомление помечено как решенное"
	default:
		return "", ErrMalformedCallback
	}

	if cb.NotificationID != 0 {
		if err := s.store.ResolveNotification(ctx, cb.NotificationID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("notification not resolved", zap.Int64("notification_id", cb.NotificationID), zap.Error(err))
		}
	}
	return text, nil
}
