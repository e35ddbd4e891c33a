// Package enforce applies the owner's remedial action to an offender.
package enforce

import (
	"context"
	"time"

	"chatwarden/internal/modules/audit"
	"chatwarden/internal/storage"
	"chatwarden/internal/transport"

	"go.uber.org/zap"
)

const unknownChatTitle = "Unknown Group"

// Violation is everything the executor needs to act on one offending message.
type Violation struct {
	ChatID    int64
	ChatTitle string
	MessageID int
	OwnerID   int64
	Offender  transport.User
	Settings  storage.OwnerSettings
}

type Executor struct {
	transport  transport.Transport
	store      *storage.Store
	audit      *audit.Logger
	janitor    *transport.Janitor
	warnNotice time.Duration
	logger     *zap.Logger
}

func New(tr transport.Transport, store *storage.Store, auditLogger *audit.Logger, janitor *transport.Janitor, warnNotice time.Duration, logger *zap.Logger) *Executor {
	return &Executor{
		transport:  tr,
		store:      store,
		audit:      auditLogger,
		janitor:    janitor,
		warnNotice: warnNotice,
		logger:     logger.Named("enforce"),
	}
}

// Execute deletes the triggering message and then applies the configured action.
func (e *Executor) Execute(ctx context.Context, v Violation, reason string) {
	e.DeleteTrigger(ctx, v)
	e.Punish(ctx, v, reason)
}

// DeleteTrigger removes the offending message. Failures are logged only.
func (e *Executor) DeleteTrigger(ctx context.Context, v Violation) {
	if v.MessageID == 0 {
		return
	}
	if err := e.transport.DeleteMessage(ctx, v.ChatID, v.MessageID); err != nil {
		e.logger.Warn("delete message failed", zap.Int64("chat_id", v.ChatID), zap.Int("message_id", v.MessageID), zap.Error(err))
	}
}

// Punish applies the action that follows deletion.
func (e *Executor) Punish(ctx context.Context, v Violation, reason string) {
	e.logger.Info("enforcing",
		zap.String("action", v.Settings.Action.String()),
		zap.Int64("chat_id", v.ChatID),
		zap.Int64("user_id", v.Offender.ID),
		zap.String("reason", reason),
	)
	switch v.Settings.Action {
	case storage.ActionBan:
		e.ban(ctx, v, reason)
	case storage.ActionWarn:
		e.warn(ctx, v, reason)
	case storage.ActionDelete:
		// the message is already gone
	}
}

func (e *Executor) ban(ctx context.Context, v Violation, reason string) {
	if err := e.transport.BanMember(ctx, v.ChatID, v.Offender.ID); err != nil {
		e.logger.Warn("ban failed", zap.Int64("chat_id", v.ChatID), zap.Int64("user_id", v.Offender.ID), zap.Error(err))
		return
	}

	name := v.Offender.DisplayName()
	e.audit.Log(ctx, storage.LogEntry{
		OwnerID:      v.OwnerID,
		ChatID:       v.ChatID,
		OffenderID:   v.Offender.ID,
		OffenderName: name,
		Reason:       reason,
	})

	record := storage.BanRecord{
		UserID:    v.Offender.ID,
		Username:  name,
		ChatID:    v.ChatID,
		ChatTitle: e.chatTitle(ctx, v),
		BannedBy:  v.OwnerID,
		Reason:    reason,
	}
	if err := e.store.AddBanRecord(ctx, record); err != nil {
		e.logger.Warn("ban record failed", zap.Int64("user_id", v.Offender.ID), zap.Error(err))
	}
}

func (e *Executor) warn(ctx context.Context, v Violation, reason string) {
	text := "⚠️ Предупреждение для " + v.Offender.Mention() + "\nПричина: " + reason
	ref, err := e.transport.SendMessage(ctx, v.ChatID, text, nil)
	if err != nil {
		e.logger.Warn("warning failed", zap.Int64("chat_id", v.ChatID), zap.Error(err))
		return
	}
	e.janitor.DeleteAfter(ref, e.warnNotice)
}

func (e *Executor) chatTitle(ctx context.Context, v Violation) string {
	if v.ChatTitle != "" {
		return v.ChatTitle
	}
	info, err := e.transport.ChatInfo(ctx, v.ChatID)
	if err != nil || info.Title == "" {
		return unknownChatTitle
	}
	return info.Title
}
