package audit

import (
	"context"

	"chatwarden/internal/storage"

	"go.uber.org/zap"
)

// Logger persists violation records and mirrors them to the process log.
type Logger struct {
	store  *storage.Store
	logger *zap.Logger
	notify func(context.Context, storage.LogEntry)
}

func NewLogger(store *storage.Store, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger.Named("audit")}
}

// SetNotifier registers a hook called after every recorded entry.
func (l *Logger) SetNotifier(notify func(context.Context, storage.LogEntry)) {
	l.notify = notify
}

func (l *Logger) Log(ctx context.Context, entry storage.LogEntry) {
	if l.store != nil {
		if err := l.store.AppendLog(ctx, entry); err != nil {
			l.logger.Warn("append log failed", zap.Int64("chat_id", entry.ChatID), zap.Error(err))
		}
	}
	if l.notify != nil {
		l.notify(ctx, entry)
	}
	l.logger.Info("violation",
		zap.Int64("owner_id", entry.OwnerID),
		zap.Int64("chat_id", entry.ChatID),
		zap.Int64("user_id", entry.OffenderID),
		zap.String("user", entry.OffenderName),
		zap.String("reason", entry.Reason),
	)
}
