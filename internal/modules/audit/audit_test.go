package audit

import (
	"context"
	"testing"
	"time"

	"chatwarden/internal/storage"

	"go.uber.org/zap"
)

func TestLogPersistsAndNotifies(t *testing.T) {
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := NewLogger(store, zap.NewNop())
	var notified []storage.LogEntry
	logger.SetNotifier(func(_ context.Context, entry storage.LogEntry) {
		notified = append(notified, entry)
	})

	ctx := context.Background()
	logger.Log(ctx, storage.LogEntry{OwnerID: 1, ChatID: -100, OffenderID: 5, OffenderName: "@spam", Reason: "стоп-слова: реклама"})

	if len(notified) != 1 {
		t.Fatalf("expected notifier to be called once, got %d", len(notified))
	}
	logs, err := store.ListLogs(ctx, 1, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Reason != "стоп-слова: реклама" {
		t.Fatalf("unexpected logs %+v", logs)
	}
}

func TestLogWithoutStore(t *testing.T) {
	logger := NewLogger(nil, zap.NewNop())
	logger.Log(context.Background(), storage.LogEntry{OwnerID: 1, Reason: "r"})
}
