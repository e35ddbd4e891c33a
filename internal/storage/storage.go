package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

var ErrNotFound = errors.New("storage: not found")

var (
	retryInitialInterval = 50 * time.Millisecond
	retryMaxInterval     = time.Second
	retryMaxElapsed      = 5 * time.Second
)

type Store struct {
	db *sql.DB
}

// OwnerSettings is the per-owner moderation profile.
type OwnerSettings struct {
	OwnerID        int64
	AutomodEnabled bool
	Action         Action
	CheckProfiles  bool
	CheckMedia     bool
	NotifyAdmin    bool
}

// ChatModeration describes a managed chat. Found is false for unknown chats.
type ChatModeration struct {
	ChatID  int64
	Title   string
	OwnerID int64
	Enabled bool
	Found   bool
}

func DefaultOwnerSettings(ownerID int64) OwnerSettings {
	return OwnerSettings{
		OwnerID:        ownerID,
		AutomodEnabled: true,
		Action:         ActionBan,
		CheckProfiles:  true,
		CheckMedia:     false,
		NotifyAdmin:    true,
	}
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers anyway, and ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Migrate() error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}
	return nil
}

// exec runs a write statement, retrying while sqlite reports the database as busy.
// The pool holds a single connection, so busy errors only come from another
// process holding a lock on the same file, such as a concurrent migrate run.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	op := func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if isBusy(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = res
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.MaxInterval = retryMaxInterval
	policy.MaxElapsedTime = retryMaxElapsed
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) OwnerSettings(ctx context.Context, ownerID int64) (OwnerSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT automod_enabled, action_type, check_profiles, check_media, notify_admin
		FROM owner_settings WHERE owner_id = ?`, ownerID)

	result := DefaultOwnerSettings(ownerID)
	var automod, profiles, media, notify int
	var action string
	err := row.Scan(&automod, &action, &profiles, &media, &notify)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, nil
		}
		return OwnerSettings{}, fmt.Errorf("owner settings %d: %w", ownerID, err)
	}
	result.AutomodEnabled = automod == 1
	result.CheckProfiles = profiles == 1
	result.CheckMedia = media == 1
	result.NotifyAdmin = notify == 1
	if parsed, ok := ParseAction(action); ok {
		result.Action = parsed
	}
	return result, nil
}

func (s *Store) UpsertOwnerSettings(ctx context.Context, settings OwnerSettings) error {
	_, err := s.exec(ctx, `
		INSERT INTO owner_settings (
			owner_id, automod_enabled, action_type, check_profiles, check_media, notify_admin, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			automod_enabled = excluded.automod_enabled,
			action_type = excluded.action_type,
			check_profiles = excluded.check_profiles,
			check_media = excluded.check_media,
			notify_admin = excluded.notify_admin
	`,
		settings.OwnerID,
		boolToInt(settings.AutomodEnabled),
		settings.Action.String(),
		boolToInt(settings.CheckProfiles),
		boolToInt(settings.CheckMedia),
		boolToInt(settings.NotifyAdmin),
		time.Now().Unix(),
	)
	return err
}

// AddChat registers a chat for an owner, replacing the previous owner if any.
func (s *Store) AddChat(ctx context.Context, chatID int64, title string, ownerID int64) error {
	_, err := s.exec(ctx, `
		INSERT INTO chats (chat_id, chat_title, owner_id, automod_enabled, added_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			chat_title = excluded.chat_title,
			owner_id = excluded.owner_id
	`, chatID, title, ownerID, time.Now().Unix())
	return err
}

func (s *Store) RemoveChat(ctx context.Context, chatID, ownerID int64) error {
	_, err := s.exec(ctx, `DELETE FROM chats WHERE chat_id = ? AND owner_id = ?`, chatID, ownerID)
	return err
}

func (s *Store) ChatModeration(ctx context.Context, chatID int64) (ChatModeration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT chat_title, owner_id, automod_enabled FROM chats WHERE chat_id = ?`, chatID)

	result := ChatModeration{ChatID: chatID}
	var enabled int
	err := row.Scan(&result.Title, &result.OwnerID, &enabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, nil
		}
		return ChatModeration{}, fmt.Errorf("chat %d: %w", chatID, err)
	}
	result.Enabled = enabled == 1
	result.Found = true
	return result, nil
}

func (s *Store) OwnerForChat(ctx context.Context, chatID int64) (int64, bool, error) {
	chat, err := s.ChatModeration(ctx, chatID)
	if err != nil {
		return 0, false, err
	}
	if !chat.Found {
		return 0, false, nil
	}
	return chat.OwnerID, true, nil
}

func (s *Store) SetChatModeration(ctx context.Context, chatID int64, enabled bool) error {
	res, err := s.exec(ctx, `UPDATE chats SET automod_enabled = ? WHERE chat_id = ?`, boolToInt(enabled), chatID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListChats(ctx context.Context, ownerID int64) ([]ChatModeration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, chat_title, owner_id, automod_enabled
		FROM chats WHERE owner_id = ? ORDER BY added_at, chat_id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []ChatModeration
	for rows.Next() {
		var chat ChatModeration
		var enabled int
		if err := rows.Scan(&chat.ChatID, &chat.Title, &chat.OwnerID, &enabled); err != nil {
			return nil, err
		}
		chat.Enabled = enabled == 1
		chat.Found = true
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}

func isBusy(err error) bool {
	message := err.Error()
	return strings.Contains(message, "SQLITE_BUSY") || strings.Contains(message, "database is locked")
}
