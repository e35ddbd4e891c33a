package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type LogEntry struct {
	ID           int64
	OwnerID      int64
	ChatID       int64
	OffenderID   int64
	OffenderName string
	Reason       string
	CreatedAt    time.Time
}

type BanRecord struct {
	UserID    int64
	Username  string
	ChatID    int64
	ChatTitle string
	BannedBy  int64
	Reason    string
	BannedAt  time.Time
}

type Exception struct {
	UserID    int64
	Username  string
	ChatID    int64
	OwnerID   int64
	Reason    string
	CreatedAt time.Time
}

type Notification struct {
	ID        int64
	OwnerID   int64
	ChatID    int64
	ChatTitle string
	UserID    int64
	Username  string
	Reason    string
	MessageID int
	Resolved  bool
	CreatedAt time.Time
}

func (s *Store) AppendLog(ctx context.Context, entry LogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO logs (owner_id, chat_id, offender_id, offender_name, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.OwnerID, entry.ChatID, entry.OffenderID, entry.OffenderName, entry.Reason, entry.CreatedAt.Unix())
	return err
}

func (s *Store) ListLogs(ctx context.Context, ownerID int64, since time.Time) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, chat_id, offender_id, offender_name, reason, created_at
		FROM logs
		WHERE owner_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC
	`, ownerID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var entry LogEntry
		var created int64
		if err := rows.Scan(&entry.ID, &entry.OwnerID, &entry.ChatID, &entry.OffenderID, &entry.OffenderName, &entry.Reason, &created); err != nil {
			return nil, err
		}
		entry.CreatedAt = time.Unix(created, 0)
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CleanupLogs(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	res, err := s.exec(ctx, `DELETE FROM logs WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) AddBanRecord(ctx context.Context, record BanRecord) error {
	if record.BannedAt.IsZero() {
		record.BannedAt = time.Now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO banned_users (user_id, username, chat_id, chat_title, banned_by, reason, banned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, record.UserID, record.Username, record.ChatID, record.ChatTitle, record.BannedBy, record.Reason, record.BannedAt.Unix())
	return err
}

func (s *Store) RemoveBanRecord(ctx context.Context, userID, chatID int64) error {
	_, err := s.exec(ctx, `DELETE FROM banned_users WHERE user_id = ? AND chat_id = ?`, userID, chatID)
	return err
}

func (s *Store) ListBans(ctx context.Context, ownerID int64) ([]BanRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, username, chat_id, chat_title, banned_by, reason, banned_at
		FROM banned_users WHERE banned_by = ? ORDER BY banned_at DESC, id DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bans []BanRecord
	for rows.Next() {
		var record BanRecord
		var banned int64
		if err := rows.Scan(&record.UserID, &record.Username, &record.ChatID, &record.ChatTitle, &record.BannedBy, &record.Reason, &banned); err != nil {
			return nil, err
		}
		record.BannedAt = time.Unix(banned, 0)
		bans = append(bans, record)
	}
	return bans, rows.Err()
}

func (s *Store) IsException(ctx context.Context, userID, chatID int64) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM user_exceptions WHERE user_id = ? AND chat_id = ?`, userID, chatID)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// AddException returns false when the user already has an exception for the chat.
func (s *Store) AddException(ctx context.Context, exception Exception) (bool, error) {
	if exception.CreatedAt.IsZero() {
		exception.CreatedAt = time.Now()
	}
	res, err := s.exec(ctx, `
		INSERT OR IGNORE INTO user_exceptions (user_id, username, chat_id, owner_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, exception.UserID, exception.Username, exception.ChatID, exception.OwnerID, exception.Reason, exception.CreatedAt.Unix())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) RemoveException(ctx context.Context, userID, chatID int64) error {
	_, err := s.exec(ctx, `DELETE FROM user_exceptions WHERE user_id = ? AND chat_id = ?`, userID, chatID)
	return err
}

func (s *Store) ListExceptions(ctx context.Context, ownerID int64) ([]Exception, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, username, chat_id, owner_id, reason, created_at
		FROM user_exceptions WHERE owner_id = ? ORDER BY created_at DESC, id DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exceptions []Exception
	for rows.Next() {
		var exception Exception
		var created int64
		if err := rows.Scan(&exception.UserID, &exception.Username, &exception.ChatID, &exception.OwnerID, &exception.Reason, &created); err != nil {
			return nil, err
		}
		exception.CreatedAt = time.Unix(created, 0)
		exceptions = append(exceptions, exception)
	}
	return exceptions, rows.Err()
}

func (s *Store) AddNotification(ctx context.Context, notification Notification) (int64, error) {
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}
	res, err := s.exec(ctx, `
		INSERT INTO notifications (owner_id, chat_id, chat_title, user_id, username, reason, message_id, resolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, notification.OwnerID, notification.ChatID, notification.ChatTitle, notification.UserID, notification.Username, notification.Reason, notification.MessageID, notification.CreatedAt.Unix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) ResolveNotification(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, `UPDATE notifications SET resolved = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) PendingNotifications(ctx context.Context, ownerID int64) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, chat_id, chat_title, user_id, username, reason, message_id, created_at
		FROM notifications WHERE owner_id = ? AND resolved = 0 ORDER BY created_at DESC, id DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		var n Notification
		var created int64
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.ChatID, &n.ChatTitle, &n.UserID, &n.Username, &n.Reason, &n.MessageID, &created); err != nil {
			return nil, err
		}
		n.CreatedAt = time.Unix(created, 0)
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// AttachNotificationMessage stores the id of the delivered notification message.
func (s *Store) AttachNotificationMessage(ctx context.Context, id int64, messageID int) error {
	_, err := s.exec(ctx, `UPDATE notifications SET message_id = ? WHERE id = ?`, messageID, id)
	return err
}

func (s *Store) NotificationByID(ctx context.Context, id int64) (Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, chat_id, chat_title, user_id, username, reason, message_id, resolved, created_at
		FROM notifications WHERE id = ?
	`, id)
	var n Notification
	var resolved int
	var created int64
	if err := row.Scan(&n.ID, &n.OwnerID, &n.ChatID, &n.ChatTitle, &n.UserID, &n.Username, &n.Reason, &n.MessageID, &resolved, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Notification{}, ErrNotFound
		}
		return Notification{}, err
	}
	n.Resolved = resolved == 1
	n.CreatedAt = time.Unix(created, 0)
	return n, nil
}
