package storage

import (
	"context"
	"strings"
	"time"
)

// StopWords returns the owner's stop words in the order they were added.
func (s *Store) StopWords(ctx context.Context, ownerID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT word FROM stop_words WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var words []string
	for rows.Next() {
		var word string
		if err := rows.Scan(&word); err != nil {
			return nil, err
		}
		words = append(words, word)
	}
	return words, rows.Err()
}

// AddStopWord returns false when the word is already present.
func (s *Store) AddStopWord(ctx context.Context, ownerID int64, word string) (bool, error) {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return false, nil
	}
	res, err := s.exec(ctx, `
		INSERT OR IGNORE INTO stop_words (owner_id, word, created_at) VALUES (?, ?, ?)
	`, ownerID, word, time.Now().Unix())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) RemoveStopWord(ctx context.Context, ownerID int64, word string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM stop_words WHERE owner_id = ? AND word = ?`, ownerID, strings.ToLower(strings.TrimSpace(word)))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ClearStopWords(ctx context.Context, ownerID int64) error {
	_, err := s.exec(ctx, `DELETE FROM stop_words WHERE owner_id = ?`, ownerID)
	return err
}
