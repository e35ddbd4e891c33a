// Package channels looks for channel promotion in a user's profile and message.
package channels

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"chatwarden/internal/transport"
	"chatwarden/internal/utils"

	"go.uber.org/zap"
)

const ReasonPrefix = "каналы в профиле"

type Scanner struct {
	patterns  []*regexp.Regexp
	transport transport.Transport
	logger    *zap.Logger
}

func NewScanner(patterns []string, tr transport.Transport, logger *zap.Logger) (*Scanner, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("profile pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return &Scanner{patterns: compiled, transport: tr, logger: logger.Named("channels")}, nil
}

// Scan returns the distinct channel signals found for author, in first-seen order.
// Profile lookups that fail are left out of the scan.
func (s *Scanner) Scan(ctx context.Context, author transport.User, text string) []string {
	var blob []string
	var found []string
	add := func(match string) {
		for _, existing := range found {
			if existing == match {
				return
			}
		}
		found = append(found, match)
	}

	blob = appendNonEmpty(blob, author.Username, author.FirstName, author.LastName)

	profile, err := s.transport.ExtendedProfile(ctx, author.ID)
	if err != nil {
		s.logger.Debug("extended profile skipped", zap.Int64("user_id", author.ID), zap.Error(err))
	}
	blob = appendNonEmpty(blob, profile.Bio, profile.Description)

	if profile.LinkedChatID != 0 {
		info, err := s.transport.ChatInfo(ctx, profile.LinkedChatID)
		if err != nil || info.Title == "" {
			add("привязанный канал ID: " + strconv.FormatInt(profile.LinkedChatID, 10))
		} else {
			blob = append(blob, info.Title)
			add("привязанный канал: " + info.Title)
		}
	}

	if pinned := profile.Pinned; pinned != nil {
		blob = appendNonEmpty(blob, pinned.Text)
		blob = appendNonEmpty(blob, pinned.Links...)
	}

	blob = appendNonEmpty(blob, text)

	combined := strings.Join(blob, " ")
	blob = appendNonEmpty(blob, utils.DecodedHosts(combined)...)
	combined = strings.Join(blob, " ")

	for _, re := range s.patterns {
		for _, match := range re.FindAllString(combined, -1) {
			add(match)
		}
	}

	if len(found) > 0 {
		s.logger.Info("channel signals found", zap.Int64("user_id", author.ID), zap.Strings("matches", found))
	}
	return found
}

func appendNonEmpty(dst []string, values ...string) []string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			dst = append(dst, value)
		}
	}
	return dst
}
