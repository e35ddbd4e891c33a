// Package moderation routes inbound chat messages through detection, the
// challenge engine and enforcement.
package moderation

import (
	"context"
	"errors"

	"chatwarden/internal/challenge"
	"chatwarden/internal/enforce"
	"chatwarden/internal/modules/audit"
	"chatwarden/internal/modules/channels"
	"chatwarden/internal/modules/stopwords"
	"chatwarden/internal/monitor"
	"chatwarden/internal/storage"
	"chatwarden/internal/transport"

	"go.uber.org/zap"
)

const (
	unknownChatTitle = "Unknown Group"
	logMatchLimit    = 3
	editNotifyLimit  = 2
)

// Message is an inbound group message, edit or media caption.
type Message struct {
	ChatID    int64
	ChatTitle string
	MessageID int
	From      transport.User
	Text      string
	// Media marks a message whose Text is a media caption.
	Media bool
}

type Deps struct {
	Store     *storage.Store
	Transport transport.Transport
	Tracker   *monitor.Tracker
	Scanner   *channels.Scanner
	Engine    *challenge.Engine
	Executor  *enforce.Executor
	Audit     *audit.Logger
	BotID     int64
	Logger    *zap.Logger
}

type Service struct {
	store     *storage.Store
	transport transport.Transport
	tracker   *monitor.Tracker
	scanner   *channels.Scanner
	engine    *challenge.Engine
	executor  *enforce.Executor
	audit     *audit.Logger
	botID     int64
	logger    *zap.Logger
}

func New(deps Deps) *Service {
	return &Service{
		store:     deps.Store,
		transport: deps.Transport,
		tracker:   deps.Tracker,
		scanner:   deps.Scanner,
		engine:    deps.Engine,
		executor:  deps.Executor,
		audit:     deps.Audit,
		botID:     deps.BotID,
		logger:    deps.Logger.Named("moderation"),
	}
}

// subject is a message that passed every skip rule and is ready for detection.
type subject struct {
	msg      Message
	title    string
	ownerID  int64
	settings storage.OwnerSettings
}

func (s subject) violation() enforce.Violation {
	return enforce.Violation{
		ChatID:    s.msg.ChatID,
		ChatTitle: s.title,
		MessageID: s.msg.MessageID,
		OwnerID:   s.ownerID,
		Offender:  s.msg.From,
		Settings:  s.settings,
	}
}

// HandleMessage processes a new text message. A pending puzzle for the author
// consumes the message as its answer.
func (s *Service) HandleMessage(ctx context.Context, msg Message) {
	key := challenge.Key{ChatID: msg.ChatID, UserID: msg.From.ID}
	if s.engine.Pending(key) {
		s.engine.Answer(ctx, key, msg.Text)
		return
	}

	subj, ok := s.prepare(ctx, msg)
	if !ok {
		return
	}
	s.inspect(ctx, subj)
}

// HandleMedia checks a media caption when the owner enabled media checks.
// Media never answers a puzzle.
func (s *Service) HandleMedia(ctx context.Context, msg Message) {
	if s.engine.Pending(challenge.Key{ChatID: msg.ChatID, UserID: msg.From.ID}) {
		return
	}
	subj, ok := s.prepare(ctx, msg)
	if !ok || !subj.settings.CheckMedia || msg.Text == "" {
		return
	}
	s.inspect(ctx, subj)
}

// HandleEdited re-evaluates an edited message from scratch, even while its
// author has a puzzle pending. Edited captions follow the media setting.
func (s *Service) HandleEdited(ctx context.Context, msg Message) {
	subj, ok := s.prepare(ctx, msg)
	if !ok {
		return
	}
	s.tracker.RecordEdit(monitor.Key{ChatID: msg.ChatID, UserID: msg.From.ID, MessageID: msg.MessageID})

	if msg.Text == "" || (msg.Media && !subj.settings.CheckMedia) {
		return
	}
	if s.checkStopWords(ctx, subj, stopwords.PrefixEdit, editNotifyLimit) {
		return
	}
	if subj.settings.CheckProfiles {
		s.checkProfile(ctx, subj)
	}
}

func (s *Service) inspect(ctx context.Context, subj subject) {
	if subj.msg.Text != "" {
		s.tracker.Track(monitor.Entry{
			Key:       monitor.Key{ChatID: subj.msg.ChatID, UserID: subj.msg.From.ID, MessageID: subj.msg.MessageID},
			Text:      subj.msg.Text,
			OwnerID:   subj.ownerID,
			ChatTitle: subj.title,
			Settings:  subj.settings,
		})
		if s.checkStopWords(ctx, subj, stopwords.PrefixMessage, 1) {
			return
		}
	}
	if subj.settings.CheckProfiles {
		s.checkProfile(ctx, subj)
	}
}

// prepare applies the skip rules. Any lookup failure skips the message.
func (s *Service) prepare(ctx context.Context, msg Message) (subject, bool) {
	if msg.From.IsBot || msg.From.ID == s.botID {
		return subject{}, false
	}
	log := s.logger.With(zap.Int64("chat_id", msg.ChatID), zap.Int64("user_id", msg.From.ID))

	chat, err := s.store.ChatModeration(ctx, msg.ChatID)
	if err != nil {
		log.Warn("chat lookup failed", zap.Error(err))
		return subject{}, false
	}
	if !chat.Found {
		log.Debug("chat has no owner")
		return subject{}, false
	}
	settings, err := s.store.OwnerSettings(ctx, chat.OwnerID)
	if err != nil {
		log.Warn("owner settings lookup failed", zap.Error(err))
		return subject{}, false
	}
	if !settings.AutomodEnabled || !chat.Enabled {
		return subject{}, false
	}

	exempt, err := s.store.IsException(ctx, msg.From.ID, msg.ChatID)
	if err != nil {
		log.Warn("exception lookup failed", zap.Error(err))
		return subject{}, false
	}
	if exempt {
		return subject{}, false
	}

	status, err := s.transport.ChatMemberStatus(ctx, msg.ChatID, msg.From.ID)
	if err != nil {
		log.Warn("member status failed", zap.Error(err))
		return subject{}, false
	}
	if status.IsAdmin() {
		return subject{}, false
	}

	return subject{msg: msg, title: s.chatTitle(ctx, msg, chat), ownerID: chat.OwnerID, settings: settings}, true
}

func (s *Service) chatTitle(ctx context.Context, msg Message, chat storage.ChatModeration) string {
	if msg.ChatTitle != "" {
		return msg.ChatTitle
	}
	if info, err := s.transport.ChatInfo(ctx, msg.ChatID); err == nil && info.Title != "" {
		return info.Title
	}
	if chat.Title != "" {
		return chat.Title
	}
	return unknownChatTitle
}

func (s *Service) checkStopWords(ctx context.Context, subj subject, prefix string, notifyLimit int) bool {
	words, err := s.store.StopWords(ctx, subj.ownerID)
	if err != nil {
		s.logger.Warn("stop words lookup failed", zap.Int64("owner_id", subj.ownerID), zap.Error(err))
		return false
	}
	found := stopwords.Match(subj.msg.Text, words)
	if len(found) == 0 {
		return false
	}
	s.violate(ctx, subj,
		stopwords.Reason(prefix, found, logMatchLimit),
		stopwords.Reason(prefix, found, notifyLimit),
		stopwords.Reason(prefix, found, 1),
	)
	return true
}

func (s *Service) checkProfile(ctx context.Context, subj subject) bool {
	found := s.scanner.Scan(ctx, subj.msg.From, subj.msg.Text)
	if len(found) == 0 {
		return false
	}
	s.violate(ctx, subj,
		stopwords.Reason(channels.ReasonPrefix, found, logMatchLimit),
		stopwords.Reason(channels.ReasonPrefix, found, 1),
		stopwords.Reason(channels.ReasonPrefix, found, 1),
	)
	return true
}

func (s *Service) violate(ctx context.Context, subj subject, logReason, notifyReason, actionReason string) {
	s.tracker.RecordViolation()
	s.audit.Log(ctx, storage.LogEntry{
		OwnerID:      subj.ownerID,
		ChatID:       subj.msg.ChatID,
		OffenderID:   subj.msg.From.ID,
		OffenderName: subj.msg.From.DisplayName(),
		Reason:       logReason,
	})
	if subj.settings.NotifyAdmin {
		s.notifyOwner(ctx, subj, notifyReason)
	}
	s.takeAction(ctx, subj.violation(), actionReason)
}

// takeAction deletes the message, then either issues a puzzle or applies the
// fallback at once. An outstanding puzzle already decides the offender's fate.
func (s *Service) takeAction(ctx context.Context, v enforce.Violation, reason string) {
	s.executor.DeleteTrigger(ctx, v)
	err := s.engine.Issue(ctx, v, reason)
	switch {
	case err == nil:
		return
	case errors.Is(err, challenge.ErrAlreadyPending):
		s.logger.Info("violation left to pending challenge",
			zap.Int64("chat_id", v.ChatID),
			zap.Int64("user_id", v.Offender.ID),
			zap.String("reason", reason))
		return
	}
	s.executor.Punish(ctx, v, reason)
}
