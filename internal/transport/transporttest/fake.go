// Package transporttest provides an in-memory Transport that records every call.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"chatwarden/internal/transport"
)

var ErrInjected = errors.New("transporttest: injected failure")

type Sent struct {
	Ref      transport.MessageRef
	Text     string
	Controls transport.Controls
}

type Edited struct {
	ChatID    int64
	MessageID int
	Text      string
}

type Member struct {
	ChatID int64
	UserID int64
}

// Fake is safe for concurrent use. Zero value is not usable, call New.
type Fake struct {
	mu       sync.Mutex
	nextID   int
	sent     []Sent
	edited   []Edited
	deleted  []transport.MessageRef
	banned   []Member
	unbanned []Member

	statuses map[Member]transport.MemberStatus
	chats    map[int64]transport.ChatInfo
	profiles map[int64]transport.Profile

	// Failure switches.
	FailSend    bool
	FailDelete  bool
	FailBan     bool
	FailProfile bool
}

func New() *Fake {
	return &Fake{
		nextID:   1000,
		statuses: make(map[Member]transport.MemberStatus),
		chats:    make(map[int64]transport.ChatInfo),
		profiles: make(map[int64]transport.Profile),
	}
}

func (f *Fake) SetStatus(chatID, userID int64, status transport.MemberStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[Member{ChatID: chatID, UserID: userID}] = status
}

func (f *Fake) SetChat(chatID int64, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[chatID] = transport.ChatInfo{ID: chatID, Title: title}
}

func (f *Fake) SetProfile(userID int64, profile transport.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[userID] = profile
}

func (f *Fake) SendMessage(_ context.Context, targetID int64, text string, controls transport.Controls) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSend {
		return transport.MessageRef{}, ErrInjected
	}
	f.nextID++
	ref := transport.MessageRef{ChatID: targetID, MessageID: f.nextID}
	f.sent = append(f.sent, Sent{Ref: ref, Text: text, Controls: controls})
	return ref, nil
}

func (f *Fake) EditMessage(_ context.Context, targetID int64, messageID int, text string, _ transport.Controls) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, Edited{ChatID: targetID, MessageID: messageID, Text: text})
	return nil
}

func (f *Fake) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailDelete {
		return ErrInjected
	}
	f.deleted = append(f.deleted, transport.MessageRef{ChatID: chatID, MessageID: messageID})
	return nil
}

func (f *Fake) BanMember(_ context.Context, chatID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailBan {
		return ErrInjected
	}
	f.banned = append(f.banned, Member{ChatID: chatID, UserID: userID})
	return nil
}

func (f *Fake) UnbanMember(_ context.Context, chatID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unbanned = append(f.unbanned, Member{ChatID: chatID, UserID: userID})
	return nil
}

func (f *Fake) ChatMemberStatus(_ context.Context, chatID, userID int64) (transport.MemberStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status, ok := f.statuses[Member{ChatID: chatID, UserID: userID}]; ok {
		return status, nil
	}
	return transport.StatusMember, nil
}

func (f *Fake) ChatInfo(_ context.Context, chatID int64) (transport.ChatInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.chats[chatID]
	if !ok {
		return transport.ChatInfo{}, ErrInjected
	}
	return info, nil
}

func (f *Fake) ExtendedProfile(_ context.Context, userID int64) (transport.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailProfile {
		return transport.Profile{}, ErrInjected
	}
	return f.profiles[userID], nil
}

func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// SentTo returns the messages delivered to one chat or user.
func (f *Fake) SentTo(targetID int64) []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Sent
	for _, s := range f.sent {
		if s.Ref.ChatID == targetID {
			out = append(out, s)
		}
	}
	return out
}

func (f *Fake) Edited() []Edited {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Edited(nil), f.edited...)
}

func (f *Fake) Deleted() []transport.MessageRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.MessageRef(nil), f.deleted...)
}

func (f *Fake) WasDeleted(chatID int64, messageID int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ref := range f.deleted {
		if ref.ChatID == chatID && ref.MessageID == messageID {
			return true
		}
	}
	return false
}

func (f *Fake) Banned() []Member {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Member(nil), f.banned...)
}

func (f *Fake) Unbanned() []Member {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Member(nil), f.unbanned...)
}
