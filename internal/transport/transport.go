package transport

import "context"

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type Button struct {
	Text string
	Data string
}

// Controls are rows of inline buttons attached to a message.
type Controls [][]Button

type MemberStatus string

const (
	StatusCreator       MemberStatus = "creator"
	StatusAdministrator MemberStatus = "administrator"
	StatusMember        MemberStatus = "member"
	StatusRestricted    MemberStatus = "restricted"
	StatusLeft          MemberStatus = "left"
	StatusKicked        MemberStatus = "kicked"
)

func (s MemberStatus) IsAdmin() bool {
	return s == StatusCreator || s == StatusAdministrator
}

type ChatInfo struct {
	ID    int64
	Title string
}

// Profile is whatever the platform exposes about a user; every field may be empty.
type Profile struct {
	Bio          string
	Description  string
	LinkedChatID int64
	Pinned       *PinnedMessage
}

type PinnedMessage struct {
	Text  string
	Links []string
}

type Transport interface {
	SendMessage(ctx context.Context, targetID int64, text string, controls Controls) (MessageRef, error)
	EditMessage(ctx context.Context, targetID int64, messageID int, text string, controls Controls) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	BanMember(ctx context.Context, chatID, userID int64) error
	UnbanMember(ctx context.Context, chatID, userID int64) error
	ChatMemberStatus(ctx context.Context, chatID, userID int64) (MemberStatus, error)
	ChatInfo(ctx context.Context, chatID int64) (ChatInfo, error)
	ExtendedProfile(ctx context.Context, userID int64) (Profile, error)
}

// User is the author of an inbound message.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	IsBot     bool
}

// DisplayName is "@username" when set, the first name otherwise.
func (u User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return u.FirstName
}

// Mention is the "@username or first name" form used in chat notices.
func (u User) Mention() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return "@" + u.FirstName
}
