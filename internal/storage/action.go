package storage

import "strings"

// Action is the remedial step an owner selected for confirmed violations.
type Action int

const (
	ActionBan Action = iota
	ActionDelete
	ActionWarn
)

func (a Action) String() string {
	switch a {
	case ActionDelete:
		return "delete"
	case ActionWarn:
		return "warn"
	default:
		return "ban"
	}
}

func ParseAction(value string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "ban":
		return ActionBan, true
	case "delete":
		return ActionDelete, true
	case "warn":
		return ActionWarn, true
	default:
		return ActionBan, false
	}
}
