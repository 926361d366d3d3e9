package tracker

import "time"

// EventSource says which polling path detected a stream start.
type EventSource int

const (
	SourceBatch EventSource = iota
	SourcePriority
)

func (s EventSource) String() string {
	if s == SourcePriority {
		return "priority"
	}
	return "batch"
}

// StreamEvent is one newly-started broadcast.
type StreamEvent struct {
	UserID      string
	Login       string
	DisplayName string
	StreamID    string
	Title       string
	GameID      string
	GameName    string
	ViewerCount int
	StartedAt   time.Time
	Source      EventSource
}

// ChangeKind classifies identity changes detected during reconciliation.
type ChangeKind int

const (
	// TierChange is a broadcaster_type transition (e.g. affiliate -> partner).
	TierChange ChangeKind = iota
	// DisplayNameChange is a display-name edit with the handle unchanged.
	DisplayNameChange
	// LoginChange is a handle change recovered through the id-based reverse
	// lookup.
	LoginChange
)

func (k ChangeKind) String() string {
	switch k {
	case TierChange:
		return "tier"
	case DisplayNameChange:
		return "display_name"
	default:
		return "login"
	}
}

// ChangeEvent carries before/after values for one identity change. Events
// accumulate during reconciliation and are flushed once per cycle.
type ChangeEvent struct {
	Kind   ChangeKind
	UserID string
	Login  string // current login after the change
	Before string
	After  string
}
