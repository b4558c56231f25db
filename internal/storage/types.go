package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrInsufficientPoints is returned by SpendPoints when the user's
	// aggregated balance does not cover the debit.
	ErrInsufficientPoints = errors.New("storage: insufficient points")
)

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Kind identifies the lifecycle shape of an event.
type Kind string

const (
	KindGiveaway Kind = "giveaway"
	KindRaffle   Kind = "raffle"
	KindPvm      Kind = "pvm"
	KindBingo    Kind = "bingo"
	KindSotw     Kind = "sotw"
)

func (k Kind) Valid() bool {
	switch k {
	case KindGiveaway, KindRaffle, KindPvm, KindBingo, KindSotw:
		return true
	}
	return false
}

type Status string

const (
	StatusOpen     Status = "open"
	StatusClosed   Status = "closed"
	StatusCanceled Status = "canceled"
)

// Event is one row of the polymorphic events table. Kind-specific data
// (competition id, bingo board) rides in Meta as JSON; settlement results
// land in Outcome as JSON.
type Event struct {
	ID          int64
	Kind        Kind
	Title       string
	Detail      string
	Status      Status
	DueAt       time.Time
	WinnerCount int
	ChatID      int64
	MessageID   int64
	Meta        string
	Outcome     string
	CreatedBy   int64
	CreatedAt   time.Time
	SettledAt   time.Time // zero until settled
}

// Settled reports whether settlement already ran for this event.
func (e Event) Settled() bool { return !e.SettledAt.IsZero() }

// HasMessageRef reports whether the event has a persisted interactive
// message that recovery should re-attach to.
func (e Event) HasMessageRef() bool { return e.ChatID != 0 && e.MessageID != 0 }

// EntrySource distinguishes member self-entries from admin grants.
type EntrySource string

const (
	EntrySelf  EntrySource = "self"
	EntryAdmin EntrySource = "admin"
)

type Entry struct {
	ID        int64
	EventID   int64
	UserID    int64
	Username  string
	Source    EntrySource
	CreatedAt time.Time
}

type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionRejected SubmissionStatus = "rejected"
)

// Submission is a bingo tile completion claim awaiting review.
type Submission struct {
	ID         string
	EventID    int64
	UserID     int64
	Username   string
	Tile       int
	Proof      string
	Status     SubmissionStatus
	ReviewedBy int64
	CreatedAt  time.Time
	ReviewedAt time.Time
}

type CompletedTile struct {
	EventID     int64
	Tile        int
	UserID      int64
	CompletedAt time.Time
}

// LedgerEntry is one immutable point movement. Balances are derived by
// summing the ledger, never stored.
type LedgerEntry struct {
	ID        string
	UserID    int64
	Delta     int64
	Reason    string
	EventID   int64 // 0 when not tied to an event
	CreatedAt time.Time
}

type LeaderboardRow struct {
	UserID   int64
	Username string
	Total    int64
}

// Reward is a redeemable item in the point store.
type Reward struct {
	ID      int64
	Name    string
	Cost    int64
	Enabled bool
}

// UserLink ties a chat user to their in-game name for competition lookups.
type UserLink struct {
	UserID    int64
	Username  string
	RSN       string
	CreatedAt time.Time
}
