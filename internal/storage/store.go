package storage

import (
	"context"
	"time"

	logx "clanbot/pkg/logx"
)

// Store is the persistence API used by the event lifecycle services.
//
// All mutations of a single event (entries, settlement, submission review)
// go through EventTx so concurrent callers observe a serial history per
// event.
type Store interface {
	CreateEvent(ctx context.Context, e Event) (int64, error)
	GetEvent(ctx context.Context, id int64) (Event, error)
	SetMessageRef(ctx context.Context, id, chatID, messageID int64) error
	DueEvents(ctx context.Context, now time.Time) ([]Event, error)
	ActiveEvents(ctx context.Context) ([]Event, error)
	ActiveByKind(ctx context.Context, kind Kind) ([]Event, error)
	ActiveWithMessageRef(ctx context.Context) ([]Event, error)

	// EventTx runs fn inside a transaction scoped to one event. The event
	// row is re-read inside the transaction, so fn always sees committed
	// state. Returning an error rolls everything back.
	EventTx(ctx context.Context, id int64, fn func(tx EventTx) error) error

	Entries(ctx context.Context, eventID int64) ([]Entry, error)

	AddPoints(ctx context.Context, le LedgerEntry) error
	// SpendPoints writes le, whose Delta must be negative, only if the
	// user's aggregated balance covers it (ErrInsufficientPoints otherwise).
	SpendPoints(ctx context.Context, le LedgerEntry) error
	PointsBalance(ctx context.Context, userID int64) (int64, error)
	PointsLeaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error)

	InsertSubmission(ctx context.Context, sub Submission) error
	GetSubmission(ctx context.Context, id string) (Submission, error)
	PendingSubmissions(ctx context.Context, eventID int64) ([]Submission, error)
	CompletedTiles(ctx context.Context, eventID int64) ([]CompletedTile, error)

	ListRewards(ctx context.Context) ([]Reward, error)
	GetReward(ctx context.Context, id int64) (Reward, error)
	UpsertReward(ctx context.Context, r Reward) (int64, error)

	LinkUser(ctx context.Context, l UserLink) error
	GetLink(ctx context.Context, userID int64) (UserLink, bool, error)
	LinkByRSN(ctx context.Context, rsn string) (UserLink, bool, error)

	Close() error
}

// EventTx is the per-event mutation scope handed to EventTx callbacks.
type EventTx interface {
	// Event returns the row as read at transaction start.
	Event() Event

	Entries() ([]Entry, error)
	EntryCount() (int, error)
	UserEntryCount(userID int64, source EntrySource) (int, error)
	InsertEntry(e Entry) (Entry, error)

	SetStatus(st Status) error

	// MarkSettled closes the event and records the outcome. It fails with
	// ErrNotFound semantics only through Event(); callers must check
	// Event().Settled() first for idempotence.
	MarkSettled(outcome string, at time.Time) error

	AddLedger(le LedgerEntry) error

	ReviewSubmission(id string, st SubmissionStatus, reviewer int64, at time.Time) (Submission, error)
	CompleteTile(tile int, userID int64, at time.Time) error

	// CompletedTiles reads the event's completed tiles through the open
	// transaction, so settlement snapshots cannot miss a concurrent approval.
	CompletedTiles() ([]CompletedTile, error)
}

// Open initializes the sqlite store at cfg.Path.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
