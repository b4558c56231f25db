package clan

import (
	"context"
	"errors"
	"fmt"
	"time"

	logx "clanbot/pkg/logx"

	"clanbot/internal/storage"
)

// MaxSelfTickets caps raffle tickets a member can buy for themselves.
// Admin-granted tickets are not counted against the cap.
const MaxSelfTickets = 10

// Receipt describes a recorded entry plus the counts the caller needs to
// update the interactive message.
type Receipt struct {
	Entry        storage.Entry
	TotalEntries int
	UserEntries  int
}

// Recorder validates and persists member participation in open events.
type Recorder struct {
	store storage.Store
	log   logx.Logger
	now   func() time.Time
}

func NewRecorder(store storage.Store, log logx.Logger) *Recorder {
	return &Recorder{store: store, log: log, now: time.Now}
}

// RecordEntry records one entry (giveaway/pvm/bingo signup, raffle ticket)
// for userID in event id. The whole check-then-insert runs in one event
// transaction, so concurrent taps cannot exceed limits or enter twice.
func (r *Recorder) RecordEntry(ctx context.Context, id int64, userID int64, username string, source storage.EntrySource) (Receipt, error) {
	var rec Receipt
	err := r.store.EventTx(ctx, id, func(tx storage.EventTx) error {
		ev := tx.Event()
		if ev.Status != storage.StatusOpen || ev.Settled() {
			return ErrEventClosed
		}
		if r.now().After(ev.DueAt) {
			// past due but not yet swept by the scheduler: treat as closed
			return ErrEventClosed
		}

		switch ev.Kind {
		case storage.KindRaffle:
			if source == storage.EntrySelf {
				n, err := tx.UserEntryCount(userID, storage.EntrySelf)
				if err != nil {
					return err
				}
				if n >= MaxSelfTickets {
					return fmt.Errorf("%w: max %d tickets", ErrEntryLimit, MaxSelfTickets)
				}
			}
		case storage.KindGiveaway, storage.KindPvm, storage.KindBingo, storage.KindSotw:
			self, err := tx.UserEntryCount(userID, storage.EntrySelf)
			if err != nil {
				return err
			}
			admin, err := tx.UserEntryCount(userID, storage.EntryAdmin)
			if err != nil {
				return err
			}
			if self+admin > 0 {
				return ErrDuplicateEntry
			}
		default:
			return fmt.Errorf("event %d: unknown kind %q", ev.ID, ev.Kind)
		}

		e, err := tx.InsertEntry(storage.Entry{
			UserID:    userID,
			Username:  username,
			Source:    source,
			CreatedAt: r.now(),
		})
		if err != nil {
			return err
		}
		total, err := tx.EntryCount()
		if err != nil {
			return err
		}
		self, err := tx.UserEntryCount(userID, storage.EntrySelf)
		if err != nil {
			return err
		}
		admin, err := tx.UserEntryCount(userID, storage.EntryAdmin)
		if err != nil {
			return err
		}
		rec = Receipt{Entry: e, TotalEntries: total, UserEntries: self + admin}
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return Receipt{}, ErrEventNotFound
	}
	if err != nil {
		return Receipt{}, err
	}

	r.log.Debug("entry recorded",
		logx.Int64("event", id), logx.Int64("user", userID),
		logx.String("source", string(source)), logx.Int("total", rec.TotalEntries))
	return rec, nil
}

// Cancel marks an open event canceled. Settled events cannot be canceled.
func (r *Recorder) Cancel(ctx context.Context, id int64) (storage.Event, error) {
	var out storage.Event
	err := r.store.EventTx(ctx, id, func(tx storage.EventTx) error {
		ev := tx.Event()
		if ev.Settled() {
			return ErrAlreadySettled
		}
		if ev.Status != storage.StatusOpen {
			return ErrEventClosed
		}
		if err := tx.SetStatus(storage.StatusCanceled); err != nil {
			return err
		}
		out = tx.Event()
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Event{}, ErrEventNotFound
	}
	if err != nil {
		return storage.Event{}, err
	}
	r.log.Info("event canceled", logx.Int64("event", id), logx.String("kind", string(out.Kind)))
	return out, nil
}
