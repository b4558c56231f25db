package clan

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"clanbot/internal/storage"
	logx "clanbot/pkg/logx"
)

func openTestStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "clan.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustCreate(t *testing.T, st storage.Store, e storage.Event) int64 {
	t.Helper()
	if e.DueAt.IsZero() {
		e.DueAt = time.Now().Add(time.Hour)
	}
	id, err := st.CreateEvent(context.Background(), e)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return id
}

func TestRecordEntryGiveawayOncePerUser(t *testing.T) {
	st := openTestStore(t)
	rec := NewRecorder(st, logx.Nop())
	ctx := context.Background()

	id := mustCreate(t, st, storage.Event{Kind: storage.KindGiveaway, Title: "g"})

	r, err := rec.RecordEntry(ctx, id, 10, "alice", storage.EntrySelf)
	if err != nil {
		t.Fatalf("first entry: %v", err)
	}
	if r.TotalEntries != 1 || r.UserEntries != 1 {
		t.Fatalf("receipt wrong: %+v", r)
	}

	if _, err := rec.RecordEntry(ctx, id, 10, "alice", storage.EntrySelf); !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("duplicate: got %v, want ErrDuplicateEntry", err)
	}

	r, err = rec.RecordEntry(ctx, id, 11, "bob", storage.EntrySelf)
	if err != nil {
		t.Fatalf("second user: %v", err)
	}
	if r.TotalEntries != 2 {
		t.Fatalf("total = %d, want 2", r.TotalEntries)
	}
}

func TestRecordEntryConcurrentDuplicates(t *testing.T) {
	st := openTestStore(t)
	rec := NewRecorder(st, logx.Nop())
	ctx := context.Background()

	id := mustCreate(t, st, storage.Event{Kind: storage.KindGiveaway, Title: "burst"})

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rec.RecordEntry(ctx, id, 10, "alice", storage.EntrySelf)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicateEntry):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != n-1 {
		t.Fatalf("ok = %d, dup = %d, want 1 and %d", ok, dup, n-1)
	}

	entries, err := st.Entries(ctx, id)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("stored entries = %d, want 1", len(entries))
	}
}

func TestRecordEntryRaffleTicketCap(t *testing.T) {
	st := openTestStore(t)
	rec := NewRecorder(st, logx.Nop())
	ctx := context.Background()

	id := mustCreate(t, st, storage.Event{Kind: storage.KindRaffle, Title: "r"})

	for i := 0; i < MaxSelfTickets; i++ {
		if _, err := rec.RecordEntry(ctx, id, 10, "alice", storage.EntrySelf); err != nil {
			t.Fatalf("ticket %d: %v", i+1, err)
		}
	}
	if _, err := rec.RecordEntry(ctx, id, 10, "alice", storage.EntrySelf); !errors.Is(err, ErrEntryLimit) {
		t.Fatalf("over cap: got %v, want ErrEntryLimit", err)
	}

	// admin grants bypass the cap
	r, err := rec.RecordEntry(ctx, id, 10, "alice", storage.EntryAdmin)
	if err != nil {
		t.Fatalf("admin grant: %v", err)
	}
	if r.UserEntries != MaxSelfTickets+1 {
		t.Fatalf("user entries = %d, want %d", r.UserEntries, MaxSelfTickets+1)
	}
}

func TestRecordEntryClosedAndMissing(t *testing.T) {
	st := openTestStore(t)
	rec := NewRecorder(st, logx.Nop())
	ctx := context.Background()

	if _, err := rec.RecordEntry(ctx, 404, 1, "x", storage.EntrySelf); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("missing: got %v, want ErrEventNotFound", err)
	}

	// past due counts as closed even before the sweep
	past := mustCreate(t, st, storage.Event{Kind: storage.KindGiveaway, Title: "p", DueAt: time.Now().Add(-time.Minute)})
	if _, err := rec.RecordEntry(ctx, past, 1, "x", storage.EntrySelf); !errors.Is(err, ErrEventClosed) {
		t.Fatalf("past due: got %v, want ErrEventClosed", err)
	}

	// settled event rejects entries
	id := mustCreate(t, st, storage.Event{Kind: storage.KindGiveaway, Title: "s"})
	if err := st.EventTx(ctx, id, func(tx storage.EventTx) error {
		return tx.MarkSettled("{}", time.Now())
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, err := rec.RecordEntry(ctx, id, 1, "x", storage.EntrySelf); !errors.Is(err, ErrEventClosed) {
		t.Fatalf("settled: got %v, want ErrEventClosed", err)
	}
}

func TestCancel(t *testing.T) {
	st := openTestStore(t)
	rec := NewRecorder(st, logx.Nop())
	ctx := context.Background()

	id := mustCreate(t, st, storage.Event{Kind: storage.KindPvm, Title: "mass"})
	ev, err := rec.Cancel(ctx, id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if ev.Status != storage.StatusCanceled {
		t.Fatalf("status = %q", ev.Status)
	}

	if _, err := rec.Cancel(ctx, id); !errors.Is(err, ErrEventClosed) {
		t.Fatalf("double cancel: got %v, want ErrEventClosed", err)
	}
	if _, err := rec.RecordEntry(ctx, id, 1, "x", storage.EntrySelf); !errors.Is(err, ErrEventClosed) {
		t.Fatalf("entry after cancel: got %v, want ErrEventClosed", err)
	}

	settled := mustCreate(t, st, storage.Event{Kind: storage.KindPvm, Title: "done"})
	if err := st.EventTx(ctx, settled, func(tx storage.EventTx) error {
		return tx.MarkSettled("{}", time.Now())
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, err := rec.Cancel(ctx, settled); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("cancel settled: got %v, want ErrAlreadySettled", err)
	}
}
