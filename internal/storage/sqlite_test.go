package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "clanbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "clan.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestEventRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	due := time.Now().Add(time.Hour)
	id, err := st.CreateEvent(ctx, Event{
		Kind:        KindGiveaway,
		Title:       "bond giveaway",
		DueAt:       due,
		WinnerCount: 2,
		CreatedBy:   42,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	e, err := st.GetEvent(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.Kind != KindGiveaway || e.Title != "bond giveaway" || e.WinnerCount != 2 {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.Status != StatusOpen || e.Settled() {
		t.Fatalf("new event should be open and unsettled: %+v", e)
	}
	if !e.DueAt.Equal(due) {
		t.Fatalf("due_at mismatch: got %v want %v", e.DueAt, due)
	}

	if _, err := st.GetEvent(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing event: got %v, want ErrNotFound", err)
	}
}

func TestCreateEventRejectsUnknownKind(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.CreateEvent(context.Background(), Event{Kind: "party", DueAt: time.Now()}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestDueEventsOrderAndFilter(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	late, _ := st.CreateEvent(ctx, Event{Kind: KindRaffle, Title: "late", DueAt: now.Add(-time.Minute)})
	early, _ := st.CreateEvent(ctx, Event{Kind: KindGiveaway, Title: "early", DueAt: now.Add(-time.Hour)})
	_, _ = st.CreateEvent(ctx, Event{Kind: KindPvm, Title: "future", DueAt: now.Add(time.Hour)})

	due, err := st.DueEvents(ctx, now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("want 2 due events, got %d", len(due))
	}
	if due[0].ID != early || due[1].ID != late {
		t.Fatalf("due order wrong: %d, %d (want %d, %d)", due[0].ID, due[1].ID, early, late)
	}

	// settle one; it must drop out of the due set
	err = st.EventTx(ctx, early, func(tx EventTx) error {
		return tx.MarkSettled(`{"winners":[]}`, time.Now())
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	due, err = st.DueEvents(ctx, now)
	if err != nil {
		t.Fatalf("due after settle: %v", err)
	}
	if len(due) != 1 || due[0].ID != late {
		t.Fatalf("want only %d due, got %+v", late, due)
	}
}

func TestEventTxEntriesAndSettleOnce(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, _ := st.CreateEvent(ctx, Event{Kind: KindRaffle, Title: "raffle", DueAt: time.Now()})

	err := st.EventTx(ctx, id, func(tx EventTx) error {
		for i := 0; i < 3; i++ {
			if _, err := tx.InsertEntry(Entry{UserID: 100, Username: "alice"}); err != nil {
				return err
			}
		}
		if _, err := tx.InsertEntry(Entry{UserID: 200, Username: "bob", Source: EntryAdmin}); err != nil {
			return err
		}
		n, err := tx.EntryCount()
		if err != nil {
			return err
		}
		if n != 4 {
			t.Fatalf("entry count = %d, want 4", n)
		}
		self, err := tx.UserEntryCount(100, EntrySelf)
		if err != nil {
			return err
		}
		if self != 3 {
			t.Fatalf("self count = %d, want 3", self)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	if err := st.EventTx(ctx, id, func(tx EventTx) error {
		return tx.MarkSettled(`{"winners":[100]}`, time.Now())
	}); err != nil {
		t.Fatalf("first settle: %v", err)
	}

	// second settle attempt must be rejected by the row guard
	err = st.EventTx(ctx, id, func(tx EventTx) error {
		if !tx.Event().Settled() {
			t.Fatal("re-read event should report settled")
		}
		return tx.MarkSettled(`{"winners":[200]}`, time.Now())
	})
	if err == nil {
		t.Fatal("second MarkSettled should fail")
	}

	e, _ := st.GetEvent(ctx, id)
	if e.Outcome != `{"winners":[100]}` {
		t.Fatalf("outcome overwritten: %q", e.Outcome)
	}
}

func TestEventTxRollback(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, _ := st.CreateEvent(ctx, Event{Kind: KindGiveaway, Title: "g", DueAt: time.Now()})
	boom := errors.New("boom")
	err := st.EventTx(ctx, id, func(tx EventTx) error {
		if _, err := tx.InsertEntry(Entry{UserID: 1}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}

	entries, err := st.Entries(ctx, id)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("rollback leaked %d entries", len(entries))
	}
}

func TestPointsLedger(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	add := func(id string, user int64, delta int64) {
		t.Helper()
		if err := st.AddPoints(ctx, LedgerEntry{ID: id, UserID: user, Delta: delta, Reason: "test"}); err != nil {
			t.Fatalf("add points: %v", err)
		}
	}
	add("a", 1, 100)
	add("b", 1, -30)
	add("c", 2, 50)

	bal, err := st.PointsBalance(ctx, 1)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != 70 {
		t.Fatalf("balance = %d, want 70", bal)
	}
	if bal, _ := st.PointsBalance(ctx, 99); bal != 0 {
		t.Fatalf("empty balance = %d, want 0", bal)
	}

	lb, err := st.PointsLeaderboard(ctx, 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb) != 2 || lb[0].UserID != 1 || lb[0].Total != 70 || lb[1].UserID != 2 {
		t.Fatalf("leaderboard wrong: %+v", lb)
	}

	// duplicate ledger id must be rejected, the ledger is append-only
	if err := st.AddPoints(ctx, LedgerEntry{ID: "a", UserID: 1, Delta: 5}); err == nil {
		t.Fatal("duplicate ledger id accepted")
	}
}

func TestSpendPointsGuard(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.AddPoints(ctx, LedgerEntry{ID: "seed", UserID: 1, Delta: 60, Reason: "test"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// overdraw is refused without writing anything
	err := st.SpendPoints(ctx, LedgerEntry{ID: "big", UserID: 1, Delta: -100, Reason: "redeem"})
	if !errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("overdraw: got %v, want ErrInsufficientPoints", err)
	}
	if bal, _ := st.PointsBalance(ctx, 1); bal != 60 {
		t.Fatalf("balance after refused spend = %d, want 60", bal)
	}

	if err := st.SpendPoints(ctx, LedgerEntry{ID: "ok", UserID: 1, Delta: -60, Reason: "redeem"}); err != nil {
		t.Fatalf("exact spend: %v", err)
	}
	if bal, _ := st.PointsBalance(ctx, 1); bal != 0 {
		t.Fatalf("balance after spend = %d, want 0", bal)
	}

	// an empty ledger covers nothing
	err = st.SpendPoints(ctx, LedgerEntry{ID: "none", UserID: 9, Delta: -1, Reason: "redeem"})
	if !errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("empty ledger: got %v, want ErrInsufficientPoints", err)
	}

	// positive deltas belong to AddPoints
	if err := st.SpendPoints(ctx, LedgerEntry{ID: "pos", UserID: 1, Delta: 5, Reason: "redeem"}); err == nil {
		t.Fatal("positive spend accepted")
	}
}

func TestSubmissionReviewFlow(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, _ := st.CreateEvent(ctx, Event{Kind: KindBingo, Title: "bingo", DueAt: time.Now().Add(time.Hour)})
	sub := Submission{ID: "s1", EventID: id, UserID: 7, Username: "carol", Tile: 12, Proof: "https://img"}
	if err := st.InsertSubmission(ctx, sub); err != nil {
		t.Fatalf("insert submission: %v", err)
	}

	pending, err := st.PendingSubmissions(ctx, id)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "s1" || pending[0].Status != SubmissionPending {
		t.Fatalf("pending wrong: %+v", pending)
	}

	err = st.EventTx(ctx, id, func(tx EventTx) error {
		got, err := tx.ReviewSubmission("s1", SubmissionApproved, 99, time.Now())
		if err != nil {
			return err
		}
		if got.Status != SubmissionApproved || got.ReviewedBy != 99 {
			t.Fatalf("review result wrong: %+v", got)
		}
		return tx.CompleteTile(got.Tile, got.UserID, time.Now())
	})
	if err != nil {
		t.Fatalf("review tx: %v", err)
	}

	// reviewing the same submission again hits the pending-only guard
	err = st.EventTx(ctx, id, func(tx EventTx) error {
		_, err := tx.ReviewSubmission("s1", SubmissionRejected, 99, time.Now())
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("double review: got %v, want ErrNotFound", err)
	}

	tiles, err := st.CompletedTiles(ctx, id)
	if err != nil {
		t.Fatalf("tiles: %v", err)
	}
	if len(tiles) != 1 || tiles[0].Tile != 12 || tiles[0].UserID != 7 {
		t.Fatalf("tiles wrong: %+v", tiles)
	}
}

func TestUserLinks(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.LinkUser(ctx, UserLink{UserID: 5, Username: "dave", RSN: "Zezima"}); err != nil {
		t.Fatalf("link: %v", err)
	}
	// relink overwrites
	if err := st.LinkUser(ctx, UserLink{UserID: 5, Username: "dave", RSN: "Lynx Titan"}); err != nil {
		t.Fatalf("relink: %v", err)
	}

	l, ok, err := st.GetLink(ctx, 5)
	if err != nil || !ok {
		t.Fatalf("get link: ok=%v err=%v", ok, err)
	}
	if l.RSN != "Lynx Titan" {
		t.Fatalf("rsn = %q", l.RSN)
	}

	l, ok, err = st.LinkByRSN(ctx, "lynx titan")
	if err != nil || !ok {
		t.Fatalf("by rsn: ok=%v err=%v", ok, err)
	}
	if l.UserID != 5 {
		t.Fatalf("user = %d", l.UserID)
	}

	if _, ok, _ := st.GetLink(ctx, 404); ok {
		t.Fatal("missing link reported found")
	}
}

func TestRewards(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.UpsertReward(ctx, Reward{Name: "bond", Cost: 500, Enabled: true})
	if err != nil {
		t.Fatalf("insert reward: %v", err)
	}
	_, _ = st.UpsertReward(ctx, Reward{Name: "rank", Cost: 100, Enabled: true})
	_, _ = st.UpsertReward(ctx, Reward{Name: "retired", Cost: 1, Enabled: false})

	list, err := st.ListRewards(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Name != "rank" {
		t.Fatalf("list wrong: %+v", list)
	}

	if _, err := st.UpsertReward(ctx, Reward{ID: id, Name: "bond", Cost: 600, Enabled: true}); err != nil {
		t.Fatalf("update: %v", err)
	}
	r, err := st.GetReward(ctx, id)
	if err != nil || r.Cost != 600 {
		t.Fatalf("get after update: %+v err=%v", r, err)
	}
}
