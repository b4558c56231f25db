package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"clanbot/internal/clan"
	"clanbot/internal/storage"
	logx "clanbot/pkg/logx"
)

type fakeSettler struct {
	mu     sync.Mutex
	order  []int64
	failOn map[int64]error
	marker func(ctx context.Context, id int64)
}

func (f *fakeSettler) Settle(ctx context.Context, id int64) (clan.Outcome, error) {
	f.mu.Lock()
	f.order = append(f.order, id)
	err := f.failOn[id]
	f.mu.Unlock()
	if err != nil {
		return clan.Outcome{}, err
	}
	if f.marker != nil {
		f.marker(ctx, id)
	}
	return clan.Outcome{EntryCount: 1}, nil
}

func (f *fakeSettler) seen() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.order...)
}

type fakeNotifier struct {
	mu  sync.Mutex
	ids []int64
}

func (f *fakeNotifier) EventSettled(ctx context.Context, ev storage.Event, out clan.Outcome) {
	f.mu.Lock()
	f.ids = append(f.ids, ev.ID)
	f.mu.Unlock()
}

func openTestStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "clan.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRunNowSweepsOldestFirst(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	newer, _ := st.CreateEvent(ctx, storage.Event{Kind: storage.KindRaffle, Title: "b", DueAt: now.Add(-time.Minute)})
	older, _ := st.CreateEvent(ctx, storage.Event{Kind: storage.KindGiveaway, Title: "a", DueAt: now.Add(-time.Hour)})
	_, _ = st.CreateEvent(ctx, storage.Event{Kind: storage.KindPvm, Title: "c", DueAt: now.Add(time.Hour)})

	// the fake must mark events settled or every sweep would re-process them
	fs := &fakeSettler{marker: func(ctx context.Context, id int64) {
		_ = st.EventTx(ctx, id, func(tx storage.EventTx) error {
			return tx.MarkSettled("{}", time.Now())
		})
	}}
	fn := &fakeNotifier{}
	svc := New(Config{Interval: time.Minute}, st, fs, fn, logx.Nop())

	if err := svc.RunNow(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := fs.seen()
	if len(got) != 2 || got[0] != older || got[1] != newer {
		t.Fatalf("sweep order = %v, want [%d %d]", got, older, newer)
	}
	if len(fn.ids) != 2 {
		t.Fatalf("notified %d times, want 2", len(fn.ids))
	}

	// second sweep finds nothing due
	if err := svc.RunNow(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := fs.seen(); len(got) != 2 {
		t.Fatalf("settled events swept again: %v", got)
	}
}

func TestRunNowIsolatesFailures(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	bad, _ := st.CreateEvent(ctx, storage.Event{Kind: storage.KindSotw, Title: "bad", DueAt: now.Add(-2 * time.Hour)})
	good, _ := st.CreateEvent(ctx, storage.Event{Kind: storage.KindGiveaway, Title: "good", DueAt: now.Add(-time.Hour)})

	fs := &fakeSettler{
		failOn: map[int64]error{bad: errors.New("boom")},
		marker: func(ctx context.Context, id int64) {
			_ = st.EventTx(ctx, id, func(tx storage.EventTx) error {
				return tx.MarkSettled("{}", time.Now())
			})
		},
	}
	fn := &fakeNotifier{}
	svc := New(Config{Interval: time.Minute}, st, fs, fn, logx.Nop())

	if err := svc.RunNow(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := fs.seen()
	if len(got) != 2 || got[0] != bad || got[1] != good {
		t.Fatalf("sweep order = %v, want [%d %d]", got, bad, good)
	}
	if len(fn.ids) != 1 || fn.ids[0] != good {
		t.Fatalf("notify = %v, want [%d]", fn.ids, good)
	}
}

func TestRunNowSkipsAlreadySettled(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, _ := st.CreateEvent(ctx, storage.Event{Kind: storage.KindRaffle, Title: "r", DueAt: time.Now().Add(-time.Minute)})

	fs := &fakeSettler{failOn: map[int64]error{id: clan.ErrAlreadySettled}}
	fn := &fakeNotifier{}
	svc := New(Config{Interval: time.Minute}, st, fs, fn, logx.Nop())

	if err := svc.RunNow(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(fn.ids) != 0 {
		t.Fatalf("already settled event was notified: %v", fn.ids)
	}
}

func TestStartStop(t *testing.T) {
	st := openTestStore(t)
	svc := New(Config{Interval: time.Minute}, st, &fakeSettler{}, nil, logx.Nop())

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	// idempotent start
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	svc.Stop(stopCtx)
	svc.Stop(stopCtx)
}

func TestStartRejectsBadTimezone(t *testing.T) {
	st := openTestStore(t)
	svc := New(Config{Interval: time.Minute, Timezone: "Mars/Olympus"}, st, &fakeSettler{}, nil, logx.Nop())
	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("expected timezone error")
	}
}
