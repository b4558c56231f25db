package recovery

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"clanbot/internal/storage"
	"clanbot/internal/surfaces"
	kit "clanbot/internal/transport"
	logx "clanbot/pkg/logx"
)

type fakeSweeper struct {
	calls int
	err   error
}

func (f *fakeSweeper) RunNow(ctx context.Context) error {
	f.calls++
	return f.err
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

func TestRunReattachesAndSweeps(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	due := time.Now().Add(time.Hour)

	withRef, _ := st.CreateEvent(ctx, storage.Event{Kind: storage.KindGiveaway, Title: "a", DueAt: due})
	_ = st.SetMessageRef(ctx, withRef, -100, 11)

	// active but never announced: nothing to attach
	_, _ = st.CreateEvent(ctx, storage.Event{Kind: storage.KindRaffle, Title: "b", DueAt: due})

	// settled event with a ref must not be attached
	settled, _ := st.CreateEvent(ctx, storage.Event{Kind: storage.KindPvm, Title: "c", DueAt: due})
	_ = st.SetMessageRef(ctx, settled, -100, 12)
	if err := st.EventTx(ctx, settled, func(tx storage.EventTx) error {
		return tx.MarkSettled("{}", time.Now())
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	reg := surfaces.NewRegistry()
	sw := &fakeSweeper{}
	svc := New(st, reg, sw, logx.Nop())

	if err := svc.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("attached = %d, want 1", reg.Len())
	}
	ref, ok := reg.RefFor(withRef)
	if !ok || ref != (kit.MessageRef{ChatID: -100, MessageID: 11}) {
		t.Fatalf("ref = %+v, %v", ref, ok)
	}
	if sw.calls != 1 {
		t.Fatalf("sweep calls = %d, want 1", sw.calls)
	}
}

func TestRunPropagatesSweepError(t *testing.T) {
	st := openTestStore(t)
	reg := surfaces.NewRegistry()
	boom := errors.New("boom")
	svc := New(st, reg, &fakeSweeper{err: boom}, logx.Nop())

	if err := svc.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}
