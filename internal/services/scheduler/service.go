package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"clanbot/internal/clan"
	"clanbot/internal/storage"
	logx "clanbot/pkg/logx"
)

// Settler resolves one due event. Implemented by the settlement engine.
type Settler interface {
	Settle(ctx context.Context, id int64) (clan.Outcome, error)
}

// Notifier is told about each settled event after its transaction committed.
// Implementations are best effort; failures never affect settlement.
type Notifier interface {
	EventSettled(ctx context.Context, ev storage.Event, out clan.Outcome)
}

type Config struct {
	Interval time.Duration
	Timezone string
}

// Service sweeps due events on a fixed interval. Ticks never overlap: cron
// skips a tick while the previous one still runs, and RunNow serializes on
// the same lock.
type Service struct {
	cfg    Config
	store  storage.Store
	engine Settler
	notify Notifier
	log    logx.Logger

	tickMu sync.Mutex

	mu     sync.Mutex
	c      *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc
}

func New(cfg Config, store storage.Store, engine Settler, notify Notifier, log logx.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Service{cfg: cfg, store: store, engine: engine, notify: notify, log: log}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	loc := time.Local
	if s.cfg.Timezone != "" {
		l, err := time.LoadLocation(s.cfg.Timezone)
		if err != nil {
			return fmt.Errorf("scheduler timezone: %w", err)
		}
		loc = l
	}

	s.runCtx, s.cancel = context.WithCancel(ctx)
	runCtx := s.runCtx

	clog := cronLogger{log: s.log}
	c := cron.New(cron.WithLocation(loc), cron.WithLogger(clog))
	job := cron.NewChain(cron.SkipIfStillRunning(clog)).Then(cron.FuncJob(func() {
		if err := s.RunNow(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("sweep failed", logx.Err(err))
		}
	}))
	if _, err := c.AddJob(fmt.Sprintf("@every %s", s.cfg.Interval), job); err != nil {
		return err
	}

	s.c = c
	c.Start()
	s.log.Info("scheduler started",
		logx.Duration("interval", s.cfg.Interval), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-c.Stop().Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out")
	}
}

// RunNow performs one synchronous sweep of all due events, oldest first.
// A failing event is logged and skipped; it does not block the others.
func (s *Service) RunNow(ctx context.Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	due, err := s.store.DueEvents(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("list due events: %w", err)
	}
	if len(due) == 0 {
		return nil
	}
	s.log.Debug("sweeping due events", logx.Int("count", len(due)))

	for _, ev := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		out, err := s.engine.Settle(ctx, ev.ID)
		if errors.Is(err, clan.ErrAlreadySettled) || errors.Is(err, clan.ErrEventClosed) {
			continue
		}
		if err != nil {
			s.log.Error("settle failed",
				logx.Int64("event", ev.ID), logx.String("kind", string(ev.Kind)), logx.Err(err))
			continue
		}
		if s.notify != nil {
			s.notify.EventSettled(ctx, ev, out)
		}
	}
	return nil
}

// cronLogger adapts logx to the cron.Logger interface.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Warn("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
