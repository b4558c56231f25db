package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"clanbot/internal/ai"
	"clanbot/internal/clan"
	"clanbot/internal/config"
	"clanbot/internal/presenter"
	"clanbot/internal/runtime/supervisor"
	"clanbot/internal/services/recovery"
	"clanbot/internal/services/scheduler"
	"clanbot/internal/storage"
	"clanbot/internal/surfaces"
	kit "clanbot/internal/transport"
	"clanbot/internal/transport/telegram"
	"clanbot/internal/wom"
	logx "clanbot/pkg/logx"
)

// App wires storage, the settlement engine, the scheduler and the chat
// adapter together and owns their lifecycle. Startup is two-phase: recovery
// re-attaches surfaces and settles the backlog before the scheduler starts
// and before any update is handled.
type App struct {
	cfgPath string
	cfgm    *config.Manager

	logs *logx.Service
	log  logx.Logger

	adapter  kit.Adapter
	store    storage.Store
	reg      *surfaces.Registry
	recorder *clan.Recorder
	engine   *clan.Engine
	present  *presenter.Presenter
	sched    *scheduler.Service
	recover  *recovery.Service
	womc     *wom.Client

	adminMu sync.RWMutex
	admins  map[int64]bool

	sup     *supervisor.Supervisor
	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole(cfg.Logging.Level)
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}, adapter)
	if chatID := parseChatID(cfg.Telegram.GroupLog); chatID != 0 {
		logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}

	busyTimeout, err := config.ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	womc := wom.NewClient(wom.Config{
		BaseURL:          cfg.WOM.BaseURL,
		ClanID:           cfg.WOM.ClanID,
		VerificationCode: cfg.WOM.VerificationCode,
	}, log.With(logx.String("comp", "wom")))

	flavor := ai.NewClient(ai.Config{
		Enabled: cfg.AI.Enabled,
		APIKey:  cfg.AI.APIKey,
		BaseURL: cfg.AI.BaseURL,
		Model:   cfg.AI.Model,
	}, log.With(logx.String("comp", "ai")))

	reg := surfaces.NewRegistry()
	recorder := clan.NewRecorder(store, log.With(logx.String("comp", "recorder")))
	engine := clan.NewEngine(store, womc, log.With(logx.String("comp", "engine")))
	present := presenter.New(presenter.Config{
		Channels: map[storage.Kind]int64{
			storage.KindGiveaway: cfg.Channels.Giveaway,
			storage.KindRaffle:   cfg.Channels.Raffle,
			storage.KindPvm:      cfg.Channels.Pvm,
			storage.KindBingo:    cfg.Channels.Bingo,
			storage.KindSotw:     cfg.Channels.Sotw,
		},
		Default: cfg.Channels.Announce,
	}, adapter, store, reg, flavor, log.With(logx.String("comp", "presenter")))

	interval, err := config.ParseDuration("scheduler.interval", cfg.Scheduler.Interval, time.Minute)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(scheduler.Config{
		Interval: interval,
		Timezone: cfg.Scheduler.Timezone,
	}, store, engine, present, log.With(logx.String("comp", "scheduler")))

	recov := recovery.New(store, reg, sched, log.With(logx.String("comp", "recovery")))

	admins := make(map[int64]bool, len(cfg.Telegram.AdminUserIDs))
	for _, id := range cfg.Telegram.AdminUserIDs {
		admins[id] = true
	}

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		logs:     logs,
		log:      log.With(logx.String("comp", "app")),
		adapter:  adapter,
		store:    store,
		reg:      reg,
		recorder: recorder,
		engine:   engine,
		present:  present,
		sched:    sched,
		recover:  recov,
		womc:     womc,
		admins:   admins,
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0); err != nil {
			return err
		}
		if _, err := config.ParseDuration("scheduler.interval", cfg.Scheduler.Interval, 0); err != nil {
			return err
		}
		if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
			}
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	// Phase one: recovery must finish before the scheduler runs or any
	// button press is handled.
	rctx, cancel := context.WithTimeout(a.sup.Context(), 2*time.Minute)
	err := a.recover.Run(rctx)
	cancel()
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	// Phase two: periodic sweeps and update handling.
	cfg := a.cfgm.Get()
	if cfg == nil || cfg.Scheduler.Enabled {
		if err := a.sched.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	a.sup.Go("dispatch", func(c context.Context) error {
		return a.dispatchLoop(c)
	})
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(newCfg)
			}
		}
	})

	a.log.Info("started", logx.Int("surfaces", a.reg.Len()))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	a.sched.Stop(ctx)
	_ = a.adapter.Stop(ctx)
	if a.sup != nil {
		_ = a.sup.Stop(ctx)
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	_ = a.logs.Close()
	return nil
}

// applyConfig handles the hot-reloadable subset: logging sinks, log target
// and the admin list. Token, storage path and channels need a restart.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	})
	if chatID := parseChatID(cfg.Telegram.GroupLog); chatID != 0 {
		a.logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}

	admins := make(map[int64]bool, len(cfg.Telegram.AdminUserIDs))
	for _, id := range cfg.Telegram.AdminUserIDs {
		admins[id] = true
	}
	a.adminMu.Lock()
	a.admins = admins
	a.adminMu.Unlock()
	a.log.Info("config applied")
}

func (a *App) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up := <-a.updates:
			hctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			switch up.Kind {
			case kit.UpdateMessage:
				if up.Message != nil {
					a.handleMessage(hctx, up.Message)
				}
			case kit.UpdateCallback:
				if up.Callback != nil {
					a.handleCallback(hctx, up.Callback)
				}
			}
			cancel()
		}
	}
}

func parseChatID(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
