// Package presenter owns every user-facing surface: event announcements
// with their inline buttons, entry-count refreshes, and settlement posts.
// Everything here is best effort. Presentation failures are logged and
// swallowed; they never roll back or retry settlement.
package presenter

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"clanbot/internal/clan"
	"clanbot/internal/storage"
	"clanbot/internal/surfaces"
	kit "clanbot/internal/transport"
	logx "clanbot/pkg/logx"
)

// FlavorSource produces optional announcement flavor text. Implemented by
// the ai client; a failure or empty string just means a plain announcement.
type FlavorSource interface {
	FlavorText(ctx context.Context, ev storage.Event) (string, error)
}

type Config struct {
	// Channels maps event kinds to chat ids. Kinds without an entry fall
	// back to Default.
	Channels map[storage.Kind]int64
	Default  int64
}

func (c Config) chatFor(k storage.Kind) int64 {
	if id, ok := c.Channels[k]; ok && id != 0 {
		return id
	}
	return c.Default
}

type Presenter struct {
	cfg     Config
	adapter kit.Adapter
	store   storage.Store
	reg     *surfaces.Registry
	flavor  FlavorSource
	log     logx.Logger
	limiter *rate.Limiter
}

func New(cfg Config, adapter kit.Adapter, store storage.Store, reg *surfaces.Registry, flavor FlavorSource, log logx.Logger) *Presenter {
	return &Presenter{
		cfg:     cfg,
		adapter: adapter,
		store:   store,
		reg:     reg,
		flavor:  flavor,
		log:     log,
		// Telegram allows ~20 msg/min per group; stay well under it.
		limiter: rate.NewLimiter(rate.Every(3*time.Second), 5),
	}
}

// Announce posts the interactive message for a newly created event,
// persists its ref for recovery, and attaches it to the registry.
func (p *Presenter) Announce(ctx context.Context, ev storage.Event) (kit.MessageRef, error) {
	chatID := p.cfg.chatFor(ev.Kind)
	if chatID == 0 {
		p.log.Warn("no channel configured", logx.String("kind", string(ev.Kind)))
		return kit.MessageRef{}, nil
	}

	text, markup := renderOpen(ev, p.flavorText(ctx, ev), 0)
	if err := p.limiter.Wait(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	ref, err := p.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text.String(), &kit.SendOptions{
		ParseMode:          kit.ParseModeHTML,
		ReplyMarkupAdapter: markup,
	})
	if err != nil {
		return kit.MessageRef{}, err
	}

	if err := p.store.SetMessageRef(ctx, ev.ID, ref.ChatID, int64(ref.MessageID)); err != nil {
		p.log.Error("persist message ref failed", logx.Int64("event", ev.ID), logx.Err(err))
	}
	p.reg.Attach(ev.ID, ref)
	p.log.Info("event announced",
		logx.Int64("event", ev.ID), logx.Int64("chat", ref.ChatID), logx.Int("message", ref.MessageID))
	return ref, nil
}

// RefreshCounts re-renders the interactive message after an entry was
// recorded. Best effort.
func (p *Presenter) RefreshCounts(ctx context.Context, ev storage.Event, total int) {
	ref, ok := p.reg.RefFor(ev.ID)
	if !ok {
		return
	}
	text, markup := renderOpen(ev, "", total)
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}
	err := p.adapter.EditText(ctx, ref, text.String(), &kit.SendOptions{
		ParseMode:          kit.ParseModeHTML,
		ReplyMarkupAdapter: markup,
	})
	if err != nil {
		p.log.Debug("count refresh failed", logx.Int64("event", ev.ID), logx.Err(err))
	}
}

// EventSettled neutralizes the interactive message and posts the outcome.
// Implements the scheduler's notifier hook; runs strictly after the
// settlement transaction committed.
func (p *Presenter) EventSettled(ctx context.Context, ev storage.Event, out clan.Outcome) {
	p.retire(ctx, ev, time.Now())

	chatID := p.cfg.chatFor(ev.Kind)
	if chatID == 0 {
		return
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}
	_, err := p.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, renderOutcome(ev, out).String(), &kit.SendOptions{
		ParseMode: kit.ParseModeHTML,
	})
	if err != nil {
		p.log.Warn("outcome announcement failed", logx.Int64("event", ev.ID), logx.Err(err))
	}
}

// EventCanceled neutralizes the interactive message for a canceled event.
func (p *Presenter) EventCanceled(ctx context.Context, ev storage.Event) {
	p.retire(ctx, ev, time.Now())
}

// retire rewrites the event's interactive message without buttons so stale
// taps stop arriving, then drops it from the registry.
func (p *Presenter) retire(ctx context.Context, ev storage.Event, at time.Time) {
	ref, ok := p.reg.RefFor(ev.ID)
	if !ok && ev.HasMessageRef() {
		ref = kit.MessageRef{ChatID: ev.ChatID, MessageID: int(ev.MessageID)}
		ok = true
	}
	if ok {
		if err := p.limiter.Wait(ctx); err == nil {
			err := p.adapter.EditText(ctx, ref, renderClosed(ev, at).String(), &kit.SendOptions{
				ParseMode: kit.ParseModeHTML,
			})
			if err != nil {
				p.log.Debug("retire edit failed", logx.Int64("event", ev.ID), logx.Err(err))
			}
		}
	}
	p.reg.Detach(ev.ID)
}

func (p *Presenter) flavorText(ctx context.Context, ev storage.Event) string {
	if p.flavor == nil {
		return ""
	}
	fctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	s, err := p.flavor.FlavorText(fctx, ev)
	if err != nil {
		p.log.Debug("flavor text failed", logx.Err(err))
		return ""
	}
	return s
}
