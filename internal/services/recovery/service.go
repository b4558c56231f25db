// Package recovery rebuilds runtime state after a restart: it re-attaches
// interactive surfaces from persisted message refs, then runs one catch-up
// sweep so events that came due while the process was down settle before the
// scheduler takes over.
package recovery

import (
	"context"
	"fmt"

	"clanbot/internal/storage"
	"clanbot/internal/surfaces"
	kit "clanbot/internal/transport"
	logx "clanbot/pkg/logx"
)

// Sweeper runs one synchronous due-event sweep. Implemented by the
// scheduler service.
type Sweeper interface {
	RunNow(ctx context.Context) error
}

type Service struct {
	store storage.Store
	reg   *surfaces.Registry
	sweep Sweeper
	log   logx.Logger
}

func New(store storage.Store, reg *surfaces.Registry, sweep Sweeper, log logx.Logger) *Service {
	return &Service{store: store, reg: reg, sweep: sweep, log: log}
}

// Run performs startup recovery. It must complete before the scheduler
// starts and before updates are handled, so button presses always find
// their surface attached.
func (s *Service) Run(ctx context.Context) error {
	evs, err := s.store.ActiveWithMessageRef(ctx)
	if err != nil {
		return fmt.Errorf("load active events: %w", err)
	}
	for _, ev := range evs {
		s.reg.Attach(ev.ID, kit.MessageRef{ChatID: ev.ChatID, MessageID: int(ev.MessageID)})
	}
	s.log.Info("surfaces re-attached", logx.Int("count", s.reg.Len()))

	if err := s.sweep.RunNow(ctx); err != nil {
		return fmt.Errorf("catch-up sweep: %w", err)
	}
	return nil
}
