package clan

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	logx "clanbot/pkg/logx"

	"clanbot/internal/storage"
)

// RaffleWinPoints is credited to each raffle winner at settlement.
const RaffleWinPoints = 50

// SotwPodiumPoints are the awards for competition ranks 1..3.
var SotwPodiumPoints = []int64{100, 50, 25}

// Standing is one row of a resolved competition leaderboard.
type Standing struct {
	RSN    string
	Gained int64
}

// StandingsProvider resolves final competition standings. Implemented by the
// wom client; injected so the engine can be tested without the network.
type StandingsProvider interface {
	Standings(ctx context.Context, competitionID int64) ([]Standing, error)
}

// Engine settles due events exactly once. All state transitions happen
// inside one event transaction. External data (competition standings, name
// links) is resolved before the transaction opens: the store runs on a
// single connection, so reads through it would deadlock against an open
// transaction, and slow lookups must not hold the write lock anyway.
// Store-resident data like the bingo tile snapshot is read inside the
// transaction instead, so a concurrent approval cannot slip out of the
// persisted outcome.
type Engine struct {
	store     storage.Store
	standings StandingsProvider
	log       logx.Logger
	now       func() time.Time
	rng       *rand.Rand
	newID     func() string
}

type EngineOption func(*Engine)

// WithRand injects a deterministic random source for tests.
func WithRand(rng *rand.Rand) EngineOption {
	return func(e *Engine) { e.rng = rng }
}

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store storage.Store, standings StandingsProvider, log logx.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		standings: standings,
		log:       log,
		now:       time.Now,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Settle resolves event id. A second call for an already settled event
// returns ErrAlreadySettled and changes nothing.
func (e *Engine) Settle(ctx context.Context, id int64) (Outcome, error) {
	ev, err := e.store.GetEvent(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return Outcome{}, ErrEventNotFound
	}
	if err != nil {
		return Outcome{}, err
	}
	if ev.Settled() {
		return Outcome{}, ErrAlreadySettled
	}
	if ev.Status == storage.StatusCanceled {
		return Outcome{}, ErrEventClosed
	}
	if ev.DueAt.After(e.now()) {
		return Outcome{}, ErrNotDue
	}

	var (
		podium    []PodiumEntry
		lookupErr error
	)
	if ev.Kind == storage.KindSotw {
		podium, lookupErr = e.resolvePodium(ctx, ev)
		if lookupErr != nil {
			// The event still closes; the outcome records the failure and
			// nothing is awarded. Re-running settlement later would break
			// exactly-once, so the operator corrects points manually.
			podium = nil
		}
	}

	var out Outcome
	err = e.store.EventTx(ctx, id, func(tx storage.EventTx) error {
		cur := tx.Event()
		if cur.Settled() {
			return ErrAlreadySettled
		}
		if cur.Status == storage.StatusCanceled {
			return ErrEventClosed
		}
		if cur.DueAt.After(e.now()) {
			return ErrNotDue
		}

		entries, err := tx.Entries()
		if err != nil {
			return err
		}
		out = Outcome{Kind: cur.Kind, EntryCount: len(entries)}

		switch cur.Kind {
		case storage.KindGiveaway:
			for _, w := range drawEntries(e.rng, entries, cur.WinnerCount) {
				out.Winners = append(out.Winners, Winner{UserID: w.UserID, Username: w.Username})
			}

		case storage.KindRaffle:
			for _, w := range drawTicketHolders(e.rng, entries, cur.WinnerCount) {
				if err := tx.AddLedger(storage.LedgerEntry{
					ID:     e.newID(),
					UserID: w.UserID,
					Delta:  RaffleWinPoints,
					Reason: fmt.Sprintf("raffle win: %s", cur.Title),
				}); err != nil {
					return err
				}
				out.Winners = append(out.Winners, Winner{UserID: w.UserID, Username: w.Username, Points: RaffleWinPoints})
			}

		case storage.KindPvm:
			// settlement freezes the roster; the outing itself happens off-platform
			for _, en := range entries {
				out.Participants = append(out.Participants, Winner{UserID: en.UserID, Username: en.Username})
			}

		case storage.KindBingo:
			tiles, err := tx.CompletedTiles()
			if err != nil {
				return err
			}
			meta, metaErr := DecodeBingoMeta(cur)
			for _, t := range tiles {
				tr := TileResult{Tile: t.Tile, UserID: t.UserID}
				if metaErr == nil && t.Tile >= 0 && t.Tile < len(meta.Board) {
					tr.Name = meta.Board[t.Tile].Name
				}
				out.Tiles = append(out.Tiles, tr)
			}

		case storage.KindSotw:
			if lookupErr != nil {
				out.Error = lookupErr.Error()
				break
			}
			for _, pe := range podium {
				if pe.UserID != 0 && pe.Points > 0 {
					if err := tx.AddLedger(storage.LedgerEntry{
						ID:     e.newID(),
						UserID: pe.UserID,
						Delta:  pe.Points,
						Reason: fmt.Sprintf("competition rank %d: %s", pe.Rank, cur.Title),
					}); err != nil {
						return err
					}
				}
			}
			out.Podium = podium

		default:
			return fmt.Errorf("event %d: unknown kind %q", cur.ID, cur.Kind)
		}

		raw, err := EncodeMeta(out)
		if err != nil {
			return err
		}
		return tx.MarkSettled(raw, e.now())
	})
	if errors.Is(err, storage.ErrNotFound) {
		return Outcome{}, ErrEventNotFound
	}
	if err != nil {
		return Outcome{}, err
	}

	e.log.Info("event settled",
		logx.Int64("event", id), logx.String("kind", string(ev.Kind)),
		logx.Int("entries", out.EntryCount), logx.Int("winners", len(out.Winners)))
	return out, nil
}

// resolvePodium fetches final standings and maps the top ranks to linked
// users and their point awards.
func (e *Engine) resolvePodium(ctx context.Context, ev storage.Event) ([]PodiumEntry, error) {
	if e.standings == nil {
		return nil, errors.New("no standings provider configured")
	}
	meta, err := DecodeSotwMeta(ev)
	if err != nil {
		return nil, err
	}

	lctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	standings, err := e.standings.Standings(lctx, meta.CompetitionID)
	if err != nil {
		return nil, fmt.Errorf("competition %d standings: %w", meta.CompetitionID, err)
	}
	sort.SliceStable(standings, func(i, j int) bool { return standings[i].Gained > standings[j].Gained })

	var podium []PodiumEntry
	for i, s := range standings {
		if i >= len(SotwPodiumPoints) {
			break
		}
		pe := PodiumEntry{Rank: i + 1, RSN: s.RSN, Gained: s.Gained}
		link, ok, err := e.store.LinkByRSN(ctx, s.RSN)
		if err != nil {
			return nil, err
		}
		if ok {
			pe.UserID = link.UserID
			pe.Points = SotwPodiumPoints[i]
		}
		podium = append(podium, pe)
	}
	return podium, nil
}
