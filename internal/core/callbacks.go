package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clanbot/internal/clan"
	"clanbot/internal/storage"
	kit "clanbot/internal/transport"
	logx "clanbot/pkg/logx"
	"clanbot/pkg/tgui"
)

func (a *App) handleCallback(ctx context.Context, cb *kit.Callback) {
	scope, action, payload, err := tgui.ParseData(cb.Data)
	if err != nil {
		a.answer(ctx, cb, "")
		return
	}

	switch scope {
	case "event":
		if action == "enter" {
			a.cbEnter(ctx, cb, payload)
			return
		}
	case "bingo":
		if action == "approve" || action == "reject" {
			a.cbReview(ctx, cb, action, payload)
			return
		}
	}
	a.answer(ctx, cb, "")
}

// cbEnter handles the announcement button: one tap, one validated entry.
func (a *App) cbEnter(ctx context.Context, cb *kit.Callback, payload string) {
	eventID, err := parseInt64(payload)
	if err != nil {
		a.answer(ctx, cb, "")
		return
	}

	// Only honor taps on the surface currently bound to the event. A stale
	// message that survived retirement gets a polite refusal.
	ref := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	if bound, ok := a.reg.EventFor(ref); !ok || bound != eventID {
		a.answer(ctx, cb, "This event is no longer open.")
		return
	}

	rec, err := a.recorder.RecordEntry(ctx, eventID, cb.FromID, cb.FromName, storage.EntrySelf)
	if err != nil {
		a.answer(ctx, cb, userFacing(err))
		return
	}

	ev, gerr := a.store.GetEvent(ctx, eventID)
	if gerr == nil {
		a.present.RefreshCounts(ctx, ev, rec.TotalEntries)
	}

	if ev.Kind == storage.KindRaffle {
		a.answer(ctx, cb, fmt.Sprintf("Ticket %d is yours!", rec.UserEntries))
	} else {
		a.answer(ctx, cb, "You're in!")
	}
}

// cbReview handles bingo submission review buttons.
func (a *App) cbReview(ctx context.Context, cb *kit.Callback, action, payload string) {
	if !a.isAdmin(cb.FromID) {
		a.answer(ctx, cb, "Admins only.")
		return
	}

	sub, err := a.store.GetSubmission(ctx, payload)
	if errors.Is(err, storage.ErrNotFound) {
		a.answer(ctx, cb, "Submission not found.")
		return
	}
	if err != nil {
		a.log.Warn("load submission failed", logx.String("submission", payload), logx.Err(err))
		a.answer(ctx, cb, "Something went wrong.")
		return
	}

	status := storage.SubmissionApproved
	if action == "reject" {
		status = storage.SubmissionRejected
	}

	// Resolve the tile's rarity before the transaction; the store runs on a
	// single connection.
	award := int64(0)
	if ev, gerr := a.store.GetEvent(ctx, sub.EventID); gerr == nil {
		if meta, merr := clan.DecodeBingoMeta(ev); merr == nil && sub.Tile >= 0 && sub.Tile < len(meta.Board) {
			award = clan.TilePoints(meta.Board[sub.Tile].Rarity)
		}
	}

	err = a.store.EventTx(ctx, sub.EventID, func(tx storage.EventTx) error {
		if tx.Event().Settled() || tx.Event().Status != storage.StatusOpen {
			return clan.ErrEventClosed
		}
		reviewed, err := tx.ReviewSubmission(sub.ID, status, cb.FromID, time.Now())
		if err != nil {
			return err
		}
		if status != storage.SubmissionApproved {
			return nil
		}
		if err := tx.CompleteTile(reviewed.Tile, reviewed.UserID, time.Now()); err != nil {
			return err
		}
		if award > 0 {
			return tx.AddLedger(storage.LedgerEntry{
				ID:      uuid.NewString(),
				UserID:  reviewed.UserID,
				Delta:   award,
				Reason:  fmt.Sprintf("bingo tile %d", reviewed.Tile+1),
				EventID: sub.EventID,
			})
		}
		return nil
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		a.answer(ctx, cb, "Already reviewed.")
		return
	case errors.Is(err, clan.ErrEventClosed):
		a.answer(ctx, cb, "That bingo is over.")
		return
	case err != nil:
		a.log.Warn("review failed", logx.String("submission", sub.ID), logx.Err(err))
		a.answer(ctx, cb, "Something went wrong.")
		return
	}

	// strip the buttons so the card can't be acted on twice
	verdict := "approved ✅"
	if status == storage.SubmissionRejected {
		verdict = "rejected ❌"
	}
	ref := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	editErr := a.adapter.EditText(ctx, ref,
		tgui.Lines(
			tgui.Esc(fmt.Sprintf("Tile %d by %s", sub.Tile+1, displayName(sub.Username, sub.UserID))),
			tgui.I(verdict),
		).String(), &kit.SendOptions{ParseMode: kit.ParseModeHTML})
	if editErr != nil {
		a.log.Debug("review card edit failed", logx.Err(editErr))
	}

	a.log.Info("submission reviewed",
		logx.Int64("event", sub.EventID), logx.String("submission", sub.ID),
		logx.String("status", string(status)), logx.Int64("reviewer", cb.FromID))
	a.answer(ctx, cb, "Done.")
}

func (a *App) answer(ctx context.Context, cb *kit.Callback, text string) {
	if err := a.adapter.AnswerCallback(ctx, cb.ID, text); err != nil {
		a.log.Debug("answer callback failed", logx.Err(err))
	}
}
