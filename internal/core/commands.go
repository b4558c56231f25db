package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"clanbot/internal/clan"
	"clanbot/internal/storage"
	kit "clanbot/internal/transport"
	logx "clanbot/pkg/logx"
	"clanbot/pkg/tgui"
)

const helpText = `<b>Member commands</b>
/events - list open events
/points - your point balance
/leaderboard - top point earners
/rewards - redeemable rewards
/redeem &lt;id&gt; - spend points on a reward
/link &lt;name&gt; - link your in-game name
/submit &lt;tile&gt; &lt;proof-url&gt; - claim a bingo tile

<b>Admin commands</b>
/newgiveaway &lt;duration&gt; &lt;winners&gt; &lt;title&gt;
/newraffle &lt;duration&gt; &lt;winners&gt; &lt;title&gt;
/newpvm &lt;duration&gt; &lt;title&gt;
/newbingo &lt;duration&gt; &lt;title&gt;
/newsotw &lt;duration&gt; &lt;metric&gt; &lt;title&gt;
/grant &lt;event&gt; &lt;user&gt; &lt;tickets&gt; - grant raffle tickets
/cancel &lt;event&gt; - cancel an open event
/pending - review bingo submissions
/addreward &lt;cost&gt; &lt;name&gt; - add a point store reward
/retirereward &lt;id&gt; - pull a reward from the store`

func (a *App) handleMessage(ctx context.Context, m *kit.Message) {
	cmd, args := parseCommand(m.Text)
	if cmd == "" {
		return
	}

	var err error
	switch cmd {
	case "help", "start":
		a.reply(ctx, m, tgui.Raw(helpText))
	case "events":
		err = a.cmdEvents(ctx, m)
	case "points":
		err = a.cmdPoints(ctx, m)
	case "leaderboard":
		err = a.cmdLeaderboard(ctx, m)
	case "rewards":
		err = a.cmdRewards(ctx, m)
	case "redeem":
		err = a.cmdRedeem(ctx, m, args)
	case "link":
		err = a.cmdLink(ctx, m, args)
	case "submit":
		err = a.cmdSubmit(ctx, m, args)

	case "newgiveaway":
		err = a.adminOnly(ctx, m, func() error { return a.cmdNewDraw(ctx, m, storage.KindGiveaway, args) })
	case "newraffle":
		err = a.adminOnly(ctx, m, func() error { return a.cmdNewDraw(ctx, m, storage.KindRaffle, args) })
	case "newpvm":
		err = a.adminOnly(ctx, m, func() error { return a.cmdNewPvm(ctx, m, args) })
	case "newbingo":
		err = a.adminOnly(ctx, m, func() error { return a.cmdNewBingo(ctx, m, args) })
	case "newsotw":
		err = a.adminOnly(ctx, m, func() error { return a.cmdNewSotw(ctx, m, args) })
	case "grant":
		err = a.adminOnly(ctx, m, func() error { return a.cmdGrant(ctx, m, args) })
	case "cancel":
		err = a.adminOnly(ctx, m, func() error { return a.cmdCancel(ctx, m, args) })
	case "pending":
		err = a.adminOnly(ctx, m, func() error { return a.cmdPending(ctx, m) })
	case "addreward":
		err = a.adminOnly(ctx, m, func() error { return a.cmdAddReward(ctx, m, args) })
	case "retirereward":
		err = a.adminOnly(ctx, m, func() error { return a.cmdRetireReward(ctx, m, args) })

	default:
		return
	}
	if err != nil {
		a.log.Warn("command failed",
			logx.String("cmd", cmd), logx.Int64("user", m.FromID), logx.Err(err))
		a.reply(ctx, m, tgui.Esc(userFacing(err)))
	}
}

// userFacing keeps raw internals out of chat while passing through the
// errors that are meant for the user.
func userFacing(err error) string {
	switch {
	case errors.Is(err, clan.ErrEventNotFound):
		return "That event does not exist."
	case errors.Is(err, clan.ErrEventClosed):
		return "That event is closed."
	case errors.Is(err, clan.ErrDuplicateEntry):
		return "You are already in."
	case errors.Is(err, clan.ErrEntryLimit):
		return "Ticket limit reached."
	case errors.Is(err, clan.ErrAlreadySettled):
		return "That event is already settled."
	}
	var ue usageError
	if errors.As(err, &ue) {
		return string(ue)
	}
	return "Something went wrong, try again later."
}

type usageError string

func (e usageError) Error() string { return string(e) }

func (a *App) adminOnly(ctx context.Context, m *kit.Message, fn func() error) error {
	if !a.isAdmin(m.FromID) {
		a.reply(ctx, m, tgui.Esc("Admins only."))
		return nil
	}
	return fn()
}

func (a *App) reply(ctx context.Context, m *kit.Message, text tgui.H) {
	_, err := a.adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}, text.String(), &kit.SendOptions{
		ParseMode:      kit.ParseModeHTML,
		DisablePreview: true,
	})
	if err != nil {
		a.log.Debug("reply failed", logx.Int64("chat", m.ChatID), logx.Err(err))
	}
}

func (a *App) cmdEvents(ctx context.Context, m *kit.Message) error {
	evs, err := a.store.ActiveEvents(ctx)
	if err != nil {
		return err
	}
	if len(evs) == 0 {
		a.reply(ctx, m, tgui.Esc("No open events right now."))
		return nil
	}
	lines := []tgui.H{tgui.B("Open events")}
	for _, ev := range evs {
		lines = append(lines, tgui.Esc(fmt.Sprintf("#%d %s: %s (closes %s)",
			ev.ID, ev.Kind, ev.Title, ev.DueAt.Local().Format("Mon 2 Jan 15:04"))))
	}
	a.reply(ctx, m, tgui.Lines(lines...))
	return nil
}

func (a *App) cmdPoints(ctx context.Context, m *kit.Message) error {
	bal, err := a.store.PointsBalance(ctx, m.FromID)
	if err != nil {
		return err
	}
	a.reply(ctx, m, tgui.Esc(fmt.Sprintf("You have %d points.", bal)))
	return nil
}

func (a *App) cmdLeaderboard(ctx context.Context, m *kit.Message) error {
	rows, err := a.store.PointsLeaderboard(ctx, 10)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.reply(ctx, m, tgui.Esc("Nobody has points yet."))
		return nil
	}
	lines := []tgui.H{tgui.B("Point leaderboard")}
	for i, r := range rows {
		name := r.Username
		if name == "" {
			name = fmt.Sprintf("user %d", r.UserID)
		}
		lines = append(lines, tgui.Esc(fmt.Sprintf("%d. %s - %d", i+1, name, r.Total)))
	}
	a.reply(ctx, m, tgui.Lines(lines...))
	return nil
}

func (a *App) cmdRewards(ctx context.Context, m *kit.Message) error {
	rewards, err := a.store.ListRewards(ctx)
	if err != nil {
		return err
	}
	if len(rewards) == 0 {
		a.reply(ctx, m, tgui.Esc("The point store is empty."))
		return nil
	}
	lines := []tgui.H{tgui.B("Point store")}
	for _, r := range rewards {
		lines = append(lines, tgui.Esc(fmt.Sprintf("#%d %s - %d points", r.ID, r.Name, r.Cost)))
	}
	lines = append(lines, tgui.I("Redeem with /redeem <id>"))
	a.reply(ctx, m, tgui.Lines(lines...))
	return nil
}

func (a *App) cmdRedeem(ctx context.Context, m *kit.Message, args []string) error {
	if len(args) != 1 {
		return usageError("Usage: /redeem <reward id>")
	}
	id, err := parseInt64(args[0])
	if err != nil {
		return usageError("Usage: /redeem <reward id>")
	}
	reward, err := a.store.GetReward(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return usageError("No such reward.")
	}
	if err != nil {
		return err
	}
	if !reward.Enabled {
		return usageError("That reward is retired.")
	}

	err = a.store.SpendPoints(ctx, storage.LedgerEntry{
		ID:     uuid.NewString(),
		UserID: m.FromID,
		Delta:  -reward.Cost,
		Reason: "redeem: " + reward.Name,
	})
	if errors.Is(err, storage.ErrInsufficientPoints) {
		bal, berr := a.store.PointsBalance(ctx, m.FromID)
		if berr != nil {
			return berr
		}
		return usageError(fmt.Sprintf("You need %d points, you have %d.", reward.Cost, bal))
	}
	if err != nil {
		return err
	}

	a.log.Info("reward redeemed",
		logx.Int64("user", m.FromID), logx.Int64("reward", reward.ID), logx.Int64("cost", reward.Cost))
	a.reply(ctx, m, tgui.Lines(
		tgui.Esc(fmt.Sprintf("Redeemed %s for %d points.", reward.Name, reward.Cost)),
		tgui.I("An admin will sort out delivery."),
	))
	return nil
}

func (a *App) cmdLink(ctx context.Context, m *kit.Message, args []string) error {
	rsn := strings.TrimSpace(strings.Join(args, " "))
	if rsn == "" {
		return usageError("Usage: /link <in-game name>")
	}
	if len(rsn) > 12 {
		return usageError("Names are at most 12 characters.")
	}
	err := a.store.LinkUser(ctx, storage.UserLink{
		UserID:   m.FromID,
		Username: m.FromUsername,
		RSN:      rsn,
	})
	if err != nil {
		return err
	}
	a.reply(ctx, m, tgui.Esc(fmt.Sprintf("Linked you to %s.", rsn)))
	return nil
}

func (a *App) cmdSubmit(ctx context.Context, m *kit.Message, args []string) error {
	if len(args) < 1 {
		return usageError("Usage: /submit <tile number> [proof url]")
	}
	tile, err := parseInt(args[0])
	if err != nil || tile < 1 || tile > clan.BoardSize {
		return usageError(fmt.Sprintf("Tile must be 1-%d.", clan.BoardSize))
	}
	proof := strings.Join(args[1:], " ")

	ev, err := a.activeBingo(ctx)
	if err != nil {
		return err
	}
	sub := storage.Submission{
		ID:       uuid.NewString(),
		EventID:  ev.ID,
		UserID:   m.FromID,
		Username: m.FromUsername,
		Tile:     tile - 1,
		Proof:    proof,
	}
	if err := a.store.InsertSubmission(ctx, sub); err != nil {
		return err
	}
	a.log.Info("tile submitted",
		logx.Int64("event", ev.ID), logx.Int64("user", m.FromID), logx.Int("tile", tile))
	a.reply(ctx, m, tgui.Esc(fmt.Sprintf("Tile %d submitted for review.", tile)))
	return nil
}

func (a *App) activeBingo(ctx context.Context) (storage.Event, error) {
	evs, err := a.store.ActiveByKind(ctx, storage.KindBingo)
	if err != nil {
		return storage.Event{}, err
	}
	if len(evs) == 0 {
		return storage.Event{}, usageError("No bingo is running.")
	}
	return evs[0], nil
}

// createAndAnnounce persists the event, posts its interactive message and
// confirms to the admin.
func (a *App) createAndAnnounce(ctx context.Context, m *kit.Message, ev storage.Event) error {
	ev.CreatedBy = m.FromID
	id, err := a.store.CreateEvent(ctx, ev)
	if err != nil {
		return err
	}
	created, err := a.store.GetEvent(ctx, id)
	if err != nil {
		return err
	}
	if _, err := a.present.Announce(ctx, created); err != nil {
		a.log.Warn("announce failed", logx.Int64("event", id), logx.Err(err))
		a.reply(ctx, m, tgui.Esc(fmt.Sprintf("Event #%d created, but the announcement failed.", id)))
		return nil
	}
	a.reply(ctx, m, tgui.Esc(fmt.Sprintf("Event #%d created and announced.", id)))
	return nil
}

func (a *App) cmdNewDraw(ctx context.Context, m *kit.Message, kind storage.Kind, args []string) error {
	usage := usageError(fmt.Sprintf("Usage: /new%s <duration> <winners> <title>", kind))
	if len(args) < 3 {
		return usage
	}
	due, err := parseDue(args[0])
	if err != nil {
		return usageError(err.Error())
	}
	winners, err := parseInt(args[1])
	if err != nil || winners < 1 {
		return usage
	}
	title := strings.Join(args[2:], " ")

	return a.createAndAnnounce(ctx, m, storage.Event{
		Kind:        kind,
		Title:       title,
		DueAt:       due,
		WinnerCount: winners,
	})
}

func (a *App) cmdNewPvm(ctx context.Context, m *kit.Message, args []string) error {
	if len(args) < 2 {
		return usageError("Usage: /newpvm <duration> <title>")
	}
	due, err := parseDue(args[0])
	if err != nil {
		return usageError(err.Error())
	}
	return a.createAndAnnounce(ctx, m, storage.Event{
		Kind:  storage.KindPvm,
		Title: strings.Join(args[1:], " "),
		DueAt: due,
	})
}

func (a *App) cmdNewBingo(ctx context.Context, m *kit.Message, args []string) error {
	if len(args) < 2 {
		return usageError("Usage: /newbingo <duration> <title>")
	}
	due, err := parseDue(args[0])
	if err != nil {
		return usageError(err.Error())
	}

	// One board at a time: a new bingo retires whatever is still running.
	old, err := a.store.ActiveByKind(ctx, storage.KindBingo)
	if err != nil {
		return err
	}
	for _, prev := range old {
		canceled, cerr := a.recorder.Cancel(ctx, prev.ID)
		if cerr != nil {
			return fmt.Errorf("retire board %d: %w", prev.ID, cerr)
		}
		a.present.EventCanceled(ctx, canceled)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	board, err := clan.GenerateBoard(rng, clan.DefaultTaskPool())
	if err != nil {
		return err
	}
	meta, err := clan.EncodeMeta(clan.BingoMeta{Board: board})
	if err != nil {
		return err
	}
	return a.createAndAnnounce(ctx, m, storage.Event{
		Kind:  storage.KindBingo,
		Title: strings.Join(args[1:], " "),
		DueAt: due,
		Meta:  meta,
	})
}

func (a *App) cmdNewSotw(ctx context.Context, m *kit.Message, args []string) error {
	if len(args) < 3 {
		return usageError("Usage: /newsotw <duration> <metric> <title>")
	}
	due, err := parseDue(args[0])
	if err != nil {
		return usageError(err.Error())
	}
	metric := strings.ToLower(args[1])
	title := strings.Join(args[2:], " ")

	comp, err := a.womc.CreateCompetition(ctx, title, metric, time.Now(), due)
	if err != nil {
		return fmt.Errorf("create competition: %w", err)
	}
	meta, err := clan.EncodeMeta(clan.SotwMeta{CompetitionID: comp.ID, Metric: metric})
	if err != nil {
		return err
	}
	return a.createAndAnnounce(ctx, m, storage.Event{
		Kind:  storage.KindSotw,
		Title: title,
		DueAt: due,
		Meta:  meta,
	})
}

func (a *App) cmdGrant(ctx context.Context, m *kit.Message, args []string) error {
	if len(args) != 3 {
		return usageError("Usage: /grant <event id> <user id> <tickets>")
	}
	eventID, err1 := parseInt64(args[0])
	userID, err2 := parseInt64(args[1])
	count, err3 := parseInt(args[2])
	if err1 != nil || err2 != nil || err3 != nil || count < 1 || count > 100 {
		return usageError("Usage: /grant <event id> <user id> <tickets>")
	}

	var last clan.Receipt
	for i := 0; i < count; i++ {
		last, err1 = a.recorder.RecordEntry(ctx, eventID, userID, "", storage.EntryAdmin)
		if err1 != nil {
			return err1
		}
	}
	a.reply(ctx, m, tgui.Esc(fmt.Sprintf("Granted %d tickets; user now holds %d.", count, last.UserEntries)))
	return nil
}

func (a *App) cmdAddReward(ctx context.Context, m *kit.Message, args []string) error {
	if len(args) < 2 {
		return usageError("Usage: /addreward <cost> <name>")
	}
	cost, err := parseInt64(args[0])
	if err != nil || cost < 1 {
		return usageError("Usage: /addreward <cost> <name>")
	}
	id, err := a.store.UpsertReward(ctx, storage.Reward{
		Name:    strings.Join(args[1:], " "),
		Cost:    cost,
		Enabled: true,
	})
	if err != nil {
		return err
	}
	a.reply(ctx, m, tgui.Esc(fmt.Sprintf("Reward #%d added at %d points.", id, cost)))
	return nil
}

func (a *App) cmdRetireReward(ctx context.Context, m *kit.Message, args []string) error {
	if len(args) != 1 {
		return usageError("Usage: /retirereward <id>")
	}
	id, err := parseInt64(args[0])
	if err != nil {
		return usageError("Usage: /retirereward <id>")
	}
	reward, err := a.store.GetReward(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return usageError("No such reward.")
	}
	if err != nil {
		return err
	}
	reward.Enabled = false
	if _, err := a.store.UpsertReward(ctx, reward); err != nil {
		return err
	}
	a.reply(ctx, m, tgui.Esc(fmt.Sprintf("Reward #%d retired.", id)))
	return nil
}

func (a *App) cmdCancel(ctx context.Context, m *kit.Message, args []string) error {
	if len(args) != 1 {
		return usageError("Usage: /cancel <event id>")
	}
	id, err := parseInt64(args[0])
	if err != nil {
		return usageError("Usage: /cancel <event id>")
	}
	ev, err := a.recorder.Cancel(ctx, id)
	if err != nil {
		return err
	}
	a.present.EventCanceled(ctx, ev)
	a.reply(ctx, m, tgui.Esc(fmt.Sprintf("Event #%d canceled.", id)))
	return nil
}

func (a *App) cmdPending(ctx context.Context, m *kit.Message) error {
	ev, err := a.activeBingo(ctx)
	if err != nil {
		return err
	}
	subs, err := a.store.PendingSubmissions(ctx, ev.ID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		a.reply(ctx, m, tgui.Esc("No submissions waiting."))
		return nil
	}

	meta, _ := clan.DecodeBingoMeta(ev)
	for _, sub := range subs {
		tileName := fmt.Sprintf("tile %d", sub.Tile+1)
		if sub.Tile >= 0 && sub.Tile < len(meta.Board) {
			tileName = meta.Board[sub.Tile].Name
		}
		lines := []tgui.H{
			tgui.B(tileName),
			tgui.Esc(fmt.Sprintf("by %s", displayName(sub.Username, sub.UserID))),
		}
		if sub.Proof != "" {
			lines = append(lines, tgui.Link("proof", sub.Proof))
		}
		markup := tgui.NewInline().Row(
			tgui.Btn("Approve ✅", tgui.Data("bingo", "approve", sub.ID)),
			tgui.Btn("Reject ❌", tgui.Data("bingo", "reject", sub.ID)),
		).Markup()

		_, err := a.adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID},
			tgui.Lines(lines...).String(), &kit.SendOptions{
				ParseMode:          kit.ParseModeHTML,
				DisablePreview:     true,
				ReplyMarkupAdapter: markup,
			})
		if err != nil {
			return err
		}
	}
	return nil
}
