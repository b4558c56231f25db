package presenter

import (
	"fmt"
	"time"

	tele "gopkg.in/telebot.v4"

	"clanbot/internal/clan"
	"clanbot/internal/storage"
	"clanbot/pkg/tgui"
)

const callbackScope = "event"

func kindLabel(k storage.Kind) string {
	switch k {
	case storage.KindGiveaway:
		return "Giveaway"
	case storage.KindRaffle:
		return "Raffle"
	case storage.KindPvm:
		return "PVM Event"
	case storage.KindBingo:
		return "Bingo"
	case storage.KindSotw:
		return "Skill of the Week"
	}
	return string(k)
}

func buttonLabel(k storage.Kind) string {
	switch k {
	case storage.KindGiveaway:
		return "Enter 🎉"
	case storage.KindRaffle:
		return "Buy ticket 🎟"
	default:
		return "Sign up ✅"
	}
}

// renderOpen builds the interactive announcement for an open event.
func renderOpen(ev storage.Event, flavor string, total int) (tgui.H, *tele.ReplyMarkup) {
	lines := []tgui.H{
		tgui.B(fmt.Sprintf("%s: %s", kindLabel(ev.Kind), ev.Title)),
	}
	if flavor != "" {
		lines = append(lines, tgui.I(flavor))
	}
	if ev.Detail != "" {
		lines = append(lines, tgui.Esc(ev.Detail))
	}
	lines = append(lines, tgui.Esc(fmt.Sprintf("Closes %s", ev.DueAt.Local().Format("Mon 2 Jan 15:04"))))
	if total > 0 {
		noun := "entries"
		if ev.Kind == storage.KindRaffle {
			noun = "tickets"
		}
		lines = append(lines, tgui.Esc(fmt.Sprintf("%d %s so far", total, noun)))
	}

	markup := tgui.NewInline().
		Row(tgui.Btn(buttonLabel(ev.Kind), tgui.Data(callbackScope, "enter", fmt.Sprintf("%d", ev.ID)))).
		Markup()
	return tgui.Lines(lines...), markup
}

// renderOutcome builds the settlement announcement.
func renderOutcome(ev storage.Event, out clan.Outcome) tgui.H {
	head := tgui.B(fmt.Sprintf("%s settled: %s", kindLabel(ev.Kind), ev.Title))
	lines := []tgui.H{head}

	switch {
	case out.Error != "":
		lines = append(lines, tgui.Esc("Results could not be resolved; an admin will follow up."))

	case ev.Kind == storage.KindSotw:
		if len(out.Podium) == 0 {
			lines = append(lines, tgui.Esc("No participants this week."))
		}
		medals := []string{"🥇", "🥈", "🥉"}
		for i, p := range out.Podium {
			medal := ""
			if i < len(medals) {
				medal = medals[i] + " "
			}
			line := fmt.Sprintf("%s%s gained %d", medal, p.RSN, p.Gained)
			if p.Points > 0 {
				line += fmt.Sprintf(" (+%d points)", p.Points)
			}
			lines = append(lines, tgui.Esc(line))
		}

	case ev.Kind == storage.KindPvm:
		lines = append(lines, tgui.Esc(fmt.Sprintf("Roster locked with %d sign-ups:", len(out.Participants))))
		for _, p := range out.Participants {
			lines = append(lines, tgui.Mention(p.Username, p.UserID))
		}

	case ev.Kind == storage.KindBingo:
		lines = append(lines, tgui.Esc(fmt.Sprintf("Board closed with %d tiles completed.", len(out.Tiles))))

	default: // giveaway, raffle
		if len(out.Winners) == 0 {
			lines = append(lines, tgui.Esc("No entries, no winner this time."))
		}
		for _, w := range out.Winners {
			line := tgui.H("🎉 ") + tgui.Mention(w.Username, w.UserID)
			if w.Points > 0 {
				line += tgui.Esc(fmt.Sprintf(" wins +%d points!", w.Points))
			} else {
				line += tgui.Esc(" wins!")
			}
			lines = append(lines, line)
		}
	}
	return tgui.Lines(lines...)
}

// renderClosed replaces the interactive message body once the event is over.
func renderClosed(ev storage.Event, at time.Time) tgui.H {
	verb := "closed"
	if ev.Status == storage.StatusCanceled {
		verb = "canceled"
	}
	return tgui.Lines(
		tgui.B(fmt.Sprintf("%s: %s", kindLabel(ev.Kind), ev.Title)),
		tgui.I(fmt.Sprintf("This event %s %s.", verb, at.Local().Format("Mon 2 Jan 15:04"))),
	)
}
