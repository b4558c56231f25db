package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func (a *App) isAdmin(userID int64) bool {
	a.adminMu.RLock()
	defer a.adminMu.RUnlock()
	return a.admins[userID]
}

// parseCommand splits "/cmd@botname arg1 arg2" into cmd and args. Returns
// an empty cmd for non-command text.
func parseCommand(text string) (cmd string, args []string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	fields := strings.Fields(text)
	cmd = strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return cmd, fields[1:]
}

func parseInt64(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return v, nil
}

func parseInt(s string) (int, error) {
	v, err := parseInt64(s)
	return int(v), err
}

// parseDue accepts a Go duration ("36h", "90m") and returns the absolute
// close time.
func parseDue(s string) (time.Time, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("bad duration %q (try 24h, 90m)", s)
	}
	if d <= 0 {
		return time.Time{}, fmt.Errorf("duration must be positive")
	}
	return time.Now().Add(d), nil
}

func displayName(username string, userID int64) string {
	if strings.TrimSpace(username) != "" {
		return username
	}
	return fmt.Sprintf("user %d", userID)
}
