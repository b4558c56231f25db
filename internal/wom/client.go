// Package wom is a minimal client for the Wise Old Man competition API,
// used to create skill competitions and resolve their final standings.
package wom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clanbot/internal/clan"
	logx "clanbot/pkg/logx"
)

const DefaultBaseURL = "https://api.wiseoldman.net/v2"

type Config struct {
	BaseURL          string
	ClanID           int64
	VerificationCode string
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func NewClient(cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 20 * time.Second},
		log:  log,
	}
}

// Competition is the subset of the API's competition object we use.
type Competition struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	Metric   string    `json:"metric"`
	StartsAt time.Time `json:"startsAt"`
	EndsAt   time.Time `json:"endsAt"`
}

type participation struct {
	Player struct {
		DisplayName string `json:"displayName"`
	} `json:"player"`
	Progress struct {
		Gained int64 `json:"gained"`
	} `json:"progress"`
}

type competitionDetails struct {
	Competition
	Participations []participation `json:"participations"`
}

// Standings resolves the final leaderboard of a competition. Implements the
// settlement engine's standings provider.
func (c *Client) Standings(ctx context.Context, competitionID int64) ([]clan.Standing, error) {
	var details competitionDetails
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/competitions/%d", competitionID), nil, &details)
	if err != nil {
		return nil, err
	}

	out := make([]clan.Standing, 0, len(details.Participations))
	for _, p := range details.Participations {
		out = append(out, clan.Standing{RSN: p.Player.DisplayName, Gained: p.Progress.Gained})
	}
	return out, nil
}

// CreateCompetition registers a new group competition.
func (c *Client) CreateCompetition(ctx context.Context, title, metric string, startsAt, endsAt time.Time) (Competition, error) {
	body := map[string]any{
		"title":    title,
		"metric":   metric,
		"startsAt": startsAt.UTC().Format(time.RFC3339),
		"endsAt":   endsAt.UTC().Format(time.RFC3339),
	}
	if c.cfg.ClanID != 0 {
		body["groupId"] = c.cfg.ClanID
		body["groupVerificationCode"] = c.cfg.VerificationCode
	}

	var resp struct {
		Competition Competition `json:"competition"`
	}
	if err := c.do(ctx, http.MethodPost, "/competitions", body, &resp); err != nil {
		return Competition{}, err
	}
	return resp.Competition, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(msg, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("wom: %s %s: %s (status %d)", method, path, apiErr.Message, resp.StatusCode)
		}
		return fmt.Errorf("wom: %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
