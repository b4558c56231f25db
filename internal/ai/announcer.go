// Package ai generates short announcement flavor text through a
// generative-language API. Every path degrades to canned lines, so the bot
// reads the same with the feature disabled or the API down.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"clanbot/internal/storage"
	logx "clanbot/pkg/logx"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.0-flash"
)

type Config struct {
	Enabled bool
	APIKey  string
	BaseURL string
	Model   string
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
	rng  *rand.Rand
}

func NewClient(cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
		log:  log,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

var fallbacks = map[storage.Kind][]string{
	storage.KindGiveaway: {
		"Free stuff alert! Smash that button before it's gone.",
		"The clan coffers are open. One tap is all it takes.",
	},
	storage.KindRaffle: {
		"Feeling lucky? Tickets are cheap, glory is not.",
		"The drum is spinning. Get your tickets in.",
	},
	storage.KindPvm: {
		"Sharpen your blades, the clan marches again.",
		"Bosses won't kill themselves. Sign up and bring food.",
	},
	storage.KindBingo: {
		"Fresh board, fresh chaos. Claim your tiles!",
		"Twenty-five tiles stand between you and bragging rights.",
	},
	storage.KindSotw: {
		"A new week, a new grind. Top the board and take the points.",
		"XP waits for no one. The competition starts now.",
	},
}

// FlavorText returns one or two sentences of hype for the announcement.
// It never returns an error a caller needs to act on; a blank string plus
// the error is purely informational.
func (c *Client) FlavorText(ctx context.Context, ev storage.Event) (string, error) {
	if !c.cfg.Enabled || c.cfg.APIKey == "" {
		return c.fallback(ev.Kind), nil
	}
	text, err := c.generate(ctx, ev)
	if err != nil {
		c.log.Debug("generation failed, using fallback", logx.Err(err))
		return c.fallback(ev.Kind), nil
	}
	return text, nil
}

func (c *Client) fallback(k storage.Kind) string {
	lines := fallbacks[k]
	if len(lines) == 0 {
		return ""
	}
	return lines[c.rng.Intn(len(lines))]
}

func (c *Client) generate(ctx context.Context, ev storage.Event) (string, error) {
	prompt := fmt.Sprintf(
		"Write one or two short hype sentences announcing a clan %s titled %q. "+
			"No hashtags, no emoji, no markdown.", string(ev.Kind), ev.Title)

	reqBody := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.cfg.BaseURL, c.cfg.Model, c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return "", fmt.Errorf("generate: status %d: %s", resp.StatusCode, msg)
	}

	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("generate: empty response")
	}
	text := strings.TrimSpace(out.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "", fmt.Errorf("generate: blank text")
	}
	return text, nil
}
