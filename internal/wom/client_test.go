package wom

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "clanbot/pkg/logx"
)

func TestStandings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/competitions/42" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"id": 42, "title": "mining week", "metric": "mining",
			"participations": [
				{"player": {"displayName": "Alice"}, "progress": {"gained": 900}},
				{"player": {"displayName": "Bob"}, "progress": {"gained": 500}}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, logx.Nop())
	standings, err := c.Standings(context.Background(), 42)
	if err != nil {
		t.Fatalf("standings: %v", err)
	}
	if len(standings) != 2 || standings[0].RSN != "Alice" || standings[0].Gained != 900 {
		t.Fatalf("standings = %+v", standings)
	}
}

func TestStandingsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "Competition not found."}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, logx.Nop())
	_, err := c.Standings(context.Background(), 1)
	if err == nil || !strings.Contains(err.Error(), "Competition not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestCreateCompetition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/competitions" {
			t.Fatalf("%s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["metric"] != "agility" || body["groupId"] != float64(7) {
			t.Fatalf("body = %v", body)
		}
		if body["groupVerificationCode"] != "123-456-789" {
			t.Fatalf("verification code missing: %v", body)
		}
		_, _ = w.Write([]byte(`{"competition": {"id": 99, "title": "agility week", "metric": "agility"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, ClanID: 7, VerificationCode: "123-456-789"}, logx.Nop())
	comp, err := c.CreateCompetition(context.Background(), "agility week", "agility",
		time.Now(), time.Now().Add(7*24*time.Hour))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if comp.ID != 99 || comp.Metric != "agility" {
		t.Fatalf("competition = %+v", comp)
	}
}
