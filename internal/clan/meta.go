package clan

import (
	"encoding/json"
	"fmt"

	"clanbot/internal/storage"
)

// SotwMeta rides in the event meta column for skill-of-the-week events.
type SotwMeta struct {
	CompetitionID int64  `json:"competition_id"`
	Metric        string `json:"metric"`
}

// BingoMeta carries the generated board.
type BingoMeta struct {
	Board []BingoTile `json:"board"`
}

type BingoTile struct {
	Name   string `json:"name"`
	Rarity string `json:"rarity"`
}

func DecodeSotwMeta(e storage.Event) (SotwMeta, error) {
	var m SotwMeta
	if err := json.Unmarshal([]byte(e.Meta), &m); err != nil {
		return SotwMeta{}, fmt.Errorf("event %d: bad sotw meta: %w", e.ID, err)
	}
	if m.CompetitionID == 0 {
		return SotwMeta{}, fmt.Errorf("event %d: sotw meta missing competition id", e.ID)
	}
	return m, nil
}

func DecodeBingoMeta(e storage.Event) (BingoMeta, error) {
	var m BingoMeta
	if err := json.Unmarshal([]byte(e.Meta), &m); err != nil {
		return BingoMeta{}, fmt.Errorf("event %d: bad bingo meta: %w", e.ID, err)
	}
	return m, nil
}

func EncodeMeta(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Winner is one settled winner in an outcome.
type Winner struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	Points   int64  `json:"points,omitempty"`
}

// PodiumEntry is one competition placement in a sotw outcome.
type PodiumEntry struct {
	Rank   int    `json:"rank"`
	RSN    string `json:"rsn"`
	UserID int64  `json:"user_id,omitempty"`
	Gained int64  `json:"gained"`
	Points int64  `json:"points,omitempty"`
}

// TileResult is one completed bingo tile in an outcome snapshot.
type TileResult struct {
	Tile   int    `json:"tile"`
	Name   string `json:"name,omitempty"`
	UserID int64  `json:"user_id"`
}

// Outcome is the settlement record persisted on the event row.
type Outcome struct {
	Kind         storage.Kind  `json:"kind"`
	Winners      []Winner      `json:"winners,omitempty"`
	Podium       []PodiumEntry `json:"podium,omitempty"`
	Participants []Winner      `json:"participants,omitempty"`
	Tiles        []TileResult  `json:"tiles,omitempty"`
	EntryCount   int           `json:"entry_count"`
	Error        string        `json:"error,omitempty"`
}

func DecodeOutcome(e storage.Event) (Outcome, error) {
	var o Outcome
	if e.Outcome == "" {
		return o, nil
	}
	if err := json.Unmarshal([]byte(e.Outcome), &o); err != nil {
		return Outcome{}, fmt.Errorf("event %d: bad outcome: %w", e.ID, err)
	}
	return o, nil
}
