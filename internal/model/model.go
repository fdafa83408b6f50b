package model

import (
	"encoding/json"
	"time"
)

// Game represents a board position with battles to resolve.
type Game struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	CreatorID  string     `json:"creator_id"`
	Status     string     `json:"status"` // active, finished
	Rules      string     `json:"rules"`
	Turn       int        `json:"turn"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Seats      []Seat     `json:"seats,omitempty"`

	// Filled from the live state, not stored with the row.
	Player         string         `json:"player,omitempty"`
	PendingBattles []BattleStatus `json:"pending_battles,omitempty"`
}

// Seat binds a player of the scenario to the user who controls it.
// Players without a seat are played automatically.
type Seat struct {
	GameID string `json:"game_id"`
	Player string `json:"player"`
	UserID string `json:"user_id"`
}

// BattleStatus is a summary of a pending battle.
type BattleStatus struct {
	ID        string   `json:"id"`
	Site      string   `json:"site"`
	Kind      string   `json:"kind"`
	Attacker  string   `json:"attacker"`
	Defender  string   `json:"defender"`
	Round     int      `json:"round"`
	Steps     []string `json:"steps,omitempty"`
	BlockedBy []string `json:"blocked_by,omitempty"`
}

// BattleRecord is a finished battle as stored.
type BattleRecord struct {
	ID              string          `json:"id"`
	GameID          string          `json:"game_id"`
	Turn            int             `json:"turn"`
	BattleID        string          `json:"battle_id"`
	Site            string          `json:"site"`
	Kind            string          `json:"kind"`
	Attacker        string          `json:"attacker"`
	Defender        string          `json:"defender"`
	Result          string          `json:"result"`
	WhoWon          string          `json:"who_won"`
	Rounds          int             `json:"rounds"`
	AttackerLostTUV int             `json:"attacker_lost_tuv"`
	DefenderLostTUV int             `json:"defender_lost_tuv"`
	Detail          json.RawMessage `json:"detail,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// HistoryEntry is one event of a game's history log.
type HistoryEntry struct {
	GameID    string          `json:"game_id"`
	Seq       int64           `json:"seq"`
	Kind      string          `json:"kind"`
	BattleID  string          `json:"battle_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// PendingQuery is a question a battle is waiting on a player to answer.
type PendingQuery struct {
	ID       string          `json:"id"`
	GameID   string          `json:"game_id"`
	BattleID string          `json:"battle_id"`
	Player   string          `json:"player"`
	Kind     string          `json:"kind"` // casualties, retreat
	Query    json.RawMessage `json:"query"`
	Deadline time.Time       `json:"deadline"`
}
