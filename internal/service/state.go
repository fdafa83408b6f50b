package service

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/freeeve/axis-battle/api/pkg/battle"
)

// GameState is everything needed to rebuild a game between requests. It is
// stored as one JSON document in Redis and rewritten after every stop.
type GameState struct {
	Map       *battle.MapModel      `json:"map"`
	Rules     battle.Rules          `json:"rules"`
	Scheduler battle.SchedulerState `json:"scheduler"`
	Dice      DiceState             `json:"dice"`

	Turn     int             `json:"turn"`
	Player   battle.Player   `json:"player"`
	Order    []battle.Player `json:"order"`
	Moves    []MoveEntry     `json:"moves,omitempty"`
	Fighting bool            `json:"fighting,omitempty"`
	// LockedMoves is how many of Moves were made before fighting began.
	// Those can no longer be undone.
	LockedMoves int `json:"lockedMoves,omitempty"`

	// Seats maps a player to the user controlling it. Unseated players are
	// answered by the creator, or automatically while a battle is running.
	Seats     map[battle.Player]string `json:"seats,omitempty"`
	CreatorID string                   `json:"creatorId"`

	// Misses counts consecutive unanswered queries per player.
	Misses map[battle.Player]int `json:"misses,omitempty"`
	// SavedRecords is how many scheduler records are already in the record store.
	SavedRecords int `json:"savedRecords,omitempty"`
}

// MoveEntry is a move made this turn, with the changes it applied.
type MoveEntry struct {
	Player  battle.Player      `json:"player"`
	Request battle.MoveRequest `json:"request"`
	Changes []battle.Change    `json:"changes"`
}

// DiceState is the position of the dice stream. Exactly one of PCG or
// Script is set.
type DiceState struct {
	Seed   int64  `json:"seed,omitempty"`
	PCG    []byte `json:"pcg,omitempty"`
	Script []int  `json:"script,omitempty"`
	Pos    int    `json:"pos,omitempty"`
}

func decodeState(raw json.RawMessage) (*GameState, error) {
	var st GameState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode game state: %w", err)
	}
	if st.Map == nil {
		return nil, fmt.Errorf("decode game state: no map")
	}
	if st.Map.Catalog == nil {
		st.Map.Catalog = battle.StandardCatalog()
	}
	if st.Map.Territories == nil {
		st.Map.Territories = make(map[string]*battle.Territory)
	}
	if st.Map.Units == nil {
		st.Map.Units = make(map[battle.UnitID]*battle.Unit)
	}
	if st.Map.Alliances == nil {
		st.Map.Alliances = make(map[battle.Player]string)
	}
	if st.Map.Resources == nil {
		st.Map.Resources = make(map[battle.Player]int)
	}
	if st.Misses == nil {
		st.Misses = make(map[battle.Player]int)
	}
	return &st, nil
}

func (st *GameState) encode() (json.RawMessage, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode game state: %w", err)
	}
	return data, nil
}

// history returns the moves of this turn in the form the validator wants.
func (st *GameState) history() battle.MoveHistory {
	h := make(battle.MoveHistory, 0, len(st.Moves))
	for _, mv := range st.Moves {
		h = append(h, battle.MoveRecord{Route: mv.Request.Route, Units: mv.Request.Units})
	}
	return h
}

// isPlayer reports whether p takes part in the game.
func (st *GameState) isPlayer(p battle.Player) bool {
	for _, o := range st.Order {
		if o == p {
			return true
		}
	}
	return false
}

// AutoSeat is the seat value of a player that is always played automatically.
const AutoSeat = "auto"

// controls reports whether userID may act for p.
func (st *GameState) controls(userID string, p battle.Player) bool {
	if seat, ok := st.Seats[p]; ok && seat != "" && seat != AutoSeat {
		return seat == userID
	}
	return st.CreatorID == userID
}

// userFor returns the user who answers queries for p.
func (st *GameState) userFor(p battle.Player) string {
	if seat, ok := st.Seats[p]; ok && seat != "" && seat != AutoSeat {
		return seat
	}
	return st.CreatorID
}

// nextPlayer returns the player after the current one in turn order.
func (st *GameState) nextPlayer() battle.Player {
	for i, p := range st.Order {
		if p == st.Player {
			return st.Order[(i+1)%len(st.Order)]
		}
	}
	if len(st.Order) > 0 {
		return st.Order[0]
	}
	return st.Player
}

// turnOrder lists every player that owns a territory or a unit, or holds a seat.
func turnOrder(m *battle.MapModel, seats map[battle.Player]string) []battle.Player {
	set := make(map[battle.Player]bool)
	for _, t := range m.Territories {
		if t.Owner != "" {
			set[t.Owner] = true
		}
	}
	for _, u := range m.Units {
		set[u.Owner] = true
	}
	for p := range seats {
		if p != "" {
			set[p] = true
		}
	}
	out := make([]battle.Player, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// diceSource rebuilds the dice stream where the last run left it.
func (d DiceState) diceSource() (battle.RandomSource, error) {
	if d.Script != nil {
		return battle.NewScriptedSourceAt(d.Script, d.Pos), nil
	}
	src := battle.NewSeededSource(d.Seed)
	if len(d.PCG) > 0 {
		if err := src.UnmarshalBinary(d.PCG); err != nil {
			return nil, fmt.Errorf("restore dice: %w", err)
		}
	}
	return src, nil
}

// captureDice records the position of src.
func captureDice(d DiceState, src battle.RandomSource) (DiceState, error) {
	switch s := src.(type) {
	case *battle.ScriptedSource:
		d.Pos = s.Position()
	case *battle.SeededSource:
		data, err := s.MarshalBinary()
		if err != nil {
			return d, fmt.Errorf("save dice: %w", err)
		}
		d.PCG = data
	}
	return d, nil
}

// session is a game state opened for one request: a live map, scheduler and
// bridge. close writes the live objects back into the state.
type session struct {
	st      *GameState
	sched   *battle.BattleScheduler
	br      *battle.Bridge
	history *battle.MemoryHistory
	flushed int
}

func openSession(st *GameState, players map[battle.Player]battle.RemotePlayer, display battle.Display) (*session, error) {
	sched, err := battle.RestoreBattleScheduler(st.Scheduler, st.Map, st.Rules)
	if err != nil {
		return nil, fmt.Errorf("restore scheduler: %w", err)
	}
	dice, err := st.Dice.diceSource()
	if err != nil {
		return nil, err
	}
	h := &battle.MemoryHistory{}
	br := &battle.Bridge{
		Map:     st.Map,
		Rules:   st.Rules,
		Dice:    dice,
		Players: players,
		Display: display,
		History: h,
	}
	return &session{st: st, sched: sched, br: br, history: h}, nil
}

func (s *session) close() error {
	s.st.Scheduler = s.sched.Snapshot()
	d, err := captureDice(s.st.Dice, s.br.Dice)
	if err != nil {
		return err
	}
	s.st.Dice = d
	return nil
}

// newRecords returns the scheduler records not yet stored.
func (s *session) newRecords() []battle.BattleRecord {
	all := s.sched.Records()
	if s.st.SavedRecords >= len(all) {
		return nil
	}
	return all[s.st.SavedRecords:]
}
