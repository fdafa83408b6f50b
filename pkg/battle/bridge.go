package battle

import (
	"context"
	"sync"
)

// CasualtyDetails is a casualty choice. Damaged holds one entry per hit
// absorbed, so a unit may appear more than once.
type CasualtyDetails struct {
	Killed         []UnitID `json:"killed,omitempty"`
	Damaged        []UnitID `json:"damaged,omitempty"`
	AutoCalculated bool     `json:"autoCalculated,omitempty"`
}

// CasualtyQuery asks the owner of the targets to choose casualties.
type CasualtyQuery struct {
	BattleID   string              `json:"battleId"`
	Step       string              `json:"step"`
	Player     Player              `json:"player"`
	Site       string              `json:"site"`
	Eligible   []UnitID            `json:"eligible"`
	Hits       int                 `json:"hits"`
	Dice       DiceRoll            `json:"dice"`
	Default    CasualtyDetails     `json:"default"`
	Dependents map[UnitID][]UnitID `json:"dependents,omitempty"`
}

// RetreatQuery offers a retreat. An empty answer means stay and fight.
type RetreatQuery struct {
	BattleID     string   `json:"battleId"`
	Step         string   `json:"step"`
	Player       Player   `json:"player"`
	Submerge     bool     `json:"submerge,omitempty"`
	Site         string   `json:"site"`
	Destinations []string `json:"destinations"`
	Message      string   `json:"message"`
}

// RemotePlayer answers queries. Any returned error leaves the calling step
// on the stack to be retried.
type RemotePlayer interface {
	SelectCasualties(ctx context.Context, q CasualtyQuery) (CasualtyDetails, error)
	RetreatQuery(ctx context.Context, q RetreatQuery) (string, error)
	ConfirmOwnCasualties(ctx context.Context, battleID, step string) error
	ConfirmEnemyCasualties(ctx context.Context, battleID, step string) error
}

// AutoPlayer accepts the default casualties and never retreats.
type AutoPlayer struct{}

func (AutoPlayer) SelectCasualties(_ context.Context, q CasualtyQuery) (CasualtyDetails, error) {
	return q.Default, nil
}

func (AutoPlayer) RetreatQuery(context.Context, RetreatQuery) (string, error) { return "", nil }

func (AutoPlayer) ConfirmOwnCasualties(context.Context, string, string) error { return nil }

func (AutoPlayer) ConfirmEnemyCasualties(context.Context, string, string) error { return nil }

// EventKind identifies a display or history notification.
type EventKind string

const (
	EventShowBattle      EventKind = "show_battle"
	EventListSteps       EventKind = "list_steps"
	EventGotoStep        EventKind = "goto_step"
	EventDice            EventKind = "dice"
	EventCasualties      EventKind = "casualties"
	EventDeadUnits       EventKind = "dead_units"
	EventChangedUnits    EventKind = "changed_units"
	EventRetreat         EventKind = "retreat"
	EventBattleEnd       EventKind = "battle_end"
	EventHistory         EventKind = "history"
	EventChange          EventKind = "change"
	EventBattleScheduled EventKind = "battle_scheduled"
)

// Event is a one-way notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind      EventKind `json:"kind"`
	BattleID  string    `json:"battleId,omitempty"`
	Site      string    `json:"site,omitempty"`
	Step      string    `json:"step,omitempty"`
	Player    Player    `json:"player,omitempty"`
	Attacker  Player    `json:"attacker,omitempty"`
	Defender  Player    `json:"defender,omitempty"`
	Attacking []UnitID  `json:"attacking,omitempty"`
	Defending []UnitID  `json:"defending,omitempty"`
	Units     []UnitID  `json:"units,omitempty"`
	Damaged   []UnitID  `json:"damaged,omitempty"`
	Added     []UnitID  `json:"added,omitempty"`
	Steps     []string  `json:"steps,omitempty"`
	Dice      *DiceRoll `json:"dice,omitempty"`
	Change    *Change   `json:"change,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Display is a passive battle view.
type Display interface {
	ShowBattle(battleID, site string, attacker, defender Player, attacking, defending []UnitID)
	ListBattleSteps(battleID string, steps []string)
	GotoBattleStep(battleID, step string)
	NotifyDice(battleID, step string, roll DiceRoll)
	CasualtyNotification(battleID, step string, player Player, roll DiceRoll, killed, damaged []UnitID)
	DeadUnitNotification(battleID string, player Player, dead []UnitID)
	ChangedUnitsNotification(battleID string, player Player, removed, added []UnitID)
	NotifyRetreat(battleID, step string, player Player, message string)
	BattleEnd(battleID, message string)
}

// HistoryLog is an append-only event record.
type HistoryLog interface {
	Append(e Event)
}

// EventDisplay turns every Display call into an Event passed to Emit.
type EventDisplay struct {
	Emit func(Event)
}

// ChannelDisplay sends display events to ch.
func ChannelDisplay(ch chan<- Event) EventDisplay {
	return EventDisplay{Emit: func(e Event) { ch <- e }}
}

func (d EventDisplay) emit(e Event) {
	if d.Emit != nil {
		d.Emit(e)
	}
}

func (d EventDisplay) ShowBattle(battleID, site string, attacker, defender Player, attacking, defending []UnitID) {
	d.emit(Event{Kind: EventShowBattle, BattleID: battleID, Site: site, Attacker: attacker, Defender: defender,
		Attacking: sortedIDs(attacking), Defending: sortedIDs(defending)})
}

func (d EventDisplay) ListBattleSteps(battleID string, steps []string) {
	d.emit(Event{Kind: EventListSteps, BattleID: battleID, Steps: append([]string(nil), steps...)})
}

func (d EventDisplay) GotoBattleStep(battleID, step string) {
	d.emit(Event{Kind: EventGotoStep, BattleID: battleID, Step: step})
}

func (d EventDisplay) NotifyDice(battleID, step string, roll DiceRoll) {
	d.emit(Event{Kind: EventDice, BattleID: battleID, Step: step, Player: roll.Player, Dice: &roll})
}

func (d EventDisplay) CasualtyNotification(battleID, step string, player Player, roll DiceRoll, killed, damaged []UnitID) {
	d.emit(Event{Kind: EventCasualties, BattleID: battleID, Step: step, Player: player, Dice: &roll,
		Units: killed, Damaged: damaged})
}

func (d EventDisplay) DeadUnitNotification(battleID string, player Player, dead []UnitID) {
	d.emit(Event{Kind: EventDeadUnits, BattleID: battleID, Player: player, Units: dead})
}

func (d EventDisplay) ChangedUnitsNotification(battleID string, player Player, removed, added []UnitID) {
	d.emit(Event{Kind: EventChangedUnits, BattleID: battleID, Player: player, Units: removed, Added: added})
}

func (d EventDisplay) NotifyRetreat(battleID, step string, player Player, message string) {
	d.emit(Event{Kind: EventRetreat, BattleID: battleID, Step: step, Player: player, Message: message})
}

func (d EventDisplay) BattleEnd(battleID, message string) {
	d.emit(Event{Kind: EventBattleEnd, BattleID: battleID, Message: message})
}

// MemoryHistory keeps every event in order.
type MemoryHistory struct {
	mu     sync.Mutex
	events []Event
}

func (h *MemoryHistory) Append(e Event) {
	h.mu.Lock()
	h.events = append(h.events, e)
	h.mu.Unlock()
}

func (h *MemoryHistory) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

// Bridge is everything a battle step may touch outside its own state.
type Bridge struct {
	Map     *MapModel
	Rules   Rules
	Dice    RandomSource
	Players map[Player]RemotePlayer
	Display Display
	History HistoryLog

	changes []Change
}

// Player returns the proxy for p, or an AutoPlayer if none is registered.
func (br *Bridge) Player(p Player) RemotePlayer {
	if rp, ok := br.Players[p]; ok && rp != nil {
		return rp
	}
	return AutoPlayer{}
}

func (br *Bridge) display() Display {
	if br.Display == nil {
		return EventDisplay{}
	}
	return br.Display
}

// AddChange applies c to the map and records it. Empty changes are dropped.
func (br *Bridge) AddChange(c Change) error {
	if c.IsEmpty() {
		return nil
	}
	if err := br.Map.Apply(c); err != nil {
		return err
	}
	br.changes = append(br.changes, c)
	if br.History != nil {
		cc := c
		br.History.Append(Event{Kind: EventChange, Change: &cc})
	}
	return nil
}

// Changes returns every change applied through this bridge, in order.
func (br *Bridge) Changes() []Change {
	return append([]Change(nil), br.changes...)
}

// DrainChanges returns and forgets the recorded changes.
func (br *Bridge) DrainChanges() []Change {
	out := br.changes
	br.changes = nil
	return out
}

func (br *Bridge) historyf(battleID, message string, units []UnitID) {
	if br.History == nil {
		return
	}
	br.History.Append(Event{Kind: EventHistory, BattleID: battleID, Message: message, Units: sortedIDs(units)})
}
