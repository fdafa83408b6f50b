package service

import (
	"github.com/freeeve/axis-battle/api/pkg/battle"
)

// Event types pushed to game subscribers.
const (
	EventGameCreated     = "game_created"
	EventMoveMade        = "move_made"
	EventMoveUndone      = "move_undone"
	EventBattleEvent     = "battle_event"
	EventBattlesResolved = "battles_resolved"
	EventBattleStopped   = "battle_stopped"
	EventBattleCancelled = "battle_cancelled"
	EventTurnEnded       = "turn_ended"
	EventQuery           = "query"
	EventQueryAnswered   = "query_answered"
	EventConfirm         = "confirm_casualties"
)

// Broadcaster sends real-time events to connected clients.
// Implemented by the WebSocket hub.
type Broadcaster interface {
	BroadcastGameEvent(gameID string, eventType string, data any)
	BroadcastUserEvent(userID, gameID string, eventType string, data any)
}

// NoopBroadcaster is a no-op implementation for testing or when WS is disabled.
type NoopBroadcaster struct{}

func (NoopBroadcaster) BroadcastGameEvent(string, string, any) {}

func (NoopBroadcaster) BroadcastUserEvent(string, string, string, any) {}

// DisplayBroadcaster is the battle display of a game: every display call
// becomes a battle_event on the game channel.
type DisplayBroadcaster struct {
	battle.EventDisplay
}

// NewDisplayBroadcaster forwards the display events of gameID to b.
func NewDisplayBroadcaster(gameID string, b Broadcaster) *DisplayBroadcaster {
	return &DisplayBroadcaster{EventDisplay: battle.EventDisplay{Emit: func(e battle.Event) {
		b.BroadcastGameEvent(gameID, EventBattleEvent, e)
	}}}
}
