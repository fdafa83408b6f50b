package handler

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionAnswer      = "answer"
)

// Event types the hub itself sends; game events come from the service.
const (
	EventConnected = "connected"
	EventError     = "error"
)

// WSEvent is the envelope for all WebSocket messages.
type WSEvent struct {
	Type   string `json:"type"`
	GameID string `json:"game_id"`
	Data   any    `json:"data"`
}

// ClientMessage is a message sent by the client. QueryID and Answer are
// only read for the answer action.
type ClientMessage struct {
	Action  string          `json:"action"`
	GameID  string          `json:"game_id"`
	QueryID string          `json:"query_id,omitempty"`
	Answer  json.RawMessage `json:"answer,omitempty"`
}

// WSConn is one client connection.
type WSConn struct {
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

// Hub tracks connections by user and by the games they watch.
type Hub struct {
	mu    sync.RWMutex
	users map[string]map[*WSConn]bool
	games map[string]map[*WSConn]bool
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		users: make(map[string]map[*WSConn]bool),
		games: make(map[string]map[*WSConn]bool),
	}
}

func addConn(set map[string]map[*WSConn]bool, key string, c *WSConn) {
	if set[key] == nil {
		set[key] = make(map[*WSConn]bool)
	}
	set[key][c] = true
}

func removeConn(set map[string]map[*WSConn]bool, key string, c *WSConn) {
	conns, ok := set[key]
	if !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(set, key)
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	addConn(h.users, c.userID, c)
}

// Unregister drops the connection and its subscriptions and closes its
// send channel.
func (h *Hub) Unregister(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.users[c.userID][c] {
		return
	}
	removeConn(h.users, c.userID, c)
	for gameID := range h.games {
		removeConn(h.games, gameID, c)
	}
	close(c.send)
}

// Subscribe adds a connection to a game channel.
func (h *Hub) Subscribe(c *WSConn, gameID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	addConn(h.games, gameID, c)
}

// Unsubscribe removes a connection from a game channel.
func (h *Hub) Unsubscribe(c *WSConn, gameID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	removeConn(h.games, gameID, c)
}

func (h *Hub) deliver(conns map[*WSConn]bool, data []byte) {
	for c := range conns {
		select {
		case c.send <- data:
		default:
			log.Warn().Str("userId", c.userID).Msg("Dropping WebSocket message, buffer full")
		}
	}
}

// BroadcastToGame sends an event to all connections subscribed to a game.
func (h *Hub) BroadcastToGame(gameID string, event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("gameId", gameID).Str("type", event.Type).Msg("Failed to marshal WebSocket event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliver(h.games[gameID], data)
}

// BroadcastToUser sends an event to every connection of a user, whether or
// not it watches the game.
func (h *Hub) BroadcastToUser(userID string, event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Str("type", event.Type).Msg("Failed to marshal WebSocket event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliver(h.users[userID], data)
}

// sendTo queues an event on a single connection.
func (h *Hub) sendTo(c *WSConn, event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.users[c.userID][c] {
		h.deliver(map[*WSConn]bool{c: true}, data)
	}
}

// ConnectionCount returns the total number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.users {
		n += len(conns)
	}
	return n
}

// GameSubscriberCount returns the number of connections subscribed to a game.
func (h *Hub) GameSubscriberCount(gameID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.games[gameID])
}
