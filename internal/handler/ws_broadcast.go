package handler

// BroadcastGameEvent implements service.Broadcaster using the WebSocket hub.
func (h *Hub) BroadcastGameEvent(gameID string, eventType string, data any) {
	h.BroadcastToGame(gameID, WSEvent{Type: eventType, GameID: gameID, Data: data})
}

// BroadcastUserEvent implements service.Broadcaster for events meant for
// one user only, such as the queries they must answer.
func (h *Hub) BroadcastUserEvent(userID, gameID string, eventType string, data any) {
	h.BroadcastToUser(userID, WSEvent{Type: eventType, GameID: gameID, Data: data})
}
