package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/axis-battle/api/internal/auth"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 54 * time.Second // Must be less than pongWait
	maxMsgSize  = 16384
	sendBufSize = 256
	answerWait  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS handled by middleware
	},
}

// QueryAnswerer takes answers to battle queries sent over the socket.
type QueryAnswerer interface {
	AnswerQuery(ctx context.Context, gameID, userID, queryID string, answer json.RawMessage) error
}

// WSHandler handles WebSocket connections.
type WSHandler struct {
	hub     *Hub
	jwtMgr  *auth.JWTManager
	answers QueryAnswerer
}

// NewWSHandler creates a WSHandler. answers may be nil, in which case
// queries can only be answered over HTTP.
func NewWSHandler(hub *Hub, jwtMgr *auth.JWTManager, answers QueryAnswerer) *WSHandler {
	return &WSHandler{hub: hub, jwtMgr: jwtMgr, answers: answers}
}

// ServeWS handles GET /api/v1/ws.
// Auth via ?token= query parameter (WebSocket can't send headers).
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		writeError(w, http.StatusUnauthorized, "missing token parameter")
		return
	}
	claims, err := h.jwtMgr.ValidateAccessToken(tokenStr)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &WSConn{
		conn:   conn,
		userID: claims.UserID,
		send:   make(chan []byte, sendBufSize),
	}
	h.hub.Register(client)
	h.hub.sendTo(client, WSEvent{Type: EventConnected, Data: map[string]string{"user_id": claims.UserID}})

	go h.writePump(client)
	go h.readPump(client)

	log.Info().Str("userId", claims.UserID).Int("total", h.hub.ConnectionCount()).Msg("WebSocket client connected")
}

// readPump reads client messages until the connection drops.
func (h *WSHandler) readPump(c *WSConn) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
		log.Info().Str("userId", c.userID).Msg("WebSocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("userId", c.userID).Msg("WebSocket unexpected close")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.hub.sendTo(c, WSEvent{Type: EventError, Data: map[string]string{"error": "invalid message"}})
			continue
		}
		h.handleMessage(c, msg)
	}
}

func (h *WSHandler) handleMessage(c *WSConn, msg ClientMessage) {
	if msg.GameID == "" {
		return
	}
	switch msg.Action {
	case ActionSubscribe:
		h.hub.Subscribe(c, msg.GameID)
	case ActionUnsubscribe:
		h.hub.Unsubscribe(c, msg.GameID)
	case ActionAnswer:
		if h.answers == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), answerWait)
		defer cancel()
		if err := h.answers.AnswerQuery(ctx, msg.GameID, c.userID, msg.QueryID, msg.Answer); err != nil {
			log.Warn().Err(err).Str("userId", c.userID).Str("gameId", msg.GameID).Str("queryId", msg.QueryID).Msg("Answer rejected")
			h.hub.sendTo(c, WSEvent{Type: EventError, GameID: msg.GameID, Data: map[string]string{
				"query_id": msg.QueryID,
				"error":    err.Error(),
			}})
		}
	}
}

// writePump writes queued messages and keeps the connection alive.
func (h *WSHandler) writePump(c *WSConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
