package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/freeeve/axis-battle/api/internal/auth"
	"github.com/freeeve/axis-battle/api/internal/service"
)

func newTestConn(userID string) *WSConn {
	return &WSConn{
		userID: userID,
		send:   make(chan []byte, sendBufSize),
	}
}

func readEvent(t *testing.T, c *WSConn) WSEvent {
	t.Helper()
	select {
	case data := <-c.send:
		var ev WSEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	return WSEvent{}
}

func expectNoEvent(t *testing.T, c *WSConn) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected event: %s", data)
	default:
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub()
	c1 := newTestConn("user-1")
	c2 := newTestConn("user-1")

	hub.Register(c1)
	hub.Register(c2)
	if hub.ConnectionCount() != 2 {
		t.Errorf("expected 2 connections, got %d", hub.ConnectionCount())
	}

	hub.Unregister(c1)
	hub.Unregister(c1) // second call is a no-op
	if hub.ConnectionCount() != 1 {
		t.Errorf("expected 1 connection, got %d", hub.ConnectionCount())
	}
	if _, ok := <-c1.send; ok {
		t.Error("expected send channel to be closed")
	}
	hub.Unregister(c2)
}

func TestHubUnregisterDropsSubscriptions(t *testing.T) {
	hub := NewHub()
	c := newTestConn("user-1")
	hub.Register(c)
	hub.Subscribe(c, "game-1")
	hub.Subscribe(c, "game-2")

	hub.Unregister(c)
	if n := hub.GameSubscriberCount("game-1") + hub.GameSubscriberCount("game-2"); n != 0 {
		t.Errorf("expected no subscribers left, got %d", n)
	}
}

func TestHubGameAndUserEvents(t *testing.T) {
	hub := NewHub()
	watcher := newTestConn("user-1")
	defender := newTestConn("user-2")
	hub.Register(watcher)
	hub.Register(defender)
	defer hub.Unregister(watcher)
	defer hub.Unregister(defender)
	hub.Subscribe(watcher, "game-1")

	hub.BroadcastGameEvent("game-1", service.EventBattlesResolved, map[string]int{"count": 1})
	ev := readEvent(t, watcher)
	if ev.Type != service.EventBattlesResolved || ev.GameID != "game-1" {
		t.Errorf("unexpected game event: %+v", ev)
	}
	expectNoEvent(t, defender)

	// Queries reach their user even without a subscription.
	hub.BroadcastUserEvent("user-2", "game-1", service.EventQuery, map[string]string{"id": "q1"})
	ev = readEvent(t, defender)
	if ev.Type != service.EventQuery || ev.GameID != "game-1" {
		t.Errorf("unexpected user event: %+v", ev)
	}
	expectNoEvent(t, watcher)
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub()
	c := &WSConn{userID: "user-1", send: make(chan []byte, 1)}
	hub.Register(c)
	defer hub.Unregister(c)

	hub.BroadcastToUser("user-1", WSEvent{Type: "a"})
	hub.BroadcastToUser("user-1", WSEvent{Type: "b"})
	if ev := readEvent(t, c); ev.Type != "a" {
		t.Errorf("expected first event kept, got %s", ev.Type)
	}
	expectNoEvent(t, c)
}

func TestHubConcurrentAccess(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newTestConn("user-1")
			hub.Register(c)
			hub.Subscribe(c, "game-1")
			hub.BroadcastGameEvent("game-1", service.EventBattleEvent, nil)
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ConnectionCount() != 0 {
		t.Errorf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

type fakeAnswerer struct {
	mu    sync.Mutex
	calls []ClientMessage
	err   error
}

func (f *fakeAnswerer) AnswerQuery(_ context.Context, gameID, _, queryID string, answer json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ClientMessage{Action: ActionAnswer, GameID: gameID, QueryID: queryID, Answer: answer})
	return f.err
}

func TestHandleMessageAnswer(t *testing.T) {
	hub := NewHub()
	answers := &fakeAnswerer{}
	h := NewWSHandler(hub, auth.NewJWTManager("secret"), answers)
	c := newTestConn("user-1")
	hub.Register(c)
	defer hub.Unregister(c)

	h.handleMessage(c, ClientMessage{Action: ActionAnswer, GameID: "game-1", QueryID: "q1", Answer: json.RawMessage(`{"killed":[4]}`)})
	if len(answers.calls) != 1 || answers.calls[0].QueryID != "q1" {
		t.Fatalf("expected answer forwarded, got %+v", answers.calls)
	}
	expectNoEvent(t, c)

	answers.err = service.ErrQueryNotPending
	h.handleMessage(c, ClientMessage{Action: ActionAnswer, GameID: "game-1", QueryID: "q2"})
	ev := readEvent(t, c)
	if ev.Type != EventError {
		t.Errorf("expected error event, got %s", ev.Type)
	}
}

func TestServeWSSubscribeAndReceive(t *testing.T) {
	hub := NewHub()
	jwtMgr := auth.NewJWTManager("secret")
	h := NewWSHandler(hub, jwtMgr, nil)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	tokens, err := jwtMgr.Issue("user-1", "alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + tokens.AccessToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev WSEvent
	if err := conn.ReadJSON(&ev); err != nil || ev.Type != EventConnected {
		t.Fatalf("expected connected event, got %+v (%v)", ev, err)
	}

	if err := conn.WriteJSON(ClientMessage{Action: ActionSubscribe, GameID: "game-1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for hub.GameSubscriberCount("game-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.BroadcastGameEvent("game-1", service.EventTurnEnded, map[string]string{"player": "Russians"})
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != service.EventTurnEnded || ev.GameID != "game-1" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestServeWSRejectsRefreshToken(t *testing.T) {
	jwtMgr := auth.NewJWTManager("secret")
	h := NewWSHandler(NewHub(), jwtMgr, nil)
	tokens, _ := jwtMgr.Issue("user-1", "alice")

	rec := httptest.NewRecorder()
	h.ServeWS(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ws?token="+tokens.RefreshToken, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeWS(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
}
