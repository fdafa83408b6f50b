package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/freeeve/axis-battle/api/internal/model"
)

type mockGameRepo struct {
	mu    sync.Mutex
	games map[string]*model.Game
}

func newMockGameRepo() *mockGameRepo {
	return &mockGameRepo{games: make(map[string]*model.Game)}
}

func (m *mockGameRepo) Create(_ context.Context, name, creatorID, rules string, seats map[string]string) (*model.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := &model.Game{
		ID:        fmt.Sprintf("game-%d", len(m.games)+1),
		Name:      name,
		CreatorID: creatorID,
		Status:    "active",
		Rules:     rules,
		Turn:      1,
		CreatedAt: time.Now(),
	}
	for p, u := range seats {
		g.Seats = append(g.Seats, model.Seat{GameID: g.ID, Player: p, UserID: u})
	}
	sort.Slice(g.Seats, func(i, j int) bool { return g.Seats[i].Player < g.Seats[j].Player })
	m.games[g.ID] = g
	cp := *g
	return &cp, nil
}

func (m *mockGameRepo) FindByID(_ context.Context, id string) (*model.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (m *mockGameRepo) ListActive(_ context.Context) ([]model.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Game
	for _, g := range m.games {
		if g.Status == "active" {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (m *mockGameRepo) SetTurn(_ context.Context, gameID string, turn int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.games[gameID]; ok {
		g.Turn = turn
	}
	return nil
}

func (m *mockGameRepo) SetFinished(_ context.Context, gameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.games[gameID]; ok {
		now := time.Now()
		g.Status = "finished"
		g.FinishedAt = &now
	}
	return nil
}

func (m *mockGameRepo) Delete(_ context.Context, gameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.games, gameID)
	return nil
}

type mockRecordRepo struct {
	mu      sync.Mutex
	records []model.BattleRecord
	history []model.HistoryEntry
}

func (m *mockRecordRepo) SaveRecords(_ context.Context, records []model.BattleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

func (m *mockRecordRepo) ListRecords(_ context.Context, gameID string) ([]model.BattleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.BattleRecord
	for _, r := range m.records {
		if r.GameID == gameID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRecordRepo) AppendHistory(_ context.Context, entries []model.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, entries...)
	return nil
}

func (m *mockRecordRepo) ListHistory(_ context.Context, gameID string, afterSeq int64) ([]model.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.HistoryEntry
	for _, e := range m.history {
		if e.GameID == gameID && e.Seq > afterSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

type mockCache struct {
	mu      sync.Mutex
	states  map[string]json.RawMessage
	active  map[string]bool
	locks   map[string]string
	queries map[string]map[string]model.PendingQuery
	seqs    map[string]int64
}

func newMockCache() *mockCache {
	return &mockCache{
		states:  make(map[string]json.RawMessage),
		active:  make(map[string]bool),
		locks:   make(map[string]string),
		queries: make(map[string]map[string]model.PendingQuery),
		seqs:    make(map[string]int64),
	}
}

func (m *mockCache) SetGameState(_ context.Context, gameID string, state json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[gameID] = append(json.RawMessage(nil), state...)
	return nil
}

func (m *mockCache) GetGameState(_ context.Context, gameID string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[gameID], nil
}

func (m *mockCache) MarkActive(_ context.Context, gameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[gameID] = true
	return nil
}

func (m *mockCache) UnmarkActive(_ context.Context, gameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, gameID)
	return nil
}

func (m *mockCache) ActiveGames(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id := range m.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *mockCache) AcquireLock(_ context.Context, gameID, owner string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[gameID]; held {
		return false, nil
	}
	m.locks[gameID] = owner
	return true, nil
}

func (m *mockCache) ReleaseLock(_ context.Context, gameID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[gameID] == owner {
		delete(m.locks, gameID)
	}
	return nil
}

func (m *mockCache) SetQuery(_ context.Context, q model.PendingQuery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queries[q.GameID] == nil {
		m.queries[q.GameID] = make(map[string]model.PendingQuery)
	}
	m.queries[q.GameID][q.ID] = q
	return nil
}

func (m *mockCache) GetQueries(_ context.Context, gameID string) ([]model.PendingQuery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PendingQuery
	for _, q := range m.queries[gameID] {
		out = append(out, q)
	}
	return out, nil
}

func (m *mockCache) ClearQuery(_ context.Context, gameID, queryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queries[gameID], queryID)
	return nil
}

func (m *mockCache) ExpiredQueries(_ context.Context, now time.Time) ([]model.PendingQuery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PendingQuery
	for _, qs := range m.queries {
		for _, q := range qs {
			if !q.Deadline.After(now) {
				out = append(out, q)
			}
		}
	}
	return out, nil
}

func (m *mockCache) NextHistorySeq(_ context.Context, gameID string, n int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seqs[gameID] += n
	return m.seqs[gameID] - n + 1, nil
}

func (m *mockCache) DeleteGameData(_ context.Context, gameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, gameID)
	delete(m.locks, gameID)
	delete(m.queries, gameID)
	delete(m.seqs, gameID)
	return nil
}

func (m *mockCache) queryCount(gameID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries[gameID])
}

type sentEvent struct {
	UserID    string
	GameID    string
	EventType string
	Data      any
}

// recordingBroadcaster keeps every event it is asked to send.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []sentEvent
}

func (b *recordingBroadcaster) BroadcastGameEvent(gameID, eventType string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{GameID: gameID, EventType: eventType, Data: data})
}

func (b *recordingBroadcaster) BroadcastUserEvent(userID, gameID, eventType string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{UserID: userID, GameID: gameID, EventType: eventType, Data: data})
}

func (b *recordingBroadcaster) count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}
