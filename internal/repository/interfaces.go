package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/freeeve/axis-battle/api/internal/model"
)

// GameRepository defines game and seat data operations.
type GameRepository interface {
	Create(ctx context.Context, name, creatorID, rules string, seats map[string]string) (*model.Game, error)
	FindByID(ctx context.Context, id string) (*model.Game, error)
	ListActive(ctx context.Context) ([]model.Game, error)
	SetTurn(ctx context.Context, gameID string, turn int) error
	SetFinished(ctx context.Context, gameID string) error
	Delete(ctx context.Context, gameID string) error
}

// RecordRepository stores finished battles and the history log.
// Implemented by Postgres for the server and SQLite for offline runs.
type RecordRepository interface {
	SaveRecords(ctx context.Context, records []model.BattleRecord) error
	ListRecords(ctx context.Context, gameID string) ([]model.BattleRecord, error)
	AppendHistory(ctx context.Context, entries []model.HistoryEntry) error
	ListHistory(ctx context.Context, gameID string, afterSeq int64) ([]model.HistoryEntry, error)
}

// GameCache defines live game state operations (Redis).
type GameCache interface {
	SetGameState(ctx context.Context, gameID string, state json.RawMessage) error
	GetGameState(ctx context.Context, gameID string) (json.RawMessage, error)
	MarkActive(ctx context.Context, gameID string) error
	UnmarkActive(ctx context.Context, gameID string) error
	ActiveGames(ctx context.Context) ([]string, error)
	AcquireLock(ctx context.Context, gameID, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, gameID, owner string) error
	SetQuery(ctx context.Context, q model.PendingQuery) error
	GetQueries(ctx context.Context, gameID string) ([]model.PendingQuery, error)
	ClearQuery(ctx context.Context, gameID, queryID string) error
	ExpiredQueries(ctx context.Context, now time.Time) ([]model.PendingQuery, error)
	NextHistorySeq(ctx context.Context, gameID string, n int64) (int64, error)
	DeleteGameData(ctx context.Context, gameID string) error
}
