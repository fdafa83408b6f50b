// Package sqlite provides a SQLite-backed record store for offline
// simulation runs and single-node servers.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/freeeve/axis-battle/api/internal/model"
	"github.com/freeeve/axis-battle/api/internal/repository/migrations"
)

// Store persists battle records and history in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store and applies the embedded migrations. The path
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps an in-memory database alive and serialises writers.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrations.Apply(context.Background(), sqlDB, migrations.SQLite); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveRecords inserts finished battles, skipping ones already stored.
func (s *Store) SaveRecords(ctx context.Context, records []model.BattleRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save records: %w", err)
	}
	defer tx.Rollback()

	now := toMillis(time.Now())
	for _, rec := range records {
		id := rec.ID
		if id == "" {
			id = uuid.NewString()
		}
		created := now
		if !rec.CreatedAt.IsZero() {
			created = toMillis(rec.CreatedAt)
		}
		var detail any
		if len(rec.Detail) > 0 {
			detail = string(rec.Detail)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO battle_records (id, game_id, turn, battle_id, site, kind, attacker, defender,
			   result, who_won, rounds, attacker_lost_tuv, defender_lost_tuv, detail, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, rec.GameID, rec.Turn, rec.BattleID, rec.Site, rec.Kind, rec.Attacker, rec.Defender,
			rec.Result, rec.WhoWon, rec.Rounds, rec.AttackerLostTUV, rec.DefenderLostTUV, detail, created)
		if err != nil {
			return fmt.Errorf("save record %s: %w", rec.BattleID, err)
		}
	}
	return tx.Commit()
}

// ListRecords returns a game's finished battles, oldest first.
func (s *Store) ListRecords(ctx context.Context, gameID string) ([]model.BattleRecord, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, game_id, turn, battle_id, site, kind, attacker, defender, result, who_won,
		        rounds, attacker_lost_tuv, defender_lost_tuv, COALESCE(detail, ''), created_at
		 FROM battle_records WHERE game_id = ? ORDER BY created_at, rowid`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []model.BattleRecord
	for rows.Next() {
		var rec model.BattleRecord
		var detail string
		var created int64
		if err := rows.Scan(&rec.ID, &rec.GameID, &rec.Turn, &rec.BattleID, &rec.Site, &rec.Kind, &rec.Attacker,
			&rec.Defender, &rec.Result, &rec.WhoWon, &rec.Rounds, &rec.AttackerLostTUV, &rec.DefenderLostTUV,
			&detail, &created); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if detail != "" {
			rec.Detail = []byte(detail)
		}
		rec.CreatedAt = fromMillis(created)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AppendHistory inserts history entries.
func (s *Store) AppendHistory(ctx context.Context, entries []model.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append history: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO history (game_id, seq, kind, battle_id, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare history insert: %w", err)
	}
	defer stmt.Close()

	now := toMillis(time.Now())
	for _, e := range entries {
		var battleID any
		if e.BattleID != "" {
			battleID = e.BattleID
		}
		if _, err := stmt.ExecContext(ctx, e.GameID, e.Seq, e.Kind, battleID, string(e.Payload), now); err != nil {
			return fmt.Errorf("insert history %d: %w", e.Seq, err)
		}
	}
	return tx.Commit()
}

// ListHistory returns the entries after afterSeq in order.
func (s *Store) ListHistory(ctx context.Context, gameID string, afterSeq int64) ([]model.HistoryEntry, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT game_id, seq, kind, COALESCE(battle_id, ''), payload, created_at
		 FROM history WHERE game_id = ? AND seq > ? ORDER BY seq LIMIT 1000`, gameID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		var payload string
		var created int64
		if err := rows.Scan(&e.GameID, &e.Seq, &e.Kind, &e.BattleID, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Payload = []byte(payload)
		e.CreatedAt = fromMillis(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ResultCount is how often a result came up across stored battles.
type ResultCount struct {
	Site   string
	Result string
	WhoWon string
	Count  int
	// AvgRounds is the mean number of rounds fought.
	AvgRounds float64
}

// Summary groups the records of gameID by site and result.
func (s *Store) Summary(ctx context.Context, gameID string) ([]ResultCount, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT site, result, who_won, COUNT(*), AVG(rounds)
		 FROM battle_records WHERE game_id = ?
		 GROUP BY site, result, who_won ORDER BY site, COUNT(*) DESC, result`, gameID)
	if err != nil {
		return nil, fmt.Errorf("summarise records: %w", err)
	}
	defer rows.Close()

	var out []ResultCount
	for rows.Next() {
		var rc ResultCount
		if err := rows.Scan(&rc.Site, &rc.Result, &rc.WhoWon, &rc.Count, &rc.AvgRounds); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}
