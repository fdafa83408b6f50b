package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/freeeve/axis-battle/api/internal/model"
)

// RecordRepo handles battle_records and history database operations.
type RecordRepo struct {
	db *sql.DB
}

// NewRecordRepo creates a RecordRepo.
func NewRecordRepo(db *sql.DB) *RecordRepo {
	return &RecordRepo{db: db}
}

// SaveRecords inserts finished battles. A battle already stored is skipped,
// so a fight resumed after a crash can save its records again.
func (r *RecordRepo) SaveRecords(ctx context.Context, records []model.BattleRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save records: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO battle_records (game_id, turn, battle_id, site, kind, attacker, defender, result, who_won,
		                             rounds, attacker_lost_tuv, defender_lost_tuv, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (game_id, battle_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare save records: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.GameID, rec.Turn, rec.BattleID, rec.Site, rec.Kind, rec.Attacker,
			rec.Defender, rec.Result, rec.WhoWon, rec.Rounds, rec.AttackerLostTUV, rec.DefenderLostTUV,
			nullJSON(rec.Detail)); err != nil {
			return fmt.Errorf("save record %s: %w", rec.BattleID, err)
		}
	}
	return tx.Commit()
}

// ListRecords returns a game's finished battles, oldest first.
func (r *RecordRepo) ListRecords(ctx context.Context, gameID string) ([]model.BattleRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, game_id, turn, battle_id, site, kind, attacker, defender, result, who_won,
		        rounds, attacker_lost_tuv, defender_lost_tuv, detail, created_at
		 FROM battle_records WHERE game_id = $1 ORDER BY created_at, battle_id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []model.BattleRecord
	for rows.Next() {
		var rec model.BattleRecord
		var detail []byte
		if err := rows.Scan(&rec.ID, &rec.GameID, &rec.Turn, &rec.BattleID, &rec.Site, &rec.Kind, &rec.Attacker,
			&rec.Defender, &rec.Result, &rec.WhoWon, &rec.Rounds, &rec.AttackerLostTUV, &rec.DefenderLostTUV,
			&detail, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Detail = detail
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AppendHistory bulk-loads history entries with COPY.
func (r *RecordRepo) AppendHistory(ctx context.Context, entries []model.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append history: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("history", "game_id", "seq", "kind", "battle_id", "payload"))
	if err != nil {
		return fmt.Errorf("prepare history copy: %w", err)
	}
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.GameID, e.Seq, e.Kind, nullString(e.BattleID), string(e.Payload)); err != nil {
			stmt.Close()
			return fmt.Errorf("copy history %d: %w", e.Seq, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush history copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("close history copy: %w", err)
	}
	return tx.Commit()
}

// ListHistory returns the entries after afterSeq in order.
func (r *RecordRepo) ListHistory(ctx context.Context, gameID string, afterSeq int64) ([]model.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT game_id, seq, kind, COALESCE(battle_id, ''), payload, created_at
		 FROM history WHERE game_id = $1 AND seq > $2 ORDER BY seq LIMIT 1000`, gameID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		var payload []byte
		if err := rows.Scan(&e.GameID, &e.Seq, &e.Kind, &e.BattleID, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Payload = payload
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
