package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/freeeve/axis-battle/api/internal/model"
)

// GameRepo handles game and game_seats database operations.
type GameRepo struct {
	db *sql.DB
}

// NewGameRepo creates a GameRepo.
func NewGameRepo(db *sql.DB) *GameRepo {
	return &GameRepo{db: db}
}

// Create inserts a new game and its seats in one transaction.
func (r *GameRepo) Create(ctx context.Context, name, creatorID, rules string, seats map[string]string) (*model.Game, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create game: %w", err)
	}
	defer tx.Rollback()

	var g model.Game
	err = tx.QueryRowContext(ctx,
		`INSERT INTO games (name, creator_id, rules)
		 VALUES ($1, $2, $3)
		 RETURNING id, name, creator_id, status, rules, turn, created_at`,
		name, creatorID, rules,
	).Scan(&g.ID, &g.Name, &g.CreatorID, &g.Status, &g.Rules, &g.Turn, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create game: %w", err)
	}

	players := make([]string, 0, len(seats))
	for p := range seats {
		players = append(players, p)
	}
	sort.Strings(players)
	for _, p := range players {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO game_seats (game_id, player, user_id) VALUES ($1, $2, $3)`,
			g.ID, p, seats[p]); err != nil {
			return nil, fmt.Errorf("create seat %s: %w", p, err)
		}
		g.Seats = append(g.Seats, model.Seat{GameID: g.ID, Player: p, UserID: seats[p]})
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create game: %w", err)
	}
	return &g, nil
}

// FindByID returns a game by ID with its seats.
func (r *GameRepo) FindByID(ctx context.Context, id string) (*model.Game, error) {
	var g model.Game
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, creator_id, status, rules, turn, created_at, finished_at
		 FROM games WHERE id = $1`, id,
	).Scan(&g.ID, &g.Name, &g.CreatorID, &g.Status, &g.Rules, &g.Turn, &g.CreatedAt, &g.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find game: %w", err)
	}

	seats, err := r.ListSeats(ctx, id)
	if err != nil {
		return nil, err
	}
	g.Seats = seats
	return &g, nil
}

// ListSeats returns the seats of a game ordered by player.
func (r *GameRepo) ListSeats(ctx context.Context, gameID string) ([]model.Seat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT game_id, player, user_id FROM game_seats WHERE game_id = $1 ORDER BY player`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list seats: %w", err)
	}
	defer rows.Close()

	var seats []model.Seat
	for rows.Next() {
		var s model.Seat
		if err := rows.Scan(&s.GameID, &s.Player, &s.UserID); err != nil {
			return nil, fmt.Errorf("scan seat: %w", err)
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

// ListActive returns all games still being played.
func (r *GameRepo) ListActive(ctx context.Context) ([]model.Game, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, creator_id, status, rules, turn, created_at
		 FROM games WHERE status = 'active' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active games: %w", err)
	}
	defer rows.Close()

	var games []model.Game
	for rows.Next() {
		var g model.Game
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatorID, &g.Status, &g.Rules, &g.Turn, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// SetTurn stores the turn number after a turn ends.
func (r *GameRepo) SetTurn(ctx context.Context, gameID string, turn int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE games SET turn = $2 WHERE id = $1`, gameID, turn)
	if err != nil {
		return fmt.Errorf("set turn: %w", err)
	}
	return nil
}

// SetFinished marks a game as finished.
func (r *GameRepo) SetFinished(ctx context.Context, gameID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE games SET status = 'finished', finished_at = now() WHERE id = $1`, gameID)
	if err != nil {
		return fmt.Errorf("set finished: %w", err)
	}
	return nil
}

// Delete removes a game; seats, records and history cascade.
func (r *GameRepo) Delete(ctx context.Context, gameID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM games WHERE id = $1`, gameID)
	if err != nil {
		return fmt.Errorf("delete game: %w", err)
	}
	return nil
}
