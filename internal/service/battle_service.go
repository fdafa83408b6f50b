package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/axis-battle/api/internal/logger"
	"github.com/freeeve/axis-battle/api/internal/model"
	"github.com/freeeve/axis-battle/api/internal/repository"
	"github.com/freeeve/axis-battle/api/pkg/battle"
)

const (
	resumeBackoff    = 25 * time.Millisecond
	maxResumeBackoff = time.Second
)

// Options tunes a BattleService.
type Options struct {
	RulesPreset   string
	DiceSeed      int64
	AutoPickAfter int
	LockTTL       time.Duration
}

// BattleService runs games: moves, battles and the queries battles ask.
// Live state is kept in the cache; finished battles and the history log go
// to the record store.
type BattleService struct {
	games   repository.GameRepository
	records repository.RecordRepository
	cache   repository.GameCache
	broker  *QueryBroker
	bc      Broadcaster
	opts    Options

	instanceID string
	// gameLocks serializes work on a game inside this process; the cache
	// lock does the same across processes.
	gameLocks sync.Map

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBattleService creates a BattleService.
func NewBattleService(games repository.GameRepository, records repository.RecordRepository, cache repository.GameCache, broker *QueryBroker, bc Broadcaster, opts Options) *BattleService {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BattleService{
		games:      games,
		records:    records,
		cache:      cache,
		broker:     broker,
		bc:         bc,
		opts:       opts,
		instanceID: uuid.NewString(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Shutdown stops background fights and waits for them to save their state.
func (s *BattleService) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

// gameLock returns the mutex for a given game ID.
func (s *BattleService) gameLock(gameID string) *sync.Mutex {
	v, _ := s.gameLocks.LoadOrStore(gameID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// lock takes the game for the caller or fails with ErrGameBusy.
func (s *BattleService) lock(ctx context.Context, gameID string) (func(), error) {
	mu := s.gameLock(gameID)
	if !mu.TryLock() {
		return nil, ErrGameBusy
	}
	ok, err := s.cache.AcquireLock(ctx, gameID, s.instanceID, s.opts.LockTTL)
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("acquire game lock: %w", err)
	}
	if !ok {
		mu.Unlock()
		return nil, ErrGameBusy
	}
	return func() {
		if err := s.cache.ReleaseLock(context.WithoutCancel(ctx), gameID, s.instanceID); err != nil {
			log.Warn().Err(err).Str("gameId", gameID).Msg("Failed to release game lock")
		}
		mu.Unlock()
	}, nil
}

func (s *BattleService) load(ctx context.Context, gameID string) (*GameState, error) {
	raw, err := s.cache.GetGameState(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("load game state: %w", err)
	}
	if raw == nil {
		return nil, ErrGameNotFound
	}
	return decodeState(raw)
}

// persist writes the session back: new battle records and history to the
// record store, then the state to the cache.
func (s *BattleService) persist(ctx context.Context, gameID string, sess *session) error {
	if err := sess.close(); err != nil {
		return err
	}
	if recs := sess.newRecords(); len(recs) > 0 {
		rows := make([]model.BattleRecord, 0, len(recs))
		for _, r := range recs {
			row, err := recordRow(gameID, sess.st.Turn, r)
			if err != nil {
				return err
			}
			rows = append(rows, row)
		}
		if err := s.records.SaveRecords(ctx, rows); err != nil {
			return fmt.Errorf("save records: %w", err)
		}
		sess.st.SavedRecords += len(recs)
	}
	if err := s.flushHistory(ctx, gameID, sess); err != nil {
		return err
	}
	raw, err := sess.st.encode()
	if err != nil {
		return err
	}
	if err := s.cache.SetGameState(ctx, gameID, raw); err != nil {
		return fmt.Errorf("save game state: %w", err)
	}
	return nil
}

func (s *BattleService) flushHistory(ctx context.Context, gameID string, sess *session) error {
	events := sess.history.Events()
	if sess.flushed >= len(events) {
		return nil
	}
	events = events[sess.flushed:]
	first, err := s.cache.NextHistorySeq(ctx, gameID, int64(len(events)))
	if err != nil {
		return err
	}
	now := time.Now()
	entries := make([]model.HistoryEntry, 0, len(events))
	for i, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode history event: %w", err)
		}
		entries = append(entries, model.HistoryEntry{
			GameID:    gameID,
			Seq:       first + int64(i),
			Kind:      string(e.Kind),
			BattleID:  e.BattleID,
			Payload:   payload,
			CreatedAt: now,
		})
	}
	if err := s.records.AppendHistory(ctx, entries); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	sess.flushed += len(events)
	return nil
}

func recordRow(gameID string, turn int, r battle.BattleRecord) (model.BattleRecord, error) {
	detail, err := json.Marshal(r)
	if err != nil {
		return model.BattleRecord{}, fmt.Errorf("encode battle record: %w", err)
	}
	return model.BattleRecord{
		GameID:          gameID,
		Turn:            turn,
		BattleID:        r.BattleID,
		Site:            r.Site,
		Kind:            string(r.Kind),
		Attacker:        string(r.Attacker),
		Defender:        string(r.Defender),
		Result:          string(r.Result),
		WhoWon:          string(r.WhoWon),
		Rounds:          r.Rounds,
		AttackerLostTUV: r.AttackerLostTUV,
		DefenderLostTUV: r.DefenderLostTUV,
		Detail:          detail,
		CreatedAt:       time.Now(),
	}, nil
}

// CreateGame builds the scenario, sets up its attacks and stores the game.
// seats maps player names to user ids; AutoSeat plays a player automatically.
func (s *BattleService) CreateGame(ctx context.Context, name, creatorID string, scenario []byte, seats map[string]string) (*model.Game, error) {
	sc, err := battle.ParseScenario(scenario)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if sc.Rules == "" {
		sc.Rules = s.opts.RulesPreset
	}
	board, err := sc.Build(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if name == "" {
		name = sc.Name
	}

	st := &GameState{
		Map:       board.Map,
		Rules:     board.Rules,
		Turn:      1,
		Seats:     make(map[battle.Player]string, len(seats)),
		CreatorID: creatorID,
		Misses:    make(map[battle.Player]int),
	}
	for p, u := range seats {
		st.Seats[battle.Player(p)] = u
	}
	st.Order = turnOrder(board.Map, st.Seats)
	for p := range st.Seats {
		if !st.isPlayer(p) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, p)
		}
	}
	if len(st.Order) == 0 {
		return nil, fmt.Errorf("%w: no players", ErrInvalidScenario)
	}
	st.Player = st.Order[0]
	if len(sc.Attacks) > 0 && sc.Attacks[0].Player != "" {
		st.Player = sc.Attacks[0].Player
	}
	switch {
	case len(sc.Dice) > 0:
		st.Dice.Script = append([]int(nil), sc.Dice...)
	case sc.Seed != 0:
		st.Dice.Seed = sc.Seed
	case s.opts.DiceSeed != 0:
		st.Dice.Seed = s.opts.DiceSeed
	default:
		st.Dice.Seed = time.Now().UnixNano()
	}

	sess, err := openSession(st, nil, nil)
	if err != nil {
		return nil, err
	}
	if _, err := board.Setup(sess.br, sess.sched); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	sess.br.DrainChanges()

	game, err := s.games.Create(ctx, name, creatorID, sc.Rules, seats)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, game.ID, sess); err != nil {
		if derr := s.games.Delete(context.WithoutCancel(ctx), game.ID); derr != nil {
			log.Error().Err(derr).Str("gameId", game.ID).Msg("Failed to roll back game row")
		}
		return nil, err
	}
	if err := s.cache.MarkActive(ctx, game.ID); err != nil {
		return nil, err
	}

	log.Info().Str("gameId", game.ID).Str("rules", sc.Rules).
		Int("battles", len(sess.sched.Battles())).Msg("Game created")
	game.Player = string(st.Player)
	game.PendingBattles = battleStatuses(sess.sched)
	notified := map[string]bool{creatorID: true, AutoSeat: true}
	for _, seat := range game.Seats {
		if notified[seat.UserID] {
			continue
		}
		notified[seat.UserID] = true
		s.bc.BroadcastUserEvent(seat.UserID, game.ID, EventGameCreated, game)
	}
	return game, nil
}

// GetGame returns the game row with its live turn and pending battles.
func (s *BattleService) GetGame(ctx context.Context, gameID string) (*model.Game, error) {
	game, err := s.games.FindByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game == nil {
		return nil, ErrGameNotFound
	}
	st, err := s.load(ctx, gameID)
	if errors.Is(err, ErrGameNotFound) {
		return game, nil
	}
	if err != nil {
		return nil, err
	}
	sched, err := battle.RestoreBattleScheduler(st.Scheduler, st.Map, st.Rules)
	if err != nil {
		return nil, err
	}
	game.Turn = st.Turn
	game.Player = string(st.Player)
	game.PendingBattles = battleStatuses(sched)
	return game, nil
}

func battleStatuses(sched *battle.BattleScheduler) []model.BattleStatus {
	var out []model.BattleStatus
	for _, b := range sched.Battles() {
		out = append(out, battleStatus(sched, b))
	}
	return out
}

func battleStatus(sched *battle.BattleScheduler, b battle.Battle) model.BattleStatus {
	st := model.BattleStatus{
		ID:       b.ID(),
		Site:     b.Site(),
		Kind:     string(b.Kind()),
		Attacker: string(b.Attacker()),
		Defender: string(b.Defender()),
	}
	if mf, ok := b.(*battle.MustFightBattle); ok {
		st.Round = mf.Round()
		st.Steps = append([]string(nil), mf.State.StepStrings...)
	}
	for _, dep := range sched.Dependencies(b) {
		st.BlockedBy = append(st.BlockedBy, dep.Site())
	}
	return st
}

// EndTurn closes the current player's turn and passes it on. Every battle
// must be over.
func (s *BattleService) EndTurn(ctx context.Context, gameID, userID string) (*model.Game, error) {
	unlock, err := s.lock(ctx, gameID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	st, err := s.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if !st.controls(userID, st.Player) {
		return nil, ErrNotYourPlayer
	}
	if len(st.Scheduler.Pending) > 0 {
		return nil, ErrBattlesPending
	}
	sess, err := openSession(st, nil, nil)
	if err != nil {
		return nil, err
	}
	ended := st.Player
	if err := sess.sched.EndTurn(sess.br, ended); err != nil {
		return nil, err
	}
	st.Moves = nil
	st.LockedMoves = 0
	st.Fighting = false
	st.SavedRecords = 0
	st.Player = st.nextPlayer()
	if len(st.Order) > 0 && st.Player == st.Order[0] {
		st.Turn++
	}
	if err := s.persist(ctx, gameID, sess); err != nil {
		return nil, err
	}
	if err := s.games.SetTurn(ctx, gameID, st.Turn); err != nil {
		return nil, err
	}

	log.Info().Str("gameId", gameID).Str("ended", string(ended)).Str("next", string(st.Player)).
		Int("turn", st.Turn).Msg("Turn ended")
	s.bc.BroadcastGameEvent(gameID, EventTurnEnded, map[string]any{
		"ended": ended, "player": st.Player, "turn": st.Turn,
	})
	return s.GetGame(ctx, gameID)
}

// FinishGame marks the game finished and drops its live state. Only the
// creator may finish a game.
func (s *BattleService) FinishGame(ctx context.Context, gameID, userID string) error {
	unlock, err := s.lock(ctx, gameID)
	if err != nil {
		return err
	}
	defer unlock()

	game, err := s.games.FindByID(ctx, gameID)
	if err != nil {
		return err
	}
	if game == nil {
		return ErrGameNotFound
	}
	if game.CreatorID != userID {
		return ErrNotYourPlayer
	}
	if game.Status != "active" {
		return ErrGameNotActive
	}
	if err := s.games.SetFinished(ctx, gameID); err != nil {
		return err
	}
	if err := s.cache.UnmarkActive(ctx, gameID); err != nil {
		return err
	}
	if err := s.cache.DeleteGameData(ctx, gameID); err != nil {
		return err
	}
	log.Info().Str("gameId", gameID).Msg("Game finished")
	return nil
}

// ListRecords returns the stored battle records of a game.
func (s *BattleService) ListRecords(ctx context.Context, gameID string) ([]model.BattleRecord, error) {
	return s.records.ListRecords(ctx, gameID)
}

// ListHistory returns the history entries after afterSeq.
func (s *BattleService) ListHistory(ctx context.Context, gameID string, afterSeq int64) ([]model.HistoryEntry, error) {
	return s.records.ListHistory(ctx, gameID, afterSeq)
}

// RecoverActiveGames resumes the battles of every active game. Queries left
// by a previous process have nobody waiting on them and are dropped so the
// battles ask again.
func (s *BattleService) RecoverActiveGames(ctx context.Context) error {
	ids, err := s.cache.ActiveGames(ctx)
	if err != nil {
		return fmt.Errorf("list active games: %w", err)
	}
	// The active set may have been lost with a cache flush while the rows
	// survived; such games without a saved state cannot be resumed.
	rows, err := s.games.ListActive(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for _, g := range rows {
		if seen[g.ID] {
			continue
		}
		if raw, err := s.cache.GetGameState(ctx, g.ID); err != nil || raw == nil {
			log.Warn().Str("gameId", g.ID).Msg("Active game has no live state")
			continue
		}
		if err := s.cache.MarkActive(ctx, g.ID); err != nil {
			return err
		}
		ids = append(ids, g.ID)
	}
	for _, gameID := range ids {
		queries, err := s.cache.GetQueries(ctx, gameID)
		if err != nil {
			log.Error().Err(err).Str("gameId", gameID).Msg("Failed to list stale queries")
			continue
		}
		for _, q := range queries {
			if err := s.cache.ClearQuery(ctx, gameID, q.ID); err != nil {
				log.Error().Err(err).Str("gameId", gameID).Str("queryId", q.ID).Msg("Failed to clear stale query")
			}
		}
		s.resumeAsync(gameID)
	}
	log.Info().Int("count", len(ids)).Msg("Recovered active games")
	return nil
}

func (s *BattleService) resumeAsync(gameID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.resumeWhenFree(s.ctx, gameID); err != nil {
			gameLog := logger.ForGame(gameID)
			gameLog.Error().Err(err).Msg("Failed to resume battles")
		}
	}()
}

// resumeWhenFree resumes gameID, waiting for whoever holds the game to let
// go. An answer parked while a fight was still running would otherwise be
// left with nothing to pick it up.
func (s *BattleService) resumeWhenFree(ctx context.Context, gameID string) error {
	wait := resumeBackoff
	deadline := time.Now().Add(s.opts.LockTTL)
	for {
		_, err := s.resume(ctx, gameID)
		if !errors.Is(err, ErrGameBusy) {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("resume after %s: %w", s.opts.LockTTL, err)
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		wait = min(wait*2, maxResumeBackoff)
	}
}
