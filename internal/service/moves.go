package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/axis-battle/api/pkg/battle"
)

// ValidateMove checks req for player without changing anything.
func (s *BattleService) ValidateMove(ctx context.Context, gameID string, player battle.Player, req battle.MoveRequest) (*battle.MoveValidationResult, error) {
	st, err := s.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if !st.isPlayer(player) {
		return nil, ErrUnknownPlayer
	}
	sched, err := battle.RestoreBattleScheduler(st.Scheduler, st.Map, st.Rules)
	if err != nil {
		return nil, err
	}
	return battle.NewMoveValidator(st.Map, st.Rules, sched).Validate(req, player, st.history()), nil
}

// SubmitMove validates and performs a move of the current player. A combat
// move into a hostile territory adds the units to the battle there. An
// illegal move returns the validation result with ErrIllegalMove.
func (s *BattleService) SubmitMove(ctx context.Context, gameID, userID string, player battle.Player, req battle.MoveRequest) (*battle.MoveValidationResult, error) {
	unlock, err := s.lock(ctx, gameID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	st, err := s.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if player != st.Player {
		return nil, ErrNotYourTurn
	}
	if !st.controls(userID, player) {
		return nil, ErrNotYourPlayer
	}
	if st.Fighting && (!req.NonCombat || len(st.Scheduler.Pending) > 0) {
		return nil, ErrMovesLocked
	}

	sess, err := openSession(st, nil, nil)
	if err != nil {
		return nil, err
	}
	res := battle.NewMoveValidator(st.Map, st.Rules, sess.sched).Validate(req, player, st.history())
	if !res.IsMoveValid() {
		return res, ErrIllegalMove
	}
	if err := sess.br.AddChange(battle.MoveChange(st.Map, st.Rules, req, player)); err != nil {
		return nil, fmt.Errorf("apply move: %w", err)
	}
	if !req.NonCombat {
		if _, err := sess.sched.AddAttack(sess.br, req.Route, req.Units, player); err != nil {
			return nil, fmt.Errorf("add attack: %w", err)
		}
	}
	st.Moves = append(st.Moves, MoveEntry{Player: player, Request: req, Changes: sess.br.DrainChanges()})
	if err := s.persist(ctx, gameID, sess); err != nil {
		return nil, err
	}

	index := len(st.Moves) - 1
	log.Info().Str("gameId", gameID).Str("player", string(player)).Str("route", req.Route.String()).
		Int("units", len(req.Units)).Int("index", index).Msg("Move made")
	s.bc.BroadcastGameEvent(gameID, EventMoveMade, map[string]any{
		"player": player, "index": index, "move": req,
	})
	return res, nil
}

// UndoMove takes back the last move of the turn: the units leave the battle
// they joined and every change the move made is reverted.
func (s *BattleService) UndoMove(ctx context.Context, gameID, userID string, index int) error {
	unlock, err := s.lock(ctx, gameID)
	if err != nil {
		return err
	}
	defer unlock()

	st, err := s.load(ctx, gameID)
	if err != nil {
		return err
	}
	if len(st.Moves) == 0 {
		return ErrNothingToUndo
	}
	if index != len(st.Moves)-1 {
		return ErrCanOnlyUndoLast
	}
	if index < st.LockedMoves {
		return ErrMovesLocked
	}
	mv := st.Moves[index]
	if !st.controls(userID, mv.Player) {
		return ErrNotYourPlayer
	}

	sess, err := openSession(st, nil, nil)
	if err != nil {
		return err
	}
	if !mv.Request.NonCombat {
		sess.sched.RemoveAttack(mv.Request.Route, mv.Request.Units)
	}
	for i := len(mv.Changes) - 1; i >= 0; i-- {
		if err := sess.br.AddChange(mv.Changes[i].Invert()); err != nil {
			return fmt.Errorf("undo move: %w", err)
		}
	}
	sess.br.DrainChanges()
	st.Moves = st.Moves[:index]
	if err := s.persist(ctx, gameID, sess); err != nil {
		return err
	}

	log.Info().Str("gameId", gameID).Str("player", string(mv.Player)).Int("index", index).Msg("Move undone")
	s.bc.BroadcastGameEvent(gameID, EventMoveUndone, map[string]any{
		"player": mv.Player, "index": index,
	})
	return nil
}

// Route finds the cheapest legal route for units from start to end.
func (s *BattleService) Route(ctx context.Context, gameID string, player battle.Player, start, end string, units []battle.UnitID) (battle.Route, bool, error) {
	st, err := s.load(ctx, gameID)
	if err != nil {
		return battle.Route{}, false, err
	}
	if _, ok := st.Map.Territories[start]; !ok {
		return battle.Route{}, false, nil
	}
	route, ok := battle.BestRoute(st.Map, st.Rules, player, start, end, units)
	return route, ok, nil
}
