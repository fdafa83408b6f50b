package service

import "errors"

var (
	ErrGameNotFound    = errors.New("game not found")
	ErrGameNotActive   = errors.New("game is not active")
	ErrBattleNotFound  = errors.New("battle not found")
	ErrNotYourTurn     = errors.New("another player is moving this turn")
	ErrNotYourPlayer   = errors.New("you do not control this player")
	ErrNotYourQuery    = errors.New("query is addressed to another player")
	ErrQueryNotPending = errors.New("query is not pending")
	ErrQueryTimeout    = errors.New("query timed out")
	ErrIllegalMove     = errors.New("illegal move")
	ErrMovesLocked     = errors.New("battles have started, moves are locked")
	ErrNothingToUndo   = errors.New("no move to undo")
	ErrCanOnlyUndoLast = errors.New("only the last move can be undone")
	ErrBattlesPending  = errors.New("battles are still pending")
	ErrNoBattles       = errors.New("no battles to fight")
	ErrGameBusy        = errors.New("game is busy resolving battles")
	ErrInvalidScenario = errors.New("invalid scenario")
	ErrUnknownPlayer   = errors.New("player is not part of this game")
	ErrInvalidAnswer   = errors.New("answer does not fit the query")
)
