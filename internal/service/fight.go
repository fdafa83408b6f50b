package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/axis-battle/api/internal/logger"
	"github.com/freeeve/axis-battle/api/internal/model"
	"github.com/freeeve/axis-battle/api/pkg/battle"
)

// FightResult is what one run of the battles produced.
type FightResult struct {
	Records []battle.BattleRecord `json:"records,omitempty"`
	Pending []model.BattleStatus  `json:"pending,omitempty"`
	// Stopped is set when a battle is waiting on a player.
	Stopped bool `json:"stopped"`
}

// BattleView is one battle of a game, pending or finished.
type BattleView struct {
	Status  model.BattleStatus   `json:"status"`
	State   *battle.BattleState  `json:"state,omitempty"`
	Record  *battle.BattleRecord `json:"record,omitempty"`
	Queries []model.PendingQuery `json:"queries,omitempty"`
}

// FightBattles fights the pending battles of the game and returns once they
// are all over or one stops waiting on a player.
func (s *BattleService) FightBattles(ctx context.Context, gameID, userID string) (*FightResult, error) {
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
	if len(st.Scheduler.Pending) == 0 {
		return nil, ErrNoBattles
	}
	return s.fight(ctx, gameID, st)
}

// StartFight is FightBattles in the background. Progress reaches the
// players as events; queries are answered with AnswerQuery.
func (s *BattleService) StartFight(ctx context.Context, gameID, userID string) error {
	unlock, err := s.lock(ctx, gameID)
	if err != nil {
		return err
	}
	st, err := s.load(ctx, gameID)
	if err == nil && !st.controls(userID, st.Player) {
		err = ErrNotYourPlayer
	}
	if err == nil && len(st.Scheduler.Pending) == 0 {
		err = ErrNoBattles
	}
	if err != nil {
		unlock()
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unlock()
		if _, err := s.fight(s.ctx, gameID, st); err != nil {
			gameLog := logger.ForGame(gameID)
			gameLog.Error().Err(err).Msg("Fight failed")
		}
	}()
	return nil
}

// Resume continues the battles of a game that stopped waiting on a player.
// It does nothing while another caller holds the game.
func (s *BattleService) Resume(ctx context.Context, gameID string) (*FightResult, error) {
	res, err := s.resume(ctx, gameID)
	if errors.Is(err, ErrGameBusy) {
		return nil, nil
	}
	return res, err
}

func (s *BattleService) resume(ctx context.Context, gameID string) (*FightResult, error) {
	unlock, err := s.lock(ctx, gameID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	st, err := s.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if len(st.Scheduler.Pending) == 0 {
		return &FightResult{}, nil
	}
	return s.fight(ctx, gameID, st)
}

func (s *BattleService) proxies(gameID string, st *GameState) map[battle.Player]battle.RemotePlayer {
	out := make(map[battle.Player]battle.RemotePlayer, len(st.Order))
	for _, p := range st.Order {
		if st.Seats[p] == AutoSeat {
			continue
		}
		out[p] = &RemotePlayerProxy{
			broker:        s.broker,
			bc:            s.bc,
			gameID:        gameID,
			player:        p,
			userID:        st.userFor(p),
			misses:        st.Misses,
			autoPickAfter: s.opts.AutoPickAfter,
		}
	}
	return out
}

// fight runs battles one at a time, each once nothing blocks it, saving
// after every one. The caller holds the game lock.
func (s *BattleService) fight(ctx context.Context, gameID string, st *GameState) (*FightResult, error) {
	sess, err := openSession(st, s.proxies(gameID, st), NewDisplayBroadcaster(gameID, s.bc))
	if err != nil {
		return nil, err
	}
	if !st.Fighting {
		st.Fighting = true
		st.LockedMoves = len(st.Moves)
	}
	saveCtx := context.WithoutCancel(ctx)
	before := len(sess.sched.Records())
	result := func(stopped bool) *FightResult {
		return &FightResult{
			Records: sess.sched.Records()[before:],
			Pending: battleStatuses(sess.sched),
			Stopped: stopped,
		}
	}

	for {
		next := fightable(sess.sched)
		if next == nil {
			break
		}
		blog := logger.ForBattle(gameID, next.ID())
		blog.Info().Str("site", next.Site()).Str("attacker", string(next.Attacker())).Msg("Fighting battle")
		err := sess.sched.Fight(ctx, sess.br, next.ID())
		if err != nil && !errors.Is(err, battle.ErrRemote) {
			return nil, err
		}
		if perr := s.persist(saveCtx, gameID, sess); perr != nil {
			return nil, perr
		}
		if err != nil {
			blog.Info().Err(err).Msg("Battle stopped waiting on a player")
			res := result(true)
			s.bc.BroadcastGameEvent(gameID, EventBattleStopped, res)
			return res, nil
		}
	}

	// Only a cycle of battles waiting on each other is left, or nothing; the
	// scheduler reports the first and settles the landings in the second.
	if err := sess.sched.FightAll(ctx, sess.br); err != nil {
		return nil, fmt.Errorf("finish battles: %w", err)
	}
	if err := s.persist(saveCtx, gameID, sess); err != nil {
		return nil, err
	}
	res := result(false)
	log.Info().Str("gameId", gameID).Int("records", len(res.Records)).Msg("Battles resolved")
	s.bc.BroadcastGameEvent(gameID, EventBattlesResolved, res)
	return res, nil
}

func fightable(sched *battle.BattleScheduler) battle.Battle {
	for _, b := range sched.Battles() {
		if len(sched.Dependencies(b)) == 0 {
			return b
		}
	}
	return nil
}

// AnswerQuery answers a casualty or retreat query. When the battle that
// asked is no longer waiting, the answer is kept and the battle resumed.
func (s *BattleService) AnswerQuery(ctx context.Context, gameID, userID, queryID string, answer json.RawMessage) error {
	delivered, err := s.broker.Deliver(gameID, queryID, userID, answer)
	if err != nil {
		return err
	}
	if delivered {
		s.bc.BroadcastGameEvent(gameID, EventQueryAnswered, map[string]string{"query_id": queryID})
		return nil
	}

	queries, err := s.cache.GetQueries(ctx, gameID)
	if err != nil {
		return err
	}
	var q *model.PendingQuery
	for i := range queries {
		if queries[i].ID == queryID {
			q = &queries[i]
			break
		}
	}
	if q == nil {
		return ErrQueryNotPending
	}
	st, err := s.load(ctx, gameID)
	if err != nil {
		return err
	}
	if st.userFor(battle.Player(q.Player)) != userID {
		return ErrNotYourQuery
	}
	if err := s.broker.Park(*q, answer); err != nil {
		return err
	}
	if err := s.cache.ClearQuery(ctx, gameID, queryID); err != nil {
		return err
	}
	s.bc.BroadcastGameEvent(gameID, EventQueryAnswered, map[string]string{"query_id": queryID})
	s.resumeAsync(gameID)
	return nil
}

// GetBattle returns the battle at site: the pending one, or the record of
// the one fought there this turn.
func (s *BattleService) GetBattle(ctx context.Context, gameID, site string) (*BattleView, error) {
	st, err := s.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	sched, err := battle.RestoreBattleScheduler(st.Scheduler, st.Map, st.Rules)
	if err != nil {
		return nil, err
	}
	b := sched.PendingBattle(site)
	if b == nil {
		recs := sched.Records()
		for i := len(recs) - 1; i >= 0; i-- {
			if recs[i].Site == site {
				r := recs[i]
				return &BattleView{
					Status: model.BattleStatus{
						ID: r.BattleID, Site: r.Site, Kind: string(r.Kind),
						Attacker: string(r.Attacker), Defender: string(r.Defender), Round: r.Rounds,
					},
					Record: &r,
				}, nil
			}
		}
		return nil, ErrBattleNotFound
	}

	view := &BattleView{Status: battleStatus(sched, b)}
	if mf, ok := b.(*battle.MustFightBattle); ok {
		state := mf.Snapshot()
		view.State = &state
	}
	queries, err := s.cache.GetQueries(ctx, gameID)
	if err != nil {
		return nil, err
	}
	for _, q := range queries {
		if q.BattleID == b.ID() {
			view.Queries = append(view.Queries, q)
		}
	}
	return view, nil
}

// CancelBattle ends the battle at site as a draw, along with the battles
// that depend on it.
func (s *BattleService) CancelBattle(ctx context.Context, gameID, userID, site string) error {
	unlock, err := s.lock(ctx, gameID)
	if err != nil {
		return err
	}
	defer unlock()

	st, err := s.load(ctx, gameID)
	if err != nil {
		return err
	}
	if !st.controls(userID, st.Player) {
		return ErrNotYourPlayer
	}
	sess, err := openSession(st, nil, NewDisplayBroadcaster(gameID, s.bc))
	if err != nil {
		return err
	}
	if sess.sched.PendingBattle(site) == nil {
		return ErrBattleNotFound
	}
	if err := sess.sched.Cancel(sess.br, site); err != nil {
		return err
	}
	if err := s.persist(ctx, gameID, sess); err != nil {
		return err
	}
	log.Info().Str("gameId", gameID).Str("site", site).Msg("Battle cancelled")
	s.bc.BroadcastGameEvent(gameID, EventBattleCancelled, map[string]string{"site": site})
	return nil
}

// Bombard orders ships to shell the amphibious assault at site.
func (s *BattleService) Bombard(ctx context.Context, gameID, userID, site string, ships []battle.UnitID) error {
	unlock, err := s.lock(ctx, gameID)
	if err != nil {
		return err
	}
	defer unlock()

	st, err := s.load(ctx, gameID)
	if err != nil {
		return err
	}
	if !st.controls(userID, st.Player) {
		return ErrNotYourPlayer
	}
	if st.Fighting {
		return ErrMovesLocked
	}
	sess, err := openSession(st, nil, nil)
	if err != nil {
		return err
	}
	if sess.sched.PendingBattle(site) == nil {
		return ErrBattleNotFound
	}
	if err := sess.sched.Bombard(site, ships, st.Player); err != nil {
		return err
	}
	return s.persist(ctx, gameID, sess)
}
