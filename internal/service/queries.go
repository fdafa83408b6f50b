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

	"github.com/freeeve/axis-battle/api/internal/model"
	"github.com/freeeve/axis-battle/api/internal/repository"
	"github.com/freeeve/axis-battle/api/pkg/battle"
)

// Query kinds.
const (
	QueryCasualties = "casualties"
	QueryRetreat    = "retreat"
)

// RetreatAnswer is the answer to a retreat query. An empty To stays.
type RetreatAnswer struct {
	To string `json:"to"`
}

type waiter struct {
	userID string
	query  model.PendingQuery
	answer chan json.RawMessage
}

// QueryBroker hands battle queries to players and routes their answers
// back to the battle waiting on them. Answers that arrive after the battle
// stopped are parked until the battle asks again.
type QueryBroker struct {
	cache   repository.GameCache
	bc      Broadcaster
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	waiting map[string]*waiter         // gameID/queryID
	parked  map[string]json.RawMessage // gameID/battleID/player/kind
}

// NewQueryBroker creates a QueryBroker. A query not answered within timeout
// stops the battle.
func NewQueryBroker(cache repository.GameCache, bc Broadcaster, timeout time.Duration) *QueryBroker {
	return &QueryBroker{
		cache:   cache,
		bc:      bc,
		timeout: timeout,
		now:     time.Now,
		waiting: make(map[string]*waiter),
		parked:  make(map[string]json.RawMessage),
	}
}

func waitKey(gameID, queryID string) string { return gameID + "/" + queryID }

func parkKey(q model.PendingQuery) string {
	return q.GameID + "/" + q.BattleID + "/" + q.Player + "/" + q.Kind
}

// Ask sends q to userID and blocks until it is answered, the deadline
// passes or ctx is done. On timeout the query stays stored so its expiry
// resumes the battle.
func (b *QueryBroker) Ask(ctx context.Context, q model.PendingQuery, userID string) (json.RawMessage, error) {
	q.ID = uuid.NewString()
	q.Deadline = b.now().Add(b.timeout)

	w := &waiter{userID: userID, query: q, answer: make(chan json.RawMessage, 1)}
	b.mu.Lock()
	if ans, ok := b.parked[parkKey(q)]; ok {
		delete(b.parked, parkKey(q))
		b.mu.Unlock()
		return ans, nil
	}
	b.waiting[waitKey(q.GameID, q.ID)] = w
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.waiting, waitKey(q.GameID, q.ID))
		b.mu.Unlock()
	}()

	if err := b.cache.SetQuery(ctx, q); err != nil {
		return nil, fmt.Errorf("store query: %w", err)
	}
	b.bc.BroadcastUserEvent(userID, q.GameID, EventQuery, q)

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case ans := <-w.answer:
		if err := b.cache.ClearQuery(context.WithoutCancel(ctx), q.GameID, q.ID); err != nil {
			log.Warn().Err(err).Str("gameId", q.GameID).Str("queryId", q.ID).Msg("Failed to clear answered query")
		}
		return ans, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s query for %s: %w", q.Kind, q.Player, ErrQueryTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Deliver hands answer to the battle waiting on queryID. It returns false
// when nothing in this process is waiting on it.
func (b *QueryBroker) Deliver(gameID, queryID, userID string, answer json.RawMessage) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.waiting[waitKey(gameID, queryID)]
	if !ok {
		return false, nil
	}
	if w.userID != userID {
		return false, ErrNotYourQuery
	}
	if err := checkAnswer(w.query.Kind, answer); err != nil {
		return false, err
	}
	select {
	case w.answer <- answer:
	default:
		return false, ErrQueryNotPending
	}
	return true, nil
}

// Park keeps answer for the next time the battle asks q's question.
func (b *QueryBroker) Park(q model.PendingQuery, answer json.RawMessage) error {
	if err := checkAnswer(q.Kind, answer); err != nil {
		return err
	}
	b.mu.Lock()
	b.parked[parkKey(q)] = answer
	b.mu.Unlock()
	return nil
}

// Waiting returns the query a battle of gameID is blocked on, if any.
func (b *QueryBroker) Waiting(gameID string) []model.PendingQuery {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.PendingQuery
	for _, w := range b.waiting {
		if w.query.GameID == gameID {
			out = append(out, w.query)
		}
	}
	return out
}

func checkAnswer(kind string, answer json.RawMessage) error {
	var err error
	switch kind {
	case QueryCasualties:
		var d battle.CasualtyDetails
		err = json.Unmarshal(answer, &d)
	case QueryRetreat:
		var r RetreatAnswer
		err = json.Unmarshal(answer, &r)
	default:
		return fmt.Errorf("%w: unknown query kind %q", ErrInvalidAnswer, kind)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
	}
	return nil
}

// RemotePlayerProxy answers battle questions for one player by asking the
// user who controls it. A timeout stops the battle with battle.ErrRemote.
// After autoPickAfter consecutive timeouts the player is treated as gone and
// the default choice is used without asking.
type RemotePlayerProxy struct {
	broker        *QueryBroker
	bc            Broadcaster
	gameID        string
	player        battle.Player
	userID        string
	misses        map[battle.Player]int
	autoPickAfter int
}

func (p *RemotePlayerProxy) gone() bool {
	return p.autoPickAfter > 0 && p.misses[p.player] >= p.autoPickAfter
}

func (p *RemotePlayerProxy) ask(ctx context.Context, kind, battleID string, query any) (json.RawMessage, error) {
	data, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("encode %s query: %w", kind, err)
	}
	ans, err := p.broker.Ask(ctx, model.PendingQuery{
		GameID:   p.gameID,
		BattleID: battleID,
		Player:   string(p.player),
		Kind:     kind,
		Query:    data,
	}, p.userID)
	if errors.Is(err, ErrQueryTimeout) {
		p.misses[p.player]++
		log.Info().Str("gameId", p.gameID).Str("player", string(p.player)).
			Int("misses", p.misses[p.player]).Msg("Query timed out")
		return nil, fmt.Errorf("%w: %w", battle.ErrRemote, err)
	}
	if err != nil {
		return nil, err
	}
	p.misses[p.player] = 0
	return ans, nil
}

func (p *RemotePlayerProxy) SelectCasualties(ctx context.Context, q battle.CasualtyQuery) (battle.CasualtyDetails, error) {
	if p.gone() {
		d := q.Default
		d.AutoCalculated = true
		return d, nil
	}
	ans, err := p.ask(ctx, QueryCasualties, q.BattleID, q)
	if err != nil {
		return battle.CasualtyDetails{}, err
	}
	var d battle.CasualtyDetails
	if err := json.Unmarshal(ans, &d); err != nil {
		return q.Default, nil
	}
	return d, nil
}

func (p *RemotePlayerProxy) RetreatQuery(ctx context.Context, q battle.RetreatQuery) (string, error) {
	if p.gone() {
		return "", nil
	}
	ans, err := p.ask(ctx, QueryRetreat, q.BattleID, q)
	if err != nil {
		return "", err
	}
	var r RetreatAnswer
	if err := json.Unmarshal(ans, &r); err != nil {
		return "", nil
	}
	return r.To, nil
}

func (p *RemotePlayerProxy) ConfirmOwnCasualties(_ context.Context, battleID, step string) error {
	p.bc.BroadcastUserEvent(p.userID, p.gameID, EventConfirm, map[string]string{
		"battle_id": battleID, "step": step, "player": string(p.player), "side": "own",
	})
	return nil
}

func (p *RemotePlayerProxy) ConfirmEnemyCasualties(_ context.Context, battleID, step string) error {
	p.bc.BroadcastUserEvent(p.userID, p.gameID, EventConfirm, map[string]string{
		"battle_id": battleID, "step": step, "player": string(p.player), "side": "enemy",
	})
	return nil
}
