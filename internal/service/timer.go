package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/axis-battle/api/internal/repository"
	rediscache "github.com/freeeve/axis-battle/api/internal/repository/redis"
)

// deadlineGrace matches the extra lifetime of a query timer key, so the
// poller never races the battle that is still waiting out its own timeout.
const deadlineGrace = 5 * time.Second

// QueryDeadlineListener listens for Redis keyspace notifications on expired
// query timer keys and resumes the battle that was waiting on the query.
// Also runs a polling fallback to catch expirations if keyspace
// notifications are unavailable.
type QueryDeadlineListener struct {
	rdb    *redis.Client
	cache  repository.GameCache
	svc    *BattleService
	now    func() time.Time
	period time.Duration
}

// NewQueryDeadlineListener creates a QueryDeadlineListener.
func NewQueryDeadlineListener(rdb *redis.Client, cache repository.GameCache, svc *BattleService) *QueryDeadlineListener {
	return &QueryDeadlineListener{rdb: rdb, cache: cache, svc: svc, now: time.Now, period: 10 * time.Second}
}

// Start begins listening for expired key events and runs a polling fallback.
func (t *QueryDeadlineListener) Start(ctx context.Context) {
	go t.listenKeyspace(ctx)
	t.pollExpiredQueries(ctx)
}

// listenKeyspace subscribes to Redis keyspace notifications for expired keys.
func (t *QueryDeadlineListener) listenKeyspace(ctx context.Context) {
	pubsub := t.rdb.PSubscribe(ctx, "__keyevent@0__:expired")
	defer pubsub.Close()

	log.Info().Msg("Query deadline listener started, listening for expired keys")
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			t.handleExpiry(ctx, msg.Payload)
		}
	}
}

func (t *QueryDeadlineListener) pollExpiredQueries(ctx context.Context) {
	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	log.Info().Dur("interval", t.period).Msg("Query deadline poller started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Query deadline poller stopped")
			return
		case <-ticker.C:
			t.checkExpiredQueries(ctx)
		}
	}
}

// checkExpiredQueries finds queries past their deadline and resumes their games.
func (t *QueryDeadlineListener) checkExpiredQueries(ctx context.Context) {
	queries, err := t.cache.ExpiredQueries(ctx, t.now().Add(-deadlineGrace))
	if err != nil {
		log.Error().Err(err).Msg("Failed to list expired queries")
		return
	}
	if len(queries) > 0 {
		log.Info().Int("count", len(queries)).Msg("Poller found expired queries")
	}
	for _, q := range queries {
		log.Info().Str("gameId", q.GameID).Str("battleId", q.BattleID).Str("player", q.Player).
			Time("deadline", q.Deadline).Msg("Poller resuming battle after query deadline")
		t.expire(ctx, q.GameID, q.ID)
	}
}

// handleExpiry processes an expired key. Only acts on query timer keys.
func (t *QueryDeadlineListener) handleExpiry(ctx context.Context, key string) {
	gameID, queryID, ok := rediscache.ParseQueryTimerKey(key)
	if !ok {
		return
	}
	log.Info().Str("gameId", gameID).Str("queryId", queryID).Msg("Query deadline expired, resuming battle")
	t.expire(ctx, gameID, queryID)
}

func (t *QueryDeadlineListener) expire(ctx context.Context, gameID, queryID string) {
	if err := t.cache.ClearQuery(ctx, gameID, queryID); err != nil {
		log.Error().Err(err).Str("gameId", gameID).Str("queryId", queryID).Msg("Failed to clear expired query")
		return
	}
	if _, err := t.svc.Resume(ctx, gameID); err != nil {
		log.Error().Err(err).Str("gameId", gameID).Msg("Resume failed after query deadline")
	}
}
