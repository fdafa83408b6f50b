package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/freeeve/axis-battle/api/internal/model"
)

// Key patterns for Redis game state.
func stateKey(gameID string) string           { return "game:" + gameID + ":state" }
func lockKey(gameID string) string            { return "game:" + gameID + ":lock" }
func queriesKey(gameID string) string         { return "game:" + gameID + ":queries" }
func historySeqKey(gameID string) string      { return "game:" + gameID + ":history_seq" }
func queryTimerKey(gameID, qid string) string { return "game:" + gameID + ":query:" + qid }

const (
	activeGamesKey = "games:active"
	deadlinesKey   = "queries:deadlines"
)

// queryGracePeriod keeps the timer key alive a little past the deadline so
// the game goroutine sees its own timeout before the expiry event fires.
const queryGracePeriod = 5 * time.Second

// ParseQueryTimerKey splits an expired query timer key into its game and
// query ids.
func ParseQueryTimerKey(key string) (gameID, queryID string, ok bool) {
	if !strings.HasPrefix(key, "game:") {
		return "", "", false
	}
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[2] != "query" || parts[1] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[1], parts[3], true
}

// SetGameState stores the live game state JSON.
func (c *Client) SetGameState(ctx context.Context, gameID string, state json.RawMessage) error {
	return c.rdb.Set(ctx, stateKey(gameID), []byte(state), 0).Err()
}

// GetGameState retrieves the live game state JSON.
func (c *Client) GetGameState(ctx context.Context, gameID string) (json.RawMessage, error) {
	data, err := c.rdb.Get(ctx, stateKey(gameID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get game state: %w", err)
	}
	return json.RawMessage(data), nil
}

// MarkActive adds a game to the set resumed after a restart.
func (c *Client) MarkActive(ctx context.Context, gameID string) error {
	return c.rdb.SAdd(ctx, activeGamesKey, gameID).Err()
}

// UnmarkActive removes a game from the active set.
func (c *Client) UnmarkActive(ctx context.Context, gameID string) error {
	return c.rdb.SRem(ctx, activeGamesKey, gameID).Err()
}

// ActiveGames returns the ids of games with unfinished business.
func (c *Client) ActiveGames(ctx context.Context) ([]string, error) {
	return c.rdb.SMembers(ctx, activeGamesKey).Result()
}

// AcquireLock takes the game lock for owner unless someone else holds it.
func (c *Client) AcquireLock(ctx context.Context, gameID, owner string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, lockKey(gameID), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return ok, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// ReleaseLock drops the game lock if owner still holds it.
func (c *Client) ReleaseLock(ctx context.Context, gameID, owner string) error {
	return releaseScript.Run(ctx, c.rdb, []string{lockKey(gameID)}, owner).Err()
}

// SetQuery records a pending query and arms its deadline. The timer key
// expires after the deadline and Redis keyspace notifications wake the
// query listener.
func (c *Client) SetQuery(ctx context.Context, q model.PendingQuery) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}
	ttl := time.Until(q.Deadline) + queryGracePeriod
	if ttl <= 0 {
		ttl = time.Second
	}
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, queriesKey(q.GameID), q.ID, data)
		pipe.ZAdd(ctx, deadlinesKey, redis.Z{Score: float64(q.Deadline.Unix()), Member: q.GameID + ":" + q.ID})
		pipe.Set(ctx, queryTimerKey(q.GameID, q.ID), q.Deadline.Unix(), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set query: %w", err)
	}
	return nil
}

// GetQueries returns the pending queries of a game.
func (c *Client) GetQueries(ctx context.Context, gameID string) ([]model.PendingQuery, error) {
	all, err := c.rdb.HGetAll(ctx, queriesKey(gameID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get queries: %w", err)
	}
	queries := make([]model.PendingQuery, 0, len(all))
	for _, data := range all {
		var q model.PendingQuery
		if err := json.Unmarshal([]byte(data), &q); err != nil {
			return nil, fmt.Errorf("decode query: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, nil
}

// ClearQuery forgets an answered or abandoned query.
func (c *Client) ClearQuery(ctx context.Context, gameID, queryID string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, queriesKey(gameID), queryID)
		pipe.ZRem(ctx, deadlinesKey, gameID+":"+queryID)
		pipe.Del(ctx, queryTimerKey(gameID, queryID))
		return nil
	})
	return err
}

// ExpiredQueries returns every pending query whose deadline is before now.
// It backs the poller when keyspace notifications are unavailable.
func (c *Client) ExpiredQueries(ctx context.Context, now time.Time) ([]model.PendingQuery, error) {
	members, err := c.rdb.ZRangeByScore(ctx, deadlinesKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprint(now.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired queries: %w", err)
	}
	var out []model.PendingQuery
	for _, member := range members {
		gameID, queryID, ok := strings.Cut(member, ":")
		if !ok {
			continue
		}
		data, err := c.rdb.HGet(ctx, queriesKey(gameID), queryID).Bytes()
		if err == redis.Nil {
			c.rdb.ZRem(ctx, deadlinesKey, member)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get query: %w", err)
		}
		var q model.PendingQuery
		if err := json.Unmarshal(data, &q); err != nil {
			return nil, fmt.Errorf("decode query: %w", err)
		}
		out = append(out, q)
	}
	return out, nil
}

// NextHistorySeq reserves n history sequence numbers and returns the first.
func (c *Client) NextHistorySeq(ctx context.Context, gameID string, n int64) (int64, error) {
	last, err := c.rdb.IncrBy(ctx, historySeqKey(gameID), n).Result()
	if err != nil {
		return 0, fmt.Errorf("reserve history seq: %w", err)
	}
	return last - n + 1, nil
}

// DeleteGameData removes all Redis data for a game.
func (c *Client) DeleteGameData(ctx context.Context, gameID string) error {
	queries, err := c.rdb.HKeys(ctx, queriesKey(gameID)).Result()
	if err != nil {
		return fmt.Errorf("list queries: %w", err)
	}
	keys := []string{stateKey(gameID), lockKey(gameID), queriesKey(gameID), historySeqKey(gameID)}
	members := make([]any, 0, len(queries))
	for _, qid := range queries {
		keys = append(keys, queryTimerKey(gameID, qid))
		members = append(members, gameID+":"+qid)
	}
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, activeGamesKey, gameID)
		if len(members) > 0 {
			pipe.ZRem(ctx, deadlinesKey, members...)
		}
		return nil
	})
	return err
}
