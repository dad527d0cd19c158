package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "call:"

// Updates only touch records that still exist so a late mirror write cannot
// resurrect a deleted or expired call as a partial hash.
var updateIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2], 'updated_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

var incrIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local n = redis.call('HINCRBY', KEYS[1], 'interrupts', 1)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return n
`)

// RedisStore keeps one hash per call under "call:<id>".
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// OpenRedis parses a redis:// URL and verifies the connection.
func OpenRedis(ctx context.Context, url string, ttl time.Duration, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStore(client, ttl, logger), nil
}

func NewRedisStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, ttl: ttl, logger: logger.With(zap.String("component", "session_store"))}
}

func (r *RedisStore) Init(ctx context.Context, callID, streamID, agentID string) error {
	key := keyPrefix + callID
	now := nowMillis()
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"call_id", callID,
		"stream_id", streamID,
		"agent_id", agentID,
		"stage", string(StageListening),
		"turn", 0,
		"interrupts", 0,
		"created_at", now,
		"updated_at", now,
	)
	pipe.PExpire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("init session %s: %w", callID, err)
	}
	r.logger.Debug("session initialized", zap.String("call_id", callID), zap.String("agent_id", agentID))
	return nil
}

func (r *RedisStore) SetStage(ctx context.Context, callID string, stage Stage) error {
	return r.setField(ctx, callID, "stage", string(stage))
}

func (r *RedisStore) SetTurn(ctx context.Context, callID string, turn uint64) error {
	return r.setField(ctx, callID, "turn", strconv.FormatUint(turn, 10))
}

func (r *RedisStore) setField(ctx context.Context, callID, field, value string) error {
	n, err := updateIfExists.Run(ctx, r.client, []string{keyPrefix + callID},
		field, value, nowMillis(), r.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("set %s for %s: %w", field, callID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RedisStore) IncrementInterrupts(ctx context.Context, callID string) (int64, error) {
	n, err := incrIfExists.Run(ctx, r.client, []string{keyPrefix + callID},
		nowMillis(), r.ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("increment interrupts for %s: %w", callID, err)
	}
	if n < 0 {
		return 0, ErrNotFound
	}
	return n, nil
}

func (r *RedisStore) Get(ctx context.Context, callID string) (Session, error) {
	vals, err := r.client.HGetAll(ctx, keyPrefix+callID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("get session %s: %w", callID, err)
	}
	if len(vals) == 0 {
		return Session{}, ErrNotFound
	}
	s := Session{
		CallID:   vals["call_id"],
		StreamID: vals["stream_id"],
		AgentID:  vals["agent_id"],
		Stage:    Stage(vals["stage"]),
	}
	s.Turn, _ = strconv.ParseUint(vals["turn"], 10, 64)
	s.Interrupts, _ = strconv.ParseInt(vals["interrupts"], 10, 64)
	s.CreatedAt = fromMillis(vals["created_at"])
	s.UpdatedAt = fromMillis(vals["updated_at"])
	return s, nil
}

func (r *RedisStore) Delete(ctx context.Context, callID string) error {
	if err := r.client.Del(ctx, keyPrefix+callID).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", callID, err)
	}
	return nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func fromMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
