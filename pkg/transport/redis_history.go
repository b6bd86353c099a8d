package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisEventStore keeps push history in Redis so replay survives a server
// restart or a reconnect that lands on another replica. Each session owns a
// counter key and a sorted set scored by event id.
type RedisEventStore struct {
	client redis.UniversalClient
	prefix string
	limit  int64
	ttl    time.Duration
}

// RedisOption configures a RedisEventStore.
type RedisOption func(*RedisEventStore)

// WithKeyPrefix sets the prefix of every key written by the store.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisEventStore) {
		s.prefix = prefix
	}
}

// WithHistoryLimit sets the number of events kept per session.
func WithHistoryLimit(limit int) RedisOption {
	return func(s *RedisEventStore) {
		if limit > 0 {
			s.limit = int64(limit)
		}
	}
}

// WithHistoryTTL expires the keys of an idle session.
func WithHistoryTTL(ttl time.Duration) RedisOption {
	return func(s *RedisEventStore) {
		s.ttl = ttl
	}
}

// NewRedisEventStore creates a store on an existing client.
func NewRedisEventStore(client redis.UniversalClient, opts ...RedisOption) *RedisEventStore {
	s := &RedisEventStore{
		client: client,
		prefix: "mcp:events:",
		limit:  DefaultHistoryLimit,
		ttl:    time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisEventStore) seqKey(sessionID string) string    { return s.prefix + sessionID + ":seq" }
func (s *RedisEventStore) eventsKey(sessionID string) string { return s.prefix + sessionID + ":events" }

// Append implements EventStore. The member is prefixed with the id so equal
// payloads stay distinct in the set.
func (s *RedisEventStore) Append(ctx context.Context, sessionID string, data []byte) (Event, error) {
	id, err := s.client.Incr(ctx, s.seqKey(sessionID)).Result()
	if err != nil {
		return Event{}, fmt.Errorf("redis incr: %w", err)
	}

	key := s.eventsKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(id), Member: strconv.FormatInt(id, 10) + ":" + string(data)})
	pipe.ZRemRangeByRank(ctx, key, 0, -(s.limit + 1))
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
		pipe.Expire(ctx, s.seqKey(sessionID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return Event{}, fmt.Errorf("redis append: %w", err)
	}
	return Event{ID: id, Data: append([]byte(nil), data...)}, nil
}

// After implements EventStore.
func (s *RedisEventStore) After(ctx context.Context, sessionID string, lastID int64) ([]Event, error) {
	members, err := s.client.ZRangeByScore(ctx, s.eventsKey(sessionID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(lastID, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis range: %w", err)
	}

	events := make([]Event, 0, len(members))
	for _, m := range members {
		idPart, payload, ok := strings.Cut(m, ":")
		if !ok {
			continue
		}
		id, err := strconv.ParseInt(idPart, 10, 64)
		if err != nil {
			continue
		}
		events = append(events, Event{ID: id, Data: []byte(payload)})
	}
	return events, nil
}

// Drop implements EventStore.
func (s *RedisEventStore) Drop(ctx context.Context, sessionID string) error {
	return s.client.Del(context.WithoutCancel(ctx), s.seqKey(sessionID), s.eventsKey(sessionID)).Err()
}
