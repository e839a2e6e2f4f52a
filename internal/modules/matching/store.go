// README: Dispatch bookkeeping backed by Redis sets and a sorted set.
package matching

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"rideflow/internal/types"
)

// Store remembers who was offered a ride and which sampled dispatches still
// wait for their widen broadcast.
type Store interface {
	RecordDispatch(ctx context.Context, d Dispatch, awaitBroadcast bool) error
	NotifiedDrivers(ctx context.Context, rideID types.ID) ([]types.ID, error)
	DueForBroadcast(ctx context.Context, before time.Time, limit int) ([]types.ID, error)
	MarkBroadcast(ctx context.Context, rideID types.ID, notified []types.ID) error
}

const (
	awaitingKey       = "matching:awaiting_broadcast"
	notifiedKeyPrefix = "matching:ride:%s:notified"
)

type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(redis *redis.Client) *RedisStore {
	return &RedisStore{redis: redis}
}

// RecordDispatch records the set of notified drivers for a ride and, for a
// sampled dispatch, queues it for the widen broadcast.
func (s *RedisStore) RecordDispatch(ctx context.Context, d Dispatch, awaitBroadcast bool) error {
	pipe := s.redis.TxPipeline()
	addNotified(ctx, pipe, d.RideID, d.Notified)
	if awaitBroadcast {
		pipe.ZAdd(ctx, awaitingKey, redis.Z{Score: float64(d.DispatchedAt.UnixMilli()), Member: string(d.RideID)})
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) NotifiedDrivers(ctx context.Context, rideID types.ID) ([]types.ID, error) {
	members, err := s.redis.SMembers(ctx, notifiedKey(rideID)).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(members))
	for i, m := range members {
		ids[i] = types.ID(m)
	}
	return ids, nil
}

// DueForBroadcast lists rides dispatched at or before the cutoff that have not been widened yet.
func (s *RedisStore) DueForBroadcast(ctx context.Context, before time.Time, limit int) ([]types.ID, error) {
	members, err := s.redis.ZRangeByScore(ctx, awaitingKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(before.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(members))
	for i, m := range members {
		ids[i] = types.ID(m)
	}
	return ids, nil
}

// MarkBroadcast drops the ride from the waiting set and records the drivers
// reached by the widen.
func (s *RedisStore) MarkBroadcast(ctx context.Context, rideID types.ID, notified []types.ID) error {
	pipe := s.redis.TxPipeline()
	pipe.ZRem(ctx, awaitingKey, string(rideID))
	addNotified(ctx, pipe, rideID, notified)
	_, err := pipe.Exec(ctx)
	return err
}

func addNotified(ctx context.Context, pipe redis.Pipeliner, rideID types.ID, drivers []types.ID) {
	if len(drivers) == 0 {
		return
	}
	members := make([]interface{}, len(drivers))
	for i, d := range drivers {
		members[i] = string(d)
	}
	key := notifiedKey(rideID)
	pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, keyTTL)
}

func notifiedKey(rideID types.ID) string {
	return fmt.Sprintf(notifiedKeyPrefix, string(rideID))
}
