package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	wbfredis "github.com/wb-go/wbf/redis"
	wbfretry "github.com/wb-go/wbf/retry"

	"msgcenter/internal/models"
	"msgcenter/internal/pagination"
)

const (
	keyPrefix  = "schedule:"
	allKey     = "schedules:all"
	pendingKey = "schedules:pending"
)

var (
	connectRetry = wbfretry.Strategy{Attempts: 5, Delay: 1 * time.Second, Backoff: 2}
	opRetry      = wbfretry.Strategy{Attempts: 3, Delay: 100 * time.Millisecond, Backoff: 2}
)

// RedisStorage keeps each message as JSON under schedule:<id>, the id set
// under schedules:all and pending ids in the schedules:pending sorted set
// scored by scheduled time in unix milliseconds.
type RedisStorage struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisStorage(addr string, log zerolog.Logger) (*RedisStorage, error) {
	wbfClient := wbfredis.New(addr, "", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := wbfretry.DoContext(ctx, connectRetry, func() error {
		return wbfClient.Ping(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Str("addr", addr).Msg("connected to redis")
	return &RedisStorage{client: wbfClient.Client, log: log.With().Str("component", "redis_storage").Logger()}, nil
}

// Client exposes the underlying connection so the lock can share it.
func (s *RedisStorage) Client() *redis.Client {
	return s.client
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}

func messageKey(id string) string {
	return keyPrefix + id
}

func pendingScore(msg *models.ScheduledMessage) float64 {
	return float64(msg.ScheduledTime.UnixMilli())
}

func (s *RedisStorage) Create(ctx context.Context, msg *models.ScheduledMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}

	var created bool
	err = wbfretry.DoContext(ctx, opRetry, func() error {
		var setErr error
		created, setErr = s.client.SetNX(ctx, messageKey(msg.ScheduleID), data, 0).Result()
		return setErr
	})
	if err != nil {
		return fmt.Errorf("failed to store schedule: %w", err)
	}
	if !created {
		return fmt.Errorf("schedule %s: %w", msg.ScheduleID, models.ErrAlreadyExists)
	}

	err = wbfretry.DoContext(ctx, opRetry, func() error {
		_, pipeErr := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SAdd(ctx, allKey, msg.ScheduleID)
			if msg.Status == models.SchedulePending {
				pipe.ZAdd(ctx, pendingKey, &redis.Z{Score: pendingScore(msg), Member: msg.ScheduleID})
			}
			return nil
		})
		return pipeErr
	})
	if err != nil {
		return fmt.Errorf("failed to index schedule: %w", err)
	}
	return nil
}

func (s *RedisStorage) GetByID(ctx context.Context, id string) (*models.ScheduledMessage, error) {
	var data []byte
	err := wbfretry.DoContext(ctx, opRetry, func() error {
		result, getErr := s.client.Get(ctx, messageKey(id)).Bytes()
		if getErr != nil && !errors.Is(getErr, redis.Nil) {
			return getErr
		}
		data = result
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("schedule %s: %w", id, models.ErrNotFound)
	}

	var msg models.ScheduledMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schedule: %w", err)
	}
	return &msg, nil
}

// Update reads, modifies and writes under WATCH so a concurrent writer
// aborts the transaction; aborted transactions are retried.
func (s *RedisStorage) Update(ctx context.Context, id string, updateFn func(*models.ScheduledMessage) error) (*models.ScheduledMessage, error) {
	key := messageKey(id)
	var (
		updated *models.ScheduledMessage
		txErr   error
	)

	err := wbfretry.DoContext(ctx, opRetry, func() error {
		txErr = s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("schedule %s: %w", id, models.ErrNotFound)
			}
			if err != nil {
				return err
			}

			var msg models.ScheduledMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				return fmt.Errorf("failed to unmarshal schedule: %w", err)
			}
			if err := updateFn(&msg); err != nil {
				return err
			}
			msg.ScheduleID = id
			msg.ModifyTime = time.Now()

			next, err := json.Marshal(&msg)
			if err != nil {
				return fmt.Errorf("failed to marshal schedule: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next, 0)
				if msg.Status == models.SchedulePending {
					pipe.ZAdd(ctx, pendingKey, &redis.Z{Score: pendingScore(&msg), Member: id})
				} else {
					pipe.ZRem(ctx, pendingKey, id)
				}
				return nil
			})
			if err == nil {
				updated = &msg
			}
			return err
		}, key)

		if errors.Is(txErr, redis.TxFailedErr) {
			return txErr
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update schedule %s: %w", id, err)
	}
	if txErr != nil {
		return nil, txErr
	}
	return updated, nil
}

func (s *RedisStorage) Delete(ctx context.Context, id string) error {
	var removed int64
	err := wbfretry.DoContext(ctx, opRetry, func() error {
		var delErr error
		removed, delErr = s.client.Del(ctx, messageKey(id)).Result()
		return delErr
	})
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	if removed == 0 {
		return fmt.Errorf("schedule %s: %w", id, models.ErrNotFound)
	}

	s.client.SRem(ctx, allKey, id)
	s.client.ZRem(ctx, pendingKey, id)
	return nil
}

func (s *RedisStorage) List(ctx context.Context, filter models.ScheduleFilter, page pagination.Request) (pagination.Result[*models.ScheduledMessage], error) {
	ids, err := s.client.SMembers(ctx, allKey).Result()
	if err != nil {
		return pagination.Result[*models.ScheduledMessage]{}, fmt.Errorf("failed to get schedule ids: %w", err)
	}

	matched := make([]*models.ScheduledMessage, 0, len(ids))
	for _, msg := range s.load(ctx, ids) {
		if filter.Match(msg) {
			matched = append(matched, msg)
		}
	}
	sort.Slice(matched, sortNewestFirst(matched))
	return pagination.Window(matched, page), nil
}

func (s *RedisStorage) Due(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledMessage, error) {
	by := &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10)}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := s.client.ZRangeByScore(ctx, pendingKey, by).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get due schedules: %w", err)
	}

	due := make([]*models.ScheduledMessage, 0, len(ids))
	for _, msg := range s.load(ctx, ids) {
		if msg.Status == models.SchedulePending {
			due = append(due, msg)
		}
	}
	return due, nil
}

func (s *RedisStorage) load(ctx context.Context, ids []string) []*models.ScheduledMessage {
	out := make([]*models.ScheduledMessage, 0, len(ids))
	for _, id := range ids {
		msg, err := s.GetByID(ctx, id)
		if err != nil {
			s.log.Warn().Err(err).Str("schedule_id", id).Msg("skipping unreadable schedule")
			continue
		}
		out = append(out, msg)
	}
	return out
}
