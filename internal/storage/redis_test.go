package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"msgcenter/internal/models"
	"msgcenter/internal/pagination"
)

// newTestRedis uses database 15 of REDIS_URL when it is set and an
// in-process miniredis otherwise.
func newTestRedis(t *testing.T) *RedisStorage {
	t.Helper()
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		addr = miniredis.RunT(t).Addr()
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15, DialTimeout: 200 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return &RedisStorage{client: client, log: zerolog.Nop()}
}

func TestRedisStorageLifecycle(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.Create(ctx, pending("a", now.Add(-time.Minute))); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, pending("b", now.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, pending("a", now)); !errors.Is(err, models.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	due, err := s.Due(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ScheduleID != "a" {
		t.Fatalf("expected only a to be due, got %+v", due)
	}

	_, err = s.Update(ctx, "a", func(m *models.ScheduledMessage) error {
		m.Status = models.ScheduleCancelled
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	due, _ = s.Due(ctx, now, 10)
	if len(due) != 0 {
		t.Fatalf("cancelled schedule must leave the pending index, got %d", len(due))
	}

	got, err := s.GetByID(ctx, "a")
	if err != nil || got.Status != models.ScheduleCancelled {
		t.Fatalf("get after update: %+v %v", got, err)
	}

	res, err := s.List(ctx, models.ScheduleFilter{}, pagination.Request{Page: 1, PageSize: 10})
	if err != nil || res.Total != 2 {
		t.Fatalf("list: %+v %v", res, err)
	}

	if _, err := s.GetByID(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisStorageUpdateAbortsOnError(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()
	if err := s.Create(ctx, pending("s1", time.Now())); err != nil {
		t.Fatal(err)
	}

	_, err := s.Update(ctx, "s1", func(m *models.ScheduledMessage) error {
		m.Status = models.ScheduleSent
		return models.ErrAlreadyFinalized
	})
	if !errors.Is(err, models.ErrAlreadyFinalized) {
		t.Fatalf("expected callback error, got %v", err)
	}
	got, _ := s.GetByID(ctx, "s1")
	if got.Status != models.SchedulePending {
		t.Fatalf("aborted update must not be written, got %v", got.Status)
	}
}

func TestRedisLockerExclusive(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()
	l := NewRedisLocker(s.Client(), 5*time.Second)

	unlock, err := l.Lock(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}

	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(short, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second lock must wait and give up with its ctx, got %v", err)
	}
	unlock()

	unlock, err = l.Lock(ctx, "k")
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	unlock()
}

func TestRedisLockerWaitsForHolder(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()
	l := NewRedisLocker(s.Client(), 5*time.Second)

	unlock, err := l.Lock(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(300 * time.Millisecond)
		unlock()
	}()

	start := time.Now()
	second, err := l.Lock(ctx, "k")
	if err != nil {
		t.Fatalf("waiter must get the lock once it is released: %v", err)
	}
	second()
	if waited := time.Since(start); waited < 250*time.Millisecond {
		t.Fatalf("waiter got the lock after %s while it was held", waited)
	}
}

func TestRedisLockerGivesUpAfterTTL(t *testing.T) {
	s := newTestRedis(t)
	l := NewRedisLocker(s.Client(), 200*time.Millisecond)

	// a holder that never unlocks; miniredis does not expire keys on its own
	if err := s.Client().Set(context.Background(), "lock:k", "other", 0).Err(); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Lock(context.Background(), "k"); !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired, got %v", err)
	}
}
