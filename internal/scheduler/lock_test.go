package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"msgcenter/internal/models"
	"msgcenter/internal/storage"
)

// The dispatch below outlasts any short lock wait; Cancel must still end
// up behind Fire and report the message as finalized.
func TestCancelDuringSlowFireWithRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	started := make(chan struct{})
	d := &fakeDispatcher{delay: 3 * time.Second, onDispatch: func() { close(started) }}
	c := &clock{now: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	m := New(storage.NewMemoryStorage(), storage.NewRedisLocker(client, 30*time.Second), d,
		WithClock(c.Now),
		WithDispatchTimeout(10*time.Second),
	)
	msg := createIn(t, m, c, time.Second)
	c.Advance(time.Second)

	ctx := context.Background()
	fired := make(chan error, 1)
	go func() {
		_, err := m.Fire(ctx, msg.ScheduleID)
		fired <- err
	}()
	<-started

	_, cancelErr := m.Cancel(ctx, msg.ScheduleID)
	if err := <-fired; err != nil {
		t.Fatalf("fire: %v", err)
	}
	if !errors.Is(cancelErr, models.ErrAlreadyFinalized) {
		t.Fatalf("cancel behind an in-flight fire: expected ErrAlreadyFinalized, got %v", cancelErr)
	}

	stored, err := m.Get(ctx, msg.ScheduleID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.ScheduleSent || d.calls.Load() != 1 {
		t.Fatalf("status=%s dispatches=%d", stored.Status, d.calls.Load())
	}
}

func TestCancelFireRaceWithRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	for i := 0; i < 10; i++ {
		d := &fakeDispatcher{delay: 20 * time.Millisecond}
		c := &clock{now: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
		m := New(storage.NewMemoryStorage(), storage.NewRedisLocker(client, 5*time.Second), d, WithClock(c.Now))
		msg := createIn(t, m, c, time.Second)
		c.Advance(time.Second)

		fired := make(chan error, 1)
		go func() {
			_, err := m.Fire(context.Background(), msg.ScheduleID)
			fired <- err
		}()
		_, cancelErr := m.Cancel(context.Background(), msg.ScheduleID)
		fireErr := <-fired

		stored, _ := m.Get(context.Background(), msg.ScheduleID)
		switch stored.Status {
		case models.ScheduleSent:
			if fireErr != nil || !errors.Is(cancelErr, models.ErrAlreadyFinalized) {
				t.Fatalf("fire won but fire=%v cancel=%v", fireErr, cancelErr)
			}
		case models.ScheduleCancelled:
			if cancelErr != nil || !errors.Is(fireErr, models.ErrAlreadyFinalized) {
				t.Fatalf("cancel won but fire=%v cancel=%v", fireErr, cancelErr)
			}
		default:
			t.Fatalf("unexpected final status %s", stored.Status)
		}
	}
}
