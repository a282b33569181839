package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	wbfretry "github.com/wb-go/wbf/retry"
)

var ErrLockNotAcquired = errors.New("lock not acquired")

// KeyedMutex serializes work per key inside one process. Waiting for a
// key respects ctx.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			m.release(key, l)
		})
	}, nil
}

func (m *KeyedMutex) release(key string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

// unlockScript deletes the lock only when it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a SET NX PX lock shared by every process using the same
// Redis. The TTL bounds how long a crashed holder blocks others, so it
// must exceed the longest section run under the lock.
type RedisLocker struct {
	client  *redis.Client
	ttl     time.Duration
	minPoll time.Duration
	maxPoll time.Duration
	// retries a single SET NX on connection errors
	op wbfretry.Strategy
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client:  client,
		ttl:     ttl,
		minPoll: 10 * time.Millisecond,
		maxPoll: 200 * time.Millisecond,
		op:      wbfretry.Strategy{Attempts: 3, Delay: 50 * time.Millisecond, Backoff: 2},
	}
}

// Lock waits for key until it is free, ctx is done or one TTL has passed.
// A live holder releases within its TTL, so after that the lock is
// reported as not acquired.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := "lock:" + key
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	poll := l.minPoll
	for {
		acquired, err := l.tryLock(waitCtx, lockKey, token)
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if acquired {
			break
		}

		timer := time.NewTimer(poll)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return nil, fmt.Errorf("lock %s: %w", key, ctx.Err())
			}
			return nil, fmt.Errorf("lock %s held longer than %s: %w", key, l.ttl, ErrLockNotAcquired)
		case <-timer.C:
		}
		poll = min(poll*2, l.maxPoll)
	}

	return func() {
		// the caller's ctx may already be done when unlocking
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		unlockScript.Run(unlockCtx, l.client, []string{lockKey}, token)
	}, nil
}

func (l *RedisLocker) tryLock(ctx context.Context, lockKey, token string) (bool, error) {
	var ok bool
	err := wbfretry.DoContext(ctx, l.op, func() error {
		var setErr error
		ok, setErr = l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		return setErr
	})
	return ok, err
}
