package quota

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"
)

// MemoryCounter keeps a token bucket per key in this process: Num tokens,
// refilled at Num per Unit.
type MemoryCounter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	now     func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{buckets: make(map[string]*rate.Limiter), now: time.Now}
}

func (m *MemoryCounter) Take(ctx context.Context, key string, rule Rule, n int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || b.Burst() != rule.Num {
		b = rate.NewLimiter(rate.Every(rule.Unit/time.Duration(rule.Num)), rule.Num)
		m.buckets[key] = b
	}
	return b.AllowN(m.now(), n), nil
}

// takeScript counts in fixed windows that start with the first take.
var takeScript = redis.NewScript(`
local n = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
if cur + n > limit then
	return 0
end
if redis.call("INCRBY", KEYS[1], ARGV[1]) == n then
	redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
return 1
`)

// RedisCounter shares windows between every process using the same Redis,
// so the API and the worker draw from one quota.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (r *RedisCounter) Take(ctx context.Context, key string, rule Rule, n int) (bool, error) {
	res, err := takeScript.Run(ctx, r.client, []string{key}, n, rule.Num, rule.Unit.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
