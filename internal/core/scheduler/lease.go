package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Leaser hands out the per-rule evaluation lease. A rule is evaluated only
// by the holder of its lease.
type Leaser interface {
	// TryAcquire never blocks on a held lease; ok is false instead.
	TryAcquire(ctx context.Context, ruleID string) (release func(), ok bool, err error)
}

// LocalLeaser keeps leases in process memory.
type LocalLeaser struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLeaser() *LocalLeaser {
	return &LocalLeaser{held: make(map[string]struct{})}
}

func (l *LocalLeaser) TryAcquire(_ context.Context, ruleID string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[ruleID]; ok {
		return nil, false, nil
	}
	l.held[ruleID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, ruleID)
			l.mu.Unlock()
		})
	}, true, nil
}

// releaseScript deletes the lease only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// RedisLeaser shares leases between engine instances through Redis. A lease
// expires after ttl so a crashed holder cannot block a rule forever.
type RedisLeaser struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *logrus.Logger
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func NewRedisLeaser(client *redis.Client, prefix string, ttl time.Duration, log *logrus.Logger) *RedisLeaser {
	if prefix == "" {
		prefix = "alert-engine"
	}
	return &RedisLeaser{client: client, prefix: prefix, ttl: ttl, log: log}
}

func (r *RedisLeaser) key(ruleID string) string {
	return fmt.Sprintf("%s:lease:rule:%s", r.prefix, ruleID)
}

func (r *RedisLeaser) TryAcquire(ctx context.Context, ruleID string) (func(), bool, error) {
	key := r.key(ruleID)
	token := uuid.NewString()

	set, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease for rule %s: %w", ruleID, err)
	}
	if !set {
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
				r.log.WithError(err).WithField("rule_id", ruleID).Warn("Failed to release rule lease")
			}
		})
	}, true, nil
}
