// Redis-backed run-state persistence for low-latency shared access.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis run-state backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// Prefix is prepended to all run-state keys
	Prefix string

	// TTL is the time-to-live for run-state keys (0 = no expiration)
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration

	// PoolSize is the maximum number of connections
	PoolSize int

	// MinIdleConns is the minimum number of idle connections
	MinIdleConns int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:      address,
		Prefix:       "winmsa:runs:",
		TTL:          7 * 24 * time.Hour,
		Timeout:      5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisBackend stores run states in Redis so multiple hosts can share
// resume state for the same SAM drop.
type RedisBackend struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisBackend creates a new Redis run-state backend.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	opts := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBackend{
		cfg:    cfg,
		client: client,
	}, nil
}

// key returns the Redis key for a run-state ID.
func (b *RedisBackend) key(id string) string {
	return b.cfg.Prefix + id
}

// samIndexKey returns the key for the SAM path index. The window plan
// is part of the key so a re-run with a different plan never resumes a
// stale state.
func (b *RedisBackend) samIndexKey(samPath string, windowSize, windowStride int64) string {
	return fmt.Sprintf("%sindex:sam:%s:%d:%d", b.cfg.Prefix, sanitizeKey(samPath), windowSize, windowStride)
}

// incompleteSetKey returns the key for the incomplete run set.
func (b *RedisBackend) incompleteSetKey() string {
	return b.cfg.Prefix + "incomplete"
}

// sanitizeKey removes characters that may cause issues in Redis keys.
func sanitizeKey(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

// Save persists a run state to Redis.
func (b *RedisBackend) Save(ctx context.Context, rs *RunState) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, phase, err := rs.encode()
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	// Use pipeline for atomic operations
	pipe := b.client.Pipeline()

	pipe.Set(ctx, b.key(rs.ID), data, b.cfg.TTL)

	// Update SAM path index
	pipe.Set(ctx, b.samIndexKey(rs.SamPath, rs.WindowSize, rs.WindowStride), rs.ID, b.cfg.TTL)

	// Update incomplete set
	if phase != "complete" {
		pipe.SAdd(ctx, b.incompleteSetKey(), rs.ID)
	} else {
		pipe.SRem(ctx, b.incompleteSetKey(), rs.ID)
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save run state to Redis: %w", err)
	}

	return nil
}

// Load retrieves a run state from Redis.
func (b *RedisBackend) Load(ctx context.Context, id string) (*RunState, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := b.client.Get(ctx, b.key(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("failed to load run state from Redis: %w", err)
	}

	var rs RunState
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}

	return &rs, nil
}

// Delete removes a run state from Redis.
func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	// First load to get the SAM path for index cleanup
	rs, err := b.Load(ctx, id)
	if err != nil && err != os.ErrNotExist {
		return err
	}

	pipe := b.client.Pipeline()

	pipe.Del(ctx, b.key(id))
	pipe.SRem(ctx, b.incompleteSetKey(), id)

	if rs != nil {
		pipe.Del(ctx, b.samIndexKey(rs.SamPath, rs.WindowSize, rs.WindowStride))
	}

	_, err = pipe.Exec(ctx)
	return err
}

// ListIncomplete returns all run states that haven't completed.
func (b *RedisBackend) ListIncomplete(ctx context.Context) ([]*RunState, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	ids, err := b.client.SMembers(ctx, b.incompleteSetKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get incomplete runs: %w", err)
	}

	var states []*RunState
	for _, id := range ids {
		rs, err := b.Load(ctx, id)
		if err != nil {
			// Remove stale entries
			b.client.SRem(ctx, b.incompleteSetKey(), id)
			continue
		}
		if rs.Phase != "complete" {
			states = append(states, rs)
		} else {
			b.client.SRem(ctx, b.incompleteSetKey(), id)
		}
	}

	return states, nil
}

// FindBySam finds an incomplete run state for the given SAM file and
// window plan.
func (b *RedisBackend) FindBySam(ctx context.Context, samPath string, windowSize, windowStride int64) (*RunState, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	id, err := b.client.Get(ctx, b.samIndexKey(samPath, windowSize, windowStride)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("failed to find run state by SAM path: %w", err)
	}

	rs, err := b.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	if rs.Phase == "complete" {
		return nil, os.ErrNotExist
	}

	return rs, nil
}

// Name returns "redis".
func (b *RedisBackend) Name() string {
	return "redis"
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// --- Distributed Locking for Multi-Host Runs ---

// Lock represents a distributed lock on a run.
type Lock struct {
	backend *RedisBackend
	key     string
	value   string
	ttl     time.Duration
}

// AcquireLock attempts to acquire a distributed lock for a run so two
// hosts never extract the same SAM file concurrently.
func (b *RedisBackend) AcquireLock(ctx context.Context, runID string, ttl time.Duration) (*Lock, error) {
	lockKey := b.cfg.Prefix + "lock:" + runID
	lockValue := fmt.Sprintf("%d", time.Now().UnixNano())

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	// Try to acquire lock with SET NX EX
	ok, err := b.client.SetNX(ctx, lockKey, lockValue, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("lock already held")
	}

	return &Lock{
		backend: b,
		key:     lockKey,
		value:   lockValue,
		ttl:     ttl,
	}, nil
}

// Release releases the distributed lock.
func (l *Lock) Release(ctx context.Context) error {
	// Use Lua script to ensure we only release our own lock
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	_, err := script.Run(ctx, l.backend.client, []string{l.key}, l.value).Result()
	return err
}

// Extend extends the lock TTL.
func (l *Lock) Extend(ctx context.Context) error {
	// Use Lua script to extend only our own lock
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)

	ttlMs := l.ttl.Milliseconds()
	result, err := script.Run(ctx, l.backend.client, []string{l.key}, l.value, ttlMs).Int()
	if err != nil {
		return err
	}
	if result == 0 {
		return fmt.Errorf("lock no longer held")
	}
	return nil
}

// Ping checks the Redis connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	return b.client.Ping(ctx).Err()
}
