package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"canvas-gateway/internal/seal"
)

// RedisStore is an optional Redis-backed session store for deployments
// that want sessions to survive a gateway restart. The credential is
// stored only in sealed form; Redis never sees plaintext. Idle expiry
// is enforced by key TTL, refreshed on every successful lookup.
type RedisStore struct {
	client      *redis.Client
	prefix      string
	fpPrefix    string
	idleTimeout time.Duration
	cap         int
	now         func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client, idleTimeout time.Duration, sessionCap int) *RedisStore {
	if idleTimeout <= 0 {
		idleTimeout = time.Hour
	}
	if sessionCap <= 0 {
		sessionCap = 5
	}
	return &RedisStore{
		client:      client,
		prefix:      "session:",
		fpPrefix:    "session-fp:",
		idleTimeout: idleTimeout,
		cap:         sessionCap,
		now:         time.Now,
	}
}

func (r *RedisStore) key(sessionID string) string {
	return r.prefix + sessionID
}

func (r *RedisStore) fpKey(fingerprint string) string {
	return r.fpPrefix + fingerprint
}

func (r *RedisStore) Create(ctx context.Context, credential, endpoint, label, fingerprint string) (string, error) {
	id, err := GenerateID()
	if err != nil {
		return "", err
	}

	secret, salt, err := seal.NewSecret()
	if err != nil {
		return "", err
	}
	key := seal.DeriveKey(secret, salt)
	sealed, err := seal.Encrypt(key, []byte(credential))
	seal.Zero(key)
	if err != nil {
		seal.Zero(secret)
		return "", fmt.Errorf("session: failed to seal credential: %w", err)
	}

	if err := r.evictOverCap(ctx, fingerprint); err != nil {
		return "", err
	}

	now := r.now()
	rec := Session{
		ID:          id,
		Endpoint:    endpoint,
		Label:       label,
		Fingerprint: fingerprint,
		Sealed:      sealed,
		Secret:      secret,
		Salt:        salt,
		CreatedAt:   now,
		LastActive:  now,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("session: failed to marshal: %w", err)
	}

	if err := r.client.Set(ctx, r.key(id), data, r.idleTimeout).Err(); err != nil {
		return "", err
	}
	if err := r.client.SAdd(ctx, r.fpKey(fingerprint), id).Err(); err != nil {
		return "", err
	}

	return id, nil
}

func (r *RedisStore) Lookup(ctx context.Context, sessionID string) (*Session, error) {
	val, err := r.client.Get(ctx, r.key(sessionID)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec Session
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}

	rec.LastActive = r.now()

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("session: failed to marshal: %w", err)
	}
	// Touch: rewriting with a fresh TTL is what refreshes the idle
	// timeout for Redis-backed sessions.
	if err := r.client.Set(ctx, r.key(sessionID), data, r.idleTimeout).Err(); err != nil {
		return nil, err
	}

	return &rec, nil
}

func (r *RedisStore) Destroy(ctx context.Context, sessionID string) (bool, error) {
	// Fetch first so the fingerprint index entry can be removed too.
	val, err := r.client.Get(ctx, r.key(sessionID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var rec Session
	if err := json.Unmarshal([]byte(val), &rec); err == nil && rec.Fingerprint != "" {
		_ = r.client.SRem(ctx, r.fpKey(rec.Fingerprint), sessionID).Err()
	}

	deleted, err := r.client.Del(ctx, r.key(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}

// Sweep prunes fingerprint-index entries whose session keys already
// expired. Record expiry itself is Redis TTL's job.
func (r *RedisStore) Sweep(ctx context.Context) int {
	pruned := 0
	iter := r.client.Scan(ctx, 0, r.fpPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		fpKey := iter.Val()
		members, err := r.client.SMembers(ctx, fpKey).Result()
		if err != nil {
			continue
		}
		for _, id := range members {
			exists, err := r.client.Exists(ctx, r.key(id)).Result()
			if err == nil && exists == 0 {
				if r.client.SRem(ctx, fpKey, id).Err() == nil {
					pruned++
				}
			}
		}
	}
	return pruned
}

// evictOverCap destroys the least recently active sessions for the
// fingerprint until one slot is free.
func (r *RedisStore) evictOverCap(ctx context.Context, fingerprint string) error {
	members, err := r.client.SMembers(ctx, r.fpKey(fingerprint)).Result()
	if err != nil {
		return err
	}

	type liveSession struct {
		id         string
		lastActive time.Time
	}
	live := make([]liveSession, 0, len(members))
	for _, id := range members {
		val, err := r.client.Get(ctx, r.key(id)).Result()
		if err == redis.Nil {
			// Already expired: drop the stale index entry.
			_ = r.client.SRem(ctx, r.fpKey(fingerprint), id).Err()
			continue
		}
		if err != nil {
			return err
		}
		var rec Session
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			continue
		}
		live = append(live, liveSession{id: id, lastActive: rec.LastActive})
	}

	for len(live) >= r.cap {
		oldest := 0
		for i := range live {
			if live[i].lastActive.Before(live[oldest].lastActive) {
				oldest = i
			}
		}
		if _, err := r.Destroy(ctx, live[oldest].id); err != nil {
			return err
		}
		live = append(live[:oldest], live[oldest+1:]...)
	}
	return nil
}

// SetNow overrides the clock. Tests only.
func (r *RedisStore) SetNow(now func() time.Time) {
	r.now = now
}
