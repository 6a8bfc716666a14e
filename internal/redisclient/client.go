package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/claim_expired.lua
var claimExpiredScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

const expiryIndexKey = "reservation:expiry"

type Client struct {
	rdb           *redis.Client
	claimScript   *redis.Script
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		claimScript:   redis.NewScript(claimExpiredScript),
		releaseScript: redis.NewScript(releaseLockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// SessionUserID resolves a session token to a user ID. Returns 0 with no
// error when the token is unknown.
func (c *Client) SessionUserID(ctx context.Context, token string) (int64, error) {
	val, err := c.rdb.Get(ctx, "session:"+token).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

// CachedOrgSlug returns the cached org slug for a user, empty if not cached.
func (c *Client) CachedOrgSlug(ctx context.Context, userID int64) (string, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("userorg:%d", userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// CacheOrgSlug caches a user's org slug.
func (c *Client) CacheOrgSlug(ctx context.Context, userID int64, slug string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("userorg:%d", userID), slug, ttl).Err()
}

// IndexExpiry registers a held reservation in the expiry index. The member
// encodes tenant and reservation so the sweeper can route the release.
func (c *Client) IndexExpiry(ctx context.Context, orgSlug string, reservationID int64, expiresAt time.Time) error {
	member := fmt.Sprintf("%s|%d", orgSlug, reservationID)
	return c.rdb.ZAdd(ctx, expiryIndexKey, &redis.Z{
		Score:  float64(expiresAt.Unix()),
		Member: member,
	}).Err()
}

// DropExpiry removes a reservation from the expiry index after it reaches a
// terminal state.
func (c *Client) DropExpiry(ctx context.Context, orgSlug string, reservationID int64) error {
	member := fmt.Sprintf("%s|%d", orgSlug, reservationID)
	return c.rdb.ZRem(ctx, expiryIndexKey, member).Err()
}

// ExpiryRef identifies one due reservation claimed from the index.
type ExpiryRef struct {
	OrgSlug       string
	ReservationID int64
}

// ClaimExpired atomically pops up to max due entries from the expiry index.
// The database remains the source of truth; a claimed entry whose row turns
// out not to be due is simply skipped by the sweeper.
func (c *Client) ClaimExpired(ctx context.Context, now time.Time, max int) ([]ExpiryRef, error) {
	result, err := c.claimScript.Run(ctx, c.rdb, []string{expiryIndexKey}, now.Unix(), max).Result()
	if err != nil {
		return nil, fmt.Errorf("claim expired script failed: %w", err)
	}

	raw, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected script result type %T", result)
	}

	refs := make([]ExpiryRef, 0, len(raw))
	for _, m := range raw {
		member, ok := m.(string)
		if !ok {
			continue
		}
		slug, idStr, found := strings.Cut(member, "|")
		if !found {
			continue
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		refs = append(refs, ExpiryRef{OrgSlug: slug, ReservationID: id})
	}
	return refs, nil
}

// AcquireLock acquires a distributed lock. The returned token identifies this
// holder; release requires it, so a holder that outlives the TTL cannot free
// the lock out from under the next one.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, "lock:"+lockKey, token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLock releases a distributed lock if token still owns it.
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	return c.releaseScript.Run(ctx, c.rdb, []string{"lock:" + lockKey}, token).Err()
}
