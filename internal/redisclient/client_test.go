package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient connects to the redis named by ADOPS_TEST_REDIS_ADDR, or skips.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("ADOPS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ADOPS_TEST_REDIS_ADDR not set")
	}
	c, err := NewClient(addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLockReleaseRequiresToken(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	c.rdb.Del(ctx, "lock:test-sweep")

	token, locked, err := c.AcquireLock(ctx, "test-sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, locked)
	require.NotEmpty(t, token)

	_, locked, err = c.AcquireLock(ctx, "test-sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, locked, "held lock must not be reacquired")

	// A stale holder's token must not free the current holder's lock.
	require.NoError(t, c.ReleaseLock(ctx, "test-sweep", "stale-token"))
	_, locked, err = c.AcquireLock(ctx, "test-sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, locked, "wrong-token release must leave the lock held")

	require.NoError(t, c.ReleaseLock(ctx, "test-sweep", token))
	_, locked, err = c.AcquireLock(ctx, "test-sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, locked, "owner release must free the lock")
}

func TestExpiryIndexClaim(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	now := time.Now()

	c.rdb.Del(ctx, expiryIndexKey)

	require.NoError(t, c.IndexExpiry(ctx, "acme", 11, now.Add(-time.Minute)))
	require.NoError(t, c.IndexExpiry(ctx, "acme", 12, now.Add(time.Hour)))
	require.NoError(t, c.IndexExpiry(ctx, "other-org", 13, now.Add(-time.Second)))

	refs, err := c.ClaimExpired(ctx, now, 100)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ExpiryRef{
		{OrgSlug: "acme", ReservationID: 11},
		{OrgSlug: "other-org", ReservationID: 13},
	}, refs)

	// Claimed entries are gone; the future hold stays indexed.
	refs, err = c.ClaimExpired(ctx, now, 100)
	require.NoError(t, err)
	assert.Empty(t, refs)

	require.NoError(t, c.DropExpiry(ctx, "acme", 12))
	refs, err = c.ClaimExpired(ctx, now.Add(2*time.Hour), 100)
	require.NoError(t, err)
	assert.Empty(t, refs)
}
