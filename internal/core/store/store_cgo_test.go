//go:build cgo

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclops-relay/cyclops/internal/config"
	"github.com/cyclops-relay/cyclops/internal/core"
)

func openMemoryStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(context.Background(), config.StoreConfig{Driver: "libsql", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestOpenMemoryStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{
		Driver: "libsql",
		Path:   ":memory:",
	}

	store, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, store)
	require.Equal(t, "libsql", store.Driver())
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Close())
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := openMemoryStore(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestProjectKeysUpsertAndList(t *testing.T) {
	ctx := context.Background()
	store := openMemoryStore(t)

	n, err := store.UpsertProjectKeys(ctx, []core.ProjectKey{
		{ProjectID: "2", PublicKey: "pub2", SecretKey: "sec2"},
		{ProjectID: "1", PublicKey: "pub1", SecretKey: "sec1"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = store.UpsertProjectKeys(ctx, []core.ProjectKey{{ProjectID: "2", PublicKey: "rotated", SecretKey: "sec2b"}})
	require.NoError(t, err)

	keys, err := store.ListProjectKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "1", keys[0].ProjectID)
	assert.Equal(t, "rotated", keys[1].PublicKey)
	assert.False(t, keys[1].UpdatedAt.IsZero())

	count, err := store.CountProjectKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestProjectKeysUpsertValidates(t *testing.T) {
	store := openMemoryStore(t)

	_, err := store.UpsertProjectKeys(context.Background(), []core.ProjectKey{{ProjectID: "", PublicKey: "x"}})
	require.Error(t, err)

	_, err = store.UpsertProjectKeys(context.Background(), []core.ProjectKey{{ProjectID: "1"}})
	require.Error(t, err)
}

func TestRateLimitRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openMemoryStore(t)

	state, err := store.GetRateLimit(ctx, "42")
	require.NoError(t, err)
	require.Nil(t, state)

	windowStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	backoff := windowStart.Add(30 * time.Second)
	require.NoError(t, store.UpdateRateLimit(ctx, "42", &core.RateLimitState{
		RequestCount: 5,
		WindowStart:  windowStart,
		BackoffUntil: &backoff,
	}))

	state, err = store.GetRateLimit(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 5, state.RequestCount)
	assert.Equal(t, windowStart, state.WindowStart)
	require.NotNil(t, state.BackoffUntil)
	assert.Equal(t, backoff, *state.BackoffUntil)
	assert.Nil(t, state.Last429At)
}

func TestRateLimitAdmin(t *testing.T) {
	ctx := context.Background()
	store := openMemoryStore(t)

	now := time.Now().UTC()
	for _, id := range []string{"10", "11", "20"} {
		require.NoError(t, store.UpdateRateLimit(ctx, id, &core.RateLimitState{RequestCount: 1, WindowStart: now}))
	}

	_, err := store.ListRateLimits(ctx, RateLimitQuery{})
	require.Error(t, err)

	entries, err := store.ListRateLimits(ctx, RateLimitQuery{Prefix: "1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "10", entries[0].ProjectID)

	count, err := store.CountRateLimits(ctx, RateLimitQuery{All: true})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	removed, err := store.ResetRateLimits(ctx, RateLimitQuery{ProjectID: "20"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	count, err = store.CountRateLimits(ctx, RateLimitQuery{All: true})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRateLimitAdminBackoffAndEscaping(t *testing.T) {
	ctx := context.Background()
	store := openMemoryStore(t)

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)
	require.NoError(t, store.UpdateRateLimit(ctx, "a_1", &core.RateLimitState{WindowStart: now, BackoffUntil: &future}))
	require.NoError(t, store.UpdateRateLimit(ctx, "ab1", &core.RateLimitState{WindowStart: now, BackoffUntil: &past}))
	require.NoError(t, store.UpdateRateLimit(ctx, "b_2", &core.RateLimitState{WindowStart: now}))

	entries, err := store.ListRateLimits(ctx, RateLimitQuery{BackoffOnly: true, Now: now})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a_1", entries[0].ProjectID)

	// underscore is literal, so "ab1" does not match "a_"
	entries, err = store.ListRateLimits(ctx, RateLimitQuery{Prefix: "a_"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a_1", entries[0].ProjectID)

	count, err := store.CountRateLimits(ctx, RateLimitQuery{Prefix: "b", BackoffOnly: true, Now: now})
	require.NoError(t, err)
	assert.Zero(t, count)
}
