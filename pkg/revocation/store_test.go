package revocation

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/idhub/pkg/bus"
	"github.com/platinummonkey/idhub/pkg/observability"
)

func setupStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return NewStore(client, ttl, logger), mr, cleanup
}

func TestRevokeAndCheck(t *testing.T) {
	store, _, cleanup := setupStore(t, time.Hour)
	defer cleanup()

	ctx := context.Background()

	revoked, err := store.IsRevoked(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, store.Revoke(ctx, "u-1"))

	revoked, err = store.IsRevoked(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// Other users are unaffected.
	revoked, err = store.IsRevoked(ctx, "u-2")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevoke_EmptyUserID(t *testing.T) {
	store, _, cleanup := setupStore(t, time.Hour)
	defer cleanup()

	assert.Error(t, store.Revoke(context.Background(), ""))
}

func TestRevocationExpires(t *testing.T) {
	store, mr, cleanup := setupStore(t, time.Minute)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, store.Revoke(ctx, "u-1"))

	mr.FastForward(2 * time.Minute)

	revoked, err := store.IsRevoked(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestClear(t *testing.T) {
	store, _, cleanup := setupStore(t, time.Hour)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, store.Revoke(ctx, "u-1"))
	require.NoError(t, store.Clear(ctx, "u-1"))

	revoked, err := store.IsRevoked(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestHandleLogout(t *testing.T) {
	store, _, cleanup := setupStore(t, time.Hour)
	defer cleanup()

	ctx := context.Background()
	env, err := bus.NewEnvelope(bus.TypeUserLoggedOut, "ui-client", LogoutPayload{UserID: "u-9"})
	require.NoError(t, err)

	require.NoError(t, store.HandleLogout(ctx, env))

	revoked, err := store.IsRevoked(ctx, "u-9")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestHandleLogout_MissingUserID(t *testing.T) {
	store, _, cleanup := setupStore(t, time.Hour)
	defer cleanup()

	env, err := bus.NewEnvelope(bus.TypeUserLoggedOut, "ui-client", LogoutPayload{})
	require.NoError(t, err)

	assert.Error(t, store.HandleLogout(context.Background(), env))
}
