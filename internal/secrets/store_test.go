package secrets

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test-seal-key"), mr
}

func TestStoreRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, CredentialsKey(), `{"secret_id":"a","secret_key":"b"}`))

	got, err := store.Get(ctx, CredentialsKey())
	require.NoError(t, err)
	require.Equal(t, `{"secret_id":"a","secret_key":"b"}`, got)
}

func TestStoreSealsValuesAtRest(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, TokensKey(), "super-secret-token"))

	raw, err := mr.Get(string(TokensKey()))
	require.NoError(t, err)
	require.NotContains(t, raw, "super-secret-token")
}

func TestStoreGetMissing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), RequisitionsKey())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, TokensKey(), "value"))
	require.NoError(t, store.Delete(ctx, TokensKey()))
	_, err := store.Get(ctx, TokensKey())
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting again is a no-op.
	require.NoError(t, store.Delete(ctx, TokensKey()))
}

func TestStoreWrongSealKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.NoError(t, NewRedisStore(client, "key-one").Set(ctx, TokensKey(), "value"))

	_, err := NewRedisStore(client, "key-two").Get(ctx, TokensKey())
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "unseal"))
}

func TestSyncWatermarkKeyPerAccount(t *testing.T) {
	require.NotEqual(t, SyncWatermarkKey("acc-1"), SyncWatermarkKey("acc-2"))
	require.Equal(t, Key("ledgerlink:sync:watermark:acc-1"), SyncWatermarkKey("acc-1"))
}
