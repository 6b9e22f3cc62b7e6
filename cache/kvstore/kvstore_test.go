package kvstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/vaulthub/log"
	"github.com/oasisprotocol/vaulthub/metrics"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestTypedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := metrics.NewDefaultArchiveMetrics("kvstore_test", "typed")
	store, err := OpenKVStore(log.NewDiscardLogger("kvstore"), dir, &m)
	require.NoError(t, err)

	key := GenerateCacheKey("sample", "a", 1)
	var got sample
	require.ErrorIs(t, GetTyped(store, key, &got), ErrNoSuchKey)

	require.NoError(t, PutTyped(store, key, sample{Name: "a", Count: 1}))
	require.NoError(t, GetTyped(store, key, &got))
	require.Equal(t, sample{Name: "a", Count: 1}, got)

	require.NoError(t, store.Put(GenerateCacheKey("sample", "bad"), []byte("{")))
	require.Error(t, GetTyped(store, GenerateCacheKey("sample", "bad"), &got))
	require.NoError(t, store.Close())

	// Values survive a reopen.
	store, err = OpenKVStore(log.NewDiscardLogger("kvstore"), dir, nil)
	require.NoError(t, err)
	defer store.Close()
	got = sample{}
	require.NoError(t, GetTyped(store, key, &got))
	require.Equal(t, 1, got.Count)
}

func TestCacheKeys(t *testing.T) {
	require.Equal(t, GenerateCacheKey("x", 1, "y"), GenerateCacheKey("x", 1, "y"))
	require.NotEqual(t, GenerateCacheKey("x", 1), GenerateCacheKey("x", 2))
	require.Equal(t, `["x",[1]]`, GenerateCacheKey("x", 1).Pretty())
	require.Equal(t, "ff00", CacheKey([]byte{0xff, 0x00}).Pretty())
}

func TestUninitializedStore(t *testing.T) {
	s := &pogrebKVStore{logger: log.NewDiscardLogger("kvstore")}
	has, err := s.Has([]byte("k"))
	require.NoError(t, err)
	require.False(t, has)
	require.Error(t, s.Put([]byte("k"), []byte("v")))
	require.NoError(t, s.Close())
}
