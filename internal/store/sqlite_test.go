package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_SetAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, LeadsKey("home-loan"), []byte(`[{"id":"1"}]`)))

	data, err := st.Get(ctx, LeadsKey("home-loan"))
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"1"}]`, string(data))
}

func TestSQLite_Get_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	data, err := st.Get(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestSQLite_Set_Overwrites(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "k", []byte("one")))
	require.NoError(t, st.Set(ctx, "k", []byte("two")))

	data, err := st.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestSQLite_Delete(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "k", []byte("v")))
	require.NoError(t, st.Delete(ctx, "k"))
	require.NoError(t, st.Delete(ctx, "never-set"))

	data, err := st.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestSQLite_Keys_PrefixIsLiteral(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, LeadsKey("lap"), []byte("[]")))
	require.NoError(t, st.Set(ctx, LeadsKey("home-loan"), []byte("[]")))
	require.NoError(t, st.Set(ctx, TimestampKey("lap"), []byte("1")))
	// Underscores in the prefix must not act as wildcards.
	require.NoError(t, st.Set(ctx, "leadsXcacheXv2Xother", []byte("[]")))

	keys, err := st.Keys(ctx, LeadsKeyPrefix())
	require.NoError(t, err)
	assert.Equal(t, []string{"leads_cache_v2_home-loan", "leads_cache_v2_lap"}, keys)
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "leads_cache_v2_home-loan", LeadsKey("home-loan"))
	assert.Equal(t, "leads_cache_timestamp_home-loan", TimestampKey("home-loan"))
	assert.Equal(t, "loan_types_cache_v1", LoanTypesKey)
}

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	kv, err := Open(ctx, Config{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "open.db")})
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() }) //nolint:errcheck

	require.NoError(t, kv.Set(ctx, "k", []byte("v")))
	data, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(data))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "redis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}
