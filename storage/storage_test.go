package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/interfaces"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

// runStorageContract exercises the behaviour every Storage implementation shares
func runStorageContract(t *testing.T, s interfaces.Storage) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.True(t, errors.Is(err, types.ErrNotFound), "missing key should be ErrNotFound, got %v", err)

	require.NoError(t, s.Set(ctx, "data:b", []byte("two")))
	require.NoError(t, s.Set(ctx, "data:a", []byte("one")))
	require.NoError(t, s.Set(ctx, "record:a", []byte("meta")))

	got, err := s.Get(ctx, "data:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	// Overwrite
	require.NoError(t, s.Set(ctx, "data:a", []byte("uno")))
	got, err = s.Get(ctx, "data:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("uno"), got)

	keys, err := s.Keys(ctx, "data:")
	require.NoError(t, err)
	assert.Equal(t, []string{"data:a", "data:b"}, keys)

	all, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.Delete(ctx, "data:a"))
	require.NoError(t, s.Delete(ctx, "data:a"), "deleting a missing key is not an error")

	_, err = s.Get(ctx, "data:a")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestMemoryAdapter(t *testing.T) {
	runStorageContract(t, NewMemoryAdapter())
}

func TestMemoryAdapterCopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()

	in := []byte("secret")
	require.NoError(t, m.Set(ctx, "k", in))
	in[0] = 'X'

	out, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "secret", string(out))

	out[0] = 'Y'
	again, _ := m.Get(ctx, "k")
	assert.Equal(t, "secret", string(again))

	stats := m.GetStats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, int64(1), stats.Writes)
	assert.Equal(t, int64(2), stats.Reads)

	require.NoError(t, m.Clear(ctx))
	assert.Equal(t, 0, m.GetStats().Size)
}

func TestMemoryAdapterCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMemoryAdapter()
	assert.ErrorIs(t, m.Set(ctx, "k", []byte("v")), context.Canceled)
	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNamespacedAdapter(t *testing.T) {
	runStorageContract(t, NewNamespacedAdapter(NewMemoryAdapter(), "secure_storage"))
}

func TestNamespacedAdapterIsolation(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryAdapter()
	a := NewNamespacedAdapter(base, "audit_trail")
	b := NewNamespacedAdapter(base, "secure_storage")

	require.NoError(t, a.Set(ctx, "state", []byte("a")))
	require.NoError(t, b.Set(ctx, "state", []byte("b")))

	raw, err := base.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"audit_trail:state", "secure_storage:state"}, raw)

	keys, err := a.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"state"}, keys)

	n, err := b.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := a.Get(ctx, "state")
	require.NoError(t, err)
	assert.Equal(t, "a", string(got))
	assert.Equal(t, "audit_trail:", a.Namespace())
}

func TestSQLiteAdapter(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	runStorageContract(t, s)
}

func TestSQLiteAdapterPrefixEscaping(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "a_b:1", []byte("x")))
	require.NoError(t, s.Set(ctx, "axb:1", []byte("y")))
	require.NoError(t, s.Set(ctx, "a%:1", []byte("z")))

	keys, err := s.Keys(ctx, "a_b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a_b:1"}, keys)

	keys, err = s.Keys(ctx, "a%")
	require.NoError(t, err)
	assert.Equal(t, []string{"a%:1"}, keys)
}

func TestOpenSQLiteRequiresDSN(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestConnectMongoRequiresURI(t *testing.T) {
	_, err := ConnectMongo(context.Background(), "", "db", "")
	assert.ErrorIs(t, err, types.ErrValidation)
}
