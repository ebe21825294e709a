// pkg/meta/redis_test.go

package meta

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func testQuotaStore(t *testing.T, m QuotaStore) {
	ctx := context.Background()
	q, err := m.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, q)

	require.NoError(t, m.Set(ctx, 10001, 1<<20))
	require.NoError(t, m.Set(ctx, 10002, 4096))
	require.NoError(t, m.Set(ctx, 10001, 2<<20))
	q, err = m.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, map[uint32]int64{10001: 2 << 20, 10002: 4096}, q)

	require.NoError(t, m.Delete(ctx, 10002))
	require.NoError(t, m.Delete(ctx, 99))
	q, err = m.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, map[uint32]int64{10001: 2 << 20}, q)
	require.NoError(t, m.Close())
}

func TestRedisQuota(t *testing.T) {
	s := miniredis.RunT(t)
	m, err := NewClient("redis://"+s.Addr()+"/2", &Config{Retries: 2, Prefix: "avelog:"})
	require.NoError(t, err)
	require.Equal(t, "redis", m.Name())
	testQuotaStore(t, m)

	s.Select(2)
	require.True(t, s.Exists("avelog:quotas"))
}

func TestRedisQuotaSkipsGarbage(t *testing.T) {
	s := miniredis.RunT(t)
	s.HSet("quotas", "1000", "512", "app", "1", "1001", "lots")

	m, err := NewClient(s.Addr(), nil)
	require.NoError(t, err)
	defer m.Close()
	q, err := m.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[uint32]int64{1000: 512}, q)
}

func TestMemKV(t *testing.T) {
	m, err := NewClient("memkv://suite", nil)
	require.NoError(t, err)
	require.Equal(t, "memkv", m.Name())
	testQuotaStore(t, m)
}

func TestMemKVShared(t *testing.T) {
	ctx := context.Background()
	a, err := NewClient("memkv://shared", nil)
	require.NoError(t, err)
	require.NoError(t, a.Set(ctx, 10001, 4096))
	require.NoError(t, a.Close())

	b, err := NewClient("memkv://shared", &Config{ReadOnly: true})
	require.NoError(t, err)
	q, err := b.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, map[uint32]int64{10001: 4096}, q)
	require.ErrorIs(t, b.Set(ctx, 1, 1), ErrReadOnly)

	other, err := NewClient("memkv://other", nil)
	require.NoError(t, err)
	q, err = other.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, q)
}

func TestReadOnly(t *testing.T) {
	m, err := NewClient("memkv://readonly", &Config{ReadOnly: true})
	require.NoError(t, err)
	require.ErrorIs(t, m.Set(context.Background(), 1, 1), ErrReadOnly)
	require.ErrorIs(t, m.Delete(context.Background(), 1), ErrReadOnly)
}

func TestNewClientErrors(t *testing.T) {
	_, err := NewClient("etcd://localhost:2379", nil)
	require.Error(t, err)
	_, err = NewClient("redis://%zz", nil)
	require.Error(t, err)
}

func TestShouldRetry(t *testing.T) {
	require.False(t, shouldRetry(nil))
	require.False(t, shouldRetry(context.Canceled))
	require.True(t, shouldRetry(io.EOF))
	require.True(t, shouldRetry(errors.New("LOADING Redis is loading the dataset in memory")))
	require.True(t, shouldRetry(errors.New("ERR max number of clients reached")))
	require.False(t, shouldRetry(errors.New("WRONGTYPE Operation against a key")))
}
