package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := Dial(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client, "portfolio-agent"), mr
}

func TestRedisLockerMutualExclusion(t *testing.T) {
	l, mr := newTestLocker(t)
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "price:000001.SZ", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	stored, err := mr.Get("portfolio-agent:lock:price:000001.SZ")
	require.NoError(t, err)
	assert.Equal(t, token, stored)

	_, ok, err = l.TryLock(ctx, "price:000001.SZ", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// 其他 key 不受影响
	other, ok, err := l.TryLock(ctx, "price:600000.SH", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Unlock(ctx, "price:600000.SH", other))
	assert.False(t, mr.Exists("portfolio-agent:lock:price:600000.SH"))

	require.NoError(t, l.Unlock(ctx, "price:000001.SZ", token))
	_, ok, err = l.TryLock(ctx, "price:000001.SZ", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockerWrongTokenKeepsLock(t *testing.T) {
	l, mr := newTestLocker(t)
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "financial:600519.SH", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Unlock(ctx, "financial:600519.SH", "wrong"))
	stored, err := mr.Get("portfolio-agent:lock:financial:600519.SH")
	require.NoError(t, err)
	assert.Equal(t, token, stored)

	_, ok, err = l.TryLock(ctx, "financial:600519.SH", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// 未持有的锁释放是空操作
	require.NoError(t, l.Unlock(ctx, "valuation:600519.SH", token))
}

func TestRedisLockerExpires(t *testing.T) {
	l, mr := newTestLocker(t)
	ctx := context.Background()

	stale, ok, err := l.TryLock(ctx, "price:000001.SZ", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, mr.TTL("portfolio-agent:lock:price:000001.SZ"))

	mr.FastForward(31 * time.Second)
	assert.False(t, mr.Exists("portfolio-agent:lock:price:000001.SZ"))

	fresh, ok, err := l.TryLock(ctx, "price:000001.SZ", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, stale, fresh)

	// 过期持有者不能释放新持有者的锁
	require.NoError(t, l.Unlock(ctx, "price:000001.SZ", stale))
	assert.True(t, mr.Exists("portfolio-agent:lock:price:000001.SZ"))
}

func TestRedisLockerServerDown(t *testing.T) {
	l, mr := newTestLocker(t)
	mr.Close()

	_, ok, err := l.TryLock(context.Background(), "price:000001.SZ", time.Minute)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, "127.0.0.1:1", "", 0)
	assert.ErrorContains(t, err, "连接Redis失败")
}
