package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_Contention(t *testing.T) {
	docPath := filepath.Join(t.TempDir(), "form.json")
	first := NewFileLock(docPath)
	second := NewFileLock(docPath)

	held, err := first.Lock(context.Background(), "sync-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = second.Lock(ctx, "sync-2")
	require.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "sync-1")

	require.NoError(t, held.Unlock(context.Background()))

	again, err := second.Lock(context.Background(), "sync-2")
	require.NoError(t, err)
	require.NoError(t, again.Unlock(context.Background()))
}

func TestFileLock_WaitsForRelease(t *testing.T) {
	docPath := filepath.Join(t.TempDir(), "form.json")
	held, err := NewFileLock(docPath).Lock(context.Background(), "a")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = held.Unlock(context.Background())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	u, err := NewFileLock(docPath).Lock(ctx, "b")
	require.NoError(t, err)
	require.NoError(t, u.Unlock(context.Background()))
}

func setupRedisLock(t *testing.T, ttl time.Duration) (*RedisLock, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	l, err := NewRedisLock("redis://"+s.Addr(), "contentsync:lock", ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, s
}

func TestRedisLock_Contention(t *testing.T) {
	l, _ := setupRedisLock(t, time.Minute)

	held, err := l.Lock(context.Background(), "sync-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "sync-2")
	require.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "sync-1/")

	require.NoError(t, held.Unlock(context.Background()))
	again, err := l.Lock(context.Background(), "sync-2")
	require.NoError(t, err)
	require.NoError(t, again.Unlock(context.Background()))
}

func TestRedisLock_ExpiredHolderCannotReleaseNewOwner(t *testing.T) {
	l, s := setupRedisLock(t, time.Second)

	stale, err := l.Lock(context.Background(), "old")
	require.NoError(t, err)
	s.FastForward(2 * time.Second)

	fresh, err := l.Lock(context.Background(), "new")
	require.NoError(t, err)

	assert.Error(t, stale.Unlock(context.Background()))
	holder, err := s.Get("contentsync:lock")
	require.NoError(t, err)
	assert.Contains(t, holder, "new/")
	require.NoError(t, fresh.Unlock(context.Background()))
}

func TestNewRedisLock_BadURL(t *testing.T) {
	_, err := NewRedisLock("not a url", "k", time.Second)
	assert.Error(t, err)
}
