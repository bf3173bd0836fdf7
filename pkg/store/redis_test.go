package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobiasgrim/supportflow/pkg/conversation"
)

func newTestRedis(t *testing.T) *backend.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return backend.NewClient(&backend.Options{Addr: mr.Addr()})
}

func TestRedisStore_Contract(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		return NewRedisStore(newTestRedis(t))
	})
}

func TestRedisStore_ListThreadsOrder(t *testing.T) {
	ctx := context.Background()
	st := NewRedisStore(newTestRedis(t))
	defer st.Close()

	base := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)
	clock := base
	st.now = func() time.Time { return clock }

	require.NoError(t, st.SaveState(ctx, conversation.New("conv-old", "", "")))
	clock = base.Add(time.Minute)
	require.NoError(t, st.SaveState(ctx, conversation.New("conv-new", "", "")))

	threads, err := st.ListThreads(ctx)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, "conv-new", threads[0].ID)
	assert.Equal(t, "conv-old", threads[1].ID)
}

func TestRedisStore_PrefixIsolation(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)

	a := NewRedisStore(client, WithPrefix("a:"))
	b := NewRedisStore(client, WithPrefix("b:"))

	require.NoError(t, a.SaveState(ctx, conversation.New("conv-1", "", "")))

	_, err := b.LoadState(ctx, "conv-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisLocker_Excludes(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)
	locker := NewRedisLocker(client, "supportflow:")

	unlock, err := locker.Lock(ctx, "conv-1", time.Minute)
	require.NoError(t, err)

	// A second acquire for the same key blocks until released.
	acquired := make(chan struct{})
	go func() {
		unlock2, err := locker.Lock(ctx, "conv-1", time.Minute)
		assert.NoError(t, err)
		close(acquired)
		unlock2(ctx)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first still held")
	case <-time.After(150 * time.Millisecond):
	}

	require.NoError(t, unlock(ctx))

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second lock never acquired after release")
	}
}

func TestRedisLocker_DifferentKeysIndependent(t *testing.T) {
	ctx := context.Background()
	locker := NewRedisLocker(newTestRedis(t), "supportflow:")

	unlockA, err := locker.Lock(ctx, "conv-a", time.Minute)
	require.NoError(t, err)
	defer unlockA(ctx)

	unlockB, err := locker.Lock(ctx, "conv-b", time.Minute)
	require.NoError(t, err)
	defer unlockB(ctx)
}

func TestRedisLocker_ContextCancelledWhileWaiting(t *testing.T) {
	client := newTestRedis(t)
	locker := NewRedisLocker(client, "supportflow:")

	unlock, err := locker.Lock(context.Background(), "conv-1", time.Minute)
	require.NoError(t, err)
	defer unlock(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(ctx, "conv-1", time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
