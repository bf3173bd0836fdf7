package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/tobiasgrim/supportflow/pkg/store"
)

// Locker serializes turns per conversation id. Lock blocks until the
// key is held or ctx is cancelled, and returns the release function.
// The ttl bounds how long a crashed holder can block others; the
// in-process implementation ignores it.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// Single-process deployments use the keyed mutex; multi-replica
// deployments use the Redis locker.
var (
	_ Locker = (*KeyedMutex)(nil)
	_ Locker = (*store.RedisLocker)(nil)
)

// KeyedMutex is the in-process Locker: one mutex per key, created on
// first use and dropped when no goroutine holds or waits on it.
type KeyedMutex struct {
	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{keys: make(map[string]*keyLock)}
}

// Lock acquires the mutex for key, waiting until it is free or ctx is
// cancelled. The returned function releases it and is safe to call more
// than once.
func (k *KeyedMutex) Lock(ctx context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	k.mu.Lock()
	kl, ok := k.keys[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		k.keys[key] = kl
	}
	kl.refs++
	k.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	unlock := func(context.Context) error {
		once.Do(func() {
			<-kl.ch
			k.release(key, kl)
		})
		return nil
	}
	return unlock, nil
}

func (k *KeyedMutex) release(key string, kl *keyLock) {
	k.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(k.keys, key)
	}
	k.mu.Unlock()
}
