package ledger

import (
	"context"
	"sync"
	"time"
)

// Locker serializes Apply calls per account. Different keys never block each
// other. Implementations: KeyedMutex (one process), locker.Redis (many).
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LockKey is the lock name for an account.
func LockKey(id AccountID) string { return "ledger:account:" + string(id) }

// KeyedMutex is an in-process Locker with one mutex per key. Idle keys are
// dropped so the map does not grow with the number of accounts ever seen.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Lock blocks until the key is free or ctx is done.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.release(key, l)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock returns the current time. Injected so tests control timestamps.
type Clock func() time.Time

// SystemClock returns UTC wall time.
func SystemClock() time.Time { return time.Now().UTC() }
