package progression

import (
	"context"
	"sync"

	"github.com/alem-hub/fitness-progression/internal/domain/shared"
)

// KeyedLocker - блокировка по ключу в пределах одного процесса.
// Запись о ключе удаляется, когда ею никто не пользуется.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  chan struct{}
	refs int
}

// NewKeyedLocker создаёт блокировку по ключу.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedLock)}
}

// Lock ждёт освобождения ключа или отмены контекста.
func (k *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.sem
				k.release(key, l)
			})
		}, nil
	case <-ctx.Done():
		k.release(key, l)
		return nil, shared.WrapError("progression", "Lock", shared.ErrLockNotAcquired,
			"wait for user lock cancelled", ctx.Err())
	}
}

func (k *KeyedLocker) release(key string, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// Len возвращает число ключей, удерживаемых или ожидаемых сейчас.
func (k *KeyedLocker) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
