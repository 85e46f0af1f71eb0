package services

import (
	"context"
	"slices"
	"sync"
)

// AccountLocker сериализует операции по счету внутри процесса.
// Несколько счетов захватываются в порядке возрастания идентификатора
type AccountLocker struct {
	mu    sync.Mutex
	locks map[int64]*accountLock
}

type accountLock struct {
	ch   chan struct{}
	refs int
}

// NewAccountLocker создает новый экземпляр AccountLocker
func NewAccountLocker() *AccountLocker {
	return &AccountLocker{locks: make(map[int64]*accountLock)}
}

// Lock захватывает счета ids и возвращает функцию освобождения.
// Нулевые идентификаторы и повторы пропускаются
func (l *AccountLocker) Lock(ctx context.Context, ids ...int64) (func(), error) {
	sorted := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != 0 {
			sorted = append(sorted, id)
		}
	}
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]int64, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
	}

	for _, id := range sorted {
		if err := l.lock(ctx, id); err != nil {
			release()
			return nil, err
		}
		held = append(held, id)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *AccountLocker) lock(ctx context.Context, id int64) error {
	l.mu.Lock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &accountLock{ch: make(chan struct{}, 1)}
		l.locks[id] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.drop(id, lk)
		l.mu.Unlock()
		return ctx.Err()
	}
}

func (l *AccountLocker) unlock(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lk, ok := l.locks[id]
	if !ok {
		return
	}
	<-lk.ch
	l.drop(id, lk)
}

// drop уменьшает счетчик ссылок и удаляет запись без ожидающих. Вызывается под mu
func (l *AccountLocker) drop(id int64, lk *accountLock) {
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, id)
	}
}
