package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent bounds exchanges running at once across all users.
const DefaultMaxConcurrent = 5

// Executor runs exchanges under a global concurrency limit, one at a time
// per user.
type Executor struct {
	sem *semaphore.Weighted

	mu    sync.Mutex
	users map[int64]*userLock
}

// userLock is a per-user mutex that can be abandoned on cancellation. It is
// dropped from the map once nobody holds or waits for it.
type userLock struct {
	ch   chan struct{}
	refs int
}

func NewExecutor(maxConcurrent int) *Executor {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Executor{
		sem:   semaphore.NewWeighted(int64(maxConcurrent)),
		users: make(map[int64]*userLock),
	}
}

// Do waits for the user's previous exchange and a free slot, then runs fn.
// It returns ctx's error if ctx ends while waiting; fn is not called then.
func (e *Executor) Do(ctx context.Context, userID int64, fn func(context.Context)) error {
	l := e.ref(userID)
	defer e.unref(userID, l)

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.ch }()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.sem.Release(1)

	fn(ctx)
	return nil
}

func (e *Executor) ref(userID int64) *userLock {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.users[userID]
	if !ok {
		l = &userLock{ch: make(chan struct{}, 1)}
		e.users[userID] = l
	}
	l.refs++
	return l
}

func (e *Executor) unref(userID int64, l *userLock) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(e.users, userID)
	}
}

// tracked reports how many users currently hold or wait for a lock.
func (e *Executor) tracked() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.users)
}
