package workflow

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// threadLocks serializes executions per thread id. Entries are reference
// counted and dropped once no caller holds or waits on them.
type threadLocks struct {
	mu      sync.Mutex
	entries map[string]*threadLock
}

type threadLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newThreadLocks() *threadLocks {
	return &threadLocks{entries: make(map[string]*threadLock)}
}

// acquire blocks until the thread is free or ctx is done.
func (l *threadLocks) acquire(ctx context.Context, threadID string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[threadID]
	if !ok {
		e = &threadLock{sem: semaphore.NewWeighted(1)}
		l.entries[threadID] = e
	}
	e.refs++
	l.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		l.unref(threadID, e)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			l.unref(threadID, e)
		})
	}, nil
}

func (l *threadLocks) unref(threadID string, e *threadLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, threadID)
	}
}

func (l *threadLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
