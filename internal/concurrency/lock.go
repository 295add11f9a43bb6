package concurrency

import (
	"context"
	"sync"
)

// SessionLocks serializes work per session id. Entries are dropped once no holder or waiter remains.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sem  chan struct{}
	refs int
}

func NewSessionLocks() *SessionLocks {
	return &SessionLocks{
		locks: make(map[string]*sessionLock),
	}
}

// Acquire blocks until the session is free or ctx is done. The returned release func must be called exactly once.
func (m *SessionLocks) Acquire(ctx context.Context, sessionID string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{sem: make(chan struct{}, 1)}
		m.locks[sessionID] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		m.unref(sessionID, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			m.unref(sessionID, l)
		})
	}, nil
}

// TryAcquire takes the session lock only if it is free.
func (m *SessionLocks) TryAcquire(sessionID string) (func(), bool) {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{sem: make(chan struct{}, 1)}
		m.locks[sessionID] = l
	}
	select {
	case l.sem <- struct{}{}:
		l.refs++
		m.mu.Unlock()
	default:
		if l.refs == 0 {
			delete(m.locks, sessionID)
		}
		m.mu.Unlock()
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			m.unref(sessionID, l)
		})
	}, true
}

// Len reports how many sessions currently have a holder or waiter.
func (m *SessionLocks) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *SessionLocks) unref(sessionID string, l *sessionLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 && m.locks[sessionID] == l {
		delete(m.locks, sessionID)
	}
}
