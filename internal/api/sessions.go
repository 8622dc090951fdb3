package api

import (
	"sync"
	"time"

	"github.com/ignite/leadclean/internal/cleaner"
	"github.com/ignite/leadclean/internal/credit"
)

// sessionRetention is how long a finished session's result stays
// downloadable. Results hold cleaned rows in memory only — by policy they
// are never written to disk or any store — so retention is short.
const sessionRetention = time.Hour

// session is the in-process record for one cleaning run.
type session struct {
	ID        string
	Identity  credit.Identity
	Status    string
	Result    *cleaner.Result
	Err       error
	CreatedAt time.Time
}

// sessionStore is the in-memory registry of cleaning sessions.
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*session)}
}

// create registers a new running session.
func (s *sessionStore) create(id string, identity credit.Identity) *session {
	sess := &session{
		ID:        id,
		Identity:  identity,
		Status:    StatusRunning,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.sweepLocked()
	s.sessions[id] = sess
	s.mu.Unlock()
	return sess
}

// get returns a snapshot of the session, or nil when unknown or expired.
// A copy is returned so readers never race the finishing goroutine.
func (s *sessionStore) get(id string) *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess := s.sessions[id]
	if sess == nil || time.Since(sess.CreatedAt) > sessionRetention {
		return nil
	}
	snapshot := *sess
	return &snapshot
}

// finish records the outcome of a session.
func (s *sessionStore) finish(id string, result *cleaner.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[id]
	if sess == nil {
		return
	}
	sess.Result = result
	sess.Err = err
	if err != nil {
		sess.Status = StatusFailed
	} else {
		sess.Status = StatusComplete
	}
}

// sweepLocked drops expired sessions. Caller holds the write lock.
func (s *sessionStore) sweepLocked() {
	for id, sess := range s.sessions {
		if time.Since(sess.CreatedAt) > sessionRetention {
			delete(s.sessions, id)
		}
	}
}
