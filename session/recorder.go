package session

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"shadowrunner/capture"
)

// DefaultSessionTimeout is how long a session may stay active before the
// expiry sweep force-closes it.
const DefaultSessionTimeout = 30 * time.Minute

// Recorder owns the active-session map and the persisted store. All
// session lifecycle transitions go through it; a session moves from active
// to closed exactly once and is never reopened.
type Recorder struct {
	mu      sync.RWMutex
	active  map[string]*Session
	store   *Store
	timeout time.Duration
}

// NewRecorder wires a recorder to its store. A timeout of zero or less
// falls back to DefaultSessionTimeout.
func NewRecorder(store *Store, timeout time.Duration) *Recorder {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &Recorder{
		active:  make(map[string]*Session),
		store:   store,
		timeout: timeout,
	}
}

// Store exposes the underlying session store.
func (r *Recorder) Store() *Store {
	return r.store
}

// StartSession opens a new active session for userID. An empty user id is
// allowed; such sessions aggregate under "anonymous" in statistics.
func (r *Recorder) StartSession(userID string) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		StartTime: time.Now(),
		Metadata:  make(map[string]string),
	}
	r.mu.Lock()
	r.active[s.ID] = s
	r.mu.Unlock()
	return s
}

// AddInteraction appends ix to an active session and sets its session
// back-reference. Unknown or already-closed session ids return false and
// change nothing; callers check the return value instead of handling an
// error.
func (r *Recorder) AddInteraction(sessionID string, ix *capture.CapturedInteraction) bool {
	if ix == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.active[sessionID]
	if !ok {
		return false
	}
	ix.SessionID = s.ID
	s.Interactions = append(s.Interactions, ix)
	return true
}

// EndSession closes a session: stamps the end time, persists the document,
// and removes it from the active set. Unknown ids return nil, nil with no
// side effects.
func (r *Recorder) EndSession(id string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.active[id]
	if ok {
		delete(r.active, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}
	now := time.Now()
	s.EndTime = &now
	if err := r.store.Save(s); err != nil {
		return s, fmt.Errorf("failed to persist session %s: %w", id, err)
	}
	return s, nil
}

// CleanupExpiredSessions force-closes active sessions older than the
// timeout and returns how many were closed. Persistence failures are
// logged per session and do not stop the sweep.
func (r *Recorder) CleanupExpiredSessions() int {
	return r.sweep(func(s *Session, now time.Time) bool {
		return now.Sub(s.StartTime) > r.timeout
	})
}

// CloseAllSessions ends every active session regardless of age. Called at
// shutdown so in-flight sessions are not lost.
func (r *Recorder) CloseAllSessions() int {
	return r.sweep(func(*Session, time.Time) bool { return true })
}

func (r *Recorder) sweep(expired func(*Session, time.Time) bool) int {
	r.mu.Lock()
	now := time.Now()
	var closing []*Session
	for id, s := range r.active {
		if expired(s, now) {
			delete(r.active, id)
			closing = append(closing, s)
		}
	}
	r.mu.Unlock()
	for _, s := range closing {
		end := time.Now()
		s.EndTime = &end
		if err := r.store.Save(s); err != nil {
			log.Printf("session: failed to persist expired session %s: %v", s.ID, err)
		}
	}
	return len(closing)
}

// ActiveCount returns the number of sessions currently active.
func (r *Recorder) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// ActiveSessions returns a snapshot of active sessions ordered by start
// time.
func (r *Recorder) ActiveSessions() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.active))
	for _, s := range r.active {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}
