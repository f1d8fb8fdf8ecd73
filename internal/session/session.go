package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
)

// Exchange is one recorded request/result pair.
type Exchange struct {
	Request    dispatch.Request `json:"request"`
	Result     *dispatch.Result `json:"result"`
	Capability string           `json:"capability,omitempty"`
	At         time.Time        `json:"at"`
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID             string     `json:"session_id"`
	LastCapability string     `json:"last_capability,omitempty"`
	History        []Exchange `json:"history"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivity   time.Time  `json:"last_activity"`
}

// Summary describes a session without its history.
type Summary struct {
	ID             string    `json:"session_id"`
	LastCapability string    `json:"last_capability,omitempty"`
	Exchanges      int       `json:"exchanges"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
}

// session is the store-owned state of one conversation.
type session struct {
	id string

	// sem orders exchanges: at most one handle holds it at a time.
	sem chan struct{}

	// waiters counts handles holding or waiting for sem. Guarded by Store.mu.
	waiters int
	// closed is set when the session left the store. Guarded by Store.mu.
	closed bool

	mu             sync.Mutex
	lastCapability string
	history        []Exchange
	createdAt      time.Time
	lastActivity   time.Time
}

func newSession(id string, now time.Time) *session {
	return &session{
		id:           id,
		sem:          make(chan struct{}, 1),
		createdAt:    now,
		lastActivity: now,
	}
}

func (s *session) record(ex Exchange, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, ex)
	if over := len(s.history) - limit; over > 0 {
		// Copy so the dropped exchanges can be collected.
		s.history = append([]Exchange(nil), s.history[over:]...)
	}
	if ex.Result != nil && ex.Result.Success && ex.Capability != "" {
		s.lastCapability = ex.Capability
	}
	s.lastActivity = ex.At
}

func (s *session) setLastCapability(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCapability = name
}

func (s *session) lastUsed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCapability
}

func (s *session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

func (s *session) replay(req dispatch.Request) (*dispatch.Result, bool, error) {
	if req.Sequence <= 0 {
		return nil, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		ex := s.history[i]
		if ex.Request.Sequence != req.Sequence {
			continue
		}
		if !ex.Request.SameExchange(req) {
			return nil, false, &dispatch.ValidationError{
				Field:  "sequence",
				Reason: fmt.Sprintf("%d was already used for a different request", req.Sequence),
			}
		}
		return ex.Result.Clone(), true, nil
	}
	return nil, false, nil
}

func (s *session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]Exchange, len(s.history))
	for i, ex := range s.history {
		ex.Request.Params = ex.Request.Params.Clone()
		ex.Result = ex.Result.Clone()
		history[i] = ex
	}
	return Snapshot{
		ID:             s.id,
		LastCapability: s.lastCapability,
		History:        history,
		CreatedAt:      s.createdAt,
		LastActivity:   s.lastActivity,
	}
}

func (s *session) summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		ID:             s.id,
		LastCapability: s.lastCapability,
		Exchanges:      len(s.history),
		CreatedAt:      s.createdAt,
		LastActivity:   s.lastActivity,
	}
}
