package call

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionExists is returned when a call id is already registered
var ErrSessionExists = errors.New("call session already exists")

// Session is the ephemeral in-memory state of one call attempt. It exists
// from ringing until a terminal transition and is owned exclusively by the
// call service; the durable CallLog is what survives it.
//
// The embedded mutex serializes all transitions for one call id, including
// the ring-timeout firing. Exactly one of accept, reject, end or timeout
// resolves a session; the others observe resolved (or a missing session)
// and take the idempotent path.
type Session struct {
	CallID         uuid.UUID
	ConversationID uuid.UUID
	CallerID       uuid.UUID
	CalleeID       uuid.UUID
	CallType       string
	StartedAt      time.Time

	mu         sync.Mutex
	acceptedAt time.Time
	resolved   bool
	timer      *time.Timer
}

// disarmTimer cancels the pending ring-timeout if armed. A timer that has
// already fired is harmless: its callback re-checks session state under mu.
func (s *Session) disarmTimer() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

// Registry is the in-memory index of active call sessions, keyed by call id.
// It is injected into the call service so tests get an isolated instance.
// State is process-local: a deployment with multiple instances must pin a
// conversation's connections to one instance.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewRegistry creates an empty session registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Add registers a session. Duplicate call ids are rejected, which is the
// idempotency guard against duplicate start signals.
func (r *Registry) Add(session *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.CallID]; exists {
		return ErrSessionExists
	}
	r.sessions[session.CallID] = session
	return nil
}

// Get returns the session for a call id, or nil if it has already resolved
func (r *Registry) Get(callID uuid.UUID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[callID]
}

// Remove drops a session from the index. Removing an absent id is a no-op.
func (r *Registry) Remove(callID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, callID)
}

// Len returns the number of active sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
