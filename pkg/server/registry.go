package server

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registry is the set of sessions that receive broadcasts.
//
// Membership means "currently receives broadcasts", not OS-level liveness:
// a failed delivery is logged but does not remove the recipient. Each
// session removes itself when its own receive loop fails.
type Registry struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
	metrics  *Metrics
	log      zerolog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(metrics *Metrics, log zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[*Session]struct{}),
		metrics:  metrics,
		log:      log,
	}
}

// Register adds a session. It returns false if the session was already present.
func (r *Registry) Register(sess *Session) bool {
	r.mu.Lock()
	if _, ok := r.sessions[sess]; ok {
		r.mu.Unlock()
		return false
	}
	r.sessions[sess] = struct{}{}
	count := len(r.sessions)
	r.mu.Unlock()

	r.metrics.RecordActiveSessions(count)
	return true
}

// Deregister removes a session. Removing an absent session is a no-op and returns false.
func (r *Registry) Deregister(sess *Session) bool {
	r.mu.Lock()
	if _, ok := r.sessions[sess]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, sess)
	count := len(r.sessions)
	r.mu.Unlock()

	r.metrics.RecordActiveSessions(count)
	return true
}

// Sessions returns a snapshot of the registered sessions
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// Count returns the number of registered sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// Broadcast delivers message to a snapshot of the registered sessions and
// returns how many deliveries succeeded. A failing recipient does not stop
// delivery to the rest. Order across recipients is unspecified.
func (r *Registry) Broadcast(message string) int {
	start := time.Now()
	recipients := r.Sessions()

	delivered := 0
	for _, sess := range recipients {
		if err := sess.Deliver(message); err != nil {
			r.log.Warn().Err(err).Str("session", sess.ID).Str("username", sess.Username()).Msg("Broadcast delivery failed")
			r.metrics.RecordDeliveryFailure()
			continue
		}
		delivered++
	}

	r.metrics.RecordBroadcast(delivered, time.Since(start).Seconds())
	return delivered
}
