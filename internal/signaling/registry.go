package signaling

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrSessionNotFound is returned when an operation references a session
	// that was never opened or has already been closed.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionLimit is returned when opening a session past the
	// configured cap.
	ErrSessionLimit = errors.New("session limit reached")
)

// Registry owns the authoritative in-memory map of active sessions and the
// auxiliary lookup indexes. All reads and writes are serialized through one
// mutex, so no two signaling events interleave their mutations. Methods
// return value copies; *Session pointers never escape the lock.
type Registry struct {
	mu sync.RWMutex
	// sessionID -> session
	sessions map[string]*Session
	// connectionID -> sessionID; a connection participates in at most one
	// session at a time
	connSession map[string]string
	// participantID -> most recent live connectionID
	participantConn map[string]string

	maxSessions int
	logger      *zap.Logger
}

// NewRegistry creates an empty session registry. maxSessions of 0 means
// unlimited.
func NewRegistry(maxSessions int, logger *zap.Logger) *Registry {
	return &Registry{
		sessions:        make(map[string]*Session),
		connSession:     make(map[string]string),
		participantConn: make(map[string]string),
		maxSessions:     maxSessions,
		logger:          logger,
	}
}

// Open creates a new session in INIT state and links the initiating
// connection to it. A connection is linked to at most one session at a
// time: any prior linkage is dropped in the same critical section and the
// abandoned session id is returned so the caller can leave its room.
func (r *Registry) Open(connID, participantID string, callCtx CallContext) (Session, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return Session{}, "", ErrSessionLimit
	}
	left := r.unlinkLocked(connID)

	now := time.Now()
	s := &Session{
		ID:                   uuid.New().String(),
		InitiatorConn:        connID,
		InitiatorParticipant: participantID,
		State:                StateInit,
		Context:              callCtx,
		CreatedAt:            now,
		LastActivity:         now,
	}
	r.sessions[s.ID] = s
	r.connSession[connID] = s.ID
	r.logger.Debug("session created", zap.String("session_id", s.ID), zap.String("conn_id", connID))
	return *s, left, nil
}

// Join records the responder's connection and identity on an existing
// session and moves it to WAITING_FOR_PEER. Unknown session ids cause no
// mutation. Joining a second session leaves the first: the connection's
// prior linkage, if any, is dropped and the abandoned session id returned.
func (r *Registry) Join(sessionID, connID, participantID string) (Session, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, "", ErrSessionNotFound
	}
	left := ""
	if prev, ok := r.connSession[connID]; ok && prev != sessionID {
		left = prev
	}
	s.ResponderConn = connID
	s.ResponderParticipant = participantID
	s.advance(EventJoinSession)
	s.touch(time.Now())
	r.connSession[connID] = sessionID
	return *s, left, nil
}

// unlinkLocked detaches a connection from its current session, if any,
// returning the abandoned session id. Caller holds the lock.
func (r *Registry) unlinkLocked(connID string) string {
	sid, ok := r.connSession[connID]
	if !ok {
		return ""
	}
	delete(r.connSession, connID)
	return sid
}

// Signal applies a negotiation event (offer, answer, candidate,
// renegotiation) to a session: advances the state where the event carries a
// transition and refreshes the activity timestamp.
func (r *Registry) Signal(sessionID, event string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	s.advance(event)
	s.touch(time.Now())
	return *s, true
}

// Remove closes a session and deletes it together with every connection
// index entry that refers to it, in one critical section. Returns the final
// session value, with the responder connection captured before it is
// cleared. Removing an unknown session is a no-op.
func (r *Registry) Remove(sessionID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	s.State = StateClosed
	s.touch(time.Now())
	closed := *s
	s.ResponderConn = ""

	delete(r.sessions, sessionID)
	for connID, sid := range r.connSession {
		if sid == sessionID {
			delete(r.connSession, connID)
		}
	}
	r.logger.Debug("session removed", zap.String("session_id", sessionID))
	return closed, true
}

// RegisterParticipant binds a stable identity to its current connection,
// silently replacing any stale prior connection on file. The stale
// connection's session linkage is abandoned for routing purposes: the
// session it was linked to, if any, is rebound to the new connection so
// relays reach the participant where they actually are. Returns the
// replaced connection id and, when a rebind happened, the moved session.
func (r *Registry) RegisterParticipant(participantID, connID string) (replaced string, moved Session, relinked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.participantConn[participantID]
	r.participantConn[participantID] = connID
	if old == "" || old == connID {
		return "", Session{}, false
	}

	sid, ok := r.connSession[old]
	if !ok {
		return old, Session{}, false
	}
	delete(r.connSession, old)

	s := r.sessions[sid]
	if s == nil {
		return old, Session{}, false
	}
	// never steal the linkage of a connection that has its own session
	if _, busy := r.connSession[connID]; busy {
		return old, Session{}, false
	}
	if s.InitiatorConn == old {
		s.InitiatorConn = connID
	}
	if s.ResponderConn == old {
		s.ResponderConn = connID
	}
	r.connSession[connID] = sid
	s.touch(time.Now())
	r.logger.Debug("session rebound to new connection",
		zap.String("session_id", sid),
		zap.String("old_conn_id", old),
		zap.String("conn_id", connID))
	return old, *s, true
}

// DropConnection handles a transport-level disconnect: removes the
// connection's index entries and, when the connection was linked to a
// session that is not yet closed, marks that session DISCONNECTED. The
// session itself stays registered until finalized or reaped.
func (r *Registry) DropConnection(connID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for pid, cid := range r.participantConn {
		if cid == connID {
			delete(r.participantConn, pid)
		}
	}

	sessionID, ok := r.connSession[connID]
	if !ok {
		return Session{}, false
	}
	delete(r.connSession, connID)

	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	if s.State != StateClosed {
		s.State = StateDisconnected
		s.touch(time.Now())
	}
	return *s, true
}

// Get returns a copy of the session, if present.
func (r *Registry) Get(sessionID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// LinkedSession returns the session id a connection is currently linked to.
func (r *Registry) LinkedSession(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.connSession[connID]
	return sid, ok
}

// ParticipantConn returns the connection currently on file for a
// participant identity.
func (r *Registry) ParticipantConn(participantID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cid, ok := r.participantConn[participantID]
	return cid, ok
}

// Snapshot returns a summary of every active session, for the initial
// snapshot sent to newly admitted clients and the HTTP listing.
func (r *Registry) Snapshot() []SessionSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionSummary, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.summary())
	}
	return out
}

// SessionCount returns the number of active sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IdleSince returns the ids of sessions whose last activity is older than
// the given timeout, for the reaper sweep.
func (r *Registry) IdleSince(timeout time.Duration, now time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, s := range r.sessions {
		if now.Sub(s.LastActivity) > timeout {
			ids = append(ids, id)
		}
	}
	return ids
}
