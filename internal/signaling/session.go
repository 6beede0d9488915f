package signaling

import "time"

// State is the lifecycle state of a call session.
type State string

const (
	StateInit           State = "INIT"
	StateWaitingForPeer State = "WAITING_FOR_PEER"
	StateOfferSent      State = "OFFER_SENT"
	StateAnswerReceived State = "ANSWER_RECEIVED"
	// StateConnected and StateReconnecting are advisory: no inbound event
	// sets them. Media-level connectivity is negotiated peer-to-peer and the
	// server never observes it.
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
	StateDisconnected State = "DISCONNECTED"
	// StateClosed is terminal; a session leaves the registry only in this
	// state. Resuming requires a new session.
	StateClosed State = "CLOSED"
)

// GeoPoint is an optional location attached to a call.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// CallContext is free-form metadata captured when a call is opened. The
// coordination logic passes it through to observers without interpreting it.
type CallContext struct {
	Category string    `json:"category,omitempty"`
	Location *GeoPoint `json:"location,omitempty"`
	Note     string    `json:"note,omitempty"`
}

// Session is one coordinated call between an initiator (field worker) and a
// responder (dispatcher). All fields are mutated only under the registry
// lock.
type Session struct {
	ID                   string
	InitiatorConn        string
	InitiatorParticipant string
	ResponderConn        string
	ResponderParticipant string
	State                State
	Context              CallContext
	CreatedAt            time.Time
	LastActivity         time.Time
}

// touch refreshes LastActivity, never moving it backwards.
func (s *Session) touch(now time.Time) {
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
}

// advance applies a negotiation event to the state machine. Out-of-order
// events are accepted permissively: the latest recognized event wins, and
// events without a transition (candidates, renegotiation) leave the state
// untouched. Closed sessions never advance.
func (s *Session) advance(event string) {
	if s.State == StateClosed {
		return
	}
	switch event {
	case EventJoinSession:
		s.State = StateWaitingForPeer
	case EventOffer:
		s.State = StateOfferSent
	case EventAnswer:
		s.State = StateAnswerReceived
	}
}

// SessionSummary is the read-only view sent to newly admitted clients and
// exposed over the HTTP listing.
type SessionSummary struct {
	SessionID string      `json:"session_id"`
	Context   CallContext `json:"context"`
	State     State       `json:"state"`
	CreatedAt time.Time   `json:"created_at"`
}

func (s *Session) summary() SessionSummary {
	return SessionSummary{
		SessionID: s.ID,
		Context:   s.Context,
		State:     s.State,
		CreatedAt: s.CreatedAt,
	}
}
