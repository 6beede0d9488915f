package signaling

import "encoding/json"

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound event names.
const (
	EventRegisterParticipant = "register_participant"
	EventOpenSession         = "open_session"
	EventJoinSession         = "join_session"
	EventOffer               = "offer"
	EventAnswer              = "answer"
	EventIceCandidate        = "ice_candidate"
	EventRenegotiationReq    = "renegotiation_request"
	EventFinalizeSession     = "finalize_session"
)

// Outbound event names. Offer/answer/candidate relays reuse the inbound
// names; renegotiation_request goes out as renegotiation_needed.
const (
	EventSessionOpened       = "session_opened"
	EventPeerJoined          = "peer_joined"
	EventRenegotiationNeeded = "renegotiation_needed"
	EventPeerDisconnected    = "peer_disconnected"
	EventSessionClosed       = "session_closed"
	EventSessionsSnapshot    = "active_sessions_snapshot"
	EventError               = "error"
)

// RegisterParticipantPayload binds a stable participant identity (e.g. an
// employee id) to the current connection.
type RegisterParticipantPayload struct {
	ParticipantID string `json:"participant_id"`
}

// OpenSessionPayload carries the call context captured at creation.
type OpenSessionPayload struct {
	Context CallContext `json:"context"`
}

// JoinSessionPayload is sent by a dispatcher answering a call.
type JoinSessionPayload struct {
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id,omitempty"`
}

// RelayPayload is the envelope for negotiation events: the payload is opaque
// to the server and relayed verbatim to the other room members.
type RelayPayload struct {
	SessionID string          `json:"session_id"`
	From      string          `json:"from,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// FinalizePayload closes a session with a reason visible to all members.
type FinalizePayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

// SessionOpenedPayload announces a new session to connected clients and
// acknowledges the id to the initiator.
type SessionOpenedPayload struct {
	SessionID string      `json:"session_id"`
	Context   CallContext `json:"context"`
	State     State       `json:"state"`
}

// PeerJoinedPayload notifies the initiator that a responder joined.
type PeerJoinedPayload struct {
	SessionID     string `json:"session_id"`
	ConnectionID  string `json:"connection_id"`
	ParticipantID string `json:"participant_id,omitempty"`
}

// PeerDisconnectedPayload notifies remaining members of a dropped peer.
type PeerDisconnectedPayload struct {
	SessionID    string `json:"session_id"`
	ConnectionID string `json:"connection_id"`
}

// SessionClosedPayload is sent to room members when a session ends.
type SessionClosedPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

// ErrorPayload is returned to the caller for operations that can fail
// synchronously (open past the session cap, join of an unknown session).
type ErrorPayload struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

func mustMarshal(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
