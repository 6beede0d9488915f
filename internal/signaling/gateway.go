package signaling

import (
	"encoding/json"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Notifier receives session lifecycle notifications (open/close/disconnect).
// Implementations are external collaborators: the gateway fans out on a
// goroutine per event and never blocks on them.
type Notifier interface {
	SessionOpened(s Session)
	SessionClosed(s Session, reason string)
	PeerDisconnected(s Session, connID string)
}

// Gateway is the transport-facing entry point: it dispatches inbound
// signaling events to the registry and relays the results to the right
// peers through the hub.
type Gateway struct {
	registry  *Registry
	hub       *Hub
	logger    *zap.Logger
	notifiers []Notifier
}

// NewGateway wires the gateway to its registry, hub and lifecycle
// subscribers.
func NewGateway(registry *Registry, hub *Hub, logger *zap.Logger, notifiers ...Notifier) *Gateway {
	return &Gateway{
		registry:  registry,
		hub:       hub,
		logger:    logger,
		notifiers: notifiers,
	}
}

// Dispatch routes one inbound event from an authenticated connection.
// Events are processed in arrival order per connection; each one completes
// its lookup, mutation and relay before the next is considered.
func (g *Gateway) Dispatch(c *Client, msg WSMessage) {
	switch msg.Event {
	case EventRegisterParticipant:
		g.handleRegisterParticipant(c, msg.Data)
	case EventOpenSession:
		g.handleOpenSession(c, msg.Data)
	case EventJoinSession:
		g.handleJoinSession(c, msg.Data)
	case EventOffer, EventAnswer, EventIceCandidate, EventRenegotiationReq:
		g.handleRelay(c, msg.Event, msg.Data)
	case EventFinalizeSession:
		g.handleFinalize(c, msg.Data)
	default:
		g.logger.Warn("unknown event", zap.String("event", msg.Event), zap.String("conn_id", c.ID))
	}
}

func (g *Gateway) handleRegisterParticipant(c *Client, data json.RawMessage) {
	var p RegisterParticipantPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ParticipantID == "" {
		g.logger.Warn("register_participant without participant_id", zap.String("conn_id", c.ID))
		return
	}
	c.participantID = p.ParticipantID
	replaced, moved, relinked := g.registry.RegisterParticipant(p.ParticipantID, c.ID)
	if replaced != "" {
		g.logger.Info("stale connection replaced for participant",
			zap.String("participant_id", p.ParticipantID),
			zap.String("old_conn_id", replaced),
			zap.String("conn_id", c.ID))
	}
	if relinked {
		// the stale connection's room seat moves with the linkage
		g.hub.LeaveRoom(moved.ID, replaced)
		g.hub.JoinRoom(moved.ID, c)
		g.logger.Info("session routing moved to new connection",
			zap.String("session_id", moved.ID),
			zap.String("conn_id", c.ID))
	}
}

func (g *Gateway) handleOpenSession(c *Client, data json.RawMessage) {
	var p OpenSessionPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			g.logger.Warn("malformed open_session payload", zap.String("conn_id", c.ID), zap.Error(err))
			return
		}
	}

	s, left, err := g.registry.Open(c.ID, c.participantID, p.Context)
	if err != nil {
		c.enqueue(WSMessage{Event: EventError, Data: mustMarshal(ErrorPayload{Message: err.Error()})})
		g.logger.Warn("open_session rejected", zap.String("conn_id", c.ID), zap.Error(err))
		return
	}
	if left != "" {
		g.hub.LeaveRoom(left, c.ID)
	}
	g.hub.JoinRoom(s.ID, c)

	opened := mustMarshal(SessionOpenedPayload{SessionID: s.ID, Context: s.Context, State: s.State})
	c.enqueue(WSMessage{Event: EventSessionOpened, Data: opened})
	g.hub.BroadcastAll(c.ID, WSMessage{Event: EventSessionOpened, Data: opened})

	g.logger.Info("session opened",
		zap.String("session_id", s.ID),
		zap.String("conn_id", c.ID),
		zap.String("category", s.Context.Category))
	g.notify(func(n Notifier) { n.SessionOpened(s) })
}

func (g *Gateway) handleJoinSession(c *Client, data json.RawMessage) {
	var p JoinSessionPayload
	if err := json.Unmarshal(data, &p); err != nil || p.SessionID == "" {
		g.logger.Warn("malformed join_session payload", zap.String("conn_id", c.ID))
		return
	}

	s, left, err := g.registry.Join(p.SessionID, c.ID, p.ParticipantID)
	if err != nil {
		c.enqueue(WSMessage{Event: EventError, Data: mustMarshal(ErrorPayload{SessionID: p.SessionID, Message: err.Error()})})
		return
	}
	if p.ParticipantID != "" {
		c.participantID = p.ParticipantID
	}
	if left != "" {
		g.hub.LeaveRoom(left, c.ID)
	}
	if !g.joinRoomChecked(s.ID, c) {
		c.enqueue(WSMessage{Event: EventError, Data: mustMarshal(ErrorPayload{SessionID: s.ID, Message: ErrSessionNotFound.Error()})})
		return
	}
	g.hub.SendToConn(s.InitiatorConn, WSMessage{Event: EventPeerJoined, Data: mustMarshal(PeerJoinedPayload{
		SessionID:     s.ID,
		ConnectionID:  c.ID,
		ParticipantID: p.ParticipantID,
	})})

	g.logger.Info("peer joined session",
		zap.String("session_id", s.ID),
		zap.String("conn_id", c.ID),
		zap.String("participant_id", p.ParticipantID))
}

// joinRoomChecked adds a client to the session's room and confirms the
// session still exists afterwards. Room membership lives under the hub's
// lock, not the registry's, so a finalize landing between the registry join
// and the room join would otherwise resurrect the room for a removed
// session.
func (g *Gateway) joinRoomChecked(sessionID string, c *Client) bool {
	g.hub.JoinRoom(sessionID, c)
	if _, ok := g.registry.Get(sessionID); ok {
		return true
	}
	g.hub.CloseRoom(sessionID)
	return false
}

// handleRelay forwards a negotiation payload verbatim to every other room
// member. Offer and answer advance the state machine; candidates and
// renegotiation requests are free-flowing.
func (g *Gateway) handleRelay(c *Client, event string, data json.RawMessage) {
	var rp RelayPayload
	if err := json.Unmarshal(data, &rp); err != nil || rp.SessionID == "" {
		g.logger.Warn("malformed relay payload", zap.String("event", event), zap.String("conn_id", c.ID))
		return
	}

	s, ok := g.registry.Signal(rp.SessionID, event)
	if !ok {
		g.logger.Warn("signal for unknown session",
			zap.String("event", event),
			zap.String("session_id", rp.SessionID),
			zap.String("conn_id", c.ID))
		return
	}
	g.inspectPayload(event, rp.SessionID, rp.Payload)

	out := event
	if event == EventRenegotiationReq {
		out = EventRenegotiationNeeded
	}
	g.hub.BroadcastRoom(s.ID, c.ID, WSMessage{Event: out, Data: mustMarshal(RelayPayload{
		SessionID: s.ID,
		From:      c.ID,
		Payload:   rp.Payload,
	})})
}

// inspectPayload shape-checks negotiation payloads for the logs. The relay
// itself stays verbatim either way.
func (g *Gateway) inspectPayload(event, sessionID string, payload json.RawMessage) {
	switch event {
	case EventOffer, EventAnswer:
		var sdp webrtc.SessionDescription
		if err := json.Unmarshal(payload, &sdp); err != nil || sdp.SDP == "" {
			g.logger.Warn("payload is not a session description", zap.String("event", event), zap.String("session_id", sessionID))
			return
		}
		g.logger.Debug("relaying sdp", zap.String("type", sdp.Type.String()), zap.String("session_id", sessionID))
	case EventIceCandidate:
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(payload, &cand); err != nil || cand.Candidate == "" {
			g.logger.Warn("payload is not an ice candidate", zap.String("session_id", sessionID))
		}
	}
}

func (g *Gateway) handleFinalize(c *Client, data json.RawMessage) {
	var p FinalizePayload
	if err := json.Unmarshal(data, &p); err != nil || p.SessionID == "" {
		g.logger.Warn("malformed finalize_session payload", zap.String("conn_id", c.ID))
		return
	}
	g.Finalize(p.SessionID, p.Reason)
}

// Finalize transitions a session to CLOSED, notifies the room, evicts it
// and removes the session from the registry. Idempotent: finalizing an
// unknown or already-closed session is a no-op. Also the reaper's close
// path.
func (g *Gateway) Finalize(sessionID, reason string) {
	s, ok := g.registry.Remove(sessionID)
	if !ok {
		return
	}
	g.hub.BroadcastRoom(sessionID, "", WSMessage{Event: EventSessionClosed, Data: mustMarshal(SessionClosedPayload{
		SessionID: sessionID,
		Reason:    reason,
	})})
	g.hub.CloseRoom(sessionID)

	g.logger.Info("session closed", zap.String("session_id", sessionID), zap.String("reason", reason))
	g.notify(func(n Notifier) { n.SessionClosed(s, reason) })
}

// Disconnect is invoked by the transport layer when a connection drops. The
// linked session, if any and not already closed, moves to DISCONNECTED and
// stays registered for an explicit finalize or the reaper.
func (g *Gateway) Disconnect(c *Client) {
	s, ok := g.registry.DropConnection(c.ID)
	if !ok || s.State == StateClosed {
		return
	}
	g.hub.BroadcastRoom(s.ID, c.ID, WSMessage{Event: EventPeerDisconnected, Data: mustMarshal(PeerDisconnectedPayload{
		SessionID:    s.ID,
		ConnectionID: c.ID,
	})})
	g.hub.LeaveRoom(s.ID, c.ID)

	g.logger.Info("peer disconnected", zap.String("session_id", s.ID), zap.String("conn_id", c.ID))
	g.notify(func(n Notifier) { n.PeerDisconnected(s, c.ID) })
}

// SendSnapshot delivers the current active-session list to a newly admitted
// client, so a dispatcher can populate its view without polling.
func (g *Gateway) SendSnapshot(c *Client) {
	c.enqueue(WSMessage{Event: EventSessionsSnapshot, Data: mustMarshal(g.registry.Snapshot())})
}

func (g *Gateway) notify(fn func(Notifier)) {
	for _, n := range g.notifiers {
		go fn(n)
	}
}
