package signaling

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testRig struct {
	registry *Registry
	hub      *Hub
	gw       *Gateway
}

func newTestRig(notifiers ...Notifier) *testRig {
	logger := zap.NewNop()
	registry := NewRegistry(0, logger)
	hub := NewHub(logger)
	return &testRig{
		registry: registry,
		hub:      hub,
		gw:       NewGateway(registry, hub, logger, notifiers...),
	}
}

func (r *testRig) admit(id string) *Client {
	c := &Client{ID: id, send: make(chan WSMessage, 32), logger: zap.NewNop()}
	r.hub.Register(c)
	return c
}

func wsMsg(t *testing.T, event string, payload interface{}) WSMessage {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return WSMessage{Event: event, Data: data}
}

func recvMsg(t *testing.T, c *Client) WSMessage {
	t.Helper()
	select {
	case m := <-c.send:
		return m
	default:
		t.Fatalf("expected a message for %s", c.ID)
		return WSMessage{}
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case m := <-c.send:
		t.Fatalf("unexpected %q message for %s", m.Event, c.ID)
	default:
	}
}

func decode(t *testing.T, data json.RawMessage, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, v))
}

// openSession drives open_session for c and returns the new session id,
// draining the ack and any broadcast copies from the other clients.
func openSession(t *testing.T, rig *testRig, c *Client, others ...*Client) string {
	t.Helper()
	rig.gw.Dispatch(c, wsMsg(t, EventOpenSession, OpenSessionPayload{Context: CallContext{Category: "audio"}}))

	ack := recvMsg(t, c)
	require.Equal(t, EventSessionOpened, ack.Event)
	var opened SessionOpenedPayload
	decode(t, ack.Data, &opened)
	require.NotEmpty(t, opened.SessionID)

	for _, o := range others {
		m := recvMsg(t, o)
		require.Equal(t, EventSessionOpened, m.Event)
	}
	return opened.SessionID
}

func TestOpenJoinOfferAnswerFlow(t *testing.T) {
	rig := newTestRig()
	c1 := rig.admit("c1")
	c2 := rig.admit("c2")

	sessionID := openSession(t, rig, c1, c2)
	s, ok := rig.registry.Get(sessionID)
	require.True(t, ok)
	assert.Equal(t, StateInit, s.State)

	// dispatcher joins: initiator is notified, state advances
	rig.gw.Dispatch(c2, wsMsg(t, EventJoinSession, JoinSessionPayload{SessionID: sessionID, ParticipantID: "emp-77"}))
	m := recvMsg(t, c1)
	require.Equal(t, EventPeerJoined, m.Event)
	var joined PeerJoinedPayload
	decode(t, m.Data, &joined)
	assert.Equal(t, sessionID, joined.SessionID)
	assert.Equal(t, "c2", joined.ConnectionID)
	assert.Equal(t, "emp-77", joined.ParticipantID)

	s, _ = rig.registry.Get(sessionID)
	assert.Equal(t, StateWaitingForPeer, s.State)

	// offer goes to the responder only, never back to the sender
	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0\r\n"}`)
	rig.gw.Dispatch(c1, wsMsg(t, EventOffer, RelayPayload{SessionID: sessionID, Payload: sdp}))
	m = recvMsg(t, c2)
	require.Equal(t, EventOffer, m.Event)
	var relay RelayPayload
	decode(t, m.Data, &relay)
	assert.Equal(t, "c1", relay.From)
	assert.JSONEq(t, string(sdp), string(relay.Payload))
	assertSilent(t, c1)

	s, _ = rig.registry.Get(sessionID)
	assert.Equal(t, StateOfferSent, s.State)

	// answer flows the other way
	rig.gw.Dispatch(c2, wsMsg(t, EventAnswer, RelayPayload{SessionID: sessionID, Payload: json.RawMessage(`{"type":"answer","sdp":"v=0\r\n"}`)}))
	m = recvMsg(t, c1)
	require.Equal(t, EventAnswer, m.Event)
	assertSilent(t, c2)

	s, _ = rig.registry.Get(sessionID)
	assert.Equal(t, StateAnswerReceived, s.State)
}

func TestRelayIsolationBetweenSessions(t *testing.T) {
	rig := newTestRig()
	c1 := rig.admit("c1")
	c2 := rig.admit("c2")
	c3 := rig.admit("c3")
	c4 := rig.admit("c4")

	sessA := openSession(t, rig, c1, c2, c3, c4)
	sessB := openSession(t, rig, c3, c1, c2, c4)

	rig.gw.Dispatch(c2, wsMsg(t, EventJoinSession, JoinSessionPayload{SessionID: sessA}))
	recvMsg(t, c1) // peer_joined
	rig.gw.Dispatch(c4, wsMsg(t, EventJoinSession, JoinSessionPayload{SessionID: sessB}))
	recvMsg(t, c3) // peer_joined

	rig.gw.Dispatch(c1, wsMsg(t, EventOffer, RelayPayload{SessionID: sessA, Payload: json.RawMessage(`{"type":"offer","sdp":"a"}`)}))

	m := recvMsg(t, c2)
	assert.Equal(t, EventOffer, m.Event)
	assertSilent(t, c3)
	assertSilent(t, c4)
}

func TestIceCandidateDoesNotChangeState(t *testing.T) {
	rig := newTestRig()
	c1 := rig.admit("c1")
	c2 := rig.admit("c2")

	sessionID := openSession(t, rig, c1, c2)
	rig.gw.Dispatch(c2, wsMsg(t, EventJoinSession, JoinSessionPayload{SessionID: sessionID}))
	recvMsg(t, c1)

	rig.gw.Dispatch(c1, wsMsg(t, EventIceCandidate, RelayPayload{SessionID: sessionID, Payload: json.RawMessage(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 4444 typ host"}`)}))
	m := recvMsg(t, c2)
	assert.Equal(t, EventIceCandidate, m.Event)

	s, _ := rig.registry.Get(sessionID)
	assert.Equal(t, StateWaitingForPeer, s.State)
}

func TestRenegotiationRequestRelaysAsNeeded(t *testing.T) {
	rig := newTestRig()
	c1 := rig.admit("c1")
	c2 := rig.admit("c2")

	sessionID := openSession(t, rig, c1, c2)
	rig.gw.Dispatch(c2, wsMsg(t, EventJoinSession, JoinSessionPayload{SessionID: sessionID}))
	recvMsg(t, c1)

	rig.gw.Dispatch(c1, wsMsg(t, EventRenegotiationReq, RelayPayload{SessionID: sessionID}))
	m := recvMsg(t, c2)
	assert.Equal(t, EventRenegotiationNeeded, m.Event)

	s, _ := rig.registry.Get(sessionID)
	assert.Equal(t, StateWaitingForPeer, s.State)
}

func TestRelayUnknownSessionIsSilentNoop(t *testing.T) {
	rig := newTestRig()
	c1 := rig.admit("c1")
	c2 := rig.admit("c2")

	rig.gw.Dispatch(c1, wsMsg(t, EventOffer, RelayPayload{SessionID: "no-such-id", Payload: json.RawMessage(`{}`)}))
	assertSilent(t, c1)
	assertSilent(t, c2)
}

func TestJoinUnknownSessionSendsErrorToCallerOnly(t *testing.T) {
	rig := newTestRig()
	c1 := rig.admit("c1")
	c2 := rig.admit("c2")

	rig.gw.Dispatch(c2, wsMsg(t, EventJoinSession, JoinSessionPayload{SessionID: "no-such-id"}))
	m := recvMsg(t, c2)
	require.Equal(t, EventError, m.Event)
	var errPayload ErrorPayload
	decode(t, m.Data, &errPayload)
	assert.Equal(t, "no-such-id", errPayload.SessionID)

	assertSilent(t, c1)
	assert.Equal(t, 0, rig.registry.SessionCount())
}

func TestFinalizeIsIdempotent(t *testing.T) {
	rig := newTestRig()
	c1 := rig.admit("c1")
	c2 := rig.admit("c2")

	sessionID := openSession(t, rig, c1, c2)
	rig.gw.Dispatch(c2, wsMsg(t, EventJoinSession, JoinSessionPayload{SessionID: sessionID}))
	recvMsg(t, c1)

	rig.gw.Dispatch(c1, wsMsg(t, EventFinalizeSession, FinalizePayload{SessionID: sessionID, Reason: "call_ended"}))

	for _, c := range []*Client{c1, c2} {
		m := recvMsg(t, c)
		require.Equal(t, EventSessionClosed, m.Event)
		var closed SessionClosedPayload
		decode(t, m.Data, &closed)
		assert.Equal(t, "call_ended", closed.Reason)
	}
	assert.Equal(t, 0, rig.registry.SessionCount())

	// second finalize is a no-op
	rig.gw.Dispatch(c2, wsMsg(t, EventFinalizeSession, FinalizePayload{SessionID: sessionID, Reason: "again"}))
	assertSilent(t, c1)
	assertSilent(t, c2)

	// an offer after close is dropped silently
	rig.gw.Dispatch(c1, wsMsg(t, EventOffer, RelayPayload{SessionID: sessionID, Payload: json.RawMessage(`{}`)}))
	assertSilent(t, c2)
}

func TestDisconnectNotifiesPeerAndKeepsSession(t *testing.T) {
	rig := newTestRig()
	c1 := rig.admit("c1")
	c2 := rig.admit("c2")

	sessionID := openSession(t, rig, c1, c2)
	rig.gw.Dispatch(c2, wsMsg(t, EventJoinSession, JoinSessionPayload{SessionID: sessionID}))
	recvMsg(t, c1)

	rig.gw.Disconnect(c1)
	rig.hub.Unregister(c1)

	m := recvMsg(t, c2)
	require.Equal(t, EventPeerDisconnected, m.Event)
	var gone PeerDisconnectedPayload
	decode(t, m.Data, &gone)
	assert.Equal(t, "c1", gone.ConnectionID)

	s, ok := rig.registry.Get(sessionID)
	require.True(t, ok, "session survives the disconnect until finalized or reaped")
	assert.Equal(t, StateDisconnected, s.State)
}

func TestDisconnectWithoutSession(t *testing.T) {
	rig := newTestRig()
	c1 := rig.admit("c1")
	c2 := rig.admit("c2")

	rig.gw.Disconnect(c1)
	assertSilent(t, c2)
}

func TestSnapshotOnAdmit(t *testing.T) {
	rig := newTestRig()
	c1 := rig.admit("c1")
	openSession(t, rig, c1)

	c2 := rig.admit("c2")
	rig.gw.SendSnapshot(c2)

	m := recvMsg(t, c2)
	require.Equal(t, EventSessionsSnapshot, m.Event)
	var snap []SessionSummary
	decode(t, m.Data, &snap)
	require.Len(t, snap, 1)
	assert.Equal(t, StateInit, snap[0].State)
	assert.Equal(t, "audio", snap[0].Context.Category)
}

func TestRegisterParticipantBindsIdentity(t *testing.T) {
	rig := newTestRig()
	c1 := rig.admit("c1")

	rig.gw.Dispatch(c1, wsMsg(t, EventRegisterParticipant, RegisterParticipantPayload{ParticipantID: "emp-12"}))

	cid, ok := rig.registry.ParticipantConn("emp-12")
	require.True(t, ok)
	assert.Equal(t, "c1", cid)

	// the bound identity rides along on open_session
	sessionID := openSession(t, rig, c1)
	s, _ := rig.registry.Get(sessionID)
	assert.Equal(t, "emp-12", s.InitiatorParticipant)
}

func TestReconnectReroutesRelays(t *testing.T) {
	rig := newTestRig()
	oldC := rig.admit("c1-old")
	c2 := rig.admit("c2")

	rig.gw.Dispatch(oldC, wsMsg(t, EventRegisterParticipant, RegisterParticipantPayload{ParticipantID: "emp-12"}))
	sessionID := openSession(t, rig, oldC, c2)
	rig.gw.Dispatch(c2, wsMsg(t, EventJoinSession, JoinSessionPayload{SessionID: sessionID, ParticipantID: "emp-77"}))
	m := recvMsg(t, oldC)
	require.Equal(t, EventPeerJoined, m.Event)

	// the field worker reconnects on a fresh socket
	newC := rig.admit("c1-new")
	rig.gw.Dispatch(newC, wsMsg(t, EventRegisterParticipant, RegisterParticipantPayload{ParticipantID: "emp-12"}))

	sid, ok := rig.registry.LinkedSession("c1-new")
	require.True(t, ok)
	assert.Equal(t, sessionID, sid)
	_, ok = rig.registry.LinkedSession("c1-old")
	assert.False(t, ok)
	s, ok := rig.registry.Get(sessionID)
	require.True(t, ok)
	assert.Equal(t, "c1-new", s.InitiatorConn)

	// relays land on the fresh socket, never the stale one
	rig.gw.Dispatch(c2, wsMsg(t, EventOffer, RelayPayload{SessionID: sessionID, Payload: json.RawMessage(`{"type":"offer","sdp":"v=0\r\n"}`)}))
	m = recvMsg(t, newC)
	require.Equal(t, EventOffer, m.Event)
	assertSilent(t, oldC)
}

func TestOpenSecondSessionLeavesFirstRoom(t *testing.T) {
	rig := newTestRig()
	c1 := rig.admit("c1")
	c2 := rig.admit("c2")

	first := openSession(t, rig, c1, c2)
	rig.gw.Dispatch(c2, wsMsg(t, EventJoinSession, JoinSessionPayload{SessionID: first, ParticipantID: "emp-77"}))
	m := recvMsg(t, c1)
	require.Equal(t, EventPeerJoined, m.Event)

	second := openSession(t, rig, c2, c1)
	sid, ok := rig.registry.LinkedSession("c2")
	require.True(t, ok)
	assert.Equal(t, second, sid)

	// traffic in the first session no longer reaches c2
	rig.gw.Dispatch(c1, wsMsg(t, EventOffer, RelayPayload{SessionID: first, Payload: json.RawMessage(`{"type":"offer","sdp":"v=0\r\n"}`)}))
	assertSilent(t, c2)
	assert.Equal(t, 1, rig.hub.RoomSize(first))
}

func TestJoinAfterFinalizeDoesNotResurrectRoom(t *testing.T) {
	rig := newTestRig()
	c1 := rig.admit("c1")
	c2 := rig.admit("c2")
	sessionID := openSession(t, rig, c1, c2)

	// the session is recorded as joined but finalized before the joiner
	// takes its room seat
	_, _, err := rig.registry.Join(sessionID, "c2", "emp-77")
	require.NoError(t, err)
	rig.gw.Finalize(sessionID, "timeout")
	m := recvMsg(t, c1)
	require.Equal(t, EventSessionClosed, m.Event)

	ok := rig.gw.joinRoomChecked(sessionID, c2)
	assert.False(t, ok)
	assert.Equal(t, 0, rig.hub.RoomSize(sessionID))
}

func TestOpenSessionPastCapReturnsError(t *testing.T) {
	logger := zap.NewNop()
	registry := NewRegistry(1, logger)
	hub := NewHub(logger)
	gw := NewGateway(registry, hub, logger)
	rig := &testRig{registry: registry, hub: hub, gw: gw}

	c1 := rig.admit("c1")
	c2 := rig.admit("c2")
	openSession(t, rig, c1, c2)

	rig.gw.Dispatch(c2, wsMsg(t, EventOpenSession, OpenSessionPayload{}))
	m := recvMsg(t, c2)
	require.Equal(t, EventError, m.Event)
	assertSilent(t, c1)
	assert.Equal(t, 1, rig.registry.SessionCount())
}

// recordingNotifier captures lifecycle notifications for assertions.
type recordingNotifier struct {
	mu           sync.Mutex
	opened       []string
	closed       []string
	closeReasons []string
	disconnected []string
}

func (n *recordingNotifier) SessionOpened(s Session) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opened = append(n.opened, s.ID)
}

func (n *recordingNotifier) SessionClosed(s Session, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, s.ID)
	n.closeReasons = append(n.closeReasons, reason)
}

func (n *recordingNotifier) PeerDisconnected(s Session, connID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnected = append(n.disconnected, s.ID)
}

func (n *recordingNotifier) counts() (opened, closed, disconnected int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.opened), len(n.closed), len(n.disconnected)
}

func TestNotifierReceivesLifecycleEvents(t *testing.T) {
	notifier := &recordingNotifier{}
	rig := newTestRig(notifier)
	c1 := rig.admit("c1")
	c2 := rig.admit("c2")

	sessionID := openSession(t, rig, c1, c2)
	rig.gw.Dispatch(c2, wsMsg(t, EventJoinSession, JoinSessionPayload{SessionID: sessionID}))
	recvMsg(t, c1)
	rig.gw.Disconnect(c2)
	rig.gw.Finalize(sessionID, "call_ended")

	assert.Eventually(t, func() bool {
		opened, closed, disconnected := notifier.counts()
		return opened == 1 && closed == 1 && disconnected == 1
	}, time.Second, 10*time.Millisecond)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Equal(t, []string{sessionID}, notifier.opened)
	assert.Equal(t, []string{"call_ended"}, notifier.closeReasons)
}
