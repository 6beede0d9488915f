package signaling

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	lifecycleChannel = "calls:lifecycle"
	publishTimeout   = 5 * time.Second
)

// lifecycleEvent is the message published to Redis for external reporting
// consumers (audit writers, dashboards).
type lifecycleEvent struct {
	Event         string       `json:"event"`
	SessionID     string       `json:"session_id"`
	ParticipantID string       `json:"participant_id,omitempty"`
	Context       *CallContext `json:"context,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	At            int64        `json:"at"`
}

// RedisPublisher publishes session lifecycle events to a Redis channel. It
// implements Notifier; the gateway never blocks on it.
type RedisPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPublisher creates a Redis lifecycle publisher.
func NewRedisPublisher(client *redis.Client, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger}
}

// SessionOpened publishes a session_opened lifecycle event.
func (r *RedisPublisher) SessionOpened(s Session) {
	ctx := s.Context
	r.publish(lifecycleEvent{
		Event:         EventSessionOpened,
		SessionID:     s.ID,
		ParticipantID: s.InitiatorParticipant,
		Context:       &ctx,
	})
}

// SessionClosed publishes a session_closed lifecycle event.
func (r *RedisPublisher) SessionClosed(s Session, reason string) {
	r.publish(lifecycleEvent{
		Event:     EventSessionClosed,
		SessionID: s.ID,
		Reason:    reason,
	})
}

// PeerDisconnected publishes a peer_disconnected lifecycle event.
func (r *RedisPublisher) PeerDisconnected(s Session, connID string) {
	r.publish(lifecycleEvent{
		Event:     EventPeerDisconnected,
		SessionID: s.ID,
	})
}

func (r *RedisPublisher) publish(ev lifecycleEvent) {
	ev.At = time.Now().Unix()
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, lifecycleChannel, body).Err(); err != nil {
		r.logger.Warn("lifecycle publish failed", zap.String("event", ev.Event), zap.Error(err))
	}
}
