// Package history records call lifecycle events to PostgreSQL for audit and
// reporting. It subscribes to the signaling gateway's notifications; the
// signaling core never blocks on or depends on these writes succeeding.
package history

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Javisolarte/api-proliseg-sub002/internal/signaling"
)

const writeTimeout = 5 * time.Second

// Recorder writes call_history rows from lifecycle notifications.
type Recorder struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRecorder creates a call-history recorder.
func NewRecorder(pool *pgxpool.Pool, logger *zap.Logger) *Recorder {
	return &Recorder{pool: pool, logger: logger}
}

// SessionOpened inserts the audit row for a new call.
func (r *Recorder) SessionOpened(s signaling.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO call_history (session_id, initiator_participant, category, note, opened_at)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5)`,
		s.ID, s.InitiatorParticipant, s.Context.Category, s.Context.Note, s.CreatedAt)
	if err != nil {
		r.logger.Warn("call history insert failed", zap.String("session_id", s.ID), zap.Error(err))
	}
}

// SessionClosed stamps the close time and reason on the call's row.
func (r *Recorder) SessionClosed(s signaling.Session, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, err := r.pool.Exec(ctx,
		`UPDATE call_history
		 SET closed_at = NOW(), close_reason = NULLIF($2, ''), responder_participant = NULLIF($3, '')
		 WHERE session_id = $1 AND closed_at IS NULL`,
		s.ID, reason, s.ResponderParticipant)
	if err != nil {
		r.logger.Warn("call history close failed", zap.String("session_id", s.ID), zap.Error(err))
	}
}

// PeerDisconnected marks the first disconnect observed on the call.
func (r *Recorder) PeerDisconnected(s signaling.Session, connID string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, err := r.pool.Exec(ctx,
		`UPDATE call_history SET disconnected_at = NOW()
		 WHERE session_id = $1 AND disconnected_at IS NULL`,
		s.ID)
	if err != nil {
		r.logger.Warn("call history disconnect failed", zap.String("session_id", s.ID), zap.Error(err))
	}
}
