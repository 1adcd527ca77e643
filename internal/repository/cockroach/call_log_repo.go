package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatline-backend/internal/domain"
	"chatline-backend/pkg/constants"
)

// CallLogRepository handles durable call records.
//
// Status updates are conditional on the current status so that a late or
// duplicate signal can never overwrite a terminal outcome: affecting zero
// rows is a success, not an error. The in-memory session registry is the
// primary guard; these WHERE clauses are the durable backstop.
type CallLogRepository struct {
	pool *pgxpool.Pool
}

// NewCallLogRepository creates a new call log repository
func NewCallLogRepository(pool *pgxpool.Pool) *CallLogRepository {
	return &CallLogRepository{pool: pool}
}

// Create inserts a new call log. Logs start in the pessimistic missed status
// so an unanswered call that never signals again is already recorded correctly.
func (r *CallLogRepository) Create(ctx context.Context, log *domain.CallLog) error {
	query := `
		INSERT INTO call_logs (
			call_id, conversation_id, caller_id, receiver_id, call_type, status, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		log.ID,
		log.ConversationID,
		log.CallerID,
		log.ReceiverID,
		log.CallType,
		log.Status,
		log.StartedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create call log: %w", err)
	}

	return nil
}

// MarkAccepted transitions a ringing call's log from missed to accepted
func (r *CallLogRepository) MarkAccepted(ctx context.Context, callID uuid.UUID) error {
	query := `
		UPDATE call_logs
		SET status = $2
		WHERE call_id = $1 AND status = $3
	`

	_, err := r.pool.Exec(ctx, query, callID, constants.CallStatusAccepted, constants.CallStatusMissed)
	if err != nil {
		return fmt.Errorf("failed to mark call accepted: %w", err)
	}

	return nil
}

// MarkRejected transitions a ringing call's log from missed to rejected
func (r *CallLogRepository) MarkRejected(ctx context.Context, callID uuid.UUID) error {
	query := `
		UPDATE call_logs
		SET status = $2
		WHERE call_id = $1 AND status = $3
	`

	_, err := r.pool.Exec(ctx, query, callID, constants.CallStatusRejected, constants.CallStatusMissed)
	if err != nil {
		return fmt.Errorf("failed to mark call rejected: %w", err)
	}

	return nil
}

// MarkMissed re-asserts the missed status for a timed-out call. The row was
// created as missed, so this only matters if nothing raced in between.
func (r *CallLogRepository) MarkMissed(ctx context.Context, callID uuid.UUID) error {
	query := `
		UPDATE call_logs
		SET status = $2
		WHERE call_id = $1 AND status = $2
	`

	_, err := r.pool.Exec(ctx, query, callID, constants.CallStatusMissed)
	if err != nil {
		return fmt.Errorf("failed to mark call missed: %w", err)
	}

	return nil
}

// MarkEnded transitions a call's log to ended with its final duration.
// Both missed (caller hung up while ringing) and accepted calls may end.
func (r *CallLogRepository) MarkEnded(ctx context.Context, callID uuid.UUID, duration *int) error {
	query := `
		UPDATE call_logs
		SET status = $2, duration = $3
		WHERE call_id = $1 AND status IN ($4, $5)
	`

	_, err := r.pool.Exec(ctx, query, callID,
		constants.CallStatusEnded,
		duration,
		constants.CallStatusMissed,
		constants.CallStatusAccepted,
	)
	if err != nil {
		return fmt.Errorf("failed to mark call ended: %w", err)
	}

	return nil
}

// GetByID retrieves a call log by ID
func (r *CallLogRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.CallLog, error) {
	query := `
		SELECT call_id, conversation_id, caller_id, receiver_id, call_type,
		       status, duration, started_at
		FROM call_logs
		WHERE call_id = $1
	`

	log := &domain.CallLog{}
	err := r.pool.QueryRow(ctx, query, callID).Scan(
		&log.ID,
		&log.ConversationID,
		&log.CallerID,
		&log.ReceiverID,
		&log.CallType,
		&log.Status,
		&log.Duration,
		&log.StartedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("call log not found")
		}
		return nil, fmt.Errorf("failed to get call log: %w", err)
	}

	return log, nil
}

// GetUserCalls retrieves call history for a user, newest first
func (r *CallLogRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallLog, error) {
	query := `
		SELECT call_id, conversation_id, caller_id, receiver_id, call_type,
		       status, duration, started_at
		FROM call_logs
		WHERE caller_id = $1 OR receiver_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get user calls: %w", err)
	}
	defer rows.Close()

	var logs []*domain.CallLog
	for rows.Next() {
		log := &domain.CallLog{}
		err := rows.Scan(
			&log.ID,
			&log.ConversationID,
			&log.CallerID,
			&log.ReceiverID,
			&log.CallType,
			&log.Status,
			&log.Duration,
			&log.StartedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call log: %w", err)
		}
		logs = append(logs, log)
	}

	return logs, nil
}
