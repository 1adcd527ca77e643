package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatline-backend/internal/domain"
)

// MessageStatusRepository handles per-recipient delivery state.
// One row per (message_id, user_id); writes are upserts.
type MessageStatusRepository struct {
	pool *pgxpool.Pool
}

// NewMessageStatusRepository creates a new message status repository
func NewMessageStatusRepository(pool *pgxpool.Pool) *MessageStatusRepository {
	return &MessageStatusRepository{pool: pool}
}

// Upsert writes the delivery status for (message, user). Seen is terminal:
// a delivered write against an existing seen row leaves the row untouched.
func (r *MessageStatusRepository) Upsert(ctx context.Context, status *domain.MessageStatus) error {
	query := `
		INSERT INTO message_status (message_id, user_id, status, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id, user_id) DO UPDATE
		SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
		WHERE message_status.status != $5 OR EXCLUDED.status = $5
	`

	_, err := r.pool.Exec(ctx, query,
		status.MessageID,
		status.UserID,
		status.Status,
		status.UpdatedAt,
		domain.MessageStatusSeen,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert message status: %w", err)
	}

	return nil
}

// Get retrieves the delivery status for (message, user)
func (r *MessageStatusRepository) Get(ctx context.Context, messageID, userID uuid.UUID) (*domain.MessageStatus, error) {
	query := `
		SELECT message_id, user_id, status, updated_at
		FROM message_status
		WHERE message_id = $1 AND user_id = $2
	`

	status := &domain.MessageStatus{}
	err := r.pool.QueryRow(ctx, query, messageID, userID).Scan(
		&status.MessageID,
		&status.UserID,
		&status.Status,
		&status.UpdatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("message status not found")
		}
		return nil, fmt.Errorf("failed to get message status: %w", err)
	}

	return status, nil
}

// GetByMessage retrieves all recipient statuses for a message
func (r *MessageStatusRepository) GetByMessage(ctx context.Context, messageID uuid.UUID) ([]*domain.MessageStatus, error) {
	query := `
		SELECT message_id, user_id, status, updated_at
		FROM message_status
		WHERE message_id = $1
	`

	rows, err := r.pool.Query(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get message statuses: %w", err)
	}
	defer rows.Close()

	var statuses []*domain.MessageStatus
	for rows.Next() {
		status := &domain.MessageStatus{}
		err := rows.Scan(
			&status.MessageID,
			&status.UserID,
			&status.Status,
			&status.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message status: %w", err)
		}
		statuses = append(statuses, status)
	}

	return statuses, nil
}
