package repository

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PinRepo interface {
	// Add pins a message, replacing an existing pin row for the same
	// message. At most one pin row exists per message.
	Add(ctx context.Context, roomID string, messageID uuid.UUID, pinnedTs time.Time) error
	Remove(ctx context.Context, messageID uuid.UUID) error
	// ListRecent returns pinned message IDs, newest pin first.
	ListRecent(ctx context.Context, roomID string, limit int) ([]uuid.UUID, error)
}

type PostgresPinRepo struct {
	pool *pgxpool.Pool
}

func NewPinRepo(pool *pgxpool.Pool) PinRepo {
	return &PostgresPinRepo{pool: pool}
}

func (r *PostgresPinRepo) Add(ctx context.Context, roomID string, messageID uuid.UUID, pinnedTs time.Time) error {
	query := `
        INSERT INTO pins (room_id, message_id, pinned_ts)
        VALUES ($1, $2, $3)
        ON CONFLICT (message_id) DO UPDATE SET room_id = $1, pinned_ts = $3
    `

	_, err := r.pool.Exec(ctx, query, roomID, messageID, pinnedTs)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to pin message %s: %v", messageID, err)
		return err
	}
	return nil
}

func (r *PostgresPinRepo) Remove(ctx context.Context, messageID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM pins WHERE message_id = $1`, messageID)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to unpin message %s: %v", messageID, err)
		return err
	}
	return nil
}

func (r *PostgresPinRepo) ListRecent(ctx context.Context, roomID string, limit int) ([]uuid.UUID, error) {
	query := `
        SELECT message_id
        FROM pins
        WHERE room_id = $1
        ORDER BY pinned_ts DESC
        LIMIT $2
    `

	rows, err := r.pool.Query(ctx, query, roomID, limit)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to list pins for room %s: %v", roomID, err)
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			log.Printf("[REPO ERROR] Pin scan failed: %v", err)
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
