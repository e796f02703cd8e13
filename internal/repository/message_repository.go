package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"anonchat/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepo interface {
	Insert(ctx context.Context, m *models.Message) error
	MarkDeleted(ctx context.Context, id uuid.UUID) error
	UpdateText(ctx context.Context, id uuid.UUID, text string, editedTs time.Time) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error)
	// ListRecent returns the newest non-deleted messages first; callers
	// re-order to chronological before delivery.
	ListRecent(ctx context.Context, roomID string, limit int) ([]*models.Message, error)
}

type PostgresMessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) MessageRepo {
	return &PostgresMessageRepo{pool: pool}
}

func (r *PostgresMessageRepo) Insert(ctx context.Context, m *models.Message) error {
	files, err := json.Marshal(m.Files)
	if err != nil {
		return fmt.Errorf("encode files: %w", err)
	}
	var replyTo []byte
	if m.ReplyTo != nil {
		replyTo, err = json.Marshal(m.ReplyTo)
		if err != nil {
			return fmt.Errorf("encode reply_to: %w", err)
		}
	}

	query := `
        INSERT INTO messages (id, room_id, user_id, name, text, files, reply_to, ts, deleted, edited_ts)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, NULL)
        ON CONFLICT (id) DO NOTHING
    `

	_, err = r.pool.Exec(ctx, query, m.ID, m.RoomID, m.UserID, m.Name, m.Text, files, replyTo, m.Ts)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to save message %s from %s: %v", m.ID, m.UserID, err)
		return err
	}
	return nil
}

func (r *PostgresMessageRepo) MarkDeleted(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE messages SET deleted = TRUE WHERE id = $1`, id)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to mark message %s deleted: %v", id, err)
		return err
	}
	return nil
}

func (r *PostgresMessageRepo) UpdateText(ctx context.Context, id uuid.UUID, text string, editedTs time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE messages SET text = $2, edited_ts = $3 WHERE id = $1`, id, text, editedTs)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to update text for message %s: %v", id, err)
		return err
	}
	return nil
}

func (r *PostgresMessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	query := `
        SELECT id, room_id, user_id, name, text, files, reply_to, ts, deleted, edited_ts
        FROM messages
        WHERE id = $1
    `
	m, err := scanMessage(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err != pgx.ErrNoRows {
			log.Printf("[REPO ERROR] Failed to load message %s: %v", id, err)
		}
		return nil, err
	}
	return m, nil
}

func (r *PostgresMessageRepo) ListRecent(ctx context.Context, roomID string, limit int) ([]*models.Message, error) {
	query := `
        SELECT id, room_id, user_id, name, text, files, reply_to, ts, deleted, edited_ts
        FROM messages
        WHERE room_id = $1 AND deleted = FALSE
        ORDER BY ts DESC
        LIMIT $2
    `

	rows, err := r.pool.Query(ctx, query, roomID, limit)
	if err != nil {
		log.Printf("[REPO ERROR] Fetch failed for room %s: %v", roomID, err)
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			log.Printf("[REPO ERROR] Message scan failed: %v", err)
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	m := &models.Message{}
	var files, replyTo []byte
	err := row.Scan(
		&m.ID,
		&m.RoomID,
		&m.UserID,
		&m.Name,
		&m.Text,
		&files,
		&replyTo,
		&m.Ts,
		&m.Deleted,
		&m.EditedTs,
	)
	if err != nil {
		return nil, err
	}

	if len(files) > 0 {
		if err := json.Unmarshal(files, &m.Files); err != nil {
			return nil, fmt.Errorf("decode files: %w", err)
		}
	}
	if m.Files == nil {
		m.Files = []models.Attachment{}
	}
	if len(replyTo) > 0 {
		ref := &models.ReplyRef{}
		if err := json.Unmarshal(replyTo, ref); err != nil {
			return nil, fmt.Errorf("decode reply_to: %w", err)
		}
		m.ReplyTo = ref
	}
	return m, nil
}
