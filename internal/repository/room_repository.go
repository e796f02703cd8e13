package repository

import (
	"context"
	"log"

	"anonchat/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RoomRepo interface {
	// InsertIfAbsent creates the durable room record with the given
	// defaults. Re-inserting an existing roomId is a no-op.
	InsertIfAbsent(ctx context.Context, room *models.Room) error
	UpdateSettings(ctx context.Context, roomID, topic string, capacity int, locked bool) error
	Get(ctx context.Context, roomID string) (*models.Room, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Room, error)
}

type PostgresRoomRepo struct {
	pool *pgxpool.Pool
}

func NewRoomRepo(pool *pgxpool.Pool) RoomRepo {
	return &PostgresRoomRepo{pool: pool}
}

func (r *PostgresRoomRepo) InsertIfAbsent(ctx context.Context, room *models.Room) error {
	query := `
        INSERT INTO rooms (room_id, topic, capacity, locked, created_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (room_id) DO NOTHING
    `

	_, err := r.pool.Exec(ctx, query, room.ID, room.Topic, room.Capacity, room.Locked, room.CreatedAt)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to insert room %s: %v", room.ID, err)
		return err
	}
	return nil
}

func (r *PostgresRoomRepo) UpdateSettings(ctx context.Context, roomID, topic string, capacity int, locked bool) error {
	query := `UPDATE rooms SET topic = $2, capacity = $3, locked = $4 WHERE room_id = $1`

	_, err := r.pool.Exec(ctx, query, roomID, topic, capacity, locked)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to update room %s: %v", roomID, err)
		return err
	}
	return nil
}

func (r *PostgresRoomRepo) Get(ctx context.Context, roomID string) (*models.Room, error) {
	query := `SELECT room_id, topic, capacity, locked, created_at FROM rooms WHERE room_id = $1`

	room := &models.Room{}
	err := r.pool.QueryRow(ctx, query, roomID).Scan(
		&room.ID,
		&room.Topic,
		&room.Capacity,
		&room.Locked,
		&room.CreatedAt,
	)
	if err != nil {
		if err != pgx.ErrNoRows {
			log.Printf("[REPO ERROR] Failed to load room %s: %v", roomID, err)
		}
		return nil, err
	}
	return room, nil
}

func (r *PostgresRoomRepo) ListRecent(ctx context.Context, limit int) ([]*models.Room, error) {
	query := `
        SELECT room_id, topic, capacity, locked, created_at
        FROM rooms
        ORDER BY created_at DESC
        LIMIT $1
    `

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to list rooms: %v", err)
		return nil, err
	}
	defer rows.Close()

	var rooms []*models.Room
	for rows.Next() {
		room := &models.Room{}
		if err := rows.Scan(&room.ID, &room.Topic, &room.Capacity, &room.Locked, &room.CreatedAt); err != nil {
			log.Printf("[REPO ERROR] Room scan failed: %v", err)
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}
