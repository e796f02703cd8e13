package repository

import (
	"context"
	"log"
	"time"

	"anonchat/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditRepo interface {
	Append(ctx context.Context, ev *models.AuditEvent) error
	// DeleteBefore trims audit rows older than the cutoff and reports
	// how many were removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type PostgresAuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) AuditRepo {
	return &PostgresAuditRepo{pool: pool}
}

func (r *PostgresAuditRepo) Append(ctx context.Context, ev *models.AuditEvent) error {
	query := `
        INSERT INTO audit (ts, event, room_id, user_id, name, ip, ua, geo)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `

	_, err := r.pool.Exec(ctx, query, ev.Ts, ev.Event, ev.RoomID, ev.UserID, ev.Name, ev.IP, ev.UA, ev.Geo)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to append audit event %q: %v", ev.Event, err)
		return err
	}
	return nil
}

func (r *PostgresAuditRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit WHERE ts < $1`, cutoff)
	if err != nil {
		log.Printf("[REPO ERROR] Audit trim failed: %v", err)
		return 0, err
	}
	return tag.RowsAffected(), nil
}
