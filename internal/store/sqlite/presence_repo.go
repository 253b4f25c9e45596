package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatsync/internal/domain"
)

type PresenceRepo struct {
	db *sql.DB
}

func NewPresenceRepo(db *sql.DB) *PresenceRepo {
	return &PresenceRepo{db: db}
}

var _ domain.PresenceStore = (*PresenceRepo)(nil)

func (r *PresenceRepo) SetOnline(ctx context.Context, identity string, online bool, lastSeen time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (identity, is_online, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT (identity) DO UPDATE SET is_online = excluded.is_online, last_seen = excluded.last_seen
	`, identity, online, lastSeen)
	if err != nil {
		return fmt.Errorf("set online: %w", err)
	}
	return nil
}
