package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Session holds the user's access token, already encrypted by the dashboard.
// A session never outlives that token; an expired token ends the session.
type Session struct {
	ID          string
	DiscordID   string
	AccessToken string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (s *Store) CreateSession(ctx context.Context, session Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dashboard_sessions (id, discord_id, access_token, created_at, expires_at)
		VALUES ($1, $2, $3, NOW(), $4)
	`, session.ID, session.DiscordID, session.AccessToken, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession returns ErrNotFound for unknown or expired sessions.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	session := Session{ID: id}
	err := s.pool.QueryRow(ctx, `
		SELECT discord_id, access_token, created_at, expires_at
		FROM dashboard_sessions WHERE id = $1 AND expires_at > NOW()`, id).
		Scan(&session.DiscordID, &session.AccessToken, &session.CreatedAt, &session.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	return session, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM dashboard_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dashboard_sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
