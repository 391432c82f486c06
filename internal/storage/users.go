package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

type OAuthUser struct {
	DiscordID     string    `json:"id"`
	Username      string    `json:"username"`
	Avatar        string    `json:"avatar,omitempty"`
	Discriminator string    `json:"discriminator,omitempty"`
	Email         string    `json:"email,omitempty"`
	UpdatedAt     time.Time `json:"-"`
}

// UpsertOAuthUser keeps a previously stored email when the new login omits it.
func (s *Store) UpsertOAuthUser(ctx context.Context, user OAuthUser) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_users (discord_id, username, avatar, discriminator, email, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NOW())
		ON CONFLICT (discord_id) DO UPDATE SET
			username = EXCLUDED.username,
			avatar = EXCLUDED.avatar,
			discriminator = EXCLUDED.discriminator,
			email = COALESCE(EXCLUDED.email, oauth_users.email),
			updated_at = EXCLUDED.updated_at
	`, user.DiscordID, user.Username, user.Avatar, user.Discriminator, user.Email)
	if err != nil {
		return fmt.Errorf("save oauth user %s: %w", user.DiscordID, err)
	}
	return nil
}

func (s *Store) GetOAuthUser(ctx context.Context, discordID string) (OAuthUser, error) {
	user := OAuthUser{DiscordID: discordID}
	err := s.pool.QueryRow(ctx, `
		SELECT username, COALESCE(avatar, ''), COALESCE(discriminator, ''), COALESCE(email, ''), updated_at
		FROM oauth_users WHERE discord_id = $1`, discordID).
		Scan(&user.Username, &user.Avatar, &user.Discriminator, &user.Email, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OAuthUser{}, ErrNotFound
		}
		return OAuthUser{}, fmt.Errorf("load oauth user %s: %w", discordID, err)
	}
	return user, nil
}
