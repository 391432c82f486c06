package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

type WelcomeConfig struct {
	GuildID         string
	Enabled         bool
	ChannelID       string
	RawMessage      string
	Embed           json.RawMessage
	AutoRoleEnabled bool
	AutoRoleIDs     []string
	UpdatedAt       time.Time
}

// GetWelcomeConfig returns nil, nil when the guild has no row.
func (s *Store) GetWelcomeConfig(ctx context.Context, guildID string) (*WelcomeConfig, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT enabled, COALESCE(channel_id, ''), COALESCE(raw_message, ''), embed,
		auto_role_enabled, auto_role_ids, updated_at
		FROM welcome_configs WHERE guild_id = $1`, guildID)

	cfg := WelcomeConfig{GuildID: guildID}
	var embed, roles []byte
	err := row.Scan(&cfg.Enabled, &cfg.ChannelID, &cfg.RawMessage, &embed, &cfg.AutoRoleEnabled, &roles, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load welcome config %s: %w", guildID, err)
	}
	if len(embed) > 0 {
		cfg.Embed = json.RawMessage(embed)
	}
	cfg.AutoRoleIDs = ParseRoleIDs(roles)
	return &cfg, nil
}

// UpsertWelcomeConfig replaces the whole row for the guild.
func (s *Store) UpsertWelcomeConfig(ctx context.Context, cfg WelcomeConfig) error {
	roleIDs := cfg.AutoRoleIDs
	if roleIDs == nil {
		roleIDs = []string{}
	}
	roles, err := json.Marshal(roleIDs)
	if err != nil {
		return err
	}
	var embed any
	if len(cfg.Embed) > 0 {
		embed = string(cfg.Embed)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO welcome_configs (guild_id, enabled, channel_id, raw_message, embed, auto_role_enabled, auto_role_ids, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5::jsonb, $6, $7::jsonb, NOW())
		ON CONFLICT (guild_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			channel_id = EXCLUDED.channel_id,
			raw_message = EXCLUDED.raw_message,
			embed = EXCLUDED.embed,
			auto_role_enabled = EXCLUDED.auto_role_enabled,
			auto_role_ids = EXCLUDED.auto_role_ids,
			updated_at = EXCLUDED.updated_at
	`, cfg.GuildID, cfg.Enabled, cfg.ChannelID, cfg.RawMessage, embed, cfg.AutoRoleEnabled, string(roles))
	if err != nil {
		return fmt.Errorf("save welcome config %s: %w", cfg.GuildID, err)
	}
	return nil
}

// ParseRoleIDs reads a stored role list. Entries may be strings or bare
// numbers; anything else, including malformed JSON, yields an empty list.
func ParseRoleIDs(raw []byte) []string {
	if len(raw) == 0 {
		return []string{}
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var values []any
	if err := decoder.Decode(&values); err != nil {
		return []string{}
	}
	ids := make([]string, 0, len(values))
	for _, value := range values {
		switch id := value.(type) {
		case string:
			if id != "" {
				ids = append(ids, id)
			}
		case json.Number:
			if _, err := strconv.ParseUint(id.String(), 10, 64); err == nil {
				ids = append(ids, id.String())
			}
		}
	}
	return ids
}
