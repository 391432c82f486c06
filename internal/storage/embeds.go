package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type EmbedHistoryEntry struct {
	ID        int64           `json:"id"`
	GuildID   string          `json:"guild_id"`
	ChannelID string          `json:"channel_id"`
	Embed     json.RawMessage `json:"embed"`
	MessageID string          `json:"message_id"`
	SentBy    string          `json:"sent_by"`
	SentAt    time.Time       `json:"sent_at"`
}

func (s *Store) AddEmbedHistory(ctx context.Context, entry EmbedHistoryEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO embed_history (guild_id, channel_id, embed, message_id, sent_by, sent_at)
		VALUES ($1, $2, $3::jsonb, $4, $5, NOW())
	`, entry.GuildID, entry.ChannelID, string(entry.Embed), entry.MessageID, entry.SentBy)
	if err != nil {
		return fmt.Errorf("record embed: %w", err)
	}
	return nil
}

// ListEmbedHistory returns the newest entries first.
func (s *Store) ListEmbedHistory(ctx context.Context, guildID string, limit int) ([]EmbedHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, guild_id, channel_id, embed, message_id, sent_by, sent_at
		FROM embed_history
		WHERE guild_id = $1
		ORDER BY sent_at DESC, id DESC
		LIMIT $2`, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("list embeds: %w", err)
	}
	defer rows.Close()

	entries := make([]EmbedHistoryEntry, 0)
	for rows.Next() {
		var entry EmbedHistoryEntry
		var embed []byte
		if err := rows.Scan(&entry.ID, &entry.GuildID, &entry.ChannelID, &embed, &entry.MessageID, &entry.SentBy, &entry.SentAt); err != nil {
			return nil, err
		}
		entry.Embed = json.RawMessage(embed)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
