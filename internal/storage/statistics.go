package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

type Statistics struct {
	Guilds    int       `json:"total_servidores"`
	Users     int       `json:"total_usuarios"`
	Channels  int       `json:"total_canales"`
	UpdatedAt time.Time `json:"actualizado_en"`
}

func (s *Store) GetStatistics(ctx context.Context) (Statistics, error) {
	var stats Statistics
	err := s.pool.QueryRow(ctx, `
		SELECT total_servidores, total_usuarios, total_canales, actualizado_en
		FROM statistics WHERE id = 1`).Scan(&stats.Guilds, &stats.Users, &stats.Channels, &stats.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Statistics{}, nil
		}
		return Statistics{}, fmt.Errorf("load statistics: %w", err)
	}
	return stats, nil
}

// ReplaceStatistics overwrites the singleton row.
func (s *Store) ReplaceStatistics(ctx context.Context, stats Statistics) error {
	if stats.UpdatedAt.IsZero() {
		stats.UpdatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO statistics (id, total_servidores, total_usuarios, total_canales, actualizado_en)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			total_servidores = EXCLUDED.total_servidores,
			total_usuarios = EXCLUDED.total_usuarios,
			total_canales = EXCLUDED.total_canales,
			actualizado_en = EXCLUDED.actualizado_en
	`, stats.Guilds, stats.Users, stats.Channels, stats.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save statistics: %w", err)
	}
	return nil
}
