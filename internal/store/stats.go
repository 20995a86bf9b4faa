package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mcstore/internal/models"

	"github.com/jmoiron/sqlx"
)

// UpsertServerStats replaces the single server stats row and records the
// day's new player count in daily_stats
func (s *Store) UpsertServerStats(ctx context.Context, stats *models.ServerStats) error {
	day := time.Now().UTC()
	if stats.LastUpdated != nil {
		day = stats.LastUpdated.UTC()
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO server_stats (id, online_players, max_players, new_players_today, server_status, last_updated)
			VALUES (1, :online_players, :max_players, :new_players_today, :server_status, :last_updated)
			ON CONFLICT (id) DO UPDATE SET
				online_players = EXCLUDED.online_players,
				max_players = EXCLUDED.max_players,
				new_players_today = EXCLUDED.new_players_today,
				server_status = EXCLUDED.server_status,
				last_updated = EXCLUDED.last_updated`, stats)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO daily_stats (day, new_players) VALUES ($1::date, $2)
			ON CONFLICT (day) DO UPDATE SET new_players = EXCLUDED.new_players`,
			day.Format("2006-01-02"), stats.NewPlayersToday)
		return err
	})
}

// GetDailyNewPlayers returns the recorded new player counts from since onwards
func (s *Store) GetDailyNewPlayers(ctx context.Context, since time.Time) ([]models.DailyCount, error) {
	counts := []models.DailyCount{}
	err := s.db.SelectContext(ctx, &counts, `
		SELECT to_char(day, 'YYYY-MM-DD') AS day, new_players AS count
		FROM daily_stats WHERE day >= $1::date ORDER BY day`, since.UTC().Format("2006-01-02"))
	return counts, err
}

// CountRegistrationsSince groups new accounts by UTC creation day
func (s *Store) CountRegistrationsSince(ctx context.Context, since time.Time) ([]models.DailyCount, error) {
	counts := []models.DailyCount{}
	err := s.db.SelectContext(ctx, &counts, `
		SELECT to_char((created_at AT TIME ZONE 'UTC')::date, 'YYYY-MM-DD') AS day, COUNT(*) AS count
		FROM users WHERE created_at >= $1
		GROUP BY 1 ORDER BY 1`, since.UTC())
	return counts, err
}

// GetServerStats returns the latest stats, ErrNotFound before the first push
func (s *Store) GetServerStats(ctx context.Context) (*models.ServerStats, error) {
	var stats models.ServerStats
	err := s.db.GetContext(ctx, &stats, `
		SELECT online_players, max_players, new_players_today, server_status, last_updated
		FROM server_stats WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// CountUsers returns the number of registered users
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM users")
	return n, err
}
