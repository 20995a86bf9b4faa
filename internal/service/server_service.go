package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mcstore/internal/models"
	"mcstore/internal/store"
	"mcstore/internal/util"

	"go.uber.org/zap"
)

const (
	ServerOnline  = "online"
	ServerOffline = "offline"

	// statsStaleAfter is how long without a push before the server counts as offline
	statsStaleAfter = 90 * time.Second

	trendDays = 7
)

// ServerService stores plugin-pushed server stats and builds the admin dashboard
type ServerService struct {
	store  StatsStore
	now    func() time.Time
	logger *zap.Logger
}

// NewServerService creates a new server stats service
func NewServerService(store StatsStore) *ServerService {
	return &ServerService{
		store:  store,
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// StatsUpdate is the plugin's periodic push
type StatsUpdate struct {
	OnlinePlayers   *int `json:"onlinePlayers"`
	MaxPlayers      *int `json:"maxPlayers"`
	NewPlayersToday *int `json:"newPlayersToday"`
}

// Dashboard is the admin overview. Server stats are flattened into the same object.
type Dashboard struct {
	models.DashboardCounts
	models.ServerStats
}

// UpdateStats records a push from the plugin and marks the server online
func (ss *ServerService) UpdateStats(ctx context.Context, in *StatsUpdate) error {
	ctx, span := util.StartSpan(ctx, "ServerService.UpdateStats")
	defer span.End()

	if in.OnlinePlayers == nil || in.MaxPlayers == nil || in.NewPlayersToday == nil {
		return newError(ErrInvalidInput, "Missing required stats fields.")
	}

	now := ss.now().UTC()
	stats := &models.ServerStats{
		OnlinePlayers:   *in.OnlinePlayers,
		MaxPlayers:      *in.MaxPlayers,
		NewPlayersToday: *in.NewPlayersToday,
		ServerStatus:    ServerOnline,
		LastUpdated:     &now,
	}
	if err := ss.store.UpsertServerStats(ctx, stats); err != nil {
		return fmt.Errorf("failed to store server stats: %w", err)
	}
	return nil
}

// Stats returns the stored stats, or offline zeros before the first push
func (ss *ServerService) Stats(ctx context.Context) (*models.ServerStats, error) {
	ctx, span := util.StartSpan(ctx, "ServerService.Stats")
	defer span.End()

	stats, err := ss.store.GetServerStats(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return &models.ServerStats{ServerStatus: ServerOffline}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load server stats: %w", err)
	}
	return stats, nil
}

// PublicStats is Stats with the status forced offline once the last push is stale
func (ss *ServerService) PublicStats(ctx context.Context) (*models.ServerStats, error) {
	stats, err := ss.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if stats.LastUpdated == nil || ss.now().Sub(*stats.LastUpdated) > statsStaleAfter {
		stats.ServerStatus = ServerOffline
		stats.OnlinePlayers = 0
	}
	return stats, nil
}

// Dashboard gathers the admin overview. Each count fails independently and is logged.
func (ss *ServerService) Dashboard(ctx context.Context) (*Dashboard, error) {
	ctx, span := util.StartSpan(ctx, "ServerService.Dashboard")
	defer span.End()

	d := &Dashboard{}
	var err error

	if d.TotalUsers, err = ss.store.CountUsers(ctx); err != nil {
		ss.logger.Error("Dashboard: failed to count users", zap.Error(err))
	}
	if d.TotalProducts, err = ss.store.CountProducts(ctx); err != nil {
		ss.logger.Error("Dashboard: failed to count products", zap.Error(err))
	}
	if d.TotalOrders, err = ss.store.CountOrders(ctx); err != nil {
		ss.logger.Error("Dashboard: failed to count orders", zap.Error(err))
	}
	if d.OrderStatusCounts, err = ss.store.CountOrdersByStatus(ctx); err != nil {
		ss.logger.Error("Dashboard: failed to count orders by status", zap.Error(err))
	}
	if d.OrderStatusCounts == nil {
		d.OrderStatusCounts = map[string]int{}
	}

	stats, err := ss.PublicStats(ctx)
	if err != nil {
		ss.logger.Error("Dashboard: failed to load server stats", zap.Error(err))
		stats = &models.ServerStats{ServerStatus: ServerOffline}
	}
	d.ServerStats = *stats
	return d, nil
}

// RegistrationTrends counts new accounts per day over the last week, today included
func (ss *ServerService) RegistrationTrends(ctx context.Context) ([]models.TrendPoint, error) {
	ctx, span := util.StartSpan(ctx, "ServerService.RegistrationTrends")
	defer span.End()

	start := ss.trendStart()
	counts, err := ss.store.CountRegistrationsSince(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("failed to count registrations: %w", err)
	}
	return buildTrend(start, counts), nil
}

// NewPlayerTrends returns the plugin-reported new players per day over the last week
func (ss *ServerService) NewPlayerTrends(ctx context.Context) ([]models.TrendPoint, error) {
	ctx, span := util.StartSpan(ctx, "ServerService.NewPlayerTrends")
	defer span.End()

	start := ss.trendStart()
	counts, err := ss.store.GetDailyNewPlayers(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("failed to load daily stats: %w", err)
	}
	return buildTrend(start, counts), nil
}

// trendStart is midnight UTC of the first day in the trend window
func (ss *ServerService) trendStart() time.Time {
	today := ss.now().UTC().Truncate(24 * time.Hour)
	return today.AddDate(0, 0, -(trendDays - 1))
}

// buildTrend lays counts onto consecutive days from start, zero-filling gaps
func buildTrend(start time.Time, counts []models.DailyCount) []models.TrendPoint {
	byDay := make(map[string]int, len(counts))
	for _, c := range counts {
		byDay[c.Day] = c.Count
	}

	points := make([]models.TrendPoint, 0, trendDays)
	for i := 0; i < trendDays; i++ {
		day := start.AddDate(0, 0, i)
		key := day.Format("2006-01-02")
		points = append(points, models.TrendPoint{
			Date:  key,
			Name:  day.Format("Jan 2"),
			Count: byDay[key],
		})
	}
	return points
}
