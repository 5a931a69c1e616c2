package app

import (
	"context"

	"mathblitz-service/internal/domain"
)

// AnalyticsRepo provides the cross-game aggregate projections. Only the
// Postgres infra implements it; analytics are unavailable in memory mode.
type AnalyticsRepo interface {
	Overview(ctx context.Context) (domain.OverviewStats, error)
	PlayerAccuracy(ctx context.Context, limit int) ([]domain.PlayerAccuracyEntry, error)
	RoundDifficulty(ctx context.Context) ([]domain.RoundDifficultyEntry, error)
	RecentGames(ctx context.Context, limit int) ([]domain.GameSummary, error)
	FirstCorrectLeaders(ctx context.Context, limit int) ([]domain.FirstCorrectEntry, error)
}

const (
	playerLeaderboardLimit = 20
	recentGamesLimit       = 10
	firstCorrectLimit      = 10
)

// AnalyticsService assembles the stats dashboard from the repo projections.
type AnalyticsService struct {
	repo AnalyticsRepo
}

func NewAnalyticsService(repo AnalyticsRepo) *AnalyticsService {
	return &AnalyticsService{repo: repo}
}

func (s *AnalyticsService) Dashboard(ctx context.Context) (domain.AnalyticsDashboard, error) {
	overview, err := s.repo.Overview(ctx)
	if err != nil {
		return domain.AnalyticsDashboard{}, err
	}
	players, err := s.repo.PlayerAccuracy(ctx, playerLeaderboardLimit)
	if err != nil {
		return domain.AnalyticsDashboard{}, err
	}
	rounds, err := s.repo.RoundDifficulty(ctx)
	if err != nil {
		return domain.AnalyticsDashboard{}, err
	}
	recent, err := s.repo.RecentGames(ctx, recentGamesLimit)
	if err != nil {
		return domain.AnalyticsDashboard{}, err
	}
	leaders, err := s.repo.FirstCorrectLeaders(ctx, firstCorrectLimit)
	if err != nil {
		return domain.AnalyticsDashboard{}, err
	}

	return domain.AnalyticsDashboard{
		Overview:            overview,
		PlayerLeaderboard:   players,
		RoundDifficulty:     rounds,
		RecentGames:         recent,
		FirstCorrectLeaders: leaders,
	}, nil
}
