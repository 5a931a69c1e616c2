package postgres

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/jackc/pgx/v4/pgxpool"

	"mathblitz-service/internal/domain"
)

// AnalyticsRepo answers the cross-game stat queries with raw SQL over a
// pgx pool, read-only alongside the bun store.
type AnalyticsRepo struct {
	pool *pgxpool.Pool
}

func NewAnalyticsRepo(pool *pgxpool.Pool) *AnalyticsRepo {
	return &AnalyticsRepo{pool: pool}
}

func (r *AnalyticsRepo) Overview(ctx context.Context) (domain.OverviewStats, error) {
	var stats domain.OverviewStats
	var totalCorrect int
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM games WHERE status = 'FINISHED'),
			(SELECT COUNT(*) FROM players),
			(SELECT COUNT(*) FROM rounds WHERE status = 'ENDED'),
			(SELECT COUNT(*) FROM submissions),
			(SELECT COUNT(*) FROM submissions WHERE is_correct)
	`).Scan(&stats.TotalGames, &stats.TotalPlayers, &stats.TotalRounds,
		&stats.TotalSubmissions, &totalCorrect)
	if err != nil {
		return domain.OverviewStats{}, fmt.Errorf("overview stats: %w", err)
	}
	if stats.TotalSubmissions > 0 {
		stats.OverallAccuracyPct = roundPct(float64(totalCorrect) / float64(stats.TotalSubmissions))
	}
	return stats, nil
}

func (r *AnalyticsRepo) PlayerAccuracy(ctx context.Context, limit int) ([]domain.PlayerAccuracyEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.display_name,
		       COUNT(DISTINCT p.game_id) AS games_played,
		       COUNT(s.id) AS total_submissions,
		       COUNT(s.id) FILTER (WHERE s.is_correct) AS correct_count,
		       COALESCE(ROUND(AVG(COALESCE(s.time_taken_ms, 0)) FILTER (WHERE s.is_correct)), 0)::int AS avg_time_ms,
		       COALESCE(SUM(s.score), 0) AS total_score
		FROM players p
		JOIN games g ON g.id = p.game_id AND g.status = 'FINISHED'
		LEFT JOIN submissions s ON s.player_id = p.id
		GROUP BY p.display_name
	`)
	if err != nil {
		return nil, fmt.Errorf("player accuracy: %w", err)
	}
	defer rows.Close()

	var entries []domain.PlayerAccuracyEntry
	for rows.Next() {
		var e domain.PlayerAccuracyEntry
		if err := rows.Scan(&e.DisplayName, &e.GamesPlayed, &e.TotalSubmissions,
			&e.CorrectCount, &e.AvgTimeMsCorrect, &e.TotalScore); err != nil {
			return nil, err
		}
		if e.TotalSubmissions > 0 {
			e.AccuracyPct = roundPct(float64(e.CorrectCount) / float64(e.TotalSubmissions))
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortPlayerAccuracy(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (r *AnalyticsRepo) RoundDifficulty(ctx context.Context) ([]domain.RoundDifficultyEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT rd.round_number,
		       COUNT(s.id) AS total_attempts,
		       COUNT(s.id) FILTER (WHERE s.is_correct) AS correct_count,
		       COALESCE(ROUND(AVG(COALESCE(s.time_taken_ms, 0)) FILTER (WHERE s.is_correct)), 0)::int AS avg_solve_time_ms
		FROM submissions s
		JOIN rounds rd ON rd.id = s.round_id AND rd.status = 'ENDED'
		GROUP BY rd.round_number
		ORDER BY rd.round_number ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("round difficulty: %w", err)
	}
	defer rows.Close()

	var entries []domain.RoundDifficultyEntry
	for rows.Next() {
		var e domain.RoundDifficultyEntry
		if err := rows.Scan(&e.RoundNumber, &e.TotalAttempts, &e.CorrectCount, &e.AvgSolveTimeMs); err != nil {
			return nil, err
		}
		if e.TotalAttempts > 0 {
			e.FailRatePct = roundPct(float64(e.TotalAttempts-e.CorrectCount) / float64(e.TotalAttempts))
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *AnalyticsRepo) RecentGames(ctx context.Context, limit int) ([]domain.GameSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT g.game_code, g.created_at,
		       (SELECT COUNT(*) FROM players p WHERE p.game_id = g.id) AS player_count,
		       COALESCE(MAX(ps.total), 0) AS max_score,
		       COALESCE(MIN(ps.total), 0) AS min_score,
		       COALESCE(ROUND(AVG(ps.total)), 0)::int AS avg_score,
		       COALESCE((
		           SELECT ROUND(AVG(EXTRACT(EPOCH FROM (rd.ended_at - rd.started_at)) * 1000))
		           FROM rounds rd
		           WHERE rd.game_id = g.id AND rd.status = 'ENDED'
		             AND rd.started_at IS NOT NULL AND rd.ended_at IS NOT NULL
		       ), 0)::int AS avg_round_duration_ms
		FROM games g
		LEFT JOIN (
		    SELECT p.game_id, p.id, COALESCE(SUM(s.score), 0) AS total
		    FROM players p
		    LEFT JOIN submissions s ON s.player_id = p.id
		    GROUP BY p.game_id, p.id
		) ps ON ps.game_id = g.id
		WHERE g.status = 'FINISHED'
		GROUP BY g.id, g.game_code, g.created_at
		ORDER BY g.created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent games: %w", err)
	}
	defer rows.Close()

	var entries []domain.GameSummary
	for rows.Next() {
		var e domain.GameSummary
		if err := rows.Scan(&e.GameCode, &e.CreatedAt, &e.PlayerCount,
			&e.MaxScore, &e.MinScore, &e.AvgScore, &e.AvgRoundDurationMs); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *AnalyticsRepo) FirstCorrectLeaders(ctx context.Context, limit int) ([]domain.FirstCorrectEntry, error) {
	// The earliest correct submission per ended round is the first-correct
	// winner; first_correct_at on the round records the moment but not who.
	rows, err := r.pool.Query(ctx, `
		SELECT p.display_name, COUNT(*) AS first_correct_count
		FROM (
		    SELECT DISTINCT ON (s.round_id) s.round_id, s.player_id
		    FROM submissions s
		    JOIN rounds rd ON rd.id = s.round_id AND rd.status = 'ENDED'
		    WHERE s.is_correct
		    ORDER BY s.round_id, s.created_at ASC
		) firsts
		JOIN players p ON p.id = firsts.player_id
		GROUP BY p.display_name
		ORDER BY first_correct_count DESC, p.display_name ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("first correct leaders: %w", err)
	}
	defer rows.Close()

	var entries []domain.FirstCorrectEntry
	for rows.Next() {
		var e domain.FirstCorrectEntry
		if err := rows.Scan(&e.DisplayName, &e.FirstCorrectCount); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// roundPct converts a ratio to a percentage with one decimal place.
func roundPct(ratio float64) float64 {
	return math.Round(ratio*1000) / 10
}

func sortPlayerAccuracy(entries []domain.PlayerAccuracyEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AccuracyPct != entries[j].AccuracyPct {
			return entries[i].AccuracyPct > entries[j].AccuracyPct
		}
		return entries[i].TotalScore > entries[j].TotalScore
	})
}
