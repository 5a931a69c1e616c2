package domain

import "time"

// OverviewStats summarizes all finished games in the store.
type OverviewStats struct {
	TotalGames         int     `json:"totalGames"`
	TotalPlayers       int     `json:"totalPlayers"`
	TotalRounds        int     `json:"totalRounds"`
	TotalSubmissions   int     `json:"totalSubmissions"`
	OverallAccuracyPct float64 `json:"overallAccuracyPct"`
}

// PlayerAccuracyEntry aggregates a display name across finished games.
type PlayerAccuracyEntry struct {
	DisplayName      string  `json:"displayName"`
	GamesPlayed      int     `json:"gamesPlayed"`
	TotalSubmissions int     `json:"totalSubmissions"`
	CorrectCount     int     `json:"correctCount"`
	AccuracyPct      float64 `json:"accuracyPct"`
	AvgTimeMsCorrect int     `json:"avgTimeMsCorrect"`
	TotalScore       int     `json:"totalScore"`
}

// RoundDifficultyEntry shows how hard each round number plays in practice.
type RoundDifficultyEntry struct {
	RoundNumber    int     `json:"roundNumber"`
	TotalAttempts  int     `json:"totalAttempts"`
	CorrectCount   int     `json:"correctCount"`
	FailRatePct    float64 `json:"failRatePct"`
	AvgSolveTimeMs int     `json:"avgSolveTimeMs"`
}

// GameSummary describes how competitive a recent finished game was.
type GameSummary struct {
	GameCode           string    `json:"gameCode"`
	PlayerCount        int       `json:"playerCount"`
	MaxScore           int       `json:"maxScore"`
	MinScore           int       `json:"minScore"`
	AvgScore           int       `json:"avgScore"`
	AvgRoundDurationMs int       `json:"avgRoundDurationMs"`
	CreatedAt          time.Time `json:"createdAt"`
}

// FirstCorrectEntry counts how often a display name answered first.
type FirstCorrectEntry struct {
	DisplayName       string `json:"displayName"`
	FirstCorrectCount int    `json:"firstCorrectCount"`
}

// AnalyticsDashboard bundles every analytics projection for one response.
type AnalyticsDashboard struct {
	Overview            OverviewStats          `json:"overview"`
	PlayerLeaderboard   []PlayerAccuracyEntry  `json:"playerLeaderboard"`
	RoundDifficulty     []RoundDifficultyEntry `json:"roundDifficulty"`
	RecentGames         []GameSummary          `json:"recentGames"`
	FirstCorrectLeaders []FirstCorrectEntry    `json:"firstCorrectLeaders"`
}
