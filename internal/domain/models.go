package domain

import "time"

// GameStatus tracks the lifecycle of a game: WAITING until the host starts
// it, IN_PROGRESS while rounds are being played, FINISHED after round 10.
type GameStatus string

const (
	GameWaiting    GameStatus = "WAITING"
	GameInProgress GameStatus = "IN_PROGRESS"
	GameFinished   GameStatus = "FINISHED"
)

// RoundStatus tracks a single round. COUNTDOWN is entered only when the
// first correct answer lands; ENDED is terminal.
type RoundStatus string

const (
	RoundPending   RoundStatus = "PENDING"
	RoundActive    RoundStatus = "ACTIVE"
	RoundCountdown RoundStatus = "COUNTDOWN"
	RoundEnded     RoundStatus = "ENDED"
)

// Game is a single play session joined by code.
type Game struct {
	ID                 string
	GameCode           string
	Status             GameStatus
	CurrentRoundNumber int
	CreatedAt          time.Time
}

// Player belongs to exactly one game. The session token is handed out once
// at join time and never exposed again.
type Player struct {
	ID           string
	GameID       string
	DisplayName  string
	SessionToken string
	IsHost       bool
	JoinedAt     time.Time
}

// Round is one equation within a game, unique per (game, round number).
type Round struct {
	ID              string
	GameID          string
	RoundNumber     int
	EquationText    string
	CorrectAnswer   float64
	Status          RoundStatus
	StartedAt       *time.Time
	FirstCorrectAt  *time.Time
	CountdownEndsAt *time.Time
	EndedAt         *time.Time
}

// Submission is a player's answer to a round. At most one exists per
// (round, player); it is never edited after creation.
type Submission struct {
	ID          string
	RoundID     string
	PlayerID    string
	Answer      float64
	IsCorrect   bool
	Score       int
	TimeTakenMs *int
	CreatedAt   time.Time
}

// JoinCredentials is returned from create/join. The session token appears
// here and nowhere else.
type JoinCredentials struct {
	GameCode     string `json:"gameCode"`
	PlayerID     string `json:"playerId"`
	SessionToken string `json:"sessionToken"`
	IsHost       bool   `json:"isHost"`
}

// PlayerInfo is the roster view of a player, without the session token.
type PlayerInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	IsHost      bool   `json:"isHost"`
}

// RoundView is the per-player view of the current round.
type RoundView struct {
	RoundNumber     int         `json:"roundNumber"`
	EquationText    string      `json:"equationText"`
	Status          RoundStatus `json:"status"`
	StartedAt       *time.Time  `json:"startedAt"`
	CountdownEndsAt *time.Time  `json:"countdownEndsAt"`
	HasSubmitted    bool        `json:"hasSubmitted"`
}

// GameState is the polled snapshot clients render from.
type GameState struct {
	GameCode           string       `json:"gameCode"`
	Status             GameStatus   `json:"status"`
	CurrentRound       *RoundView   `json:"currentRound"`
	TotalRounds        int          `json:"totalRounds"`
	CompletedRounds    int          `json:"completedRounds"`
	CurrentRoundNumber int          `json:"currentRoundNumber"`
	Players            []PlayerInfo `json:"players"`
}

// SubmitResult is what a player gets back for an accepted submission.
type SubmitResult struct {
	IsCorrect       bool    `json:"isCorrect"`
	CorrectAnswer   float64 `json:"correctAnswer"`
	RoundNumber     int     `json:"roundNumber"`
	Score           int     `json:"score"`
	NextRoundNumber *int    `json:"nextRoundNumber"`
}

// LeaderboardEntry ranks a player within one game. Ordering is total score
// desc, then correct count desc, then average time asc.
type LeaderboardEntry struct {
	PlayerID      string `json:"playerId"`
	DisplayName   string `json:"displayName"`
	TotalScore    int    `json:"totalScore"`
	CorrectCount  int    `json:"correctCount"`
	AverageTimeMs int    `json:"averageTimeMs"`
}

// RoundResult is one row of a player's per-round report.
type RoundResult struct {
	RoundNumber   int     `json:"roundNumber"`
	EquationText  string  `json:"equationText"`
	CorrectAnswer float64 `json:"correctAnswer"`
	PlayerAnswer  float64 `json:"playerAnswer"`
	IsCorrect     bool    `json:"isCorrect"`
	TimeTakenMs   *int    `json:"timeTakenMs"`
	Score         int     `json:"score"`
}

// GameReport aggregates a single player's results plus the final standings.
type GameReport struct {
	GameCode       string             `json:"gameCode"`
	TotalRounds    int                `json:"totalRounds"`
	CorrectCount   int                `json:"correctCount"`
	IncorrectCount int                `json:"incorrectCount"`
	TotalScore     int                `json:"totalScore"`
	Rounds         []RoundResult      `json:"rounds"`
	Leaderboard    []LeaderboardEntry `json:"leaderboard"`
}
