package app

import (
	"context"
	"time"

	"mathblitz-service/internal/domain"
)

// RoundTimestamps carries the optional timestamps a status update may set.
type RoundTimestamps struct {
	StartedAt *time.Time
	EndedAt   *time.Time
}

// GameStore abstracts durable state for games, players, rounds, and
// submissions (Postgres, in-memory, etc). Lookups return the domain
// not-found sentinels; CreateSubmission returns ErrAlreadySubmitted on a
// duplicate (round, player) insert, which is the true duplicate guard
// under racing submissions.
type GameStore interface {
	CreateGame(ctx context.Context, gameCode string) (domain.Game, error)
	FindGameByCode(ctx context.Context, gameCode string) (domain.Game, error)
	FindGameWithPlayers(ctx context.Context, gameCode string) (domain.Game, []domain.Player, error)
	UpdateGameStatus(ctx context.Context, gameCode string, status domain.GameStatus) error
	UpdateGameCurrentRound(ctx context.Context, gameCode string, roundNumber int) error

	CreatePlayer(ctx context.Context, gameID, displayName, sessionToken string, isHost bool) (domain.Player, error)
	CountPlayers(ctx context.Context, gameID string) (int, error)

	CreateRounds(ctx context.Context, rounds []domain.Round) error
	FindRound(ctx context.Context, gameID string, roundNumber int) (domain.Round, error)
	UpdateRoundStatus(ctx context.Context, roundID string, status domain.RoundStatus, ts RoundTimestamps) error
	// ClaimFirstCorrect conditionally marks the round's first correct answer
	// and starts the countdown. It must be a single atomic conditional write:
	// it succeeds only if firstCorrectAt is still null, and exactly one of
	// any number of concurrent callers wins.
	ClaimFirstCorrect(ctx context.Context, roundID string, firstCorrectAt, countdownEndsAt time.Time) (bool, error)
	CountRoundsWithStatus(ctx context.Context, gameID string, status domain.RoundStatus) (int, error)

	CreateSubmission(ctx context.Context, sub domain.Submission) (domain.Submission, error)
	FindSubmission(ctx context.Context, roundID, playerID string) (*domain.Submission, error)
	CountSubmissionsForRound(ctx context.Context, roundID string) (int, error)
	CountCorrectSubmissionsForRound(ctx context.Context, roundID string) (int, error)
	CountSubmissionsForPlayer(ctx context.Context, playerID, gameID string) (int, error)
	SubmissionsForPlayer(ctx context.Context, playerID, gameID string) ([]domain.RoundResult, error)

	Leaderboard(ctx context.Context, gameID string) ([]domain.LeaderboardEntry, error)
}

// EventSink is an append-only per-game event stream read back by pollers
// and the websocket feed.
type EventSink interface {
	Append(ctx context.Context, gameID string, eventType domain.EventType, payload map[string]any) error
	ListSince(ctx context.Context, gameID string, since time.Time) ([]domain.GameEvent, error)
}

// Recorder receives lifecycle observations. The coordinator calls it and
// never reads it back.
type Recorder interface {
	GameCreated()
	GameFinished()
	RoundCompleted(duration time.Duration)
	Submission(correct bool)
	APIError()
}

// NopRecorder discards every observation.
type NopRecorder struct{}

func (NopRecorder) GameCreated()                 {}
func (NopRecorder) GameFinished()                {}
func (NopRecorder) RoundCompleted(time.Duration) {}
func (NopRecorder) Submission(bool)              {}
func (NopRecorder) APIError()                    {}
