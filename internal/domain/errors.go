package domain

import "errors"

var (
	// ErrGameNotFound is returned when no game matches the given code.
	ErrGameNotFound = errors.New("game not found")
	// ErrRoundNotFound is returned when a round number does not exist for the game.
	ErrRoundNotFound = errors.New("round not found")
	// ErrPlayerNotFound is returned when a player id is unknown to the game.
	ErrPlayerNotFound = errors.New("player not found")
	// ErrGameAlreadyStarted is returned when joining or starting a game past WAITING.
	ErrGameAlreadyStarted = errors.New("game already started")
	// ErrGameNotInProgress is returned when submitting to a game that is not running.
	ErrGameNotInProgress = errors.New("game is not in progress")
	// ErrRoundClosed is returned when the round no longer accepts submissions.
	ErrRoundClosed = errors.New("round is not accepting submissions")
	// ErrCountdownExpired is returned when a submission arrives after the countdown deadline.
	ErrCountdownExpired = errors.New("round countdown has expired")
	// ErrAlreadySubmitted is returned on a second submission for the same (round, player).
	ErrAlreadySubmitted = errors.New("already submitted for this round")
)

// IsNotFound reports whether err belongs to the not-found class that
// transports map to 404.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrGameNotFound) ||
		errors.Is(err, ErrRoundNotFound) ||
		errors.Is(err, ErrPlayerNotFound)
}

// IsConflict reports whether err is a recoverable state conflict that
// transports map to 409. The caller retries a different operation or
// re-fetches state; the coordinator never retries on its own.
func IsConflict(err error) bool {
	return errors.Is(err, ErrGameAlreadyStarted) ||
		errors.Is(err, ErrGameNotInProgress) ||
		errors.Is(err, ErrRoundClosed) ||
		errors.Is(err, ErrCountdownExpired) ||
		errors.Is(err, ErrAlreadySubmitted)
}
