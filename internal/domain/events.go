package domain

import "time"

// EventType enumerates lifecycle events appended to a game's event log.
type EventType string

const (
	EventPlayerJoined     EventType = "PLAYER_JOINED"
	EventGameStarted      EventType = "GAME_STARTED"
	EventRoundStarted     EventType = "ROUND_STARTED"
	EventAnswerSubmitted  EventType = "ANSWER_SUBMITTED"
	EventFirstCorrect     EventType = "FIRST_CORRECT"
	EventCountdownStarted EventType = "COUNTDOWN_STARTED"
	EventRoundEnded       EventType = "ROUND_ENDED"
	EventGameEnded        EventType = "GAME_ENDED"
	// EventLeaderboardUpdated is reserved; nothing emits it today.
	EventLeaderboardUpdated EventType = "LEADERBOARD_UPDATED"
)

// GameEvent is one append-only record in a game's event stream.
type GameEvent struct {
	ID        string         `json:"id"`
	GameID    string         `json:"-"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"timestamp"`
}
