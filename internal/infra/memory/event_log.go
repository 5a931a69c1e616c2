package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"mathblitz-service/internal/domain"
)

// EventLog is an in-memory append-only event stream per game.
type EventLog struct {
	mu     sync.Mutex
	events map[string][]domain.GameEvent // by game id, append order
	clock  func() time.Time
}

func NewEventLog() *EventLog {
	return NewEventLogWithClock(time.Now)
}

// NewEventLogWithClock is test-only for deterministic event timestamps.
func NewEventLogWithClock(clock func() time.Time) *EventLog {
	return &EventLog{
		events: make(map[string][]domain.GameEvent),
		clock:  clock,
	}
}

func (l *EventLog) Append(_ context.Context, gameID string, eventType domain.EventType, payload map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events[gameID] = append(l.events[gameID], domain.GameEvent{
		ID:        uuid.NewString(),
		GameID:    gameID,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: l.clock(),
	})
	return nil
}

func (l *EventLog) ListSince(_ context.Context, gameID string, since time.Time) ([]domain.GameEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.GameEvent
	for _, ev := range l.events[gameID] {
		if ev.CreatedAt.After(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}
