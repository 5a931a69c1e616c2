package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"mathblitz-service/internal/domain"
)

type eventRow struct {
	bun.BaseModel `bun:"table:game_events,alias:e"`

	ID        string    `bun:"id,pk"`
	GameID    string    `bun:"game_id"`
	Type      string    `bun:"type"`
	Payload   []byte    `bun:"payload,type:jsonb"`
	CreatedAt time.Time `bun:"created_at"`
}

// EventLog stores lifecycle events in the game_events table.
type EventLog struct {
	db *bun.DB
}

func NewEventLog(db *bun.DB) *EventLog {
	return &EventLog{db: db}
}

func (l *EventLog) Append(ctx context.Context, gameID string, eventType domain.EventType, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	row := eventRow{
		ID:        uuid.NewString(),
		GameID:    gameID,
		Type:      string(eventType),
		Payload:   data,
		CreatedAt: time.Now(),
	}
	if _, err := l.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (l *EventLog) ListSince(ctx context.Context, gameID string, since time.Time) ([]domain.GameEvent, error) {
	var rows []eventRow
	err := l.db.NewSelect().Model(&rows).
		Where("game_id = ?", gameID).
		Where("created_at > ?", since).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	events := make([]domain.GameEvent, 0, len(rows))
	for _, row := range rows {
		var payload map[string]any
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
		events = append(events, domain.GameEvent{
			ID:        row.ID,
			GameID:    row.GameID,
			Type:      domain.EventType(row.Type),
			Payload:   payload,
			CreatedAt: row.CreatedAt,
		})
	}
	return events, nil
}
