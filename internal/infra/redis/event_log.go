package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mathblitz-service/internal/domain"
)

// EventLog keeps each game's lifecycle events in a Redis stream, one
// stream per game with a liveness TTL. Stream entry IDs double as the
// timestamp index for ListSince.
type EventLog struct {
	client *redis.Client
	ttl    time.Duration
}

func NewEventLog(client *redis.Client, ttl time.Duration) *EventLog {
	return &EventLog{client: client, ttl: ttl}
}

func (l *EventLog) key(gameID string) string {
	return "game:events:" + gameID
}

func (l *EventLog) Append(ctx context.Context, gameID string, eventType domain.EventType, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	key := l.key(gameID)
	if err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]any{
			"type":    string(eventType),
			"payload": string(data),
		},
	}).Err(); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if l.ttl > 0 {
		_ = l.client.Expire(ctx, key, l.ttl).Err()
	}
	return nil
}

func (l *EventLog) ListSince(ctx context.Context, gameID string, since time.Time) ([]domain.GameEvent, error) {
	start := "-"
	if since.UnixMilli() > 0 {
		start = strconv.FormatInt(since.UnixMilli(), 10) + "-0"
	}
	msgs, err := l.client.XRange(ctx, l.key(gameID), start, "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	var events []domain.GameEvent
	for _, msg := range msgs {
		createdAt, err := timeFromStreamID(msg.ID)
		if err != nil {
			return nil, err
		}
		// XRange start is inclusive at millisecond granularity; ListSince
		// is strictly-after.
		if !createdAt.After(since) {
			continue
		}
		eventType, _ := msg.Values["type"].(string)
		raw, _ := msg.Values["payload"].(string)
		var payload map[string]any
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &payload); err != nil {
				return nil, fmt.Errorf("unmarshal event payload: %w", err)
			}
		}
		events = append(events, domain.GameEvent{
			ID:        msg.ID,
			GameID:    gameID,
			Type:      domain.EventType(eventType),
			Payload:   payload,
			CreatedAt: createdAt,
		})
	}
	return events, nil
}

func timeFromStreamID(id string) (time.Time, error) {
	msPart, _, ok := strings.Cut(id, "-")
	if !ok {
		return time.Time{}, fmt.Errorf("malformed stream id %q", id)
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed stream id %q", id)
	}
	return time.UnixMilli(ms), nil
}
