package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LogSink writes events to the structured log. Used when no external
// notification channel is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Deliver logs the event.
func (s *LogSink) Deliver(_ context.Context, event Event) error {
	s.logger.Info("registrar_event",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("student_id", event.StudentID),
		zap.String("section_id", event.SectionID),
		zap.String("enrollment_id", event.EnrollmentID),
		zap.String("rule", event.Rule),
	)
	return nil
}

// RedisSink publishes events as JSON on a Redis channel for downstream
// notification consumers.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink constructs a RedisSink.
func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Deliver publishes the event.
func (s *RedisSink) Deliver(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}
	return nil
}
