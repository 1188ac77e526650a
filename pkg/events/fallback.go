package events

import (
	"context"
	"log/slog"
)

// FallbackPublisher drops every event
type FallbackPublisher struct {
	log *slog.Logger
}

// NewFallback creates a publisher that only logs
func NewFallback(logger *slog.Logger) Publisher {
	return &FallbackPublisher{log: logger}
}

func (p *FallbackPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	p.log.DebugContext(ctx, "skipped publish", slog.String("key", key), slog.String("id", msg.Meta.ID))
	return nil
}

func (p *FallbackPublisher) Close() error {
	return nil
}
