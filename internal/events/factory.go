package events

import (
	"context"
	"fmt"

	"diffit/internal/config"
	"diffit/internal/diffit"
)

// NewPublisherFromConfig creates an EventPublisher based on the events config
// type. Callers should close the result when it implements io.Closer.
func NewPublisherFromConfig(ctx context.Context, cfg config.EventsConfig, logger diffit.Logger) (diffit.EventPublisher, error) {
	switch cfg.Type {
	case "", "none":
		return diffit.NopPublisher{}, nil
	case "memory":
		return NewMemoryPublisher(), nil
	case "redis":
		return NewRedisPublisher(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown events type: %s", cfg.Type)
	}
}
