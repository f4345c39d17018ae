package providers

import (
	"context"

	"github.com/zatekoja/amrguard/internal/domain/entities"
)

// EventBus defines the interface for publishing and subscribing to pipeline events
type EventBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, channel string, event *entities.PipelineEvent) error

	// Subscribe subscribes to events on a channel
	Subscribe(ctx context.Context, channel string) (<-chan *entities.PipelineEvent, error)

	// Close closes the event bus and all subscriptions
	Close() error
}

// EventChannel constants for pipeline events
const (
	// EventChannelRuns carries transitions of every run
	EventChannelRuns = "pipeline:runs"

	// EventChannelRunPrefix is the prefix for run-specific channels
	EventChannelRunPrefix = "pipeline:run:"
)

// GetRunChannel returns the channel name for a specific run
func GetRunChannel(runID string) string {
	return EventChannelRunPrefix + runID
}
