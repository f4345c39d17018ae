package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/providers"
)

// LocalEventBus delivers events within the process. It backs the event
// stream when Redis is disabled.
type LocalEventBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan *entities.PipelineEvent]struct{}
	closed      bool
}

// NewLocalEventBus creates an in-process event bus
func NewLocalEventBus() providers.EventBus {
	return &LocalEventBus{subscribers: make(map[string]map[chan *entities.PipelineEvent]struct{})}
}

// Publish delivers the event to current subscribers without blocking
func (b *LocalEventBus) Publish(_ context.Context, channel string, event *entities.PipelineEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers[channel] {
		select {
		case sub <- event:
		default:
			log.Warn().Str("channel", channel).Str("run_id", event.RunID).Msg("subscriber channel full, dropping event")
		}
	}
	return nil
}

// Subscribe returns a channel closed when ctx ends or the bus closes
func (b *LocalEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.PipelineEvent, error) {
	ch := make(chan *entities.PipelineEvent, 100)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, nil
	}
	if b.subscribers[channel] == nil {
		b.subscribers[channel] = make(map[chan *entities.PipelineEvent]struct{})
	}
	b.subscribers[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(channel, ch)
	}()
	return ch, nil
}

func (b *LocalEventBus) remove(channel string, ch chan *entities.PipelineEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subscribers[channel]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, channel)
	}
}

// Close closes every subscriber channel
func (b *LocalEventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for channel, subs := range b.subscribers {
		for ch := range subs {
			close(ch)
		}
		delete(b.subscribers, channel)
	}
	b.closed = true
	return nil
}
