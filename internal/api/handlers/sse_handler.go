package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/providers"
)

// SSEHandler streams pipeline events as Server-Sent Events
type SSEHandler struct {
	eventBus  providers.EventBus
	heartbeat time.Duration
	clients   map[string]int // channel -> connected clients
	mu        sync.RWMutex
}

// NewSSEHandler creates a new SSE handler
func NewSSEHandler(eventBus providers.EventBus) *SSEHandler {
	return &SSEHandler{
		eventBus:  eventBus,
		heartbeat: 30 * time.Second,
		clients:   make(map[string]int),
	}
}

// StreamRunEvents handles GET /api/v1/cases/{runID}/events. Subscribe before
// submitting the run with the same run_id; the stream ends once the run
// reaches DONE or FAILED.
func (h *SSEHandler) StreamRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	if runID == "" {
		respondWithError(w, http.StatusBadRequest, "run ID is required")
		return
	}
	h.stream(w, r, providers.GetRunChannel(runID), map[string]interface{}{"run_id": runID}, true)
}

// StreamAllRuns handles GET /api/v1/events and never ends on its own
func (h *SSEHandler) StreamAllRuns(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, providers.EventChannelRuns, map[string]interface{}{}, false)
}

func (h *SSEHandler) stream(w http.ResponseWriter, r *http.Request, channel string, hello map[string]interface{}, untilTerminal bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	eventChan, err := h.eventBus.Subscribe(ctx, channel)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("channel", channel).Msg("failed to subscribe to channel")
		respondWithError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}

	h.registerClient(channel)
	defer h.unregisterClient(channel)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	hello["timestamp"] = time.Now()
	h.sendEvent(w, "connected", hello)
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Ctx(ctx).Debug().Str("channel", channel).Msg("client disconnected from event stream")
			return
		case <-ticker.C:
			h.sendEvent(w, "heartbeat", map[string]interface{}{
				"timestamp": time.Now(),
			})
			flusher.Flush()
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			h.sendEvent(w, eventName(event), event)
			flusher.Flush()
			if untilTerminal && event.State.Terminal() {
				return
			}
		}
	}
}

func eventName(event *entities.PipelineEvent) string {
	switch {
	case event.State == entities.StateDone:
		return "done"
	case event.State == entities.StateFailed:
		return "failed"
	case event.Attempt > 0:
		return "retry"
	default:
		return "transition"
	}
}

func (h *SSEHandler) registerClient(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[channel]++
}

func (h *SSEHandler) unregisterClient(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[channel]--
	if h.clients[channel] <= 0 {
		delete(h.clients, channel)
	}
}

// sendEvent sends an SSE event to the client
func (h *SSEHandler) sendEvent(w http.ResponseWriter, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Warn().Err(err).Msg("failed to marshal event data")
		return
	}

	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
}

// GetClientCount returns the number of connected clients
func (h *SSEHandler) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, n := range h.clients {
		count += n
	}
	return count
}
