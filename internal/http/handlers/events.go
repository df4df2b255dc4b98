package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/recodarr/internal/events"
)

// EventsHandler streams pipeline events to clients over SSE.
type EventsHandler struct {
	bus               *events.Bus
	logger            *slog.Logger
	heartbeatInterval time.Duration
}

// NewEventsHandler creates a new SSE events handler.
func NewEventsHandler(bus *events.Bus, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		bus:               bus,
		logger:            logger.With("component", "sse"),
		heartbeatInterval: 30 * time.Second,
	}
}

// SetHeartbeatInterval sets the SSE heartbeat interval (for testing).
func (h *EventsHandler) SetHeartbeatInterval(interval time.Duration) {
	h.heartbeatInterval = interval
}

// RegisterChiRoutes registers the SSE endpoint on a chi router. Raw chi
// because huma does not support streaming responses.
func (h *EventsHandler) RegisterChiRoutes(r chi.Router) {
	r.Get("/api/v1/events", h.HandleEvents)
}

// HandleEvents is the raw HTTP handler for SSE streaming. Clients may
// narrow the stream with ?topics=progress,jobUpdate; with no filter every
// topic is delivered.
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Cache-Control")
	w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	sub := h.bus.Subscribe(parseTopics(r)...)
	defer h.bus.Unsubscribe(sub.ID)

	rc := http.NewResponseController(w)

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()

	// Initial comment establishes the connection and triggers onopen in
	// browsers.
	fmt.Fprintf(w, ":connected\n\n")
	if err := rc.Flush(); err != nil {
		h.logger.Error("failed to flush initial SSE connection", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				h.logger.Debug("heartbeat flush failed, client likely disconnected", "error", err)
				return
			}
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := h.writeEvent(w, event); err != nil {
				h.logger.Error("failed to write SSE event",
					"topic", event.Topic,
					"event_id", event.ID,
					"error", err,
				)
				return
			}
			if err := rc.Flush(); err != nil {
				h.logger.Debug("event flush failed, client likely disconnected",
					"topic", event.Topic,
					"error", err,
				)
				return
			}
		}
	}
}

// writeEvent writes one bus event in SSE format, in a single write.
func (h *EventsHandler) writeEvent(w http.ResponseWriter, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(w, "event: %s\ndata: {\"error\": \"marshal error\"}\n\n", event.Topic)
		return err
	}

	message := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Topic, data))
	n, err := w.Write(message)
	if err != nil {
		return err
	}
	if n < len(message) {
		return fmt.Errorf("short write: wrote %d of %d bytes", n, len(message))
	}
	return nil
}

// parseTopics reads the ?topics= filter. Unknown names are passed through
// to the bus, which simply never publishes them.
func parseTopics(r *http.Request) []events.Topic {
	raw := r.URL.Query().Get("topics")
	if raw == "" {
		return nil
	}
	var topics []events.Topic
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			topics = append(topics, events.Topic(name))
		}
	}
	return topics
}
