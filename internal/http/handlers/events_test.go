package handlers

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/recodarr/internal/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseTopics(t *testing.T) {
	t.Run("no filter means all topics", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
		assert.Nil(t, parseTopics(req))
	})

	t.Run("comma separated list", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/events?topics=progress,%20jobUpdate,", nil)
		topics := parseTopics(req)
		assert.Equal(t, []events.Topic{events.TopicProgress, events.TopicJobUpdate}, topics)
	})
}

func TestEventsHandler_Stream(t *testing.T) {
	bus := events.NewBus(discardLogger())
	defer bus.Close()

	h := NewEventsHandler(bus, discardLogger())
	h.SetHeartbeatInterval(time.Hour)

	router := chi.NewRouter()
	h.RegisterChiRoutes(router)

	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events?topics=progress", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ":connected", strings.TrimSpace(line))

	// Wait for the subscriber registration before publishing.
	require.Eventually(t, func() bool {
		return bus.SubscriberCount() == 1
	}, time.Second, 10*time.Millisecond)

	// A filtered-out topic must not appear before the wanted one.
	bus.Publish(events.TopicConfigChanged, map[string]any{"key": "ffmpeg.crf"})
	bus.Publish(events.TopicProgress, map[string]any{"job_id": 1, "percent": 42.0})

	var eventLine, dataLine string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}

	assert.Equal(t, "event: progress", eventLine)
	assert.Contains(t, dataLine, `"topic":"progress"`)
	assert.Contains(t, dataLine, `"job_id":1`)
	assert.NotContains(t, dataLine, "configChanged")
}
