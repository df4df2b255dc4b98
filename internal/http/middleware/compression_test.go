package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

// markingCompressor tags every response it wraps so the bypass is
// observable without a real encoder.
func markingCompressor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Compressed", "1")
		next.ServeHTTP(w, r)
	})
}

func TestSkipCompressionForSSE(t *testing.T) {
	handler := SkipCompressionForSSE(markingCompressor)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	tests := []struct {
		name       string
		path       string
		accept     string
		compressed bool
	}{
		{"plain api request", "/api/v1/jobs", "application/json", true},
		{"accept header opts out", "/api/v1/jobs", "text/event-stream", false},
		{"event stream route", "/api/v1/events", "", false},
		{"unrelated route", "/api/v1/queue/stats", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if tt.compressed {
				assert.Equal(t, "1", rec.Header().Get("X-Compressed"))
			} else {
				assert.Empty(t, rec.Header().Get("X-Compressed"), "event streams must not be buffered by compression")
			}
		})
	}
}
