// --- File: pushrelay/relay_service_test.go ---
package pushrelay_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-push-relay/internal/metrics"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
	"github.com/tinywideclouds/go-push-relay/pushrelay"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"
)

// --- MOCKS ---

type recordingDispatcher struct {
	mu         sync.Mutex
	single     []string
	multicasts [][]string
	lastTitle  string
}

func (m *recordingDispatcher) DispatchOne(_ context.Context, token string, content notification.NotificationContent) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.single = append(m.single, token)
	m.lastTitle = content.Title
	return "projects/test/messages/1", nil
}

func (m *recordingDispatcher) DispatchMany(_ context.Context, tokens []string, content notification.NotificationContent) (*relay.MulticastOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.multicasts = append(m.multicasts, tokens)
	m.lastTitle = content.Title
	return &relay.MulticastOutcome{TargetCount: len(tokens), SuccessCount: len(tokens)}, nil
}

func (m *recordingDispatcher) snapshot() ([]string, [][]string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.single...), append([][]string(nil), m.multicasts...), m.lastTitle
}

type staticResolver map[string][]string

func (r staticResolver) Resolve(_ context.Context, groupID string) ([]string, error) {
	return r[groupID], nil
}

func newTestService(t *testing.T) *pushrelay.Wrapper {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	require.NoError(t, err)
	m.ObserveResolve(0)

	svc, err := pushrelay.New(
		&config.Config{ServiceName: "push-relay", ListenAddr: ":0", MetricsPath: "/relay/metrics"},
		nil,
		&recordingDispatcher{},
		staticResolver{},
		registry,
		logger,
	)
	require.NoError(t, err)
	return svc
}

func TestRelayService_Routes(t *testing.T) {
	svc := newTestService(t)

	t.Run("Home", func(t *testing.T) {
		rec := httptest.NewRecorder()
		svc.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "push-relay active", rec.Body.String())
	})

	t.Run("Direct send", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/send_notification", strings.NewReader(`{"token":"abc"}`))
		svc.Mux().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true,"response":"projects/test/messages/1"}`, rec.Body.String())
	})

	t.Run("Empty group", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/send_notification_group", strings.NewReader(`{"vacanza_id":"v0"}`))
		svc.Mux().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true,"tokens_sent":0}`, rec.Body.String())
	})

	t.Run("Preflight on every route", func(t *testing.T) {
		for _, path := range []string{"/", "/send_notification", "/send_notification_group"} {
			rec := httptest.NewRecorder()
			svc.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, path, nil))

			assert.NotEqual(t, http.StatusNotFound, rec.Code, path)
			assert.NotEqual(t, http.StatusMethodNotAllowed, rec.Code, path)
		}
	})

	t.Run("Base server health route still served", func(t *testing.T) {
		rec := httptest.NewRecorder()
		svc.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.NotEqual(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Metrics exposed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		svc.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/relay/metrics", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "push_relay_resolved_tokens")
	})
}
