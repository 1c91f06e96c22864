package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"treasuryd/config"
	"treasuryd/state"
	"treasuryd/storage"
)

type stubRuntime struct {
	rt state.RuntimeStatus
}

var _ Runtime = (*stubRuntime)(nil)

func (s *stubRuntime) Status() state.RuntimeStatus { return s.rt }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const serverNowMs = int64(10_000_000)

func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "state.json"), testLogger())
	require.NoError(t, err)
	cfg := Config{
		Server: config.Server{
			Host:              "127.0.0.1",
			Port:              0,
			StaleAfterSeconds: 60,
			ControlRatePerSec: 100,
			ControlBurst:      100,
		},
		Manifest: config.Manifest{
			Token: config.Token{Symbol: "USDC", Address: "0x00000000000000000000000000000000000000bb", Decimals: 6},
			Pools: []config.Pool{{ID: "pool-a", Enabled: true, Tier: "S"}},
		},
		Store:    store,
		Runtime:  &stubRuntime{rt: state.RuntimeStatus{StartedAt: serverNowMs - 5_000}},
		Operator: state.NewOperator(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := New(cfg, testLogger())
	srv.now = func() time.Time { return time.UnixMilli(serverNowMs) }
	return srv
}

func do(srv *Server, method, target string, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthzReflectsProbe(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := do(srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, reasonStarting, body["reason"])

	stale := newTestServer(t, func(cfg *Config) {
		cfg.Runtime = &stubRuntime{rt: state.RuntimeStatus{StartedAt: serverNowMs - 300_000}}
	})
	rec = do(stale, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "unhealthy", body["status"])
	require.Equal(t, reasonTickNotStarted, body["reason"])
}

func TestReadyzRequiresRecentSuccess(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := do(srv, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ready := newTestServer(t, func(cfg *Config) {
		cfg.Runtime = &stubRuntime{rt: state.RuntimeStatus{
			StartedAt:            serverNowMs - 900_000,
			LastTickStartedAt:    serverNowMs - 30_000,
			LastTickFinishedAt:   serverNowMs - 29_000,
			LastSuccessfulTickAt: serverNowMs - 29_000,
		}}
	})
	rec = do(ready, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ready", body["status"])
	require.Equal(t, reasonOK, body["reason"])
}

func TestStateRequiresTokenWhenConfigured(t *testing.T) {
	srv := newTestServer(t, func(cfg *Config) {
		cfg.Server.AuthToken = "secret"
	})

	rec := do(srv, http.MethodGet, "/state", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	req.Header.Set(authHeader, "wrong")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/state", nil)
	req.Header.Set(authHeader, "secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(srv, http.MethodGet, "/state?token=secret", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "runtime")
	require.Contains(t, body, "operator")
	require.Contains(t, body, "state")
}

func TestHealthzSkipsAuth(t *testing.T) {
	srv := newTestServer(t, func(cfg *Config) {
		cfg.Server.AuthToken = "secret"
	})
	rec := do(srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestControlsPauseAndResume(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(srv, http.MethodPost, "/controls/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st state.OperatorState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.True(t, st.Paused)
	require.True(t, srv.operator.Paused())

	rec = do(srv, http.MethodPost, "/controls/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.False(t, st.Paused)
	require.False(t, srv.operator.Paused())
}

func TestControlsSnapshot(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.operator.Pause()

	rec := do(srv, http.MethodGet, "/controls", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st state.OperatorState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.True(t, st.Paused)
	require.Nil(t, st.PendingAction)
}

func TestControlsRotateValidation(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(srv, http.MethodPost, "/controls/rotate", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(srv, http.MethodPost, "/controls/rotate", `{"poolId":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "poolId required")

	rec = do(srv, http.MethodPost, "/controls/rotate", `{"poolId":"pool-x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "unknown pool")

	rec = do(srv, http.MethodPost, "/controls/rotate", `{"poolId":"pool-a"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var st state.OperatorState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.NotNil(t, st.PendingAction)
	require.Equal(t, state.OperatorActionRotate, st.PendingAction.Kind)
	require.Equal(t, "pool-a", st.PendingAction.PoolID)
}

func TestControlsExitQueuesSingleAction(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(srv, http.MethodPost, "/controls/exit", "")
	require.Equal(t, http.StatusOK, rec.Code)

	action := srv.operator.ConsumePendingAction()
	require.NotNil(t, action)
	require.Equal(t, state.OperatorActionExit, action.Kind)
	require.Nil(t, srv.operator.ConsumePendingAction())

	st := srv.operator.Snapshot()
	require.NotNil(t, st.LastAppliedAction)
	require.Equal(t, state.OperatorActionExit, st.LastAppliedAction.Kind)
}

func TestControlsRateLimited(t *testing.T) {
	srv := newTestServer(t, func(cfg *Config) {
		cfg.Server.ControlRatePerSec = 1
		cfg.Server.ControlBurst = 1
	})

	rec := do(srv, http.MethodPost, "/controls/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(srv, http.MethodPost, "/controls/pause", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestExportEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := do(srv, http.MethodPost, "/controls/export", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	exportDir := t.TempDir()
	srv = newTestServer(t, func(cfg *Config) {
		cfg.Exporter = storage.NewExporter(config.Exports{Dir: exportDir, RetentionDays: 30}, testLogger())
	})
	rec = do(srv, http.MethodPost, "/controls/export", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result storage.ExportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotEmpty(t, result.RunID)
	require.Len(t, result.Files, 4)
}

func TestMetricsEndpointServesCounters(t *testing.T) {
	srv := newTestServer(t, nil)
	do(srv, http.MethodPost, "/controls/pause", "")

	rec := do(srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "treasury_server_control_commands_total")
}
