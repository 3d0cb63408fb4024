package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/feeward/feeward/distributor/pkg/engine"
	"github.com/feeward/feeward/distributor/pkg/statstore"
	feewardtesting "github.com/feeward/feeward/utils/pkg/testing"
)

type staticState struct{ snap engine.Snapshot }

func (s staticState) Snapshot() engine.Snapshot { return s.snap }

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	cfg.Logger = feewardtesting.NewLogger()
	cfg.ListenAddr = "127.0.0.1:0"
	s, err := New(cfg)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestFeeward_Server_Health(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Config{State: staticState{}})
	status, body := get(t, srv.URL+"/healthz")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok\n", body)
}

func TestFeeward_Server_Readyz(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC))
	fresh := engine.Snapshot{Ready: true, Cycles: 3, LastCycleAt: clock.Now().Add(-time.Minute)}
	stale := engine.Snapshot{Ready: true, Cycles: 3, LastCycleAt: clock.Now().Add(-time.Hour)}

	tests := []struct {
		name    string
		snap    engine.Snapshot
		journal Pinger
		want    int
	}{
		{name: "not loaded", snap: engine.Snapshot{}, want: http.StatusServiceUnavailable},
		{name: "loaded before first cycle", snap: engine.Snapshot{Ready: true}, want: http.StatusOK},
		{name: "fresh", snap: fresh, want: http.StatusOK},
		{name: "stale", snap: stale, want: http.StatusServiceUnavailable},
		{
			name:    "journal down",
			snap:    fresh,
			journal: pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
			want:    http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newTestServer(t, Config{
				State:       staticState{snap: tt.snap},
				Clock:       clock,
				MaxCycleAge: 10 * time.Minute,
				Journal:     tt.journal,
			})
			status, _ := get(t, srv.URL+"/readyz")
			require.Equal(t, tt.want, status)
		})
	}
}

func TestFeeward_Server_State(t *testing.T) {
	t.Parallel()

	snap := engine.Snapshot{
		Ready:          true,
		State:          statstore.DistributionState{PendingSolAmount: 42},
		NeedDistribute: true,
		Cycles:         7,
		StageErrors:    map[string]string{"swap": "timeout"},
	}
	srv := newTestServer(t, Config{State: staticState{snap: snap}})

	status, body := get(t, srv.URL+"/state")
	require.Equal(t, http.StatusOK, status)

	var got engine.Snapshot
	require.NoError(t, json.NewDecoder(strings.NewReader(body)).Decode(&got))
	require.Equal(t, uint64(42), got.State.PendingSolAmount)
	require.True(t, got.NeedDistribute)
	require.Equal(t, uint64(7), got.Cycles)
	require.Equal(t, "timeout", got.StageErrors["swap"])
}

func TestFeeward_Server_Metrics(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Config{State: staticState{}})
	get(t, srv.URL+"/healthz")
	status, body := get(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "feeward_distributor_http_requests_total")
}

func TestFeeward_Server_ConfigValidate(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Logger: feewardtesting.NewLogger(), ListenAddr: ":0"})
	require.Error(t, err)
	_, err = New(Config{Logger: feewardtesting.NewLogger(), State: staticState{}})
	require.Error(t, err)
}
