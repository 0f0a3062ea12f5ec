package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"position-engine/infrastructure/monitor"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestServerExposesMetrics(t *testing.T) {
	mon := monitor.New(monitor.DefaultConfig())
	mon.UpdateRisk(1000, -0.01, false)
	mon.RecordEntrySkipped("halted")

	srv := NewServer(":0", mon.Registry(), nil)
	code, body := get(t, srv.Handler, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "pe_engine_equity 1000")
	assert.Contains(t, body, `pe_engine_entry_skipped_total{reason="halted"} 1`)
}

func TestServerHealth(t *testing.T) {
	mon := monitor.New(monitor.DefaultConfig())
	healthy := true
	srv := NewServer(":0", mon.Registry(), func() error {
		if !healthy {
			return errors.New("stream down")
		}
		return nil
	})

	code, body := get(t, srv.Handler, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	healthy = false
	code, body = get(t, srv.Handler, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "stream down")
}
