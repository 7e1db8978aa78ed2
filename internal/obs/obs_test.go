package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexKimmel/ScanGate/internal/ratelimit"
)

func TestNewLoggerLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := newLogger(&bytes.Buffer{}, tt.level, false)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestNewLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", false)

	logger.Debug().Msg("hidden")
	logger.Info().Str("key", "example.com").Msg("limiter created")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "limiter created", line["message"])
	assert.Equal(t, "example.com", line["key"])
	assert.Contains(t, line, "time")
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", false)

	h := AccessLog(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"path":"/metrics"`)
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"req_id"`)
}

func TestAccessLogScrapesAtDebug(t *testing.T) {
	var buf bytes.Buffer
	h := AccessLog(newLogger(&buf, "info", false))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Empty(t, buf.String())
}

func TestMetricsObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	var obs ratelimit.Observer = m
	obs.BucketCreated("a")
	obs.BucketCreated("b")
	obs.Denied(ratelimit.ScopeKey)
	obs.Admitted(ratelimit.ScopeKey, 200*time.Millisecond)
	obs.Admitted(ratelimit.ScopeGlobal, 0)

	m.ProbeFinished("dns", nil)
	m.ProbeFinished("dns", errors.New("timeout"))
	m.EventEmitted("IP_ADDRESS")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Keys))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeniedTotal.WithLabelValues(ratelimit.ScopeKey)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdmittedTotal.WithLabelValues(ratelimit.ScopeKey)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdmittedTotal.WithLabelValues(ratelimit.ScopeGlobal)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProbeRequests.WithLabelValues("dns", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProbeRequests.WithLabelValues("dns", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues("IP_ADDRESS")))
}

func TestMetricsWiredIntoManager(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	mgr := ratelimit.NewManager(100, 5, ratelimit.WithObserver(m))

	require.NoError(t, mgr.Limiter("example.com").Wait(context.Background()))
	require.NoError(t, mgr.Global().Wait(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Keys))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdmittedTotal.WithLabelValues(ratelimit.ScopeKey)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdmittedTotal.WithLabelValues(ratelimit.ScopeGlobal)))
}

func TestServeStopsWithContext(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", "/metrics", reg, zerolog.Nop()) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
