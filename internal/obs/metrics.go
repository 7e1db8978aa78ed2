package obs

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics implements ratelimit.Observer and counts probe activity.
type Metrics struct {
	AdmittedTotal *prometheus.CounterVec
	DeniedTotal   *prometheus.CounterVec
	WaitDuration  *prometheus.HistogramVec
	Keys          prometheus.Gauge
	ProbeRequests *prometheus.CounterVec
	Events        *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AdmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scangate_limiter_admitted_total",
				Help: "Requests admitted through Wait",
			},
			[]string{"scope"},
		),
		DeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scangate_limiter_denied_total",
				Help: "Waits that could not be admitted immediately",
			},
			[]string{"scope"},
		),
		WaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scangate_limiter_wait_seconds",
				Help:    "Time spent waiting for admission",
				Buckets: []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"scope"},
		),
		Keys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "scangate_limiter_keys",
				Help: "Per-key limiters created so far",
			},
		),
		ProbeRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scangate_probe_requests_total",
				Help: "Probe module runs by outcome",
			},
			[]string{"module", "result"},
		),
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scangate_events_total",
				Help: "Findings emitted by probe modules",
			},
			[]string{"type"},
		),
	}

	reg.MustRegister(m.AdmittedTotal, m.DeniedTotal, m.WaitDuration, m.Keys, m.ProbeRequests, m.Events)
	return m
}

func (m *Metrics) BucketCreated(string) {
	m.Keys.Inc()
}

func (m *Metrics) Admitted(scope string, waited time.Duration) {
	m.AdmittedTotal.WithLabelValues(scope).Inc()
	m.WaitDuration.WithLabelValues(scope).Observe(waited.Seconds())
}

func (m *Metrics) Denied(scope string) {
	m.DeniedTotal.WithLabelValues(scope).Inc()
}

func (m *Metrics) ProbeFinished(module string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ProbeRequests.WithLabelValues(module, result).Inc()
}

func (m *Metrics) EventEmitted(eventType string) {
	m.Events.WithLabelValues(eventType).Inc()
}

// Serve exposes the registry on addr until ctx is done.
func Serve(ctx context.Context, addr, path string, reg prometheus.Gatherer, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           AccessLog(logger)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Str("path", path).Msg("metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
