// Package observability — metrics.go
//
// Prometheus metrics for the attnd daemon.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: attnd_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for attnd.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Watcher (FileMonitor) ────────────────────────────────────────────

	// WatcherEventsEmittedTotal counts debounced file edit events emitted.
	WatcherEventsEmittedTotal prometheus.Counter

	// WatcherEventsDebouncedTotal counts raw fsnotify events suppressed by
	// the debounce window.
	WatcherEventsDebouncedTotal prometheus.Counter

	// WatcherEventsDroppedTotal counts events dropped due to channel
	// overflow. Labels: channel; the daemon sets "core_file_channel" for
	// drops when forwarding into the Correlation Core.
	WatcherEventsDroppedTotal *prometheus.CounterVec

	// ─── Sensor intake ─────────────────────────────────────────────────────

	// SensorEventsReceivedTotal counts sensor events accepted from the
	// editor extension socket. Labels: event_type.
	SensorEventsReceivedTotal *prometheus.CounterVec

	// SensorConnectionsActive is the current number of connected editor
	// extension sockets.
	SensorConnectionsActive prometheus.Gauge

	// ─── Kinematics / complexity ────────────────────────────────────────────

	// HumanScoreHistogram records the distribution of computed human scores.
	HumanScoreHistogram prometheus.Histogram

	// SyntheticDetectionsTotal counts analysis windows flagged as
	// synthetic/non-human motion.
	SyntheticDetectionsTotal prometheus.Counter

	// NoveltyEMA is the current novelty exponential moving average.
	NoveltyEMA prometheus.Gauge

	// ─── Attention battery ───────────────────────────────────────────────────

	// BatteryLevel is the current attention energy level.
	BatteryLevel prometheus.Gauge

	// BatteryConsumedTotal counts total attention energy consumed by
	// issued tickets.
	BatteryConsumedTotal prometheus.Counter

	// BatteryChargedTotal counts total attention energy added by focus
	// and motor charging.
	BatteryChargedTotal prometheus.Counter

	// ─── Ticket service ─────────────────────────────────────────────────────

	// TicketsIssuedTotal counts GetTicket outcomes. Labels: success.
	TicketsIssuedTotal *prometheus.CounterVec

	// WitnessesIssuedTotal counts GetWitness calls.
	WitnessesIssuedTotal prometheus.Counter

	// ─── Ledger ───────────────────────────────────────────────────────────────

	// LedgerWriteLatency records BoltDB append transaction latency.
	LedgerWriteLatency prometheus.Histogram

	// LedgerPrunedTotal counts day-buckets removed by retention pruning.
	LedgerPrunedTotal prometheus.Counter

	// ─── Daemon ───────────────────────────────────────────────────────────────

	// DaemonUptimeSeconds is the number of seconds since the daemon started.
	DaemonUptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all attnd Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		WatcherEventsEmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attnd",
			Subsystem: "watcher",
			Name:      "events_emitted_total",
			Help:      "Total debounced file edit events emitted by the file monitor.",
		}),

		WatcherEventsDebouncedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attnd",
			Subsystem: "watcher",
			Name:      "events_debounced_total",
			Help:      "Total raw filesystem events suppressed by the debounce window.",
		}),

		WatcherEventsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attnd",
			Subsystem: "watcher",
			Name:      "events_dropped_total",
			Help:      "Total events dropped due to channel overflow, by channel.",
		}, []string{"channel"}),

		SensorEventsReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attnd",
			Subsystem: "sensor",
			Name:      "events_received_total",
			Help:      "Total sensor events accepted from the editor extension, by event type.",
		}, []string{"event_type"}),

		SensorConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "attnd",
			Subsystem: "sensor",
			Name:      "connections_active",
			Help:      "Current number of connected editor extension sockets.",
		}),

		HumanScoreHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "attnd",
			Subsystem: "core",
			Name:      "human_score",
			Help:      "Distribution of computed human-likelihood scores.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),

		SyntheticDetectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attnd",
			Subsystem: "core",
			Name:      "synthetic_detections_total",
			Help:      "Total analysis windows flagged as synthetic (non-human) motion.",
		}),

		NoveltyEMA: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "attnd",
			Subsystem: "core",
			Name:      "novelty_ema",
			Help:      "Current novelty exponential moving average.",
		}),

		BatteryLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "attnd",
			Subsystem: "battery",
			Name:      "level",
			Help:      "Current attention energy level.",
		}),

		BatteryConsumedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attnd",
			Subsystem: "battery",
			Name:      "consumed_total",
			Help:      "Lifetime attention energy consumed by issued tickets.",
		}),

		BatteryChargedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attnd",
			Subsystem: "battery",
			Name:      "charged_total",
			Help:      "Lifetime attention energy added by focus and motor charging.",
		}),

		TicketsIssuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attnd",
			Subsystem: "ticket",
			Name:      "issued_total",
			Help:      "Total GetTicket outcomes, by success.",
		}, []string{"success"}),

		WitnessesIssuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attnd",
			Subsystem: "ticket",
			Name:      "witnesses_issued_total",
			Help:      "Total GetWitness calls served.",
		}),

		LedgerWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "attnd",
			Subsystem: "ledger",
			Name:      "write_latency_seconds",
			Help:      "BoltDB audit ledger append transaction latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		LedgerPrunedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attnd",
			Subsystem: "ledger",
			Name:      "pruned_total",
			Help:      "Total day-buckets removed by retention pruning.",
		}),

		DaemonUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "attnd",
			Subsystem: "daemon",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the daemon started.",
		}),
	}

	reg.MustRegister(
		m.WatcherEventsEmittedTotal,
		m.WatcherEventsDebouncedTotal,
		m.WatcherEventsDroppedTotal,
		m.SensorEventsReceivedTotal,
		m.SensorConnectionsActive,
		m.HumanScoreHistogram,
		m.SyntheticDetectionsTotal,
		m.NoveltyEMA,
		m.BatteryLevel,
		m.BatteryConsumedTotal,
		m.BatteryChargedTotal,
		m.TicketsIssuedTotal,
		m.WitnessesIssuedTotal,
		m.LedgerWriteLatency,
		m.LedgerPrunedTotal,
		m.DaemonUptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given
// loopback address. Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.DaemonUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}

// ObserveSnapshot updates the gauges that reflect instantaneous Core
// state. Counters are incremented by their owning subsystem directly.
func (m *Metrics) ObserveSnapshot(humanScore, noveltyEMA, batteryLevel float64, isSynthetic bool) {
	m.HumanScoreHistogram.Observe(humanScore)
	m.NoveltyEMA.Set(noveltyEMA)
	m.BatteryLevel.Set(batteryLevel)
	if isSynthetic {
		m.SyntheticDetectionsTotal.Inc()
	}
}
