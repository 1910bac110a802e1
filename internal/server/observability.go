// Package server hosts the authoritative lockstep server: connection
// lifecycle, per-room frame sequencing and broadcast, anti-cheat
// gating, and the operational surfaces around them.
package server

import (
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics with bounded cardinality (no per-player labels to prevent DoS)
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lockstep_tick_duration_seconds",
		Help:    "Time spent in one room tick",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.033},
	})

	framesCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockstep_frames_total",
		Help: "Frames produced across all rooms",
	}, []string{"kind"}) // Bounded: "confirmed", "forced"

	roomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lockstep_rooms_active",
		Help: "Rooms currently alive",
	})

	playersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lockstep_players_active",
		Help: "Players currently connected",
	})

	inputsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockstep_inputs_rejected_total",
		Help: "Inputs dropped by the validator",
	}, []string{"reason"}) // Bounded: validator rule names

	messagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lockstep_messages_dropped_total",
		Help: "Messages dropped by the per-player rate limiter",
	})

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockstep_connections_rejected_total",
		Help: "Connections rejected before joining a room",
	}, []string{"reason"}) // Bounded: "rate_limit", "auth", "timeout", "room_full"

	broadcastErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lockstep_broadcast_errors_total",
		Help: "Failed frame sends to individual peers",
	})
)

// ObservabilityConfig configures the debug server.
type ObservabilityConfig struct {
	Enabled    bool
	ListenAddr string // MUST stay on localhost in production
}

// DefaultObservabilityConfig returns safe defaults.
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060", // Localhost only - NEVER expose externally
	}
}

// StartDebugServer starts the internal observability server.
// CRITICAL: this MUST bind to localhost only to prevent pprof-based DoS.
func StartDebugServer(cfg ObservabilityConfig) error {
	if !cfg.Enabled {
		log.Println("📊 Debug server disabled")
		return nil
	}

	if cfg.ListenAddr != "127.0.0.1:6060" && cfg.ListenAddr != "localhost:6060" {
		if os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
			log.Println("⚠️ Debug server forced to localhost for security")
			cfg.ListenAddr = "127.0.0.1:6060"
		}
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	go func() {
		log.Printf("📊 Debug server starting on %s", cfg.ListenAddr)
		if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
			log.Printf("⚠️ Debug server error: %v", err)
		}
	}()

	return nil
}

// RecordTick records room tick timing.
func RecordTick(duration time.Duration) {
	tickDuration.Observe(duration.Seconds())
}

// RecordFrame counts a produced frame; kind is "confirmed" or "forced".
func RecordFrame(kind string) {
	framesCommitted.WithLabelValues(kind).Inc()
}

// UpdateRoomCount updates the active room gauge.
func UpdateRoomCount(count int) {
	roomsActive.Set(float64(count))
}

// UpdatePlayerCount updates the connected player gauge.
func UpdatePlayerCount(count int) {
	playersActive.Set(float64(count))
}

// RecordInputRejected counts a validator rejection by rule name.
func RecordInputRejected(reason string) {
	inputsRejected.WithLabelValues(reason).Inc()
}

// RecordMessageDropped counts a rate-limited message.
func RecordMessageDropped() {
	messagesDropped.Inc()
}

// RecordConnectionRejected counts a pre-join rejection.
// reason must be one of: "rate_limit", "auth", "timeout", "room_full".
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordBroadcastError counts a failed per-peer send.
func RecordBroadcastError() {
	broadcastErrors.Inc()
}
