// Package metrics provides Prometheus instrumentation for the gateway.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReplyLatency tracks end-to-end reply generation latency in seconds.
	ReplyLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reply_latency_seconds",
			Help:    "End-to-end reply generation latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "outcome"}, // outcome: "generated", "fallback", "cache_hit"
	)

	// RepliesTotal tracks generated replies by outcome.
	RepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replies_total",
			Help: "Total number of replies by outcome.",
		},
		[]string{"outcome"}, // "generated", "fallback", "cache_hit", "stream", "stream_error"
	)

	// TokenUsageTotal tracks the total number of tokens consumed.
	TokenUsageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_usage_total",
			Help: "Total number of tokens consumed.",
		},
		[]string{"provider", "direction"}, // direction: "input" or "output"
	)

	// CacheHitsTotal tracks the total number of reply cache hits.
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of reply cache hits.",
		},
	)

	// CacheLookupsTotal tracks the total number of reply cache lookups.
	CacheLookupsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Total number of reply cache lookups.",
		},
	)

	// CacheHitRatio is a derived gauge: cache_hits_total / cache_lookups_total.
	CacheHitRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_hit_ratio",
			Help: "Current cache hit ratio (hits / lookups). Computed per-update.",
		},
	)

	// CircuitBreakerState tracks the current state of each circuit breaker.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state: 0=closed, 1=open, 2=half-open.",
		},
		[]string{"provider"},
	)

	// ActiveStreams tracks the number of in-flight streaming replies.
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_streams",
			Help: "Number of currently in-flight streaming replies.",
		},
	)

	// StreamChunksTotal tracks text chunks delivered on streaming replies.
	StreamChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_chunks_total",
			Help: "Total number of streamed reply chunks delivered.",
		},
	)

	// AudioSessionsActive tracks open real-time audio connections.
	AudioSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audio_sessions_active",
			Help: "Number of currently open audio websocket sessions.",
		},
	)

	// AudioChunksTotal tracks inbound audio chunks forwarded for processing.
	AudioChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audio_chunks_total",
			Help: "Total number of inbound audio chunks processed.",
		},
	)

	// AudioFramesOutTotal tracks outbound frames written to audio sessions.
	AudioFramesOutTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audio_frames_out_total",
			Help: "Total number of outbound audio session frames by kind.",
		},
		[]string{"kind"}, // "transcript" or "audio"
	)

	totalHits    atomic.Int64
	totalLookups atomic.Int64
)

// RecordCacheLookup records a reply cache lookup and updates the hit ratio.
// Safe under concurrent request goroutines.
func RecordCacheLookup(hit bool) {
	CacheLookupsTotal.Inc()
	lookups := totalLookups.Add(1)

	if hit {
		CacheHitsTotal.Inc()
		totalHits.Add(1)
	}

	CacheHitRatio.Set(float64(totalHits.Load()) / float64(lookups))
}
