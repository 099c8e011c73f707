// Package metrics defines the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksIngested counts base chunks produced by the ingestor.
	ChunksIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipforge_chunks_ingested_total",
		Help: "Base chunks produced by the ingestor.",
	})

	// WindowsAnalyzed counts sliding windows submitted to detection.
	WindowsAnalyzed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipforge_windows_analyzed_total",
		Help: "Sliding windows submitted to highlight detection.",
	})

	// HighlightsDetected counts windows the detect stage flagged.
	HighlightsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipforge_highlights_detected_total",
		Help: "Windows flagged as highlights.",
	})

	// SnippetsEmitted counts highlight snippets delivered to clients.
	SnippetsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipforge_snippets_emitted_total",
		Help: "Highlight snippets delivered to clients.",
	})

	// CommentaryChunksEmitted counts live commentary chunks delivered.
	CommentaryChunksEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipforge_commentary_chunks_emitted_total",
		Help: "Live commentary chunks delivered to clients.",
	})

	// StageFallbacks counts stage-chain fallbacks by stage.
	StageFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipforge_stage_fallbacks_total",
		Help: "Analysis stages that degraded to their deterministic fallback.",
	}, []string{"stage"})

	// IngestFailures counts failed ingestions by error kind.
	IngestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipforge_ingest_failures_total",
		Help: "Failed source ingestions by error kind.",
	}, []string{"kind"})

	// ActiveSessions tracks connected streaming clients.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clipforge_active_sessions",
		Help: "Currently connected streaming clients.",
	})
)
