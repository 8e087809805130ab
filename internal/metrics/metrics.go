package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesNormalized counts raw provider messages turned into entries.
	MessagesNormalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hearsay_messages_normalized_total",
		Help: "Raw messages successfully normalized into transcript entries.",
	})

	// MessagesDropped counts malformed messages discarded by normalization.
	MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hearsay_messages_dropped_total",
		Help: "Raw messages dropped because no usable text was found.",
	})

	// MergeDeltaEntries counts genuinely new entries produced by merges.
	MergeDeltaEntries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hearsay_merge_delta_entries_total",
		Help: "New transcript entries produced by merge passes.",
	})

	// ResolverAttempts counts provider query attempts by outcome.
	ResolverAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearsay_resolver_attempts_total",
		Help: "Call resolver query attempts against the provider.",
	}, []string{"outcome"})

	// AnalysisFailures counts downstream analysis errors by stage.
	AnalysisFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearsay_analysis_failures_total",
		Help: "Summarization and profiling call failures.",
	}, []string{"stage"})

	// DegradedFallbacks counts exports served from the local buffer.
	DegradedFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hearsay_degraded_fallbacks_total",
		Help: "Exports that fell back to the locally buffered transcript.",
	})

	// StoreWarnings counts persistence failures absorbed as durability risk.
	StoreWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hearsay_store_warnings_total",
		Help: "Persistent store failures recovered via the in-memory copy.",
	})
)
