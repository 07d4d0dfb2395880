package typedb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ==============================================================================
// Prometheus Metrics
// ==============================================================================

var (
	// refreshesTotal counts completed freshness refreshes by result
	// (valid, stale, generating, error).
	refreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "typedb_refreshes_total",
		Help: "Completed database freshness refreshes by result",
	}, []string{"result"})

	// diskScansTotal counts refreshes that enumerated the database directory.
	diskScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "typedb_disk_scans_total",
		Help: "Database directory scans performed by freshness refreshes",
	})

	// refreshDuration tracks refresh latency including throttle waits.
	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "typedb_refresh_duration_seconds",
		Help:    "Freshness refresh duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	// fixupsTotal counts deferred references by outcome
	// (deferred, resolved, fallback).
	fixupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "typedb_fixups_total",
		Help: "Deferred type references by outcome",
	}, []string{"outcome"})

	modulesLoadedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "typedb_modules_loaded_total",
		Help: "Modules loaded from cache trees",
	})

	corruptSignalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "typedb_corrupt_signals_total",
		Help: "Database layers that raised the corruption signal",
	})

	// extensionLookupsTotal counts extension cache lookups by result (hit, miss).
	extensionLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "typedb_extension_lookups_total",
		Help: "Extension module cache lookups by result",
	}, []string{"result"})

	// regenerationsTotal counts analyzer runs by exit status.
	regenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "typedb_regenerations_total",
		Help: "Database regeneration runs by exit status",
	}, []string{"status"})
)
