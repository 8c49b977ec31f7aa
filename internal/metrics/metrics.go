// Package metrics provides Prometheus metrics for the stats daemon.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Collector metrics.
	CyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vpnstats",
		Subsystem: "collector",
		Name:      "cycles_total",
		Help:      "Total reconciliation cycles per server and result.",
	}, []string{"server", "result"}) // "ok", "skipped", "error"
	CycleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vpnstats",
		Subsystem: "collector",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of one reconciliation cycle.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"server"})
	SnapshotReadFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vpnstats",
		Subsystem: "collector",
		Name:      "snapshot_read_failures_total",
		Help:      "Total snapshot source read failures per server.",
	}, []string{"server"})
	ParseSkippedLines = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vpnstats",
		Subsystem: "collector",
		Name:      "parse_skipped_lines_total",
		Help:      "Total unparsable status lines skipped per server.",
	}, []string{"server"})

	// Session lifecycle metrics.
	SessionsOpened = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vpnstats",
		Subsystem: "sessions",
		Name:      "opened_total",
		Help:      "Total sessions opened per server.",
	}, []string{"server"})
	SessionsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vpnstats",
		Subsystem: "sessions",
		Name:      "closed_total",
		Help:      "Total sessions closed per server.",
	}, []string{"server"})
	SessionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vpnstats",
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Currently open sessions per server.",
	}, []string{"server"})
	SessionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vpnstats",
		Subsystem: "sessions",
		Name:      "rejected_total",
		Help:      "Session inserts rejected by the open-identity uniqueness backstop.",
	}, []string{"server"})

	// Traffic metrics.
	BytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vpnstats",
		Subsystem: "traffic",
		Name:      "bytes_total",
		Help:      "Total bytes accounted per server, from interval deltas.",
	}, []string{"server", "direction"}) // "in" or "out"

	// Janitor metrics.
	JanitorDeletedRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vpnstats",
		Subsystem: "janitor",
		Name:      "deleted_rows_total",
		Help:      "Rows removed by the retention janitor per table.",
	}, []string{"table"})
	JanitorFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vpnstats",
		Subsystem: "janitor",
		Name:      "failures_total",
		Help:      "Total failed janitor runs.",
	})
)

func init() {
	prometheus.MustRegister(
		CyclesTotal,
		CycleDuration,
		SnapshotReadFailures,
		ParseSkippedLines,

		SessionsOpened,
		SessionsClosed,
		SessionsActive,
		SessionsRejected,

		BytesTotal,

		JanitorDeletedRows,
		JanitorFailures,
	)
}
