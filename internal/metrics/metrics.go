package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scheduler Metrics
	TicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_scheduler_ticks_total",
			Help: "Total number of scheduler ticks executed",
		},
	)

	TicksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_scheduler_ticks_skipped_total",
			Help: "Ticks skipped because the previous tick was still running",
		},
	)

	SchedulesTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_schedules_triggered_total",
			Help: "Schedules claimed by the scheduler, by dispatch outcome",
		},
		[]string{"outcome"},
	)

	// Launcher Metrics
	StreamsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_streams_live",
			Help: "Number of broadcast processes currently running",
		},
	)

	LaunchRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_launch_retries_total",
			Help: "Platform broadcast-creation attempts that were retried",
		},
	)

	LaunchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_launch_failures_total",
			Help: "Launches that failed after exhausting retries",
		},
	)

	// Reconciler Metrics
	ProcessExits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_process_exits_total",
			Help: "Broadcast process exits, by reason",
		},
		[]string{"reason"},
	)

	OrphansRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_orphans_recovered_total",
			Help: "Streams found active with no process at startup and reset",
		},
	)

	BroadcastDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broadcast_duration_seconds",
			Help:    "Wall-clock duration of finished broadcasts",
			Buckets: prometheus.ExponentialBuckets(60, 2, 10), // 1 minute to ~17 hours
		},
	)
)

// Exit reason label values
const (
	ExitReasonStopped  = "stopped"
	ExitReasonCrashed  = "crashed"
	ExitReasonComplete = "complete"
)
