package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "npud",
			Subsystem: "scheduler",
			Name:      "tasks_total",
			Help:      "Tasks by terminal state",
		},
		[]string{"state"},
	)

	dispatchRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "npud",
			Subsystem: "scheduler",
			Name:      "dispatch_retries_total",
			Help:      "Dispatch cycles that failed against every candidate device",
		},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "npud",
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Queued tasks per priority level",
		},
		[]string{"priority"},
	)

	inferenceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "npud",
			Subsystem: "scheduler",
			Name:      "inference_duration_seconds",
			Help:      "Execution time of completed inferences",
			Buckets:   prometheus.DefBuckets,
		},
	)

	reservedMemoryBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "npud",
			Subsystem: "allocator",
			Name:      "reserved_memory_bytes",
			Help:      "Memory committed to active allocations per device",
		},
		[]string{"device"},
	)

	reservedPowerWatts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "npud",
			Subsystem: "allocator",
			Name:      "reserved_power_watts",
			Help:      "Power budget committed to active allocations per device",
		},
		[]string{"device"},
	)
)

func init() {
	prometheus.MustRegister(
		tasksTotal, dispatchRetriesTotal, queueDepth,
		inferenceDuration, reservedMemoryBytes, reservedPowerWatts,
	)
}
