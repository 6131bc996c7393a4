package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	HostsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "foreman_hosts_total",
			Help: "Total number of configured execution hosts",
		},
	)

	AgentsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "foreman_agents_running",
			Help: "Number of live agent processes",
		},
	)

	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "foreman_jobs_total",
			Help: "Total number of jobs by state",
		},
		[]string{"state"},
	)

	// Supervisor metrics
	AgentsSpawned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_agents_spawned_total",
			Help: "Total number of agent processes spawned",
		},
	)

	AgentsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_agents_failed_total",
			Help: "Total number of agent spawns that failed",
		},
	)

	JobsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_jobs_completed_total",
			Help: "Total number of jobs that completed successfully",
		},
	)

	JobsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_jobs_failed_total",
			Help: "Total number of jobs that failed",
		},
	)

	// Event loop metrics
	EventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_events_processed_total",
			Help: "Total number of events processed by kind",
		},
		[]string{"kind"},
	)

	EventQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "foreman_event_queue_depth",
			Help: "Number of events waiting in the scheduler loop",
		},
	)

	// Scheduling metrics
	SpawnLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "foreman_agent_spawn_latency_seconds",
			Help:    "Time taken to spawn an agent process in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TickLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "foreman_tick_latency_seconds",
			Help:    "Time taken by one scheduler policy tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(HostsTotal)
	prometheus.MustRegister(AgentsRunning)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(AgentsSpawned)
	prometheus.MustRegister(AgentsFailed)
	prometheus.MustRegister(JobsCompleted)
	prometheus.MustRegister(JobsFailed)
	prometheus.MustRegister(EventsProcessed)
	prometheus.MustRegister(EventQueueDepth)
	prometheus.MustRegister(SpawnLatency)
	prometheus.MustRegister(TickLatency)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
