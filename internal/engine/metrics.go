package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gephiserver_queue_depth",
		Help: "Number of render jobs waiting in the admission queue.",
	})

	jobsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gephiserver_jobs_running",
		Help: "Number of render jobs currently executing (0 or 1).",
	})

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gephiserver_jobs_total",
			Help: "Render jobs by terminal outcome.",
		},
		[]string{"outcome"},
	)

	admissionRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gephiserver_admission_rejections_total",
		Help: "Render jobs rejected because the queue was full.",
	})

	syncTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gephiserver_sync_timeouts_total",
		Help: "Synchronous renders that exceeded their wait timeout.",
	})

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gephiserver_job_duration_seconds",
			Help:    "Render job execution time in seconds.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"pipeline", "format"},
	)

	cachedResults = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gephiserver_cached_results",
		Help: "Asynchronous render handles held in the result cache.",
	})

	resultEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gephiserver_result_evictions_total",
			Help: "Asynchronous results evicted by TTL, by whether the job had finished.",
		},
		[]string{"finished"},
	)
)

func init() {
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(jobsRunning)
	prometheus.MustRegister(jobsTotal)
	prometheus.MustRegister(admissionRejections)
	prometheus.MustRegister(syncTimeouts)
	prometheus.MustRegister(jobDuration)
	prometheus.MustRegister(cachedResults)
	prometheus.MustRegister(resultEvictions)
}
