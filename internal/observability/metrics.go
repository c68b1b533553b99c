package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	httpDurationHistogram   *prometheus.HistogramVec
	idempotencyCounter      *prometheus.CounterVec
	rateResolutionCounter   *prometheus.CounterVec
	settlementCounter       *prometheus.CounterVec
	counterpartyFillCounter *prometheus.CounterVec
	postingTransitionCount  *prometheus.CounterVec
	statsDriftCounter       prometheus.Counter
	workerRunCounter        *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		rateResolutionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_rate_resolutions_total",
			Help: "Rate resolutions by direction and the source stage that served them",
		}, []string{"direction", "stage"})

		settlementCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlements_total",
			Help: "Settled deals by currency and resulting posting status",
		}, []string{"currency", "posting_status"})

		counterpartyFillCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counterparty_auto_fill_total",
			Help: "Best-effort reductions of the counterparty's own posting",
		}, []string{"result"})

		postingTransitionCount = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posting_transitions_total",
			Help: "Posting status transitions",
		}, []string{"to"})

		statsDriftCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "user_stats_drift_total",
			Help: "Users whose stored trust aggregates diverged from deals and ratings",
		})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			idempotencyCounter,
			rateResolutionCounter,
			settlementCounter,
			counterpartyFillCounter,
			postingTransitionCount,
			statsDriftCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func RecordRateResolution(direction, stage string) {
	if rateResolutionCounter == nil {
		return
	}
	rateResolutionCounter.WithLabelValues(direction, stage).Inc()
}

func IncrementSettlement(currency, postingStatus string) {
	if settlementCounter == nil {
		return
	}
	settlementCounter.WithLabelValues(currency, postingStatus).Inc()
}

func IncrementCounterpartyFill(result string) {
	if counterpartyFillCounter == nil {
		return
	}
	counterpartyFillCounter.WithLabelValues(result).Inc()
}

func IncrementPostingTransition(to string) {
	if postingTransitionCount == nil {
		return
	}
	postingTransitionCount.WithLabelValues(to).Inc()
}

func AddStatsDrift(n int) {
	if statsDriftCounter == nil || n <= 0 {
		return
	}
	statsDriftCounter.Add(float64(n))
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
