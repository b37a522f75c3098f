package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce             sync.Once
	httpDurationHistogram    *prometheus.HistogramVec
	settlementCounter        *prometheus.CounterVec
	transitionCounter        *prometheus.CounterVec
	compensationCounter      *prometheus.CounterVec
	fraudLevelCounter        *prometheus.CounterVec
	batchSizeHistogram       prometheus.Histogram
	batchCounter             *prometheus.CounterVec
	reconciliationCounter    *prometheus.CounterVec
	manualReconQueueGauge    prometheus.Gauge
	workerRunCounter         *prometheus.CounterVec
	gatewayDurationHistogram *prometheus.HistogramVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		settlementCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_outcomes_total",
			Help: "Settlement saga outcomes by payment type",
		}, []string{"type", "outcome"})

		transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_transitions_total",
			Help: "Payment state machine transitions",
		}, []string{"from", "to"})

		compensationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compensation_attempts_total",
			Help: "Sender re-credit compensation outcomes",
		}, []string{"result"})

		fraudLevelCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fraud_checks_total",
			Help: "Fraud checks by resulting risk level",
		}, []string{"level"})

		batchSizeHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "neft_batch_size",
			Help:    "Member count of closed NEFT batches",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		})

		batchCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "neft_batches_total",
			Help: "NEFT batch terminal statuses",
		}, []string{"status"})

		reconciliationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciliation_resolutions_total",
			Help: "Stuck payments resolved by the reconciliation sweep",
		}, []string{"outcome"})

		manualReconQueueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "manual_reconciliation_queue_size",
			Help: "Payments currently flagged for manual reconciliation",
		})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		gatewayDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "External gateway call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"})

		prometheus.MustRegister(
			httpDurationHistogram,
			settlementCounter,
			transitionCounter,
			compensationCounter,
			fraudLevelCounter,
			batchSizeHistogram,
			batchCounter,
			reconciliationCounter,
			manualReconQueueGauge,
			workerRunCounter,
			gatewayDurationHistogram,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementSettlement(paymentType, outcome string) {
	if settlementCounter == nil {
		return
	}
	settlementCounter.WithLabelValues(paymentType, outcome).Inc()
}

func IncrementTransition(from, to string) {
	if transitionCounter == nil {
		return
	}
	transitionCounter.WithLabelValues(from, to).Inc()
}

func IncrementCompensation(result string) {
	if compensationCounter == nil {
		return
	}
	compensationCounter.WithLabelValues(result).Inc()
}

func IncrementFraudCheck(level string) {
	if fraudLevelCounter == nil {
		return
	}
	fraudLevelCounter.WithLabelValues(level).Inc()
}

func ObserveBatchSize(count int) {
	if batchSizeHistogram == nil {
		return
	}
	batchSizeHistogram.Observe(float64(count))
}

func IncrementBatchStatus(status string) {
	if batchCounter == nil {
		return
	}
	batchCounter.WithLabelValues(status).Inc()
}

func IncrementReconciliation(outcome string) {
	if reconciliationCounter == nil {
		return
	}
	reconciliationCounter.WithLabelValues(outcome).Inc()
}

func SetManualReconciliationQueueSize(size int64) {
	if manualReconQueueGauge == nil {
		return
	}
	manualReconQueueGauge.Set(float64(size))
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func ObserveGatewayCall(operation string, duration time.Duration) {
	if gatewayDurationHistogram == nil {
		return
	}
	gatewayDurationHistogram.WithLabelValues(operation).Observe(duration.Seconds())
}
