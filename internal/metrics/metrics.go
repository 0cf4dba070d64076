package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/efojunior25/payment-system/internal/domain"
)

// SettlementMetrics records settlement outcomes. It implements
// domain.SettlementObserver and prometheus.Collector.
type SettlementMetrics struct {
	mOutcomes *prometheus.CounterVec
	mDuration *prometheus.HistogramVec
}

func NewSettlementMetrics() *SettlementMetrics {
	return &SettlementMetrics{
		mOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_settlement_total",
			Help: "Settlement outcomes by payment type, final status and stage.",
		}, []string{"type", "status", "stage"}),
		mDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payments_settlement_duration_seconds",
			Help:    "Time spent settling a payment.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"type"}),
	}
}

func (m *SettlementMetrics) ObserveSettlement(t domain.PaymentType, status domain.PaymentStatus, stage domain.SettlementStage, elapsed time.Duration) {
	m.mOutcomes.WithLabelValues(string(t), string(status), string(stage)).Inc()
	m.mDuration.WithLabelValues(string(t)).Observe(elapsed.Seconds())
}

func (m *SettlementMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.mOutcomes.Describe(ch)
	m.mDuration.Describe(ch)
}

func (m *SettlementMetrics) Collect(ch chan<- prometheus.Metric) {
	m.mOutcomes.Collect(ch)
	m.mDuration.Collect(ch)
}

type logFunc func(v ...interface{})

func (l logFunc) Println(v ...interface{}) {
	l(v...)
}

// Handler serves the /metrics endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	sugar := zap.L().Named("metrics").Sugar()

	s := http.NewServeMux()
	s.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog:      logFunc(sugar.Warn),
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
	return s
}

// check interfaces
var (
	_ prometheus.Collector      = (*SettlementMetrics)(nil)
	_ domain.SettlementObserver = (*SettlementMetrics)(nil)
)
