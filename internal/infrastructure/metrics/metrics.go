package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
	"github.com/yukia3e/token-bound-wallet/internal/domain/repository"
)

const namespace = "tba_wallet"

// Recorder exports transaction lifecycle metrics to prometheus.
type Recorder struct {
	gatherer prometheus.Gatherer

	submitted *prometheus.CounterVec
	outcomes  *prometheus.CounterVec
	timeouts  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

var _ repository.MetricsRepository = (*Recorder)(nil)

// New registers the wallet metrics on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(reg, reg)
}

func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		gatherer: gatherer,
		submitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_submitted_total",
			Help:      "Transactions accepted by the node.",
		}, []string{"operation"}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_outcomes_total",
			Help:      "Final outcome of submitted transactions.",
		}, []string{"operation", "outcome"}),
		timeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_poll_timeouts_total",
			Help:      "Transactions still pending after the last receipt poll.",
		}, []string{"operation"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_confirmation_seconds",
			Help:      "Time from submission until a receipt was seen.",
			Buckets:   []float64{1, 2, 4, 8, 15, 30, 60},
		}, []string{"operation"}),
	}
}

func (r *Recorder) ObserveSubmitted(operation string) {
	r.submitted.WithLabelValues(operation).Inc()
}

func (r *Recorder) ObserveOutcome(operation string, outcome model.Outcome, latency time.Duration) {
	r.outcomes.WithLabelValues(operation, outcome.String()).Inc()
	r.latency.WithLabelValues(operation).Observe(latency.Seconds())
}

func (r *Recorder) ObserveTimeout(operation string) {
	r.timeouts.WithLabelValues(operation).Inc()
}

// Handler serves the registry in the prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
