package claims

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const outcomeSuccess = "success"

type metrics struct {
	fetchesTotal  *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &metrics{
		fetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remote_claim_fetches_total",
				Help: "Total number of remote claim fetches by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "remote_claim_fetch_duration_seconds",
				Help:    "Duration of remote claim fetches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
	}
}

func (m *metrics) observe(mode string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	m.fetchesTotal.WithLabelValues(mode, outcome(err)).Inc()
}

func outcome(err error) string {
	if err == nil {
		return outcomeSuccess
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind.String()
	}
	return "error"
}
