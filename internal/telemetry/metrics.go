package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tick outcomes.
const (
	OutcomeScored  = "scored"
	OutcomeHolding = "holding"
	OutcomeSkipped = "skipped"
)

// Metrics groups the loop's collectors on a private registry so tests and
// multiple loops do not collide.
type Metrics struct {
	Registry *prometheus.Registry

	Ticks        *prometheus.CounterVec
	TicksSkipped *prometheus.CounterVec
	Trades       *prometheus.CounterVec
	Equity       prometheus.Gauge
	Probability  prometheus.Histogram
	TickLatency  prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "hef_ticks_total", Help: "Book ticks processed by outcome"},
			[]string{"outcome"},
		),
		TicksSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "hef_ticks_skipped_total", Help: "Ticks skipped by reason"},
			[]string{"reason"},
		),
		Trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "hef_trades_total", Help: "Simulated fills"},
			[]string{"side", "reason"},
		),
		Equity: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "hef_equity", Help: "Marked-to-market account value"},
		),
		Probability: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hef_signal_probability",
			Help:    "Model probability of an up move",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		TickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hef_tick_seconds",
			Help:    "Time spent handling one book tick",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
	}
	m.Registry.MustRegister(
		m.Ticks, m.TicksSkipped, m.Trades, m.Equity, m.Probability, m.TickLatency,
		collectors.NewGoCollector(),
	)
	return m
}

// RegisterRejects exposes a feed's rejected-frame counter.
func (m *Metrics) RegisterRejects(read func() uint64) {
	m.Registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: "hef_feed_rejected_total", Help: "Feed frames dropped by validation"},
		func() float64 { return float64(read()) },
	))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
