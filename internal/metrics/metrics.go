package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rangewatch"

// Poll outcomes recorded per pool per cycle.
const (
	PollOK          = "ok"
	PollFetchFailed = "fetch_failed"
	PollDecodeError = "decode_failed"
)

// Recorder is the set of observations the service emits.
type Recorder interface {
	ObservePoll(poolID, status string)
	ObservePrice(poolID string, price float64, inside bool)
	ObserveAlert(kind string)
	ObserveNotifyFailure(kind string)
	ObserveCycle(d time.Duration)
	SetPools(n int)
	ForgetPool(poolID string)
}

// Prometheus records service metrics on a private registry.
type Prometheus struct {
	registry *prometheus.Registry

	polls          *prometheus.CounterVec
	prices         *prometheus.GaugeVec
	inRange        *prometheus.GaugeVec
	alerts         *prometheus.CounterVec
	notifyFailures *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	pools          prometheus.Gauge
}

// NewPrometheus registers the collectors, including the Go runtime ones.
func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	p := &Prometheus{
		registry: registry,
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_polls_total",
			Help:      "Pool price polls by outcome.",
		}, []string{"pool", "status"}),
		prices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_price",
			Help:      "Last derived pool price.",
		}, []string{"pool"}),
		inRange: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_in_range",
			Help:      "1 when the last price was inside the configured band.",
		}, []string{"pool"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts emitted by kind.",
		}, []string{"kind"}),
		notifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Notification delivery failures.",
		}, []string{"kind"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one poll cycle.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		pools: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pools",
			Help:      "Number of monitored pools.",
		}),
	}

	registry.MustRegister(
		p.polls, p.prices, p.inRange, p.alerts, p.notifyFailures, p.cycleDuration, p.pools,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) ObservePoll(poolID, status string) {
	p.polls.WithLabelValues(poolID, status).Inc()
}

func (p *Prometheus) ObservePrice(poolID string, price float64, inside bool) {
	p.prices.WithLabelValues(poolID).Set(price)
	v := 0.0
	if inside {
		v = 1
	}
	p.inRange.WithLabelValues(poolID).Set(v)
}

func (p *Prometheus) ObserveAlert(kind string) {
	p.alerts.WithLabelValues(kind).Inc()
}

func (p *Prometheus) ObserveNotifyFailure(kind string) {
	p.notifyFailures.WithLabelValues(kind).Inc()
}

func (p *Prometheus) ObserveCycle(d time.Duration) {
	p.cycleDuration.Observe(d.Seconds())
}

func (p *Prometheus) SetPools(n int) {
	p.pools.Set(float64(n))
}

// ForgetPool drops the per-pool series of a removed pool.
func (p *Prometheus) ForgetPool(poolID string) {
	p.prices.DeleteLabelValues(poolID)
	p.inRange.DeleteLabelValues(poolID)
	p.polls.DeletePartialMatch(prometheus.Labels{"pool": poolID})
}

// Handler exposes the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Nop discards all observations.
type Nop struct{}

func (Nop) ObservePoll(string, string)         {}
func (Nop) ObservePrice(string, float64, bool) {}
func (Nop) ObserveAlert(string)                {}
func (Nop) ObserveNotifyFailure(string)        {}
func (Nop) ObserveCycle(time.Duration)         {}
func (Nop) SetPools(int)                       {}
func (Nop) ForgetPool(string)                  {}

var (
	_ Recorder = (*Prometheus)(nil)
	_ Recorder = Nop{}
)
