package metrics

import (
	"math"
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the auction collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	opDuration *prometheus.HistogramVec
	transfers  *prometheus.CounterVec
	forfeits   prometheus.Counter
	active     prometheus.Gauge
	price      prometheus.Gauge
	bidders    prometheus.Gauge
	requests   *prometheus.CounterVec
	reqLatency *prometheus.HistogramVec
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction",
			Name:      "operations_total",
			Help:      "Auction operations by name and outcome.",
		}, []string{"op", "outcome"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "auction",
			Name:      "operation_duration_seconds",
			Help:      "Time spent running one auction operation, including its store transaction.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction",
			Name:      "custody_transfers_total",
			Help:      "Custody movements committed, by kind.",
		}, []string{"kind"}),
		forfeits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "auction",
			Name:      "forfeited_total",
			Help:      "Funds retained by escrow from rejected bids.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "auction",
			Name:      "active",
			Help:      "1 while an auction is running.",
		}),
		price: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "auction",
			Name:      "price",
			Help:      "Current price of the running auction.",
		}),
		bidders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "auction",
			Name:      "registry_slots",
			Help:      "Slots in the bid registry, withdrawn ones included.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction",
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"route", "method", "status"}),
		reqLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "auction",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	reg.MustRegister(m.operations, m.opDuration, m.transfers, m.forfeits,
		m.active, m.price, m.bidders, m.requests, m.reqLatency)
	return m
}

// ObserveOp records one finished operation.
func (m *Metrics) ObserveOp(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.opDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveTransfer counts one committed custody movement.
func (m *Metrics) ObserveTransfer(kind string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(kind).Inc()
}

// AddForfeit adds a forfeited amount. Amounts above float64 precision are
// approximated.
func (m *Metrics) AddForfeit(amount *uint256.Int) {
	if m == nil || amount == nil || amount.IsZero() {
		return
	}
	m.forfeits.Add(toFloat(amount))
}

// SetAuction publishes the auction state gauges.
func (m *Metrics) SetAuction(active bool, price *uint256.Int, slots int) {
	if m == nil {
		return
	}
	if active {
		m.active.Set(1)
		m.price.Set(toFloat(price))
	} else {
		m.active.Set(0)
		m.price.Set(0)
	}
	m.bidders.Set(float64(slots))
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route, method, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, status).Inc()
	m.reqLatency.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	if v.IsUint64() {
		return float64(v.Uint64())
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	if math.IsInf(f, 0) {
		return math.MaxFloat64
	}
	return f
}
