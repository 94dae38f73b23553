package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"cosmossdk.io/math"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xtrntr/tradingplatform/internal/models"
)

// Metrics holds Prometheus metrics for the platform
type Metrics struct {
	Operations      *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RoundNumber     prometheus.Gauge
	RoundState      prometheus.Gauge
	ReferralFees    *prometheus.CounterVec
	TokensSold      *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics registers the platform metrics on reg
func NewMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tradingplatform",
				Name:      "operations_total",
				Help:      "Engine operations by outcome",
			},
			[]string{"op", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tradingplatform",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		RoundNumber: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradingplatform",
			Name:      "round_number",
			Help:      "Current round number",
		}),
		RoundState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradingplatform",
			Name:      "round_state",
			Help:      "Current round state (1 sale, 2 trade)",
		}),
		ReferralFees: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tradingplatform",
				Name:      "referral_fees_wei_total",
				Help:      "Referral commission paid, in wei",
			},
			[]string{"tier"},
		),
		TokensSold: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tradingplatform",
				Name:      "tokens_sold_total",
				Help:      "Whole tokens bought, by path",
			},
			[]string{"path"},
		),
		registry: reg,
	}
}

// Handler serves the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordOperation counts an engine call
func (m *Metrics) RecordOperation(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Operations.WithLabelValues(op, status).Inc()
}

// ObserveRound sets the round gauges
func (m *Metrics) ObserveRound(round models.RoundView) {
	m.RoundNumber.Set(float64(round.RoundNumber))
	m.RoundState.Set(float64(round.StateCode))
}

// ObserveEvents updates counters from emitted engine events
func (m *Metrics) ObserveEvents(events []models.Envelope) {
	for _, ev := range events {
		switch p := ev.Payload.(type) {
		case models.FeeTransferredToReferral:
			m.ReferralFees.WithLabelValues(strconv.Itoa(p.Tier)).Add(toFloat(p.Amount))
		case models.TokensBoughtFromSale:
			m.TokensSold.WithLabelValues("sale").Add(wholeTokens(p.TokenAmount))
		case models.TokensBoughtFromOrder:
			m.TokensSold.WithLabelValues("order").Add(wholeTokens(p.TokenAmount))
		}
	}
}

// Middleware records request durations labelled by chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.RequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func toFloat(v math.Int) float64 {
	f, _ := v.BigInt().Float64()
	return f
}

func wholeTokens(v math.Int) float64 {
	return toFloat(v) / 1e18
}
