// Package metrics exposes the core's counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

var _ service.Recorder = (*Recorder)(nil)

// Recorder implements service.Recorder on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	catalogLoads      *prometheus.CounterVec
	catalogItems      prometheus.Gauge
	catalogDropped    prometheus.Gauge
	stockAdjustments  *prometheus.CounterVec
	checkouts         *prometheus.CounterVec
	rejectedLines     prometheus.Counter
	orderTransitions  *prometheus.CounterVec
	notificationsLost prometheus.Counter
}

func NewRecorder(namespace string) *Recorder {
	if namespace == "" {
		namespace = "storefront"
	}
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.catalogLoads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "loads_total",
		Help:      "Catalog loads by source and result.",
	}, []string{"source", "result"})
	r.catalogItems = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "items",
		Help:      "Items in the last successfully loaded catalog.",
	})
	r.catalogDropped = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "dropped_rows",
		Help:      "Rows dropped by the last catalog load.",
	})
	r.stockAdjustments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "stock_adjustments_total",
		Help:      "Stock adjustments by outcome.",
	}, []string{"outcome"})
	r.checkouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "checkouts_total",
		Help:      "Checkouts by outcome.",
	}, []string{"outcome"})
	r.rejectedLines = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "rejected_lines_total",
		Help:      "Cart lines rejected at checkout.",
	})
	r.orderTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "transitions_total",
		Help:      "Order status transitions by target status and result.",
	}, []string{"status", "result"})
	r.notificationsLost = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "dropped_total",
		Help:      "Order notifications dropped because the queue was full.",
	})

	r.registry.MustRegister(
		r.catalogLoads, r.catalogItems, r.catalogDropped, r.stockAdjustments,
		r.checkouts, r.rejectedLines, r.orderTransitions, r.notificationsLost,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) CatalogLoaded(source string, items, dropped int, err error) {
	r.catalogLoads.WithLabelValues(source, result(err)).Inc()
	if err == nil {
		r.catalogItems.Set(float64(items))
		r.catalogDropped.Set(float64(dropped))
	}
}

func (r *Recorder) StockAdjusted(outcome string) {
	r.stockAdjustments.WithLabelValues(outcome).Inc()
}

func (r *Recorder) CheckoutCompleted(outcome string, rejected int) {
	r.checkouts.WithLabelValues(outcome).Inc()
	r.rejectedLines.Add(float64(rejected))
}

func (r *Recorder) OrderTransitioned(to domain.OrderStatus, err error) {
	r.orderTransitions.WithLabelValues(to.String(), result(err)).Inc()
}

func (r *Recorder) NotificationDropped() {
	r.notificationsLost.Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
