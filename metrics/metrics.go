// Package metrics exposes Prometheus collectors for the clinic engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/warp/clinic-engine/clinic"
)

// ClinicMetrics exposes counters/histograms for the appointment and billing flows.
type ClinicMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	stockLevel        *prometheus.GaugeVec
	lowStockProducts  prometheus.Gauge
	httpRequestsTotal *prometheus.CounterVec
}

func NewClinicMetrics(reg prometheus.Registerer) *ClinicMetrics {
	m := &ClinicMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Total engine operations by outcome kind",
		}, []string{"operation", "kind"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Latency of engine operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		stockLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clinic",
			Subsystem: "inventory",
			Name:      "stock_level",
			Help:      "Last observed stock level per product",
		}, []string{"product_id"}),
		lowStockProducts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clinic",
			Subsystem: "inventory",
			Name:      "low_stock_products",
			Help:      "Active products at or below their minimum stock",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operationsTotal, m.operationDuration, m.stockLevel, m.lowStockProducts, m.httpRequestsTotal)
	return m
}

// ObserveOperation implements clinic.Observer.
func (m *ClinicMetrics) ObserveOperation(op, kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(op, kind).Inc()
	m.operationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveStock implements clinic.Observer.
func (m *ClinicMetrics) ObserveStock(product clinic.ProductID, level int) {
	if m == nil {
		return
	}
	m.stockLevel.WithLabelValues(string(product)).Set(float64(level))
}

// ObserveLowStock records the result of a low-stock scan.
func (m *ClinicMetrics) ObserveLowStock(products []clinic.Product) {
	if m == nil {
		return
	}
	m.lowStockProducts.Set(float64(len(products)))
	for _, p := range products {
		m.stockLevel.WithLabelValues(string(p.ID)).Set(float64(p.Stock))
	}
}

// ObserveRequest counts one HTTP request.
func (m *ClinicMetrics) ObserveRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

var _ clinic.Observer = (*ClinicMetrics)(nil)

// StatusRecorder captures the status code written by a handler.
type StatusRecorder struct {
	http.ResponseWriter
	Status int
}

func (r *StatusRecorder) WriteHeader(status int) {
	r.Status = status
	r.ResponseWriter.WriteHeader(status)
}
