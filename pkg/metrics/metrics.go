// Package metrics is the control plane's Prometheus-style metrics registry:
// typed counter/gauge/histogram families plus a text-exposition encoder.
// Built on package-level prometheus.MustRegister families and promhttp.Handler,
// generalized into a cloneable Registry type so
// the gateway, node agent and autoscaler can each hold their own reference
// while sharing the same underlying atomics.
package metrics

import (
	"math"
	"net/http/httptest"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ExpositionContentType is the exact Prometheus text-exposition content type
// the /metrics endpoint must return.
const ExpositionContentType = "text/plain; version=0.0.4; charset=utf-8"

// schedulingDurationBuckets is 14 exponential buckets starting at 1ms and
// doubling each step (1ms .. ~8.192s).
func schedulingDurationBuckets() []float64 {
	buckets := make([]float64, 14)
	v := 0.001
	for i := range buckets {
		buckets[i] = v
		v *= 2
	}
	return buckets
}

// Registry holds every metric family the control plane exposes. It is safe
// to copy by value: every field is a pointer or pointer-backed collector, so
// copies observe the same counters as the original.
type Registry struct {
	reg *prometheus.Registry

	NodesTotal             prometheus.Gauge
	WorkloadsTotal         *prometheus.GaugeVec // label: state
	SchedulingDurationSecs prometheus.Histogram

	GPUUtilizationPercent *gpuUtilizationCollector // labels: node_id, gpu_id
	MemoryUsageBytes      *prometheus.GaugeVec     // label: node_id
	ContainerCount        *prometheus.GaugeVec     // label: node_id
	ContainerRestarts     *prometheus.CounterVec   // labels: node_id, workload_id
}

// NewRegistry builds and registers a fresh family set. Multiple independent
// registries can coexist (useful in tests); production code constructs one
// at startup and shares it via Clone().
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		NodesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nodes_total",
			Help: "Total number of registered nodes.",
		}),
		WorkloadsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "workloads_total",
			Help: "Total number of workloads by lifecycle state.",
		}, []string{"state"}),
		SchedulingDurationSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduling_duration_seconds",
			Help:    "Time taken to place a workload onto a node.",
			Buckets: schedulingDurationBuckets(),
		}),
		GPUUtilizationPercent: newGPUUtilizationCollector(),
		MemoryUsageBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "memory_usage_bytes",
			Help: "Node memory usage in bytes.",
		}, []string{"node_id"}),
		ContainerCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "container_count",
			Help: "Number of containers running on a node.",
		}, []string{"node_id"}),
		ContainerRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "container_restarts_total",
			Help: "Total container restarts by node and workload.",
		}, []string{"node_id", "workload_id"}),
	}

	r.reg.MustRegister(
		r.NodesTotal,
		r.WorkloadsTotal,
		r.SchedulingDurationSecs,
		r.GPUUtilizationPercent,
		r.MemoryUsageBytes,
		r.ContainerCount,
		r.ContainerRestarts,
	)
	return r
}

// Clone returns a shallow copy of the registry. Because every field is a
// pointer, increments on the clone are visible through the original and vice
// versa.
func (r *Registry) Clone() *Registry {
	clone := *r
	return &clone
}

// Encode renders the registry in Prometheus text-exposition format, along
// with the exact content type the /metrics endpoint must advertise.
func (r *Registry) Encode() (contentType string, body []byte, err error) {
	rec := httptest.NewRecorder()
	handler := promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
	req := httptest.NewRequest("GET", "/metrics", nil)
	handler.ServeHTTP(rec, req)
	return ExpositionContentType, rec.Body.Bytes(), nil
}

// gpuUtilizationCollector backs gpu_utilization_percent with an integer
// fixed-point store (value * 100, rounded) so two decimal places of
// precision survive an atomic-int64 backend, then divides back down to a
// float64 GaugeValue at collection time.
type gpuUtilizationCollector struct {
	desc *prometheus.Desc

	mu     sync.RWMutex
	values map[gpuKey]*atomic.Int64
}

type gpuKey struct {
	nodeID string
	gpuID  string
}

func newGPUUtilizationCollector() *gpuUtilizationCollector {
	return &gpuUtilizationCollector{
		desc: prometheus.NewDesc(
			"gpu_utilization_percent",
			"GPU utilization percentage by node and GPU index.",
			[]string{"node_id", "gpu_id"}, nil,
		),
		values: make(map[gpuKey]*atomic.Int64),
	}
}

// Set records a utilization percentage (0-100, fractional allowed) for one
// (node, gpu) pair.
func (c *gpuUtilizationCollector) Set(nodeID, gpuID string, percent float64) {
	key := gpuKey{nodeID, gpuID}
	fixed := int64(math.Round(percent * 100))

	c.mu.RLock()
	v, ok := c.values[key]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		v, ok = c.values[key]
		if !ok {
			v = &atomic.Int64{}
			c.values[key] = v
		}
		c.mu.Unlock()
	}
	v.Store(fixed)
}

func (c *gpuUtilizationCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *gpuUtilizationCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for key, v := range c.values {
		percent := float64(v.Load()) / 100.0
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, percent, key.nodeID, key.gpuID)
	}
}
