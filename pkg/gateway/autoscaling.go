package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/autoscaler"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/observability"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

// DefaultPoolID is the pool name used until pools are tracked as their own
// first-class grouping of nodes; the whole registered fleet is evaluated as
// one pool.
const DefaultPoolID types.PoolID = "cluster"

// ClusterMetricsSnapshot derives a pool-wide metrics reading straight from
// registered nodes' GPU capacity/usage and the count of workloads stuck in
// scheduling-gated state. It stands in for a dedicated metrics timeseries
// store until one exists.
func (d *Dispatcher) ClusterMetricsSnapshot(now time.Time) types.MetricsSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var totalGPUs, usedGPUs int
	for id, entry := range d.nodes {
		totalGPUs += entry.node.Capabilities.GPUCount
		usedGPUs += entry.node.Capabilities.GPUCount - d.freeGPUs(id)
	}
	var queueDepth int
	for _, w := range d.workloads {
		if w.State == types.WorkloadSchedulingGated {
			queueDepth++
		}
	}

	var pct float64
	if totalGPUs > 0 {
		pct = float64(usedGPUs) / float64(totalGPUs) * 100
	}
	return types.MetricsSnapshot{
		AvgGPUUtilizationPercent: pct,
		QueueDepth:               queueDepth,
		Timestamp:                now,
	}
}

// NodeHealthMetricPoints derives a minimal observability.MetricPoint set for
// one node from its GPU utilization, standing in until per-node metric
// history is tracked independently of placement state.
func (d *Dispatcher) NodeHealthMetricPoints(nodeID types.NodeID, now time.Time) []observability.MetricPoint {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.nodes[nodeID]
	if !ok {
		return nil
	}
	total := entry.node.Capabilities.GPUCount
	var pct float64
	if total > 0 {
		pct = float64(total-d.freeGPUs(nodeID)) / float64(total) * 100
	}
	return []observability.MetricPoint{{
		Name:      "gpu_utilization_percent",
		Value:     pct,
		Timestamp: now,
		Labels:    map[string]string{"node_id": string(nodeID)},
	}}
}

// clusterMetricsProvider adapts a Dispatcher to autoscaler.MetricsProvider,
// treating the whole registered fleet as DefaultPoolID.
type clusterMetricsProvider struct {
	d *Dispatcher
}

// NewClusterMetricsProvider builds the autoscaler.MetricsProvider cmd/clawgate
// wires into autoscaler.NewEvaluator.
func NewClusterMetricsProvider(d *Dispatcher) autoscaler.MetricsProvider {
	return &clusterMetricsProvider{d: d}
}

func (p *clusterMetricsProvider) GetMetrics(ctx context.Context, poolID types.PoolID) (types.MetricsSnapshot, error) {
	return p.d.ClusterMetricsSnapshot(time.Now()), nil
}

// InMemoryCooldownTracker is a map-backed autoscaler.CooldownTracker,
// sufficient for a single-process gateway; state does not survive restart.
type InMemoryCooldownTracker struct {
	mu   sync.Mutex
	up   map[types.PoolID]time.Time
	down map[types.PoolID]time.Time
}

// NewInMemoryCooldownTracker builds an empty tracker.
func NewInMemoryCooldownTracker() *InMemoryCooldownTracker {
	return &InMemoryCooldownTracker{
		up:   make(map[types.PoolID]time.Time),
		down: make(map[types.PoolID]time.Time),
	}
}

func (t *InMemoryCooldownTracker) LastScaleUp(poolID types.PoolID) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.up[poolID]
}

func (t *InMemoryCooldownTracker) LastScaleDown(poolID types.PoolID) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.down[poolID]
}

func (t *InMemoryCooldownTracker) RecordScaleUp(poolID types.PoolID, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.up[poolID] = at
}

func (t *InMemoryCooldownTracker) RecordScaleDown(poolID types.PoolID, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.down[poolID] = at
}
