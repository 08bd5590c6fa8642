package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/alerts"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/autoscaler"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/events"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/log"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/mesh"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/metrics"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/observability"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/protocol"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/registry"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/rollback"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/storage"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/tenancy"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/volume"
)

// NodeSink is how the Dispatcher delivers gateway-outbound frames to a
// connected node. NodeServer's per-connection connSink (node_server.go) is
// the real implementation; tests use a recording fake.
type NodeSink interface {
	SendToNode(nodeID types.NodeID, msgType protocol.MessageType, msg any) error
}

// ErrNodeNotFound mirrors the wire code protocol.CodeNodeNotFound.
var ErrNodeNotFound = fmt.Errorf("gateway: node not found")

// ErrProtocolMismatch mirrors protocol.CodeProtocolMismatch.
var ErrProtocolMismatch = fmt.Errorf("gateway: protocol version mismatch")

const (
	// HeartbeatInterval is handed to a node in its registered ack.
	HeartbeatInterval = 10 * time.Second
	// MetricsInterval is handed to a node in its registered ack.
	MetricsInterval = 15 * time.Second

	// heartbeatMissUnhealthy is how long without a heartbeat before a node
	// is marked unhealthy.
	heartbeatMissUnhealthy = 3 * HeartbeatInterval
	// heartbeatMissOffline is how long without a heartbeat before a node is
	// marked offline and its workloads considered lost.
	heartbeatMissOffline = 6 * HeartbeatInterval

	reconcileInterval = 5 * time.Second
)

// nodeEntry is the dispatcher's record of one registered node.
type nodeEntry struct {
	node   types.Node
	sink   NodeSink
	drain  bool
}

// Config configures a Dispatcher.
type Config struct {
	// WorkloadNetworkEnabled gates whether started workloads receive a mesh
	// IP and mesh peer fan-out.
	WorkloadNetworkEnabled bool
}

// Dispatcher is the gateway's single point of coordination: it decodes
// protocol frames from both node and CLI connections and routes them to the
// collaborating packages, then reports results back over the same frames.
type Dispatcher struct {
	mu     sync.RWMutex
	logger zerolog.Logger
	cfg    Config

	nodes     map[types.NodeID]*nodeEntry
	workloads map[types.WorkloadID]*types.Workload
	logs      map[types.WorkloadID][]string

	tenancy  *tenancy.Manager
	registry *registry.Registry
	mesh     *mesh.Manager // nil when WorkloadNetworkEnabled is false
	volumes  *volume.Manager
	resolver *volume.Resolver
	metrics  *metrics.Registry
	snapshots storage.SnapshotStore // nil unless WithSnapshotStore is called; forensics only
	events    *events.Broker         // nil unless WithEventBroker is called

	alerts        *alerts.Engine           // nil unless WithAlerts is called
	autoscaler    *autoscaler.Evaluator    // nil unless WithAutoscaler is called
	rollback      *rollback.Executor       // nil unless WithRollback is called
	observability *observability.Analyzer  // nil unless WithObservability is called

	stopCh chan struct{}
}

// ErrCollaboratorNotAttached is returned by a pass-through method whose
// backing collaborator (alerts, autoscaler, rollback, observability) was
// never attached via its With* setter.
var ErrCollaboratorNotAttached = fmt.Errorf("gateway: collaborator not attached")

// WithSnapshotStore attaches a crash-local snapshot cache. Writes to it are
// best-effort: a failure is logged, never propagated, since the snapshot is
// never required for correctness.
func (d *Dispatcher) WithSnapshotStore(store storage.SnapshotStore) *Dispatcher {
	d.snapshots = store
	return d
}

// WithEventBroker attaches a pub/sub bus that the Dispatcher publishes node
// and workload lifecycle events onto. The broker's Start/Stop is tied to the
// Dispatcher's own Start/Stop.
func (d *Dispatcher) WithEventBroker(broker *events.Broker) *Dispatcher {
	d.events = broker
	return d
}

// publish is a nil-safe fan-out helper; callers never need to check whether
// an event broker was attached.
func (d *Dispatcher) publish(evType events.EventType, subject, message string) {
	if d.events == nil {
		return
	}
	d.events.Publish(&events.Event{Type: evType, Subject: subject, Message: message})
}

func (d *Dispatcher) snapshotNode(node types.Node) {
	if d.snapshots == nil {
		return
	}
	if err := d.snapshots.SaveNode(&node); err != nil {
		d.logger.Warn().Err(err).Str("node_id", string(node.ID)).Msg("node snapshot write failed")
	}
}

func (d *Dispatcher) snapshotWorkload(w types.Workload) {
	if d.snapshots == nil {
		return
	}
	if err := d.snapshots.SaveWorkload(&w); err != nil {
		d.logger.Warn().Err(err).Str("workload_id", string(w.ID)).Msg("workload snapshot write failed")
	}
}

// NewDispatcher wires a Dispatcher against its collaborators. meshMgr may be
// nil if WorkloadNetworkEnabled is false in cfg.
func NewDispatcher(tenancyMgr *tenancy.Manager, reg *registry.Registry, meshMgr *mesh.Manager, volumes *volume.Manager, metricsReg *metrics.Registry, cfg Config) *Dispatcher {
	return &Dispatcher{
		logger:    log.WithComponent("gateway.dispatcher"),
		cfg:       cfg,
		nodes:     make(map[types.NodeID]*nodeEntry),
		workloads: make(map[types.WorkloadID]*types.Workload),
		logs:      make(map[types.WorkloadID][]string),
		tenancy:   tenancyMgr,
		registry:  reg,
		mesh:      meshMgr,
		volumes:   volumes,
		resolver:  volume.NewResolver(volumes),
		metrics:   metricsReg,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the background health reconciler loop and, if attached, the
// event broker's distribution loop.
func (d *Dispatcher) Start() {
	if d.events != nil {
		d.events.Start()
	}
	go d.reconcileLoop()
}

// Stop halts the reconciler loop and, if attached, the event broker.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	if d.events != nil {
		d.events.Stop()
	}
}

func (d *Dispatcher) reconcileLoop() {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.reconcileNodeHealth(time.Now())
		case <-d.stopCh:
			return
		}
	}
}

// reconcileNodeHealth applies the healthy -> unhealthy -> offline lapse
// rule against every registered node's last heartbeat.
func (d *Dispatcher) reconcileNodeHealth(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, entry := range d.nodes {
		if entry.node.Health == types.NodeDraining {
			continue
		}
		since := now.Sub(entry.node.LastHeartbeat)
		switch {
		case since > heartbeatMissOffline && entry.node.Health != types.NodeOffline:
			d.logger.Warn().Str("node_id", string(id)).Dur("since_heartbeat", since).Msg("node offline")
			entry.node.Health = types.NodeOffline
			d.markNodeWorkloadsLost(id)
			d.publish(events.EventNodeOffline, string(id), "")
		case since > heartbeatMissUnhealthy && entry.node.Health == types.NodeHealthy:
			d.logger.Warn().Str("node_id", string(id)).Dur("since_heartbeat", since).Msg("node unhealthy")
			entry.node.Health = types.NodeUnhealthy
			d.publish(events.EventNodeUnhealthy, string(id), "")
		}
	}
}

// markNodeWorkloadsLost fails every workload owned by a node that just went
// offline; callers must hold d.mu.
func (d *Dispatcher) markNodeWorkloadsLost(nodeID types.NodeID) {
	for _, w := range d.workloads {
		if w.NodeID == nodeID && !w.State.Terminal() {
			w.State = types.WorkloadFailed
			w.Reason = "node went offline"
			w.StoppedAt = time.Now()
			if d.mesh != nil {
				d.releaseWorkloadNetwork(w)
			}
		}
	}
}

// RegisterNode admits a node that has just connected under a freshly
// generated NodeID, which it returns. An earlier registration under the same
// name is not removed; it stays as its own entry.
func (d *Dispatcher) RegisterNode(name string, caps types.NodeCapabilities, protocolVersion int, sink NodeSink) (types.NodeID, error) {
	if protocolVersion != protocol.ProtocolVersion {
		return "", fmt.Errorf("%w: node sent %d, gateway wants %d", ErrProtocolMismatch, protocolVersion, protocol.ProtocolVersion)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	id := types.NewNodeID()
	now := time.Now()
	entry := &nodeEntry{
		node: types.Node{
			ID:            id,
			Name:          name,
			Capabilities:  caps,
			Health:        types.NodeHealthy,
			LastHeartbeat: now,
			CreatedAt:     now,
		},
		sink: sink,
	}
	d.nodes[id] = entry
	d.logger.Info().Str("node_id", string(id)).Str("name", name).Int("gpu_count", caps.GPUCount).Msg("node registered")
	d.snapshotNode(entry.node)
	d.publish(events.EventNodeRegistered, string(id), name)
	return id, nil
}

// Heartbeat records liveness and un-degrades an unhealthy node back to
// healthy; an offline or draining node keeps its state.
func (d *Dispatcher) Heartbeat(nodeID types.NodeID, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.nodes[nodeID]
	if !ok {
		return ErrNodeNotFound
	}
	entry.node.LastHeartbeat = at
	if entry.node.Health == types.NodeUnhealthy {
		entry.node.Health = types.NodeHealthy
	}
	return nil
}

// UpdateCapabilities refreshes a node's reported capabilities.
func (d *Dispatcher) UpdateCapabilities(nodeID types.NodeID, caps types.NodeCapabilities) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.nodes[nodeID]
	if !ok {
		return ErrNodeNotFound
	}
	entry.node.Capabilities = caps
	return nil
}

// GetNode returns a snapshot of one node.
func (d *Dispatcher) GetNode(nodeID types.NodeID) (types.Node, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.nodes[nodeID]
	if !ok {
		return types.Node{}, ErrNodeNotFound
	}
	return entry.node, nil
}

// ListNodes returns a snapshot of every registered node, optionally filtered
// by health state.
func (d *Dispatcher) ListNodes(stateFilter *types.NodeHealth) []types.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]types.Node, 0, len(d.nodes))
	for _, entry := range d.nodes {
		if stateFilter != nil && entry.node.Health != *stateFilter {
			continue
		}
		out = append(out, entry.node)
	}
	return out
}

// DrainNode toggles a node's drain flag; a draining node is excluded from
// placement but its running workloads are left alone.
func (d *Dispatcher) DrainNode(nodeID types.NodeID, drain bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.nodes[nodeID]
	if !ok {
		return ErrNodeNotFound
	}
	entry.drain = drain
	if drain {
		entry.node.Health = types.NodeDraining
		d.publish(events.EventNodeDraining, string(nodeID), "")
	} else if entry.node.Health == types.NodeDraining {
		entry.node.Health = types.NodeHealthy
	}
	return nil
}
