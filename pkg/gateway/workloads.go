package gateway

import (
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/events"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/protocol"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/tenancy"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

// ErrWorkloadNotFound mirrors the wire code protocol.CodeWorkloadNotFound.
var ErrWorkloadNotFound = fmt.Errorf("gateway: workload not found")

// ErrNoCapacity mirrors protocol.CodeNoCapacity: no schedulable node can
// satisfy the workload's resource ask.
var ErrNoCapacity = fmt.Errorf("gateway: no node has capacity for this workload")

// namespaceLabel is the WorkloadSpec label key a workload uses to opt into
// tenancy admission. A workload with no such label skips quota accounting.
const namespaceLabel = "namespace"

// StartWorkload places a workload on the least-loaded schedulable node (by
// free GPU count), runs tenancy admission if the spec names a namespace,
// and dispatches a start_workload frame. The workload begins in
// scheduling-gated if the caller supplied gates, else in pending; it stays
// pending after placement until the node reports a new state.
func (d *Dispatcher) StartWorkload(spec types.WorkloadSpec, preferredNode *types.NodeID, gates []types.ScheduleGate) (types.WorkloadID, error) {
	id := types.NewWorkloadID()
	now := time.Now()

	w := &types.Workload{
		ID:        id,
		Spec:      spec,
		State:     types.WorkloadPending,
		Gates:     gates,
		CreatedAt: now,
	}

	if w.HasGates() {
		w.State = types.WorkloadSchedulingGated
		d.mu.Lock()
		d.workloads[id] = w
		d.mu.Unlock()
		return id, nil
	}

	if err := d.admitWorkload(spec); err != nil {
		return "", err
	}

	nodeID, err := d.placeWorkload(spec, preferredNode)
	if err != nil {
		return "", err
	}
	w.NodeID = nodeID

	d.mu.Lock()
	d.workloads[id] = w
	entry := d.nodes[nodeID]
	d.mu.Unlock()

	d.recordWorkloadAdmission(spec, 1)

	if err := entry.sink.SendToNode(nodeID, protocol.TypeStartWorkload, protocol.StartWorkloadMessage{
		WorkloadID: string(id),
		Spec:       toSpecPayload(spec),
	}); err != nil {
		d.logger.Warn().Err(err).Str("workload_id", string(id)).Msg("failed to dispatch start_workload")
	}

	return id, nil
}

// ClearGate removes one named gate from a scheduling-gated workload; once
// the gate set is empty the workload is placed and dispatched the same way
// StartWorkload would have placed it directly.
func (d *Dispatcher) ClearGate(id types.WorkloadID, gateName string) error {
	d.mu.Lock()
	w, ok := d.workloads[id]
	if !ok {
		d.mu.Unlock()
		return ErrWorkloadNotFound
	}
	kept := w.Gates[:0]
	for _, g := range w.Gates {
		if g.Name != gateName {
			kept = append(kept, g)
		}
	}
	w.Gates = kept
	ready := !w.HasGates() && w.State == types.WorkloadSchedulingGated
	if ready {
		w.State = types.WorkloadPending
	}
	spec := w.Spec
	d.mu.Unlock()

	if !ready {
		return nil
	}

	if err := d.admitWorkload(spec); err != nil {
		d.failWorkload(id, err.Error())
		return err
	}
	nodeID, err := d.placeWorkload(spec, nil)
	if err != nil {
		d.failWorkload(id, err.Error())
		return err
	}

	d.mu.Lock()
	w.NodeID = nodeID
	entry := d.nodes[nodeID]
	d.mu.Unlock()

	d.recordWorkloadAdmission(spec, 1)
	d.publish(events.EventGateCleared, string(id), gateName)
	return entry.sink.SendToNode(nodeID, protocol.TypeStartWorkload, protocol.StartWorkloadMessage{
		WorkloadID: string(id),
		Spec:       toSpecPayload(spec),
	})
}

// ListGates returns every open gate across all tracked workloads, keyed by
// workload ID.
func (d *Dispatcher) ListGates() map[types.WorkloadID][]types.ScheduleGate {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[types.WorkloadID][]types.ScheduleGate)
	for id, w := range d.workloads {
		if w.HasGates() {
			out[id] = append([]types.ScheduleGate(nil), w.Gates...)
		}
	}
	return out
}

func (d *Dispatcher) failWorkload(id types.WorkloadID, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.workloads[id]; ok {
		w.State = types.WorkloadFailed
		w.Reason = reason
		w.StoppedAt = time.Now()
	}
}

// admitWorkload runs tenancy quota admission if the spec names a namespace
// via the "namespace" label; untenanted workloads skip the check.
func (d *Dispatcher) admitWorkload(spec types.WorkloadSpec) error {
	nsName, ok := spec.Labels[namespaceLabel]
	if !ok || nsName == "" || d.tenancy == nil {
		return nil
	}
	// The namespace label carries the NamespaceID directly; the CLI/client
	// resolves a human name to an ID before submitting the spec.
	ns, err := d.tenancy.GetNamespace(types.NamespaceID(nsName))
	if err != nil {
		return fmt.Errorf("gateway: admission failed: %w", err)
	}
	ask := types.ResourceAskForAdmission{
		Workloads: 1,
		GPUs:      spec.Asks.GPUCount,
		MemoryMiB: spec.Asks.MemoryMiB,
	}
	return tenancy.AdmitWorkload(ns.Quota, ns.Usage, ask)
}

func (d *Dispatcher) recordWorkloadAdmission(spec types.WorkloadSpec, sign int) {
	nsName, ok := spec.Labels[namespaceLabel]
	if !ok || nsName == "" || d.tenancy == nil {
		return
	}
	ask := types.ResourceAskForAdmission{
		Workloads: 1,
		GPUs:      spec.Asks.GPUCount,
		MemoryMiB: spec.Asks.MemoryMiB,
	}
	var err error
	if sign > 0 {
		err = d.tenancy.RecordWorkloadAdded(types.NamespaceID(nsName), ask)
	} else {
		err = d.tenancy.RecordWorkloadRemoved(types.NamespaceID(nsName), ask)
	}
	if err != nil {
		d.logger.Warn().Err(err).Str("namespace", nsName).Msg("tenancy usage bookkeeping failed")
	}
}

// placeWorkload picks the schedulable, non-draining healthy node with the
// most free GPU capacity that still satisfies the ask; callers must not
// hold d.mu.
func (d *Dispatcher) placeWorkload(spec types.WorkloadSpec, preferred *types.NodeID) (types.NodeID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if preferred != nil {
		entry, ok := d.nodes[*preferred]
		if ok && entry.node.Health == types.NodeHealthy && d.freeGPUs(*preferred) >= spec.Asks.GPUCount {
			return *preferred, nil
		}
	}

	type candidate struct {
		id   types.NodeID
		free int
	}
	var candidates []candidate
	for id, entry := range d.nodes {
		if entry.node.Health != types.NodeHealthy || entry.drain {
			continue
		}
		free := d.freeGPUs(id)
		if free >= spec.Asks.GPUCount {
			candidates = append(candidates, candidate{id, free})
		}
	}
	if len(candidates) == 0 {
		return "", ErrNoCapacity
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].free > candidates[j].free })
	return candidates[0].id, nil
}

// freeGPUs computes a node's free GPU count from its total capacity minus
// every running/starting workload currently assigned to it. Callers must
// hold d.mu for reading.
func (d *Dispatcher) freeGPUs(nodeID types.NodeID) int {
	entry := d.nodes[nodeID]
	total := entry.node.Capabilities.GPUCount
	used := 0
	for _, w := range d.workloads {
		if w.NodeID == nodeID && (w.State == types.WorkloadStarting || w.State == types.WorkloadRunning) {
			used += len(w.GPUIndices)
			if len(w.GPUIndices) == 0 {
				used += w.Spec.Asks.GPUCount
			}
		}
	}
	return total - used
}

// StopWorkload dispatches a stop_workload frame to the owning node; the
// workload's state moves to stopped once the node reports it via
// WorkloadUpdate, not synchronously here, and its entry stays in the registry.
func (d *Dispatcher) StopWorkload(id types.WorkloadID, gracePeriodSecs int) error {
	d.mu.RLock()
	w, ok := d.workloads[id]
	if !ok {
		d.mu.RUnlock()
		return ErrWorkloadNotFound
	}
	entry, hasNode := d.nodes[w.NodeID]
	d.mu.RUnlock()

	if !hasNode {
		return ErrNodeNotFound
	}
	return entry.sink.SendToNode(w.NodeID, protocol.TypeStopWorkload, protocol.StopWorkloadMessage{
		WorkloadID:      string(id),
		GracePeriodSecs: gracePeriodSecs,
	})
}

// GetWorkload returns a snapshot of one workload.
func (d *Dispatcher) GetWorkload(id types.WorkloadID) (types.Workload, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	w, ok := d.workloads[id]
	if !ok {
		return types.Workload{}, ErrWorkloadNotFound
	}
	return *w, nil
}

// ListWorkloads returns a snapshot of every tracked workload.
func (d *Dispatcher) ListWorkloads() []types.Workload {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]types.Workload, 0, len(d.workloads))
	for _, w := range d.workloads {
		out = append(out, *w)
	}
	return out
}

// HandleWorkloadUpdate applies a node-reported lifecycle transition. On a
// terminal state it releases the workload's tenancy accounting and mesh IP.
func (d *Dispatcher) HandleWorkloadUpdate(msg protocol.WorkloadUpdateMessage) {
	id := types.WorkloadID(msg.WorkloadID)
	d.mu.Lock()
	w, ok := d.workloads[id]
	if !ok {
		d.mu.Unlock()
		d.logger.Warn().Str("workload_id", msg.WorkloadID).Msg("update for unknown workload")
		return
	}
	state := types.WorkloadState(msg.State)
	w.State = state
	if msg.Message != nil {
		w.Reason = *msg.Message
	}
	switch state {
	case types.WorkloadRunning:
		w.StartedAt = time.Now()
	case types.WorkloadStopped, types.WorkloadFailed:
		w.StoppedAt = time.Now()
		if d.mesh != nil {
			d.releaseWorkloadNetwork(w)
		}
	}
	spec := w.Spec
	snap := *w
	d.mu.Unlock()

	d.snapshotWorkload(snap)
	switch state {
	case types.WorkloadRunning:
		d.publish(events.EventWorkloadStarted, msg.WorkloadID, "")
	case types.WorkloadStopped:
		d.recordWorkloadAdmission(spec, -1)
		d.publish(events.EventWorkloadStopped, msg.WorkloadID, snap.Reason)
	case types.WorkloadFailed:
		d.recordWorkloadAdmission(spec, -1)
		d.publish(events.EventWorkloadFailed, msg.WorkloadID, snap.Reason)
	}
}

// releaseWorkloadNetwork returns a workload's mesh IP to the pool; callers
// must hold d.mu.
func (d *Dispatcher) releaseWorkloadNetwork(w *types.Workload) {
	if w.Spec.Labels == nil {
		return
	}
	ip, ok := w.Spec.Labels["mesh_ip"]
	if !ok || ip == "" {
		return
	}
	d.mesh.ReleaseMeshIP(net.ParseIP(ip))
}

// logBufferCap bounds the per-workload ring of recently received log lines
// the dispatcher keeps for get_logs queries; on overflow the oldest lines are
// dropped so that only the newest logBufferCap lines remain.
const logBufferCap = 1000

// HandleWorkloadLogs appends a batch of log lines reported by a node,
// dropping the oldest lines on overflow.
func (d *Dispatcher) HandleWorkloadLogs(msg protocol.WorkloadLogsMessage) {
	id := types.WorkloadID(msg.WorkloadID)
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := append(d.logs[id], msg.Lines...)
	if len(buf) > logBufferCap {
		buf = buf[len(buf)-logBufferCap:]
	}
	d.logs[id] = buf
}

// GetLogs returns up to tail lines (all of them if tail is nil) of a
// workload's buffered log history.
func (d *Dispatcher) GetLogs(id types.WorkloadID, tail *int) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.workloads[id]; !ok {
		return nil, ErrWorkloadNotFound
	}
	lines := d.logs[id]
	if tail != nil && *tail >= 0 && *tail < len(lines) {
		lines = lines[len(lines)-*tail:]
	}
	out := make([]string, len(lines))
	copy(out, lines)
	return out, nil
}

func toSpecPayload(spec types.WorkloadSpec) protocol.WorkloadSpecPayload {
	return protocol.WorkloadSpecPayload{
		Image:     spec.Image,
		Command:   spec.Command,
		Env:       spec.Env,
		GPUCount:  spec.Asks.GPUCount,
		MemoryMiB: spec.Asks.MemoryMiB,
		CPUCores:  spec.Asks.CPUCores,
		Labels:    spec.Labels,
	}
}
