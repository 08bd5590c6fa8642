package gateway

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/alerts"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/events"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/observability"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/protocol"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/registry"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/rollback"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/tenancy"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/volume"
)

// recordingSink records every frame sent to a node for assertions.
type recordingSink struct {
	mu   sync.Mutex
	sent []sentFrame
}

type sentFrame struct {
	nodeID  types.NodeID
	msgType protocol.MessageType
	msg     any
}

func (s *recordingSink) SendToNode(nodeID types.NodeID, msgType protocol.MessageType, msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentFrame{nodeID, msgType, msg})
	return nil
}

func (s *recordingSink) last() sentFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	return NewDispatcher(tenancy.NewManager(), registry.NewRegistry(), nil, volume.NewManager(), nil, Config{})
}

func registerTestNode(t *testing.T, d *Dispatcher, gpuCount int) (types.NodeID, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	id, err := d.RegisterNode("node-a", types.NodeCapabilities{GPUCount: gpuCount, RuntimeKind: "containerd"}, protocol.ProtocolVersion, sink)
	require.NoError(t, err)
	return id, sink
}

func TestRegisterNodeRejectsProtocolMismatch(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.RegisterNode("node-a", types.NodeCapabilities{}, protocol.ProtocolVersion+1, &recordingSink{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocolMismatch)
}

func TestHeartbeatUndegradesUnhealthyNode(t *testing.T) {
	d := newTestDispatcher(t)
	id, _ := registerTestNode(t, d, 4)

	d.mu.Lock()
	d.nodes[id].node.Health = types.NodeUnhealthy
	d.mu.Unlock()

	require.NoError(t, d.Heartbeat(id, time.Now()))
	node, err := d.GetNode(id)
	require.NoError(t, err)
	assert.Equal(t, types.NodeHealthy, node.Health)
}

func TestReconcileNodeHealthLapsesToUnhealthyThenOffline(t *testing.T) {
	d := newTestDispatcher(t)
	id, _ := registerTestNode(t, d, 4)

	d.mu.Lock()
	d.nodes[id].node.LastHeartbeat = time.Now().Add(-4 * HeartbeatInterval)
	d.mu.Unlock()
	d.reconcileNodeHealth(time.Now())
	node, _ := d.GetNode(id)
	assert.Equal(t, types.NodeUnhealthy, node.Health)

	d.mu.Lock()
	d.nodes[id].node.LastHeartbeat = time.Now().Add(-7 * HeartbeatInterval)
	d.mu.Unlock()
	d.reconcileNodeHealth(time.Now())
	node, _ = d.GetNode(id)
	assert.Equal(t, types.NodeOffline, node.Health)
}

func TestStartWorkloadPlacesOnHealthyNodeWithCapacity(t *testing.T) {
	d := newTestDispatcher(t)
	id, sink := registerTestNode(t, d, 4)

	wid, err := d.StartWorkload(types.WorkloadSpec{Image: "gpu:latest", Asks: types.ResourceAsk{GPUCount: 2}}, nil, nil)
	require.NoError(t, err)

	w, err := d.GetWorkload(wid)
	require.NoError(t, err)
	assert.Equal(t, id, w.NodeID)

	frame := sink.last()
	assert.Equal(t, protocol.TypeStartWorkload, frame.msgType)
}

func TestStartWorkloadNoCapacityFails(t *testing.T) {
	d := newTestDispatcher(t)
	registerTestNode(t, d, 1)

	_, err := d.StartWorkload(types.WorkloadSpec{Image: "gpu:latest", Asks: types.ResourceAsk{GPUCount: 4}}, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCapacity)
}

func TestStartWorkloadWithGatesStaysGatedUntilCleared(t *testing.T) {
	d := newTestDispatcher(t)
	registerTestNode(t, d, 4)

	wid, err := d.StartWorkload(types.WorkloadSpec{Image: "gpu:latest"}, nil, []types.ScheduleGate{{Name: "manual-approval"}})
	require.NoError(t, err)

	w, err := d.GetWorkload(wid)
	require.NoError(t, err)
	assert.Equal(t, types.WorkloadSchedulingGated, w.State)

	require.NoError(t, d.ClearGate(wid, "manual-approval"))
	w, err = d.GetWorkload(wid)
	require.NoError(t, err)
	assert.Equal(t, types.WorkloadPending, w.State)
	assert.NotEmpty(t, w.NodeID)
}

func TestHandleWorkloadUpdateTransitionsAndReleasesGPUAccounting(t *testing.T) {
	d := newTestDispatcher(t)
	id, _ := registerTestNode(t, d, 4)

	wid, err := d.StartWorkload(types.WorkloadSpec{Image: "gpu:latest", Asks: types.ResourceAsk{GPUCount: 2}}, nil, nil)
	require.NoError(t, err)

	d.HandleWorkloadUpdate(protocol.WorkloadUpdateMessage{WorkloadID: string(wid), State: string(types.WorkloadRunning)})
	w, _ := d.GetWorkload(wid)
	assert.Equal(t, types.WorkloadRunning, w.State)
	d.mu.RLock()
	assert.Equal(t, 2, d.freeGPUs(id))
	d.mu.RUnlock()

	d.HandleWorkloadUpdate(protocol.WorkloadUpdateMessage{WorkloadID: string(wid), State: string(types.WorkloadStopped)})
	w, _ = d.GetWorkload(wid)
	assert.Equal(t, types.WorkloadStopped, w.State)
	d.mu.RLock()
	assert.Equal(t, 4, d.freeGPUs(id))
	d.mu.RUnlock()
}

func TestHandleWorkloadLogsBuffersAndTrims(t *testing.T) {
	d := newTestDispatcher(t)
	registerTestNode(t, d, 4)
	wid, err := d.StartWorkload(types.WorkloadSpec{Image: "gpu:latest"}, nil, nil)
	require.NoError(t, err)

	d.HandleWorkloadLogs(protocol.WorkloadLogsMessage{WorkloadID: string(wid), Lines: []string{"one", "two", "three"}})
	lines, err := d.GetLogs(wid, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, lines)

	tail := 1
	lines, err = d.GetLogs(wid, &tail)
	require.NoError(t, err)
	assert.Equal(t, []string{"three"}, lines)
}

func TestStopWorkloadDispatchesToOwningNode(t *testing.T) {
	d := newTestDispatcher(t)
	_, ownerSink := registerTestNode(t, d, 4)
	wid, err := d.StartWorkload(types.WorkloadSpec{Image: "gpu:latest"}, nil, nil)
	require.NoError(t, err)

	_, sink := registerTestNode(t, d, 0) // unrelated node, sanity that stop targets the right one
	_ = sink

	w, _ := d.GetWorkload(wid)
	require.NoError(t, d.StopWorkload(wid, 10))
	node, err := d.GetNode(w.NodeID)
	require.NoError(t, err)
	assert.NotEmpty(t, node.ID)
	assert.Equal(t, protocol.TypeStopWorkload, ownerSink.last().msgType)
	assert.Empty(t, sink.sent)
}

func TestDrainNodeExcludesFromPlacement(t *testing.T) {
	d := newTestDispatcher(t)
	id, _ := registerTestNode(t, d, 4)
	require.NoError(t, d.DrainNode(id, true))

	_, err := d.StartWorkload(types.WorkloadSpec{Image: "gpu:latest", Asks: types.ResourceAsk{GPUCount: 1}}, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCapacity)
}

func TestGetStatusCountsNodesAndWorkloads(t *testing.T) {
	d := newTestDispatcher(t)
	registerTestNode(t, d, 4)
	_, err := d.StartWorkload(types.WorkloadSpec{Image: "gpu:latest"}, nil, nil)
	require.NoError(t, err)

	status := d.GetStatus()
	assert.Equal(t, 1, status.NodeCount)
	assert.Equal(t, 1, status.WorkloadCount)
	assert.Equal(t, 1, status.HealthyNodes)
}

func TestErrorForCodeMapsSentinels(t *testing.T) {
	assert.Equal(t, protocol.CodeNodeNotFound, ErrorForCode(ErrNodeNotFound, "get_node").Code)
	assert.Equal(t, protocol.CodeWorkloadNotFound, ErrorForCode(ErrWorkloadNotFound, "get_workload").Code)
	assert.Equal(t, protocol.CodeNoCapacity, ErrorForCode(ErrNoCapacity, "start_workload").Code)
}

func TestEventBrokerPublishesNodeAndWorkloadLifecycle(t *testing.T) {
	broker := events.NewBroker()
	d := NewDispatcher(tenancy.NewManager(), registry.NewRegistry(), nil, volume.NewManager(), nil, Config{}).
		WithEventBroker(broker)
	d.Start()
	defer d.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	id, _ := registerTestNode(t, d, 4)
	assertEventType(t, sub, events.EventNodeRegistered)

	wID, err := d.StartWorkload(types.WorkloadSpec{Image: "gpu:latest", Asks: types.ResourceAsk{GPUCount: 1}}, nil, nil)
	require.NoError(t, err)

	d.HandleWorkloadUpdate(protocol.WorkloadUpdateMessage{WorkloadID: string(wID), State: string(types.WorkloadRunning)})
	assertEventType(t, sub, events.EventWorkloadStarted)

	require.NoError(t, d.DrainNode(id, true))
	assertEventType(t, sub, events.EventNodeDraining)
}

func assertEventType(t *testing.T, sub events.Subscriber, want events.EventType) {
	t.Helper()
	select {
	case ev := <-sub:
		assert.Equal(t, want, ev.Type)
	case <-time.After(time.Second):
		t.Fatalf("expected event %s, got none", want)
	}
}

func TestUnattachedCollaboratorsReturnSentinel(t *testing.T) {
	d := newTestDispatcher(t)
	assert.NoError(t, d.PutAlertRule(&types.AlertRule{ID: "r1"}))
	assert.Nil(t, d.ListAlerts())

	_, err := d.PlanRollback(types.DeploymentID("dep-1"), nil)
	assert.ErrorIs(t, err, ErrCollaboratorNotAttached)

	_, err = d.AnalyzeNode("node-a", nil, nil, time.Now())
	assert.ErrorIs(t, err, ErrCollaboratorNotAttached)
}

func TestAttachedAlertsAndRollbackAreExercised(t *testing.T) {
	d := newTestDispatcher(t)
	d.WithAlerts(alerts.NewEngine())
	require.NoError(t, d.PutAlertRule(&types.AlertRule{
		ID:   types.AlertRuleID("high-error-rate"),
		Name: "high error rate",
		Condition: types.Condition{
			MetricName: "error_rate",
			Comparator: types.CmpGreaterThan,
			Threshold:  0.5,
		},
		ForDuration: time.Minute,
		Severity:    types.SeverityCritical,
		Enabled:     true,
	}))

	history, err := rollback.NewHistory(4)
	require.NoError(t, err)
	now := time.Now()
	history.Record(types.DeploymentSnapshot{ID: "dep-1", Timestamp: now})
	history.Record(types.DeploymentSnapshot{ID: "dep-2", Timestamp: now.Add(time.Minute)})
	d.WithRollback(rollback.NewExecutor(history))

	plan, err := d.PlanRollback("dep-2", nil)
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentID("dep-1"), plan.To)

	d.WithObservability(observability.NewAnalyzer(observability.DefaultAnalyzerConfig()))
	_, err = d.AnalyzeNode("node-a", nil, nil, now)
	require.NoError(t, err)
}
