package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/protocol"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/runtime"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

type recordingSink struct {
	mu      sync.Mutex
	updates []protocol.WorkloadUpdateMessage
	logs    []protocol.WorkloadLogsMessage
}

func (s *recordingSink) WorkloadUpdate(m protocol.WorkloadUpdateMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, m)
}

func (s *recordingSink) WorkloadLogs(m protocol.WorkloadLogsMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, m)
}

func (s *recordingSink) lastState() types.WorkloadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return ""
	}
	return types.WorkloadState(s.updates[len(s.updates)-1].State)
}

func (s *recordingSink) states() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.updates))
	for i, u := range s.updates {
		out[i] = u.State
	}
	return out
}

func newTestAgent(gpuCount int) (*Agent, *runtime.FakeRuntime, *recordingSink) {
	rt := runtime.NewFakeRuntime()
	sink := &recordingSink{}
	a := NewAgent(rt, sink, gpuCount, nil, Config{})
	return a, rt, sink
}

func testSpec(image string, gpuCount int) types.WorkloadSpec {
	return types.WorkloadSpec{
		Image: image,
		Asks:  types.ResourceAsk{GPUCount: gpuCount, MemoryMiB: 512},
	}
}

func TestStartWorkloadSuccess(t *testing.T) {
	a, rt, sink := newTestAgent(4)

	id := types.WorkloadID("w1")
	a.StartWorkload(context.Background(), id, testSpec("nginx:latest", 2))

	assert.Equal(t, types.WorkloadRunning, sink.lastState())
	assert.Equal(t, 1, a.WorkloadCount())
	assert.Equal(t, 2, a.AvailableGPUs())
	assert.Equal(t, 1, rt.ContainerCount())
}

func TestStartWorkloadNoGPUs(t *testing.T) {
	a, _, sink := newTestAgent(4)

	a.StartWorkload(context.Background(), types.WorkloadID("w1"), testSpec("nginx:latest", 0))

	assert.Equal(t, types.WorkloadRunning, sink.lastState())
	assert.Equal(t, 4, a.AvailableGPUs())
}

func TestStartWorkloadInsufficientGPUs(t *testing.T) {
	a, rt, sink := newTestAgent(2)

	a.StartWorkload(context.Background(), types.WorkloadID("w1"), testSpec("nvidia/cuda:12.0", 4))

	assert.Equal(t, types.WorkloadFailed, sink.lastState())
	require.NotEmpty(t, sink.updates)
	last := sink.updates[len(sink.updates)-1]
	require.NotNil(t, last.Message)
	assert.Contains(t, *last.Message, "GPU allocation failed")
	assert.Equal(t, 0, a.WorkloadCount())
	assert.Equal(t, 2, a.AvailableGPUs())
	assert.Equal(t, 0, rt.ContainerCount())
}

func TestStartWorkloadInvalidSpecFailsWithoutContainer(t *testing.T) {
	a, rt, sink := newTestAgent(4)

	a.StartWorkload(context.Background(), types.WorkloadID("w1"), testSpec("", 0))

	assert.Equal(t, types.WorkloadFailed, sink.lastState())
	last := sink.updates[len(sink.updates)-1]
	assert.Contains(t, *last.Message, "validation failed")
	assert.Equal(t, 0, rt.ContainerCount())
}

func TestStartWorkloadDuplicateFails(t *testing.T) {
	a, _, sink := newTestAgent(4)
	id := types.WorkloadID("w1")

	a.StartWorkload(context.Background(), id, testSpec("nginx:latest", 0))
	require.Equal(t, types.WorkloadRunning, sink.lastState())

	a.StartWorkload(context.Background(), id, testSpec("nginx:latest", 0))
	assert.Equal(t, types.WorkloadFailed, sink.lastState())
}

func TestStopWorkloadReleasesGPUs(t *testing.T) {
	a, rt, sink := newTestAgent(4)
	id := types.WorkloadID("w1")

	a.StartWorkload(context.Background(), id, testSpec("nginx:latest", 2))
	require.Equal(t, 2, a.AvailableGPUs())

	err := a.StopWorkload(context.Background(), id, 10)
	require.NoError(t, err)

	assert.Equal(t, types.WorkloadStopped, sink.lastState())
	assert.Equal(t, 0, a.WorkloadCount())
	assert.Equal(t, 4, a.AvailableGPUs())
	assert.Equal(t, 0, rt.ContainerCount())
}

func TestStopWorkloadNotFound(t *testing.T) {
	a, _, _ := newTestAgent(4)

	err := a.StopWorkload(context.Background(), types.WorkloadID("missing"), 10)
	assert.ErrorIs(t, err, ErrWorkloadNotFound)
}

func TestFullWorkloadLifecycleStateSequence(t *testing.T) {
	a, _, sink := newTestAgent(8)
	id := types.WorkloadID("w1")

	a.StartWorkload(context.Background(), id, testSpec("training:v1", 4))
	require.NoError(t, a.StopWorkload(context.Background(), id, 30))

	assert.Equal(t, []string{"starting", "running", "stopping", "stopped"}, sink.states())
	assert.Equal(t, 8, a.AvailableGPUs())
}

func TestMultipleWorkloadsTrackGPUsIndependently(t *testing.T) {
	a, _, _ := newTestAgent(8)

	ids := []types.WorkloadID{"w1", "w2", "w3"}
	counts := []int{2, 3, 1}
	for i, id := range ids {
		a.StartWorkload(context.Background(), id, testSpec("worker:latest", counts[i]))
	}
	assert.Equal(t, 3, a.WorkloadCount())
	assert.Equal(t, 2, a.AvailableGPUs())

	require.NoError(t, a.StopWorkload(context.Background(), ids[1], 10))
	assert.Equal(t, 2, a.WorkloadCount())
	assert.Equal(t, 5, a.AvailableGPUs())
}

func TestLogStreamingBatchesByTimeout(t *testing.T) {
	a, rt, sink := newTestAgent(4)
	id := types.WorkloadID("w1")

	a.StartWorkload(context.Background(), id, testSpec("nginx:latest", 0))
	require.Equal(t, 1, rt.ContainerCount())

	containers, err := rt.List(context.Background())
	require.NoError(t, err)
	require.Len(t, containers, 1)
	containerID := containers[0].ID

	rt.QueueLogLine(containerID, "hello")
	rt.QueueLogLine(containerID, "world")

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.logs) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.logs)
	assert.Equal(t, []string{"hello", "world"}, sink.logs[0].Lines)
}
