package node

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/log"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/mesh"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/protocol"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/runtime"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

var (
	ErrWorkloadExists   = fmt.Errorf("node: workload already exists")
	ErrWorkloadNotFound = fmt.Errorf("node: workload not found")
)

// MaxMemoryMiB is the implementation cap a workload's memory ask is
// validated against.
const MaxMemoryMiB = 1 << 20 // 1 TiB, generous enough to only reject garbage input

const (
	logBatchCap  = 50
	logFlushWait = 500 * time.Millisecond
)

// UpdateSink receives the protocol messages the agent emits for a workload
// lifecycle (WorkloadUpdate) and its background log stream (WorkloadLogs).
// cmd/clawnode's gatewayClient is the production implementation, forwarding
// each message to the gateway as a frame; tests use a recording fake.
type UpdateSink interface {
	WorkloadUpdate(protocol.WorkloadUpdateMessage)
	WorkloadLogs(protocol.WorkloadLogsMessage)
}

// workloadInfo is the agent's record of a running workload, mirroring
// original_source's WorkloadInfo (clawnode/src/handlers_async.rs).
type workloadInfo struct {
	id          types.WorkloadID
	image       string
	gpuIndices  []int
	containerID string
	meshIP      net.IP
	startedAt   time.Time
	cancelLogs  context.CancelFunc
}

// Config configures an Agent.
type Config struct {
	PlatformLabel  string // value for the "managed-by" label, default "clawbernetes"
	WorkloadNetworkEnabled bool
}

// Agent owns the async lifecycle of workloads on one host. It holds
// no network transport of its own: StartWorkload/StopWorkload are called by
// whatever decodes incoming protocol frames (the node process's gateway
// client), and results are reported through an UpdateSink.
type Agent struct {
	mu        sync.Mutex
	logger    zerolog.Logger
	runtime   runtime.AsyncContainerRuntime
	sink      UpdateSink
	gpus      *GPUAllocator
	mesh      *mesh.Manager // nil when no workload network is configured
	platform  string

	workloads map[types.WorkloadID]*workloadInfo
}

// NewAgent constructs an Agent. meshMgr may be nil if no workload network
// is configured for this node.
func NewAgent(rt runtime.AsyncContainerRuntime, sink UpdateSink, gpuCount int, meshMgr *mesh.Manager, cfg Config) *Agent {
	platform := cfg.PlatformLabel
	if platform == "" {
		platform = "clawbernetes"
	}
	return &Agent{
		logger:    log.WithComponent("node.agent"),
		runtime:   rt,
		sink:      sink,
		gpus:      NewGPUAllocator(gpuCount),
		mesh:      meshMgr,
		platform:  platform,
		workloads: make(map[types.WorkloadID]*workloadInfo),
	}
}

// WorkloadCount reports how many workloads the agent is currently tracking.
func (a *Agent) WorkloadCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.workloads)
}

// AvailableGPUs reports free GPU indices.
func (a *Agent) AvailableGPUs() int {
	return a.gpus.AvailableCount()
}

func validateSpec(spec types.WorkloadSpec) error {
	if spec.Image == "" {
		return fmt.Errorf("image must not be empty")
	}
	if spec.Asks.GPUCount < 0 {
		return fmt.Errorf("gpu_count must not be negative")
	}
	if spec.Asks.MemoryMiB < 0 {
		return fmt.Errorf("memory_mib must not be negative")
	}
	if spec.Asks.MemoryMiB > MaxMemoryMiB {
		return fmt.Errorf("memory_mib %d exceeds implementation cap %d", spec.Asks.MemoryMiB, MaxMemoryMiB)
	}
	if spec.Asks.CPUCores < 0 {
		return fmt.Errorf("cpu_cores must not be negative")
	}
	return nil
}

// StartWorkload validates the spec, reserves GPUs under the state lock,
// releases the lock before the blocking runtime call, and emits
// WorkloadUpdate at each transition.
func (a *Agent) StartWorkload(ctx context.Context, id types.WorkloadID, spec types.WorkloadSpec) {
	logger := a.logger.With().Str("workload_id", string(id)).Str("image", spec.Image).Logger()
	logger.Info().Int("gpu_count", spec.Asks.GPUCount).Msg("starting workload")

	if err := validateSpec(spec); err != nil {
		logger.Warn().Err(err).Msg("workload validation failed")
		a.emitUpdate(id, types.WorkloadFailed, fmt.Sprintf("validation failed: %v", err))
		return
	}

	a.mu.Lock()
	if _, exists := a.workloads[id]; exists {
		a.mu.Unlock()
		logger.Warn().Msg("workload already exists")
		a.emitUpdate(id, types.WorkloadFailed, "workload already exists")
		return
	}

	var gpuIndices []int
	if spec.Asks.GPUCount > 0 {
		indices, err := a.gpus.Allocate(spec.Asks.GPUCount)
		if err != nil {
			a.mu.Unlock()
			logger.Warn().Err(err).Msg("GPU allocation failed")
			a.emitUpdate(id, types.WorkloadFailed, fmt.Sprintf("GPU allocation failed: %v", err))
			return
		}
		gpuIndices = indices
	}
	a.mu.Unlock()

	a.emitUpdate(id, types.WorkloadStarting, "allocating resources")

	var meshIP net.IP
	if a.mesh != nil {
		ip, err := a.mesh.AllocateMeshIP()
		if err != nil {
			a.gpus.Release(gpuIndices)
			logger.Warn().Err(err).Msg("mesh IP allocation failed")
			a.emitUpdate(id, types.WorkloadFailed, fmt.Sprintf("mesh IP allocation failed: %v", err))
			return
		}
		meshIP = ip
	}

	labels := map[string]string{
		"managed-by":  a.platform,
		"workload-id": string(id),
	}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	containerSpec := runtime.ContainerSpec{
		Image:            spec.Image,
		Command:          spec.Command,
		Env:              spec.Env,
		GPUIndices:       gpuIndices,
		MemoryLimitBytes: spec.Asks.MemoryMiB * 1024 * 1024,
		CPUCores:         spec.Asks.CPUCores,
		Labels:           labels,
	}
	if meshIP != nil {
		containerSpec.MeshIP = meshIP.String()
	}

	container, err := a.runtime.Create(ctx, containerSpec)
	if err != nil {
		a.gpus.Release(gpuIndices)
		if meshIP != nil {
			a.mesh.ReleaseMeshIP(meshIP)
		}
		logger.Warn().Err(err).Msg("container creation failed")
		a.emitUpdate(id, types.WorkloadFailed, fmt.Sprintf("container creation failed: %v", err))
		return
	}

	logsCtx, cancelLogs := context.WithCancel(context.Background())
	info := &workloadInfo{
		id:          id,
		image:       spec.Image,
		gpuIndices:  gpuIndices,
		containerID: container.ID,
		meshIP:      meshIP,
		startedAt:   time.Now(),
		cancelLogs:  cancelLogs,
	}

	a.mu.Lock()
	a.workloads[id] = info
	a.mu.Unlock()

	go a.streamLogs(logsCtx, id, container.ID)

	logger.Info().Str("container_id", container.ID).Msg("workload started successfully")
	a.emitUpdate(id, types.WorkloadRunning, fmt.Sprintf("container %s started", container.ID))
}

// StopWorkload cancels log streaming, stops and removes the container,
// then releases the workload's GPUs and mesh IP under the state lock.
func (a *Agent) StopWorkload(ctx context.Context, id types.WorkloadID, gracePeriodSecs int) error {
	logger := a.logger.With().Str("workload_id", string(id)).Logger()
	logger.Info().Int("grace_period_secs", gracePeriodSecs).Msg("stopping workload")

	a.mu.Lock()
	info, exists := a.workloads[id]
	a.mu.Unlock()
	if !exists {
		logger.Warn().Msg("workload not found for stop request")
		return ErrWorkloadNotFound
	}

	a.emitUpdate(id, types.WorkloadStopping, "graceful shutdown initiated")

	if info.cancelLogs != nil {
		info.cancelLogs()
	}

	if info.containerID != "" {
		if err := a.runtime.Stop(ctx, info.containerID, gracePeriodSecs); err != nil {
			logger.Warn().Err(err).Str("container_id", info.containerID).Msg("error stopping container")
		}
		if err := a.runtime.Remove(ctx, info.containerID); err != nil {
			logger.Warn().Err(err).Str("container_id", info.containerID).Msg("error removing container")
		}
	}

	a.mu.Lock()
	delete(a.workloads, id)
	a.gpus.Release(info.gpuIndices)
	if a.mesh != nil && info.meshIP != nil {
		a.mesh.ReleaseMeshIP(info.meshIP)
	}
	a.mu.Unlock()

	logger.Info().Msg("workload stopped successfully")
	a.emitUpdate(id, types.WorkloadStopped, "workload stopped")
	return nil
}

// streamLogs reads runtime.StreamLogs and batches lines by count (50) or
// time (500ms) into WorkloadLogs protocol messages.
func (a *Agent) streamLogs(ctx context.Context, id types.WorkloadID, containerID string) {
	logger := a.logger.With().Str("workload_id", string(id)).Str("container_id", containerID).Logger()
	logger.Debug().Msg("starting log streaming")

	lines, err := a.runtime.StreamLogs(ctx, containerID)
	if err != nil {
		logger.Warn().Err(err).Msg("log streaming failed to start")
		return
	}

	buf := make([]string, 0, logBatchCap)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		a.sink.WorkloadLogs(protocol.WorkloadLogsMessage{WorkloadID: string(id), Lines: buf, Truncated: false})
		buf = make([]string, 0, logBatchCap)
	}

	timer := time.NewTimer(logFlushWait)
	defer timer.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				flush()
				logger.Debug().Msg("log stream ended")
				return
			}
			buf = append(buf, line)
			if len(buf) >= logBatchCap {
				flush()
			}
		case <-timer.C:
			flush()
			timer.Reset(logFlushWait)
		case <-ctx.Done():
			flush()
			logger.Debug().Msg("log streaming cancelled")
			return
		}
	}
}

func (a *Agent) emitUpdate(id types.WorkloadID, state types.WorkloadState, message string) {
	msg := message
	a.sink.WorkloadUpdate(protocol.WorkloadUpdateMessage{
		WorkloadID: string(id),
		State:      string(state),
		Message:    &msg,
	})
}
