package runtime

import (
	"context"
	"time"
)

// ContainerState is the lifecycle state the runtime reports for a container.
type ContainerState string

const (
	ContainerPending ContainerState = "pending"
	ContainerRunning ContainerState = "running"
	ContainerExited  ContainerState = "exited"
	ContainerFailed  ContainerState = "failed"
)

// ContainerSpec is the runtime-facing description of a container to create;
// it carries everything the node agent resolved before the blocking call
// (image, GPU indices, resource limits, mesh attachment).
type ContainerSpec struct {
	Image     string
	Command   []string
	Env       map[string]string
	GPUIndices []int
	MemoryLimitBytes int64
	CPUCores  float64
	Labels    map[string]string
	MeshIP    string
}

// Container is the runtime's view of a created container.
type Container struct {
	ID        string
	Image     string
	State     ContainerState
	StartedAt time.Time
	ExitCode  int
	Error     string
}

// AsyncContainerRuntime is the port the node agent (pkg/node) drives for all
// blocking container work. A fake implementation satisfies the same
// contract so the node core is testable without a real container engine.
type AsyncContainerRuntime interface {
	Create(ctx context.Context, spec ContainerSpec) (Container, error)
	Stop(ctx context.Context, id string, graceSeconds int) error
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]Container, error)
	Get(ctx context.Context, id string) (Container, error)
	Logs(ctx context.Context, id string, tail *int) ([]string, error)
	StreamLogs(ctx context.Context, id string) (<-chan string, error)
}
