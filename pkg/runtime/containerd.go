package runtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/rs/zerolog"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/log"
)

const (
	// DefaultNamespace is the containerd namespace clawbernetes containers run in.
	DefaultNamespace = "clawbernetes"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdRuntime implements AsyncContainerRuntime against a real
// containerd daemon, wrapping containerd's client/oci/cio packages for
// image pull, OCI spec generation, and task lifecycle.
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
	logger    zerolog.Logger

	mu       sync.Mutex
	logTasks map[string]*logTap
}

// NewContainerdRuntime creates a new containerd runtime client.
func NewContainerdRuntime(socketPath string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("runtime: connect to containerd: %w", err)
	}

	return &ContainerdRuntime{
		client:    client,
		namespace: DefaultNamespace,
		logger:    log.WithComponent("runtime.containerd"),
		logTasks:  make(map[string]*logTap),
	}, nil
}

// Close releases the containerd client connection.
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *ContainerdRuntime) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, r.namespace)
}

// Create pulls the image if needed, builds an OCI spec from spec (resource
// limits, env, labels), and creates + starts a containerd task.
func (r *ContainerdRuntime) Create(ctx context.Context, spec ContainerSpec) (Container, error) {
	ctx = r.ctx(ctx)

	image, err := r.client.GetImage(ctx, spec.Image)
	if err != nil {
		r.logger.Debug().Str("image", spec.Image).Msg("image not present locally, pulling")
		image, err = r.client.Pull(ctx, spec.Image, containerd.WithPullUnpack)
		if err != nil {
			return Container{}, fmt.Errorf("runtime: pull image %s: %w", spec.Image, err)
		}
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(envSlice(spec.Env)),
	}
	if len(spec.Command) > 0 {
		opts = append(opts, oci.WithProcessArgs(spec.Command...))
	}
	if spec.CPUCores > 0 {
		shares := uint64(spec.CPUCores * 1024)
		quota := int64(spec.CPUCores * 100000)
		opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, 100000))
	}
	if spec.MemoryLimitBytes > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(spec.MemoryLimitBytes)))
	}

	id := fmt.Sprintf("clawctr-%d", time.Now().UnixNano())
	ctrdContainer, err := r.client.NewContainer(
		ctx,
		id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(opts...),
		containerd.WithContainerLabels(labelsOrEmpty(spec.Labels)),
	)
	if err != nil {
		return Container{}, fmt.Errorf("runtime: create container: %w", err)
	}

	tap := newLogTap()
	r.mu.Lock()
	r.logTasks[id] = tap
	r.mu.Unlock()

	logPipe, logWriter := io.Pipe()
	go tap.drain(logPipe)

	task, err := ctrdContainer.NewTask(ctx, cio.NewCreator(cio.WithStreams(nil, logWriter, logWriter)))
	if err != nil {
		_ = ctrdContainer.Delete(ctx, containerd.WithSnapshotCleanup)
		return Container{}, fmt.Errorf("runtime: create task: %w", err)
	}
	if err := task.Start(ctx); err != nil {
		_ = ctrdContainer.Delete(ctx, containerd.WithSnapshotCleanup)
		return Container{}, fmt.Errorf("runtime: start task: %w", err)
	}

	return Container{ID: ctrdContainer.ID(), Image: spec.Image, State: ContainerRunning, StartedAt: time.Now()}, nil
}

// Stop sends SIGTERM, waits up to graceSeconds, then SIGKILLs.
func (r *ContainerdRuntime) Stop(ctx context.Context, id string, graceSeconds int) error {
	ctx = r.ctx(ctx)

	ctr, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return fmt.Errorf("runtime: load container %s: %w", id, err)
	}
	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return nil // no task means already stopped
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Duration(graceSeconds)*time.Second)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("runtime: send SIGTERM to %s: %w", id, err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("runtime: wait for task %s: %w", id, err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("runtime: send SIGKILL to %s: %w", id, err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("runtime: delete task %s: %w", id, err)
	}
	return nil
}

// Remove deletes a container and its snapshot; idempotent if already gone.
func (r *ContainerdRuntime) Remove(ctx context.Context, id string) error {
	ctx = r.ctx(ctx)

	ctr, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return nil
	}
	if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("runtime: delete container %s: %w", id, err)
	}

	r.mu.Lock()
	if tap, ok := r.logTasks[id]; ok {
		tap.close()
		delete(r.logTasks, id)
	}
	r.mu.Unlock()
	return nil
}

// List returns every container currently known to containerd in our namespace.
func (r *ContainerdRuntime) List(ctx context.Context) ([]Container, error) {
	ctx = r.ctx(ctx)

	ctrs, err := r.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("runtime: list containers: %w", err)
	}

	out := make([]Container, 0, len(ctrs))
	for _, c := range ctrs {
		container, err := r.Get(ctx, c.ID())
		if err != nil {
			continue
		}
		out = append(out, container)
	}
	return out, nil
}

// Get reports the current state of one container.
func (r *ContainerdRuntime) Get(ctx context.Context, id string) (Container, error) {
	ctx = r.ctx(ctx)

	ctr, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return Container{}, fmt.Errorf("runtime: load container %s: %w", id, err)
	}

	info, err := ctr.Info(ctx)
	image := ""
	if err == nil {
		image = info.Image
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return Container{ID: id, Image: image, State: ContainerPending}, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return Container{}, fmt.Errorf("runtime: task status %s: %w", id, err)
	}

	c := Container{ID: id, Image: image}
	switch status.Status {
	case containerd.Running, containerd.Paused:
		c.State = ContainerRunning
	case containerd.Stopped:
		c.ExitCode = int(status.ExitStatus)
		if status.ExitStatus == 0 {
			c.State = ContainerExited
		} else {
			c.State = ContainerFailed
		}
	default:
		c.State = ContainerPending
	}
	return c, nil
}

// Logs returns up to `tail` of the most recent log lines (nil tail = all
// buffered so far), reading the same io.Pipe-fed tap as StreamLogs.
func (r *ContainerdRuntime) Logs(ctx context.Context, id string, tail *int) ([]string, error) {
	r.mu.Lock()
	tap, ok := r.logTasks[id]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}
	lines := tap.snapshot()
	if tail != nil && *tail < len(lines) {
		lines = lines[len(lines)-*tail:]
	}
	return lines, nil
}

// StreamLogs returns a channel of log lines for id, fed by a cio log tap
// registered when the container's task was created.
func (r *ContainerdRuntime) StreamLogs(ctx context.Context, id string) (<-chan string, error) {
	r.mu.Lock()
	tap, ok := r.logTasks[id]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("runtime: no log tap registered for %s", id)
	}
	return tap.subscribe(), nil
}

// logTap buffers log lines read from a container's cio pipes and fans them
// out to StreamLogs subscribers.
type logTap struct {
	mu     sync.Mutex
	lines  []string
	subs   []chan string
	closed bool
}

func newLogTap() *logTap { return &logTap{} }

func (t *logTap) drain(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		t.push(scanner.Text())
	}
}

func (t *logTap) push(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.lines = append(t.lines, line)
	for _, s := range t.subs {
		select {
		case s <- line:
		default:
		}
	}
}

func (t *logTap) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for _, s := range t.subs {
		close(s)
	}
	t.subs = nil
}

func (t *logTap) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}

func (t *logTap) subscribe() <-chan string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan string, 256)
	t.subs = append(t.subs, ch)
	return ch
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

func labelsOrEmpty(labels map[string]string) map[string]string {
	if labels == nil {
		return map[string]string{}
	}
	return labels
}

var _ io.Closer = (*ContainerdRuntime)(nil)
