package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeRuntime is an in-memory AsyncContainerRuntime used by node agent
// tests, grounded on original_source's FakeAsyncContainerRuntime
// (clawnode/src/handlers_async.rs tests): every Create call succeeds
// unless InjectCreateError is set, and a StreamLogs channel receives the
// lines queued with QueueLogLine after it was opened (earlier lines are
// only returned by Logs).
type FakeRuntime struct {
	mu         sync.Mutex
	containers map[string]Container
	logs       map[string][]string
	streams    map[string][]chan string
	nextID     int

	InjectCreateError error
}

// NewFakeRuntime returns an empty fake runtime.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		containers: make(map[string]Container),
		logs:       make(map[string][]string),
		streams:    make(map[string][]chan string),
	}
}

func (f *FakeRuntime) Create(ctx context.Context, spec ContainerSpec) (Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.InjectCreateError != nil {
		return Container{}, f.InjectCreateError
	}

	f.nextID++
	c := Container{
		ID:        fmt.Sprintf("fake-%d", f.nextID),
		Image:     spec.Image,
		State:     ContainerRunning,
		StartedAt: time.Now(),
	}
	f.containers[c.ID] = c
	return c, nil
}

func (f *FakeRuntime) Stop(ctx context.Context, id string, graceSeconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return nil
	}
	c.State = ContainerExited
	f.containers[id] = c
	return nil
}

func (f *FakeRuntime) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
	for _, ch := range f.streams[id] {
		close(ch)
	}
	delete(f.streams, id)
	delete(f.logs, id)
	return nil
}

func (f *FakeRuntime) List(ctx context.Context) ([]Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Container, 0, len(f.containers))
	for _, c := range f.containers {
		out = append(out, c)
	}
	return out, nil
}

func (f *FakeRuntime) Get(ctx context.Context, id string) (Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return Container{}, fmt.Errorf("runtime: fake container %s not found", id)
	}
	return c, nil
}

func (f *FakeRuntime) Logs(ctx context.Context, id string, tail *int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := f.logs[id]
	if tail != nil && *tail < len(lines) {
		lines = lines[len(lines)-*tail:]
	}
	out := make([]string, len(lines))
	copy(out, lines)
	return out, nil
}

func (f *FakeRuntime) StreamLogs(ctx context.Context, id string) (<-chan string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan string, 256)
	f.streams[id] = append(f.streams[id], ch)
	return ch, nil
}

// QueueLogLine appends a line to id's buffer and pushes it to any active
// StreamLogs subscribers, simulating a container emitting output.
func (f *FakeRuntime) QueueLogLine(id, line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[id] = append(f.logs[id], line)
	for _, ch := range f.streams[id] {
		select {
		case ch <- line:
		default:
		}
	}
}

// CloseStream ends StreamLogs for id, as a real runtime would on container exit.
func (f *FakeRuntime) CloseStream(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.streams[id] {
		close(ch)
	}
	delete(f.streams, id)
}

// ContainerCount reports how many containers are currently tracked.
func (f *FakeRuntime) ContainerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

var _ AsyncContainerRuntime = (*FakeRuntime)(nil)
