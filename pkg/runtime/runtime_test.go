package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeRuntimeCreateListGet(t *testing.T) {
	rt := NewFakeRuntime()
	ctx := context.Background()

	c, err := rt.Create(ctx, ContainerSpec{Image: "nginx:latest"})
	require.NoError(t, err)
	assert.Equal(t, ContainerRunning, c.State)
	assert.Equal(t, 1, rt.ContainerCount())

	got, err := rt.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	list, err := rt.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFakeRuntimeCreateErrorInjection(t *testing.T) {
	rt := NewFakeRuntime()
	rt.InjectCreateError = assert.AnError

	_, err := rt.Create(context.Background(), ContainerSpec{Image: "nginx:latest"})
	assert.Error(t, err)
	assert.Equal(t, 0, rt.ContainerCount())
}

func TestFakeRuntimeStopAndRemove(t *testing.T) {
	rt := NewFakeRuntime()
	ctx := context.Background()

	c, err := rt.Create(ctx, ContainerSpec{Image: "nginx:latest"})
	require.NoError(t, err)

	require.NoError(t, rt.Stop(ctx, c.ID, 5))
	got, err := rt.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, ContainerExited, got.State)

	require.NoError(t, rt.Remove(ctx, c.ID))
	_, err = rt.Get(ctx, c.ID)
	assert.Error(t, err)
}

func TestFakeRuntimeStreamLogsDeliversQueuedLines(t *testing.T) {
	rt := NewFakeRuntime()
	ctx := context.Background()

	c, err := rt.Create(ctx, ContainerSpec{Image: "worker:latest"})
	require.NoError(t, err)

	stream, err := rt.StreamLogs(ctx, c.ID)
	require.NoError(t, err)

	rt.QueueLogLine(c.ID, "line one")
	rt.QueueLogLine(c.ID, "line two")
	rt.CloseStream(c.ID)

	var lines []string
	for line := range stream {
		lines = append(lines, line)
	}
	assert.Equal(t, []string{"line one", "line two"}, lines)
}
