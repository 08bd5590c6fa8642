package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

func TestBoltStoreRoundTripsNodesAndWorkloads(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	node := &types.Node{ID: types.NewNodeID(), Name: "node-a", CreatedAt: time.Now()}
	require.NoError(t, store.SaveNode(node))

	nodes, err := store.ListNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, node.Name, nodes[0].Name)

	w := &types.Workload{ID: types.NewWorkloadID(), State: types.WorkloadRunning, CreatedAt: time.Now()}
	require.NoError(t, store.SaveWorkload(w))

	workloads, err := store.ListWorkloads()
	require.NoError(t, err)
	require.Len(t, workloads, 1)
	assert.Equal(t, types.WorkloadRunning, workloads[0].State)

	require.NoError(t, store.DeleteNode(node.ID))
	nodes, err = store.ListNodes()
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestBoltStoreReopenPreservesSnapshots(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	node := &types.Node{ID: types.NewNodeID(), Name: "node-b", CreatedAt: time.Now()}
	require.NoError(t, store.SaveNode(node))
	require.NoError(t, store.Close())

	reopened, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer reopened.Close()
	nodes, err := reopened.ListNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "node-b", nodes[0].Name)
}
