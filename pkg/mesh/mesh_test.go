package mesh

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(NewFakeInterface(), DefaultManagerConfig())
	require.NoError(t, err)
	return m
}

func TestIPAllocatorStartsAtHostOne(t *testing.T) {
	a, err := NewIPAllocator("10.100.0.0/24")
	require.NoError(t, err)

	ip, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, "10.100.0.1", ip.String())

	ip2, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, "10.100.0.2", ip2.String())
}

func TestIPAllocatorReserveAndRelease(t *testing.T) {
	a, err := NewIPAllocator("10.100.0.0/24")
	require.NoError(t, err)

	ip := net.ParseIP("10.100.0.50")
	require.NoError(t, a.Reserve(ip))
	assert.ErrorIs(t, a.Reserve(ip), ErrIPAlreadyAllocated)

	a.Release(ip)
	assert.NoError(t, a.Reserve(ip))
}

func TestIPAllocatorSkipsAllocated(t *testing.T) {
	a, err := NewIPAllocator("10.100.0.0/24")
	require.NoError(t, err)

	require.NoError(t, a.Reserve(net.ParseIP("10.100.0.1")))
	ip, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, "10.100.0.2", ip.String())
}

func TestTopologyFullMeshPeersAreEveryoneElse(t *testing.T) {
	topo := NewFullMeshTopology("10.100.0.0/16")
	require.NoError(t, topo.AddNode(types.MeshNode{ID: "a", PublicKey: "pka", MeshIP: "10.100.0.1"}))
	require.NoError(t, topo.AddNode(types.MeshNode{ID: "b", PublicKey: "pkb", MeshIP: "10.100.0.2"}))
	require.NoError(t, topo.AddNode(types.MeshNode{ID: "c", PublicKey: "pkc", MeshIP: "10.100.0.3"}))

	peers := topo.PeersFor("a")
	assert.Len(t, peers, 2)
}

func TestTopologyFullMeshRejectsBeyondMax(t *testing.T) {
	topo := NewFullMeshTopology("10.100.0.0/8")
	for i := 0; i < types.MaxFullMeshNodes; i++ {
		id := string(rune('A' + i%26))
		require.NoError(t, topo.AddNode(types.MeshNode{ID: id + string(rune(i)), PublicKey: id, MeshIP: id}))
	}
	err := topo.AddNode(types.MeshNode{ID: "overflow", PublicKey: "overflow", MeshIP: "overflow"})
	assert.ErrorIs(t, err, ErrFullMeshTooLarge)
}

func TestTopologyHubSpokePeers(t *testing.T) {
	topo := NewHubSpokeTopology("10.100.0.0/16")
	require.NoError(t, topo.AddNode(types.MeshNode{ID: "hub", PublicKey: "pkh", MeshIP: "10.100.0.1", IsHub: true}))
	require.NoError(t, topo.AddNode(types.MeshNode{ID: "spoke1", PublicKey: "pk1", MeshIP: "10.100.0.2"}))
	require.NoError(t, topo.AddNode(types.MeshNode{ID: "spoke2", PublicKey: "pk2", MeshIP: "10.100.0.3"}))

	hubPeers := topo.PeersFor("hub")
	assert.Len(t, hubPeers, 2)

	spokePeers := topo.PeersFor("spoke1")
	require.Len(t, spokePeers, 1)
	assert.Equal(t, "hub", spokePeers[0].ID)
}

func TestTopologyHubSpokeValidateRequiresHub(t *testing.T) {
	topo := NewHubSpokeTopology("10.100.0.0/16")
	require.NoError(t, topo.AddNode(types.MeshNode{ID: "a", PublicKey: "pka", MeshIP: "10.100.0.1"}))
	assert.ErrorIs(t, topo.Validate(), ErrHubSpokeNoHub)
}

func TestTopologyCustomAdjacency(t *testing.T) {
	topo := NewCustomTopology("10.100.0.0/16")
	require.NoError(t, topo.AddNode(types.MeshNode{ID: "a", PublicKey: "pka", MeshIP: "10.100.0.1"}))
	require.NoError(t, topo.AddNode(types.MeshNode{ID: "b", PublicKey: "pkb", MeshIP: "10.100.0.2"}))
	require.NoError(t, topo.AddNode(types.MeshNode{ID: "c", PublicKey: "pkc", MeshIP: "10.100.0.3"}))
	require.NoError(t, topo.AddConnection("a", "b"))

	assert.Len(t, topo.PeersFor("a"), 1)
	assert.Len(t, topo.PeersFor("b"), 1)
	assert.Empty(t, topo.PeersFor("c"))
}

func TestTopologyValidateRejectsDuplicatePublicKey(t *testing.T) {
	topo := NewFullMeshTopology("10.100.0.0/16")
	require.NoError(t, topo.AddNode(types.MeshNode{ID: "a", PublicKey: "dup", MeshIP: "10.100.0.1"}))
	require.NoError(t, topo.AddNode(types.MeshNode{ID: "b", PublicKey: "dup", MeshIP: "10.100.0.2"}))
	assert.ErrorIs(t, topo.Validate(), ErrDuplicatePublicKey)
}

func TestManagerCreateTunnelAndDuplicateFails(t *testing.T) {
	m := testManager(t)
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	_, err = m.CreateTunnel("wg0", kp.Private, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, m.TunnelCount())
	assert.True(t, m.TunnelExists("wg0"))

	_, err = m.CreateTunnel("wg0", kp.Private, nil)
	assert.ErrorIs(t, err, ErrInterfaceExists)
}

func TestManagerAddAndRemovePeer(t *testing.T) {
	m := testManager(t)
	_, err := m.CreateTunnelWithGeneratedKey("wg0", nil)
	require.NoError(t, err)

	peerKP, err := GenerateKeyPair()
	require.NoError(t, err)
	peer := PeerConfig{PublicKey: peerKP.PublicKeyString(), AllowedIPs: []string{"10.0.0.2/32"}}

	require.NoError(t, m.AddPeer("wg0", peer))
	status, err := m.GetTunnelStatus("wg0")
	require.NoError(t, err)
	assert.Len(t, status.Peers, 1)

	require.NoError(t, m.RemovePeer("wg0", peer.PublicKey))
	status, err = m.GetTunnelStatus("wg0")
	require.NoError(t, err)
	assert.Empty(t, status.Peers)
}

func TestManagerRegisterNodeAllocatesMeshIP(t *testing.T) {
	m := testManager(t)
	m.SetTopology(NewFullMeshTopology(m.Config().MeshNetworkCIDR))

	ip, err := m.RegisterNode("node-1", "Node 1", "pk1")
	require.NoError(t, err)
	assert.Contains(t, ip.String(), "10.100.")

	topo := m.GetTopology()
	_, found := topo.GetNode("node-1")
	assert.True(t, found)
}

func TestManagerRegisterNodeWithoutTopologyFails(t *testing.T) {
	m := testManager(t)
	_, err := m.RegisterNode("node-1", "Node 1", "pk1")
	assert.ErrorIs(t, err, ErrNoTopology)
}

func TestManagerSyncMeshPeersAddsMissing(t *testing.T) {
	m := testManager(t)
	m.SetTopology(NewFullMeshTopology(m.Config().MeshNetworkCIDR))

	pk, err := m.CreateTunnelWithGeneratedKey("wg0", nil)
	require.NoError(t, err)
	_, err = m.RegisterNode("node-1", "Node 1", pk)
	require.NoError(t, err)

	peerKP, err := GenerateKeyPair()
	require.NoError(t, err)
	_, err = m.RegisterNode("node-2", "Node 2", peerKP.PublicKeyString())
	require.NoError(t, err)

	result, err := m.SyncMeshPeers("wg0", "node-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 0, result.Removed)
	assert.True(t, result.IsSuccess())
	assert.True(t, result.HasChanges())
}

func TestManagerRecordPeerHandshakeMarksConnected(t *testing.T) {
	m := testManager(t)
	_, err := m.CreateTunnelWithGeneratedKey("wg0", nil)
	require.NoError(t, err)

	peerKP, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, m.AddPeer("wg0", PeerConfig{PublicKey: peerKP.PublicKeyString()}))

	require.NoError(t, m.RecordPeerHandshake("wg0", peerKP.PublicKeyString()))

	status, err := m.GetTunnelStatus("wg0")
	require.NoError(t, err)
	require.Len(t, status.Peers, 1)
	assert.True(t, status.Peers[0].IsConnected())
}

func TestManagerUpdateTunnelHealthRollsUpState(t *testing.T) {
	m := testManager(t)
	_, err := m.CreateTunnelWithGeneratedKey("wg0", nil)
	require.NoError(t, err)

	peerKP, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, m.AddPeer("wg0", PeerConfig{PublicKey: peerKP.PublicKeyString()}))
	require.NoError(t, m.UpdateTunnelHealth("wg0"))

	status, err := m.GetTunnelStatus("wg0")
	require.NoError(t, err)
	assert.Equal(t, types.ConnStateConnecting, status.State)
}
