package gateway

import (
	"fmt"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/mesh"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

// ErrMeshNotEnabled is returned by every mesh pass-through method when the
// Dispatcher was built with Config.WorkloadNetworkEnabled false.
var ErrMeshNotEnabled = fmt.Errorf("gateway: mesh networking not enabled")

// MeshTunnels lists every tunnel name the mesh manager currently owns.
func (d *Dispatcher) MeshTunnels() ([]string, error) {
	if d.mesh == nil {
		return nil, ErrMeshNotEnabled
	}
	return d.mesh.ListTunnels(), nil
}

// MeshTunnelStatus returns one tunnel's full status (peers, state).
func (d *Dispatcher) MeshTunnelStatus(name string) (mesh.TunnelStatus, error) {
	if d.mesh == nil {
		return mesh.TunnelStatus{}, ErrMeshNotEnabled
	}
	return d.mesh.GetTunnelStatus(name)
}

// MeshPeers returns the WireGuard peer set the mesh manager has configured
// for one node's tunnel.
func (d *Dispatcher) MeshPeers(nodeID string) ([]mesh.PeerConfig, error) {
	if d.mesh == nil {
		return nil, ErrMeshNotEnabled
	}
	return d.mesh.GetMeshPeers(nodeID)
}

// MeshNode returns one node's mesh membership (public key, mesh IP), as
// recorded on the node registry entry.
func (d *Dispatcher) MeshNode(nodeID types.NodeID) (types.MeshMembership, error) {
	if d.mesh == nil {
		return types.MeshMembership{}, ErrMeshNotEnabled
	}
	node, err := d.GetNode(nodeID)
	if err != nil {
		return types.MeshMembership{}, err
	}
	if node.Mesh == nil {
		return types.MeshMembership{}, fmt.Errorf("gateway: node %s is not mesh-enrolled", nodeID)
	}
	return *node.Mesh, nil
}
