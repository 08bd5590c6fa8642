package mesh

import (
	"errors"
	"fmt"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

var (
	ErrNodeExists        = errors.New("mesh: node already exists")
	ErrNodeNotFound      = errors.New("mesh: node not found")
	ErrFullMeshTooLarge  = fmt.Errorf("mesh: full mesh topology limited to %d nodes", types.MaxFullMeshNodes)
	ErrTopologyEmpty     = errors.New("mesh: topology has no nodes")
	ErrHubSpokeNoHub     = errors.New("mesh: hub-spoke topology requires at least one hub")
	ErrDuplicatePublicKey = errors.New("mesh: duplicate public key")
	ErrDuplicateMeshIP   = errors.New("mesh: duplicate mesh IP")
)

// DefaultKeepaliveSecs is the persistent-keepalive interval new topologies
// use unless overridden, matching original_source's manager.rs default.
const DefaultKeepaliveSecs = 25

// Topology holds the mesh's nodes and, for a custom topology, an explicit
// symmetric adjacency map, and computes peers_for(n).
type Topology struct {
	Kind           types.TopologyKind
	NetworkCIDR    string
	KeepaliveSecs  *int

	nodes       map[string]types.MeshNode
	connections map[string]map[string]struct{}
}

// NewFullMeshTopology builds an empty full-mesh topology over a CIDR.
func NewFullMeshTopology(cidr string) *Topology {
	return newTopology(types.TopologyFullMesh, cidr)
}

// NewHubSpokeTopology builds an empty hub-spoke topology over a CIDR.
func NewHubSpokeTopology(cidr string) *Topology {
	return newTopology(types.TopologyHubSpoke, cidr)
}

// NewCustomTopology builds an empty custom-adjacency topology over a CIDR.
func NewCustomTopology(cidr string) *Topology {
	return newTopology(types.TopologyCustom, cidr)
}

func newTopology(kind types.TopologyKind, cidr string) *Topology {
	keepalive := DefaultKeepaliveSecs
	return &Topology{
		Kind:          kind,
		NetworkCIDR:   cidr,
		KeepaliveSecs: &keepalive,
		nodes:         make(map[string]types.MeshNode),
		connections:   make(map[string]map[string]struct{}),
	}
}

// WithoutKeepalive disables the persistent keepalive for generated peer configs.
func (t *Topology) WithoutKeepalive() *Topology {
	t.KeepaliveSecs = nil
	return t
}

// AddNode registers a node, enforcing the full-mesh size bound.
func (t *Topology) AddNode(node types.MeshNode) error {
	if _, exists := t.nodes[node.ID]; exists {
		return fmt.Errorf("%w: %s", ErrNodeExists, node.ID)
	}
	if t.Kind == types.TopologyFullMesh && len(t.nodes) >= types.MaxFullMeshNodes {
		return ErrFullMeshTooLarge
	}
	t.nodes[node.ID] = node
	return nil
}

// RemoveNode removes a node and any adjacency referencing it, returning the
// removed node.
func (t *Topology) RemoveNode(id string) (types.MeshNode, error) {
	node, ok := t.nodes[id]
	if !ok {
		return types.MeshNode{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	delete(t.nodes, id)
	delete(t.connections, id)
	for _, peers := range t.connections {
		delete(peers, id)
	}
	return node, nil
}

// GetNode looks up a node by ID.
func (t *Topology) GetNode(id string) (types.MeshNode, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Nodes returns all nodes in the topology.
func (t *Topology) Nodes() []types.MeshNode {
	out := make([]types.MeshNode, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n)
	}
	return out
}

// NodeCount returns the number of nodes in the topology.
func (t *Topology) NodeCount() int { return len(t.nodes) }

// AddConnection adds a bidirectional adjacency edge between two nodes, for
// custom topologies.
func (t *Topology) AddConnection(from, to string) error {
	if _, ok := t.nodes[from]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, from)
	}
	if _, ok := t.nodes[to]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, to)
	}
	t.connect(from, to)
	t.connect(to, from)
	return nil
}

func (t *Topology) connect(from, to string) {
	if t.connections[from] == nil {
		t.connections[from] = make(map[string]struct{})
	}
	t.connections[from][to] = struct{}{}
}

// RemoveConnection removes a bidirectional adjacency edge.
func (t *Topology) RemoveConnection(from, to string) {
	delete(t.connections[from], to)
	delete(t.connections[to], from)
}

// PeersFor computes the expected peer set for a node, per the topology kind:
// full mesh is every other node, hub-spoke is hub<->spoke only, custom uses
// the stored adjacency.
func (t *Topology) PeersFor(id string) []types.MeshNode {
	switch t.Kind {
	case types.TopologyFullMesh:
		var peers []types.MeshNode
		for nid, n := range t.nodes {
			if nid != id {
				peers = append(peers, n)
			}
		}
		return peers

	case types.TopologyHubSpoke:
		node, ok := t.nodes[id]
		if !ok {
			return nil
		}
		var peers []types.MeshNode
		if node.IsHub {
			for nid, n := range t.nodes {
				if nid != id && !n.IsHub {
					peers = append(peers, n)
				}
			}
		} else {
			for _, n := range t.nodes {
				if n.IsHub {
					peers = append(peers, n)
				}
			}
		}
		return peers

	case types.TopologyCustom:
		var peers []types.MeshNode
		for peerID := range t.connections[id] {
			if n, ok := t.nodes[peerID]; ok {
				peers = append(peers, n)
			}
		}
		return peers

	default:
		return nil
	}
}

// GeneratePeerConfigs converts PeersFor(id) into wire-ready peer configs
// carrying the topology's default keepalive.
func (t *Topology) GeneratePeerConfigs(id string) []PeerConfig {
	peers := t.PeersFor(id)
	out := make([]PeerConfig, 0, len(peers))
	for _, p := range peers {
		out = append(out, nodeToPeerConfig(p, t.KeepaliveSecs))
	}
	return out
}

func nodeToPeerConfig(n types.MeshNode, keepalive *int) PeerConfig {
	cfg := PeerConfig{
		PublicKey:      n.PublicKey,
		AllowedIPs:     []string{n.MeshIP + "/32"},
		Endpoint:       n.ExternalEndpoint,
		KeepaliveSecs:  keepalive,
	}
	return cfg
}

// ConnectionCount returns the number of edges in the topology: n(n-1)/2 for
// full mesh, hubs*spokes for hub-spoke, and the unique edge count for custom.
func (t *Topology) ConnectionCount() int {
	switch t.Kind {
	case types.TopologyFullMesh:
		n := len(t.nodes)
		if n < 2 {
			return 0
		}
		return n * (n - 1) / 2

	case types.TopologyHubSpoke:
		hubs := 0
		for _, n := range t.nodes {
			if n.IsHub {
				hubs++
			}
		}
		return hubs * (len(t.nodes) - hubs)

	case types.TopologyCustom:
		seen := make(map[[2]string]struct{})
		for from, peers := range t.connections {
			for to := range peers {
				key := [2]string{from, to}
				if from > to {
					key = [2]string{to, from}
				}
				seen[key] = struct{}{}
			}
		}
		return len(seen)

	default:
		return 0
	}
}

// Hubs returns every node flagged is_hub.
func (t *Topology) Hubs() []types.MeshNode {
	var hubs []types.MeshNode
	for _, n := range t.nodes {
		if n.IsHub {
			hubs = append(hubs, n)
		}
	}
	return hubs
}

// Validate checks the topology's structural invariants: non-empty, at least
// one hub for hub-spoke, and no two nodes sharing a public key or mesh IP.
func (t *Topology) Validate() error {
	if len(t.nodes) == 0 {
		return ErrTopologyEmpty
	}
	if t.Kind == types.TopologyHubSpoke && len(t.Hubs()) == 0 {
		return ErrHubSpokeNoHub
	}

	seenKeys := make(map[string]struct{})
	seenIPs := make(map[string]struct{})
	for _, n := range t.nodes {
		if _, dup := seenKeys[n.PublicKey]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicatePublicKey, n.PublicKey)
		}
		seenKeys[n.PublicKey] = struct{}{}

		if _, dup := seenIPs[n.MeshIP]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateMeshIP, n.MeshIP)
		}
		seenIPs[n.MeshIP] = struct{}{}
	}
	return nil
}
