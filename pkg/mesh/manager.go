package mesh

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/log"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

var (
	ErrInterfaceExists   = errors.New("mesh: interface already exists")
	ErrInterfaceNotFound = errors.New("mesh: interface not found")
	ErrPeerNotFound      = errors.New("mesh: peer not found")
	ErrNoTopology        = errors.New("mesh: no mesh topology configured")
)

// ManagerConfig tunes a Manager's defaults, matching original_source's
// ManagerConfig.
type ManagerConfig struct {
	DefaultListenPort int
	DefaultKeepalive  *int
	MeshNetworkCIDR   string
	MTU               *int
}

// DefaultManagerConfig matches original_source's Default impl.
func DefaultManagerConfig() ManagerConfig {
	keepalive := 25
	mtu := 1420
	return ManagerConfig{
		DefaultListenPort: 51820,
		DefaultKeepalive:  &keepalive,
		MeshNetworkCIDR:   "10.100.0.0/16",
		MTU:               &mtu,
	}
}

type managedTunnel struct {
	keypair KeyPair
	config  InterfaceConfig
	status  TunnelStatus
}

// Manager owns tunnel lifecycle and mesh-peer synchronization: an
// Interface-backed tunnel table, a mesh IP allocator, and an optional
// active Topology.
type Manager struct {
	mu     sync.RWMutex
	logger zerolog.Logger

	iface  Interface
	config ManagerConfig

	tunnels     map[string]*managedTunnel
	ipAllocator *IPAllocator
	topology    *Topology
}

// NewManager builds a mesh manager over iface, allocating its IP pool from
// config.MeshNetworkCIDR.
func NewManager(iface Interface, config ManagerConfig) (*Manager, error) {
	allocator, err := NewIPAllocator(config.MeshNetworkCIDR)
	if err != nil {
		return nil, err
	}
	return &Manager{
		logger:      log.WithComponent("mesh"),
		iface:       iface,
		config:      config,
		tunnels:     make(map[string]*managedTunnel),
		ipAllocator: allocator,
	}, nil
}

// CreateTunnel creates a tunnel on an existing interface name with an
// explicit private key.
func (m *Manager) CreateTunnel(name string, priv wgtypes.Key, listenPort *int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tunnels[name]; exists {
		return "", fmt.Errorf("%w: %s", ErrInterfaceExists, name)
	}

	keypair := KeyPairFromPrivate(priv)
	port := m.config.DefaultListenPort
	if listenPort != nil {
		port = *listenPort
	}

	cfg := InterfaceConfig{PrivateKey: priv, ListenPort: port, MTU: m.config.MTU}
	if err := m.iface.Create(name, cfg); err != nil {
		return "", err
	}

	status := NewTunnelStatus(name, keypair.PublicKeyString())
	status.ListenPort = port

	m.tunnels[name] = &managedTunnel{keypair: keypair, config: cfg, status: status}

	m.logger.Info().Str("interface", name).Msg("created WireGuard tunnel")
	return keypair.PublicKeyString(), nil
}

// CreateTunnelWithGeneratedKey creates a tunnel with a freshly generated key pair.
func (m *Manager) CreateTunnelWithGeneratedKey(name string, listenPort *int) (string, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return "", err
	}
	return m.CreateTunnel(name, kp.Private, listenPort)
}

// DestroyTunnel removes a tunnel's managed state and tears down its interface.
func (m *Manager) DestroyTunnel(name string) error {
	m.mu.Lock()
	if _, exists := m.tunnels[name]; !exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInterfaceNotFound, name)
	}
	delete(m.tunnels, name)
	m.mu.Unlock()

	if err := m.iface.Destroy(name); err != nil {
		return err
	}
	m.logger.Info().Str("interface", name).Msg("destroyed WireGuard tunnel")
	return nil
}

// AddPeer adds a peer to a tunnel, updating both the live interface and the
// manager's tracked status.
func (m *Manager) AddPeer(name string, peer PeerConfig) error {
	m.mu.RLock()
	_, exists := m.tunnels[name]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrInterfaceNotFound, name)
	}

	if err := m.iface.AddPeer(name, peer); err != nil {
		return err
	}

	m.mu.Lock()
	if tun, ok := m.tunnels[name]; ok {
		tun.config.Peers = append(tun.config.Peers, peer)
		tun.status.Peers = append(tun.status.Peers, TunnelPeerStatus{
			PublicKey: peer.PublicKey,
			Endpoint:  peer.Endpoint,
			State:     types.ConnStateConnecting,
		})
	}
	m.mu.Unlock()

	return nil
}

// RemovePeer removes a peer from a tunnel.
func (m *Manager) RemovePeer(name string, publicKey string) error {
	m.mu.RLock()
	_, exists := m.tunnels[name]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrInterfaceNotFound, name)
	}

	if err := m.iface.RemovePeer(name, publicKey); err != nil {
		return err
	}

	m.mu.Lock()
	if tun, ok := m.tunnels[name]; ok {
		filtered := tun.config.Peers[:0]
		for _, p := range tun.config.Peers {
			if p.PublicKey != publicKey {
				filtered = append(filtered, p)
			}
		}
		tun.config.Peers = filtered

		filteredStatus := tun.status.Peers[:0]
		for _, p := range tun.status.Peers {
			if p.PublicKey != publicKey {
				filteredStatus = append(filteredStatus, p)
			}
		}
		tun.status.Peers = filteredStatus
	}
	m.mu.Unlock()

	return nil
}

// GetTunnelStatus returns a tunnel's tracked status.
func (m *Manager) GetTunnelStatus(name string) (TunnelStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tun, ok := m.tunnels[name]
	if !ok {
		return TunnelStatus{}, fmt.Errorf("%w: %s", ErrInterfaceNotFound, name)
	}
	return tun.status, nil
}

// ListTunnels returns every managed tunnel's interface name.
func (m *Manager) ListTunnels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.tunnels))
	for name := range m.tunnels {
		out = append(out, name)
	}
	return out
}

// TunnelCount returns the number of managed tunnels.
func (m *Manager) TunnelCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tunnels)
}

// TunnelExists reports whether a tunnel is managed under name.
func (m *Manager) TunnelExists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tunnels[name]
	return ok
}

// GetTunnelPublicKey returns a tunnel's local public key.
func (m *Manager) GetTunnelPublicKey(name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tun, ok := m.tunnels[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInterfaceNotFound, name)
	}
	return tun.keypair.PublicKeyString(), nil
}

// AllocateMeshIP draws the next free address from the mesh CIDR.
func (m *Manager) AllocateMeshIP() (net.IP, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ipAllocator.Allocate()
}

// ReserveMeshIP claims a specific address.
func (m *Manager) ReserveMeshIP(ip net.IP) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ipAllocator.Reserve(ip)
}

// ReleaseMeshIP frees a previously allocated address.
func (m *Manager) ReleaseMeshIP(ip net.IP) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ipAllocator.Release(ip)
}

// SetTopology installs the active mesh topology.
func (m *Manager) SetTopology(t *Topology) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topology = t
}

// GetTopology returns the active mesh topology, if any.
func (m *Manager) GetTopology() *Topology {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.topology
}

// RegisterNode allocates a mesh IP and adds a node to the active topology.
func (m *Manager) RegisterNode(id, name, publicKey string) (net.IP, error) {
	ip, err := m.AllocateMeshIP()
	if err != nil {
		return nil, err
	}

	node := types.MeshNode{ID: id, Name: name, PublicKey: publicKey, MeshIP: ip.String()}

	m.mu.Lock()
	if m.topology == nil {
		m.mu.Unlock()
		m.ReleaseMeshIP(ip)
		return nil, ErrNoTopology
	}
	err = m.topology.AddNode(node)
	m.mu.Unlock()

	if err != nil {
		m.ReleaseMeshIP(ip)
		return nil, err
	}

	m.logger.Info().Str("node_id", id).Str("mesh_ip", ip.String()).Msg("registered mesh node")
	return ip, nil
}

// UnregisterNode removes a node from the topology and releases its mesh IP.
func (m *Manager) UnregisterNode(id string) error {
	m.mu.Lock()
	if m.topology == nil {
		m.mu.Unlock()
		return ErrNoTopology
	}
	node, err := m.topology.RemoveNode(id)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if ip := net.ParseIP(node.MeshIP); ip != nil {
		m.ReleaseMeshIP(ip)
	}
	m.logger.Info().Str("node_id", id).Msg("unregistered mesh node")
	return nil
}

// GetMeshPeers returns the peer configs a node should have, per the active topology.
func (m *Manager) GetMeshPeers(id string) ([]PeerConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.topology == nil {
		return nil, ErrNoTopology
	}
	return m.topology.GeneratePeerConfigs(id), nil
}

// SyncResult is the outcome of a SyncMeshPeers call: a pure summary, the
// caller decides whether to retry.
type SyncResult struct {
	Added   int
	Removed int
	Errors  int
}

// IsSuccess reports whether the sync made no errors.
func (r SyncResult) IsSuccess() bool { return r.Errors == 0 }

// HasChanges reports whether the sync added or removed any peer.
func (r SyncResult) HasChanges() bool { return r.Added > 0 || r.Removed > 0 }

// SyncMeshPeers reconciles a tunnel's live peers against the topology's
// expected peer set for nodeID: adds what's missing, removes what's stale.
func (m *Manager) SyncMeshPeers(interfaceName, nodeID string) (SyncResult, error) {
	expected, err := m.GetMeshPeers(nodeID)
	if err != nil {
		return SyncResult{}, err
	}
	expectedKeys := make(map[string]struct{}, len(expected))
	for _, p := range expected {
		expectedKeys[p.PublicKey] = struct{}{}
	}

	current, err := m.GetTunnelStatus(interfaceName)
	if err != nil {
		return SyncResult{}, err
	}
	currentKeys := make(map[string]struct{}, len(current.Peers))
	for _, p := range current.Peers {
		currentKeys[p.PublicKey] = struct{}{}
	}

	var result SyncResult

	for _, peer := range expected {
		if _, present := currentKeys[peer.PublicKey]; present {
			continue
		}
		if err := m.AddPeer(interfaceName, peer); err != nil {
			m.logger.Warn().Err(err).Str("peer", shortKey(peer.PublicKey)).Msg("failed to add peer")
			result.Errors++
			continue
		}
		result.Added++
	}

	for _, peer := range current.Peers {
		if _, wanted := expectedKeys[peer.PublicKey]; wanted {
			continue
		}
		if err := m.RemovePeer(interfaceName, peer.PublicKey); err != nil {
			m.logger.Warn().Err(err).Str("peer", shortKey(peer.PublicKey)).Msg("failed to remove peer")
			result.Errors++
			continue
		}
		result.Removed++
	}

	m.logger.Debug().Str("interface", interfaceName).Int("added", result.Added).Int("removed", result.Removed).Int("errors", result.Errors).Msg("synchronized mesh peers")
	return result, nil
}

func shortKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8]
}

// RecordPeerHandshake bumps a peer's last-handshake timestamp.
func (m *Manager) RecordPeerHandshake(interfaceName string, publicKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tun, ok := m.tunnels[interfaceName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInterfaceNotFound, interfaceName)
	}
	peer := tun.status.FindPeer(publicKey)
	if peer == nil {
		return fmt.Errorf("%w: %s", ErrPeerNotFound, shortKey(publicKey))
	}
	peer.RecordHandshake(time.Now())
	return nil
}

// UpdateTunnelHealth recomputes every peer's ConnectionState and rolls the
// tunnel's overall state up from them.
func (m *Manager) UpdateTunnelHealth(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tun, ok := m.tunnels[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInterfaceNotFound, name)
	}

	now := time.Now()
	for i := range tun.status.Peers {
		tun.status.Peers[i].UpdateHealth(now)
	}
	tun.status.UpdateState()
	return nil
}

// RefreshTunnelStatus pulls traffic stats and handshake state from the live
// interface and merges them into the tracked status.
func (m *Manager) RefreshTunnelStatus(name string) error {
	ifaceStatus, err := m.iface.Status(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	tun, ok := m.tunnels[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInterfaceNotFound, name)
	}

	for _, ifacePeer := range ifaceStatus.Peers {
		statusPeer := tun.status.FindPeer(ifacePeer.PublicKey)
		if statusPeer == nil {
			continue
		}
		statusPeer.RxBytes = ifacePeer.RxBytes
		statusPeer.TxBytes = ifacePeer.TxBytes

		if ifacePeer.LastHandshake != nil && statusPeer.State != types.ConnStateConnected {
			statusPeer.RecordHandshake(*ifacePeer.LastHandshake)
		}
	}

	tun.status.UpdateState()
	return nil
}

// Config returns the manager's configuration.
func (m *Manager) Config() ManagerConfig { return m.config }
