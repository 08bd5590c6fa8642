package mesh

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// InterfaceConfig is what Interface.Create configures a WireGuard device with.
type InterfaceConfig struct {
	PrivateKey wgtypes.Key
	ListenPort int
	MTU        *int
	Peers      []PeerConfig
}

// PeerConfig is one WireGuard peer entry, the mesh-internal equivalent of
// wgtypes.PeerConfig, kept interface-agnostic so tests don't need a real key.
type PeerConfig struct {
	PublicKey     string
	Endpoint      string
	AllowedIPs    []string
	KeepaliveSecs *int
}

// PeerStatus is one peer's observed traffic/handshake state, as reported by
// Interface.Status.
type PeerStatus struct {
	PublicKey     string
	Endpoint      string
	RxBytes       int64
	TxBytes       int64
	LastHandshake *time.Time
}

// InterfaceStatus is a device's full observed state.
type InterfaceStatus struct {
	Name           string
	ListenPort     int
	LocalPublicKey string
	Peers          []PeerStatus
}

// Interface is the port the mesh manager drives to create tunnels, add and
// remove peers, and read back status — the same seam original_source's
// WireGuardInterface trait occupies. A real implementation configures an
// already-existing kernel or userspace WireGuard device (wgctrl, like the
// `wg` CLI, configures devices; it does not create the underlying netlink
// link, which is left to the operator).
type Interface interface {
	Create(name string, cfg InterfaceConfig) error
	Destroy(name string) error
	AddPeer(name string, peer PeerConfig) error
	RemovePeer(name string, publicKey string) error
	Status(name string) (InterfaceStatus, error)
}

// WGCtrlInterface implements Interface over a real wgctrl client
// (wgctrl.New, wgtypes.Config, client.Devices).
type WGCtrlInterface struct {
	client *wgctrl.Client
}

// NewWGCtrlInterface opens a wgctrl client. Callers must call Close when done.
func NewWGCtrlInterface() (*WGCtrlInterface, error) {
	client, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("mesh: open wgctrl client: %w", err)
	}
	return &WGCtrlInterface{client: client}, nil
}

// Close releases the underlying wgctrl client.
func (w *WGCtrlInterface) Close() error { return w.client.Close() }

// Create configures the device's private key, listen port, and initial
// peers via ConfigureDevice.
func (w *WGCtrlInterface) Create(name string, cfg InterfaceConfig) error {
	peers, err := toWGPeerConfigs(cfg.Peers, true)
	if err != nil {
		return err
	}
	port := cfg.ListenPort
	wgCfg := wgtypes.Config{
		PrivateKey:   &cfg.PrivateKey,
		ListenPort:   &port,
		ReplacePeers: true,
		Peers:        peers,
	}
	if err := w.client.ConfigureDevice(name, wgCfg); err != nil {
		return fmt.Errorf("mesh: configure device %q: %w", name, err)
	}
	return nil
}

// Destroy removes every peer from the device, leaving the interface itself
// (whose removal is the platform-specific netlink/uninstall step) untouched.
func (w *WGCtrlInterface) Destroy(name string) error {
	if err := w.client.ConfigureDevice(name, wgtypes.Config{ReplacePeers: true, Peers: nil}); err != nil {
		return fmt.Errorf("mesh: destroy device %q: %w", name, err)
	}
	return nil
}

// AddPeer appends one peer configuration to the device.
func (w *WGCtrlInterface) AddPeer(name string, peer PeerConfig) error {
	peers, err := toWGPeerConfigs([]PeerConfig{peer}, false)
	if err != nil {
		return err
	}
	if err := w.client.ConfigureDevice(name, wgtypes.Config{Peers: peers}); err != nil {
		return fmt.Errorf("mesh: add peer to %q: %w", name, err)
	}
	return nil
}

// RemovePeer removes one peer by public key.
func (w *WGCtrlInterface) RemovePeer(name string, publicKey string) error {
	key, err := wgtypes.ParseKey(publicKey)
	if err != nil {
		return fmt.Errorf("mesh: parse public key: %w", err)
	}
	cfg := wgtypes.Config{Peers: []wgtypes.PeerConfig{{PublicKey: key, Remove: true}}}
	if err := w.client.ConfigureDevice(name, cfg); err != nil {
		return fmt.Errorf("mesh: remove peer from %q: %w", name, err)
	}
	return nil
}

// Status reads the device's current configuration and peer traffic stats.
func (w *WGCtrlInterface) Status(name string) (InterfaceStatus, error) {
	device, err := w.client.Device(name)
	if err != nil {
		return InterfaceStatus{}, fmt.Errorf("mesh: get device %q: %w", name, err)
	}

	peers := make([]PeerStatus, 0, len(device.Peers))
	for _, p := range device.Peers {
		ps := PeerStatus{
			PublicKey: p.PublicKey.String(),
			RxBytes:   p.ReceiveBytes,
			TxBytes:   p.TransmitBytes,
		}
		if p.Endpoint != nil {
			ps.Endpoint = p.Endpoint.String()
		}
		if !p.LastHandshakeTime.IsZero() {
			t := p.LastHandshakeTime
			ps.LastHandshake = &t
		}
		peers = append(peers, ps)
	}

	return InterfaceStatus{
		Name:           device.Name,
		ListenPort:     device.ListenPort,
		LocalPublicKey: device.PublicKey.String(),
		Peers:          peers,
	}, nil
}

func toWGPeerConfigs(peers []PeerConfig, replaceAllowed bool) ([]wgtypes.PeerConfig, error) {
	out := make([]wgtypes.PeerConfig, 0, len(peers))
	for _, p := range peers {
		key, err := wgtypes.ParseKey(p.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("mesh: parse public key %q: %w", p.PublicKey, err)
		}
		wgPeer := wgtypes.PeerConfig{PublicKey: key, ReplaceAllowedIPs: replaceAllowed}

		for _, cidr := range p.AllowedIPs {
			_, ipnet, err := net.ParseCIDR(cidr)
			if err != nil {
				return nil, fmt.Errorf("mesh: parse allowed IP %q: %w", cidr, err)
			}
			wgPeer.AllowedIPs = append(wgPeer.AllowedIPs, *ipnet)
		}
		if p.Endpoint != "" {
			addr, err := net.ResolveUDPAddr("udp", p.Endpoint)
			if err != nil {
				return nil, fmt.Errorf("mesh: resolve endpoint %q: %w", p.Endpoint, err)
			}
			wgPeer.Endpoint = addr
		}
		if p.KeepaliveSecs != nil {
			d := time.Duration(*p.KeepaliveSecs) * time.Second
			wgPeer.PersistentKeepaliveInterval = &d
		}
		out = append(out, wgPeer)
	}
	return out, nil
}

// FakeInterface is an in-memory Interface double for tests, grounded on
// original_source's FakeWireGuardInterface test helper (manager.rs tests).
type FakeInterface struct {
	mu      sync.Mutex
	devices map[string]*fakeDevice
}

type fakeDevice struct {
	cfg   InterfaceConfig
	peers map[string]PeerConfig
}

// NewFakeInterface builds an empty fake interface.
func NewFakeInterface() *FakeInterface {
	return &FakeInterface{devices: make(map[string]*fakeDevice)}
}

func (f *FakeInterface) Create(name string, cfg InterfaceConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.devices[name]; exists {
		return fmt.Errorf("mesh: interface %q already exists", name)
	}
	peers := make(map[string]PeerConfig)
	for _, p := range cfg.Peers {
		peers[p.PublicKey] = p
	}
	f.devices[name] = &fakeDevice{cfg: cfg, peers: peers}
	return nil
}

func (f *FakeInterface) Destroy(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.devices[name]; !exists {
		return fmt.Errorf("mesh: interface %q not found", name)
	}
	delete(f.devices, name)
	return nil
}

func (f *FakeInterface) AddPeer(name string, peer PeerConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, ok := f.devices[name]
	if !ok {
		return fmt.Errorf("mesh: interface %q not found", name)
	}
	dev.peers[peer.PublicKey] = peer
	return nil
}

func (f *FakeInterface) RemovePeer(name string, publicKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, ok := f.devices[name]
	if !ok {
		return fmt.Errorf("mesh: interface %q not found", name)
	}
	delete(dev.peers, publicKey)
	return nil
}

func (f *FakeInterface) Status(name string) (InterfaceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, ok := f.devices[name]
	if !ok {
		return InterfaceStatus{}, fmt.Errorf("mesh: interface %q not found", name)
	}

	peers := make([]PeerStatus, 0, len(dev.peers))
	for _, p := range dev.peers {
		peers = append(peers, PeerStatus{PublicKey: p.PublicKey, Endpoint: p.Endpoint})
	}
	return InterfaceStatus{
		Name:           name,
		ListenPort:     dev.cfg.ListenPort,
		LocalPublicKey: dev.cfg.PrivateKey.PublicKey().String(),
		Peers:          peers,
	}, nil
}
