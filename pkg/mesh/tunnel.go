package mesh

import (
	"time"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

// HandshakeFreshWindow is how recently a peer must have handshaked to count
// as Connected; claw-wireguard's tunnel.rs (handshake tracking) was not part
// of the filtered source, so this follows WireGuard's own rekey cadence
// (a session rekeys at least every 120s) with margin for the 25s keepalive.
const HandshakeFreshWindow = 180 * time.Second

// TunnelPeerStatus is one peer's liveness as tracked by a ManagedTunnel.
type TunnelPeerStatus struct {
	PublicKey     string
	Endpoint      string
	RxBytes       int64
	TxBytes       int64
	LastHandshake *time.Time
	State         types.ConnectionState
}

// RecordHandshake bumps the peer's last-handshake timestamp and marks it
// Connected.
func (p *TunnelPeerStatus) RecordHandshake(now time.Time) {
	t := now
	p.LastHandshake = &t
	p.State = types.ConnStateConnected
}

// UpdateHealth recomputes the peer's ConnectionState from its last
// handshake: no handshake yet is Connecting, a fresh handshake is
// Connected, a stale one is Disconnected.
func (p *TunnelPeerStatus) UpdateHealth(now time.Time) {
	if p.LastHandshake == nil {
		p.State = types.ConnStateConnecting
		return
	}
	if now.Sub(*p.LastHandshake) <= HandshakeFreshWindow {
		p.State = types.ConnStateConnected
	} else {
		p.State = types.ConnStateDisconnected
	}
}

// IsConnected reports whether the peer is currently Connected.
func (p *TunnelPeerStatus) IsConnected() bool { return p.State == types.ConnStateConnected }

// TunnelStatus is a tunnel's observed state: its local identity plus every
// known peer's liveness, rolled up into an overall State.
type TunnelStatus struct {
	Name           string
	ListenPort     int
	LocalPublicKey string
	Peers          []TunnelPeerStatus
	State          types.ConnectionState
}

// NewTunnelStatus builds an empty status for a freshly created tunnel.
func NewTunnelStatus(name, localPublicKey string) TunnelStatus {
	return TunnelStatus{Name: name, LocalPublicKey: localPublicKey, State: types.ConnStateConnecting}
}

// FindPeer returns a pointer into Peers for in-place mutation, or nil.
func (s *TunnelStatus) FindPeer(publicKey string) *TunnelPeerStatus {
	for i := range s.Peers {
		if s.Peers[i].PublicKey == publicKey {
			return &s.Peers[i]
		}
	}
	return nil
}

// UpdateState rolls individual peer ConnectionStates up into the tunnel's
// overall state: Connected if any peer is connected, Connecting if none are
// connected but at least one is still attempting (or the tunnel has no peers
// at all), else Disconnected.
func (s *TunnelStatus) UpdateState() {
	if len(s.Peers) == 0 {
		s.State = types.ConnStateConnecting
		return
	}
	anyConnecting := false
	for _, p := range s.Peers {
		switch p.State {
		case types.ConnStateConnected:
			s.State = types.ConnStateConnected
			return
		case types.ConnStateConnecting:
			anyConnecting = true
		}
	}
	if anyConnecting {
		s.State = types.ConnStateConnecting
		return
	}
	s.State = types.ConnStateDisconnected
}
