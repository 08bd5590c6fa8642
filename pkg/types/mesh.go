package types

// TopologyKind discriminates how mesh peers are computed.
type TopologyKind string

const (
	TopologyFullMesh TopologyKind = "full_mesh"
	TopologyHubSpoke TopologyKind = "hub_spoke"
	TopologyCustom   TopologyKind = "custom"
)

// MaxFullMeshNodes bounds a full-mesh topology.
const MaxFullMeshNodes = 50

// MeshNode is a peer participating in the overlay network.
type MeshNode struct {
	ID               string
	Name             string
	PublicKey        string
	MeshIP           string
	ExternalEndpoint string
	IsHub            bool
	Metadata         map[string]string
}

// ConnectionState is a peer's observed handshake liveness.
type ConnectionState string

const (
	ConnStateConnected    ConnectionState = "connected"
	ConnStateConnecting   ConnectionState = "connecting"
	ConnStateDisconnected ConnectionState = "disconnected"
)
