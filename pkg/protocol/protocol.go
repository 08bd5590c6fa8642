// Package protocol defines the JSON-framed tagged-union messages exchanged
// on the node<->gateway stream and the CLI<->gateway stream. Every
// frame is one JSON object with a "type" discriminator and snake_case
// variant name; timestamps use time.Time's RFC 3339 JSON form in the
// sender's local time zone and are not converted to UTC. This keeps a request/response
// pairing style but swaps a protobuf/gRPC transport for plain JSON frames
// over the node<->gateway and CLI<->gateway sockets.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType is the wire discriminator carried in every frame's "type" field.
type MessageType string

// Node-outbound variants (node -> gateway).
const (
	TypeRegister      MessageType = "register"
	TypeHeartbeat     MessageType = "heartbeat"
	TypeCapabilities  MessageType = "capabilities"
	TypeWorkloadUpdate MessageType = "workload_update"
	TypeWorkloadLogs  MessageType = "workload_logs"
	TypeMetrics       MessageType = "metrics"
)

// Gateway-outbound variants (gateway -> node).
const (
	TypeRegistered        MessageType = "registered"
	TypeHeartbeatAck      MessageType = "heartbeat_ack"
	TypeStartWorkload     MessageType = "start_workload"
	TypeStopWorkload      MessageType = "stop_workload"
	TypeRequestMetrics    MessageType = "request_metrics"
	TypeRequestCapabilities MessageType = "request_capabilities"
	TypeConfigUpdate      MessageType = "config_update"
	TypeMeshPeerConfig    MessageType = "mesh_peer_config"
	TypeMeshPeerRemove    MessageType = "mesh_peer_remove"
	TypeError             MessageType = "error"
)

// CLI<->gateway variants.
const (
	TypeHello               MessageType = "hello"
	TypeWelcome              MessageType = "welcome"
	TypeGetStatus            MessageType = "get_status"
	TypeListNodes            MessageType = "list_nodes"
	TypeGetNode              MessageType = "get_node"
	TypeListWorkloads        MessageType = "list_workloads"
	TypeGetWorkload          MessageType = "get_workload"
	TypeStartWorkloadRequest MessageType = "start_workload_request"
	TypeStopWorkloadRequest  MessageType = "stop_workload_request"
	TypeGetLogs              MessageType = "get_logs"
	TypeDrainNode            MessageType = "drain_node"
	TypeGetGatewayStatus     MessageType = "get_gateway_status"
	TypeListGates            MessageType = "list_gates"
	TypeClearGate            MessageType = "clear_gate"
	TypeNodeInvoke           MessageType = "node_invoke"
	TypeMeshStatus           MessageType = "mesh_status"
	TypeMeshPeers            MessageType = "mesh_peers"
	TypeMeshNode             MessageType = "mesh_node"
	TypePutAlertRule         MessageType = "put_alert_rule"
	TypeListAlerts           MessageType = "list_alerts"
	TypePlanRollback         MessageType = "plan_rollback"
	TypeExecuteRollback      MessageType = "execute_rollback"
)

// ProtocolVersion is the integer exchanged in hello/welcome.
const ProtocolVersion = 1

// Error-code constants (stable wire values,).
const (
	CodeNodeNotFound       = 1001
	CodeWorkloadNotFound   = 1002
	CodeInvalidRequest     = 1003
	CodeNoCapacity         = 1004
	CodePermissionDenied   = 1005
	CodeInternalError      = 1006
	CodeMoltNotConnected   = 1007
	CodeProtocolMismatch   = 1008
	CodeNodeInvokeTimeout  = 1009
)

// Envelope is the common shape every frame shares: a type discriminator plus
// the variant's own fields alongside it in the same object (Encode merges
// them in). Decode uses it only to peek the discriminator before dispatching.
type Envelope struct {
	Type MessageType `json:"type"`
}

// Frame is what Decode returns for bytes produced by Encode: the discriminator plus
// the raw variant payload, so a caller can type-switch on Type before
// unmarshaling the rest.
type Frame struct {
	Type    MessageType
	Raw     json.RawMessage
}

// Encode marshals a tagged message. msg must be a struct whose json tags do
// not already include "type"; Encode injects it by merging the marshaled
// struct with {"type": type}.
func Encode(msgType MessageType, msg any) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", msgType, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", msgType, err)
	}
	typeJSON, _ := json.Marshal(msgType)
	fields["type"] = typeJSON
	return json.Marshal(fields)
}

// Decode peeks the "type" discriminator of a frame without parsing the rest,
// returning the raw bytes for a second, type-specific Unmarshal.
func Decode(data []byte) (Frame, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	if env.Type == "" {
		return Frame{}, fmt.Errorf("protocol: missing type discriminator")
	}
	return Frame{Type: env.Type, Raw: data}, nil
}

// RegisterMessage is sent once by a node on first connection.
type RegisterMessage struct {
	NodeName     string            `json:"node_name"`
	Capabilities CapabilitiesPayload `json:"capabilities"`
	ProtocolVer  int               `json:"protocol_version"`
}

// CapabilitiesPayload mirrors types.NodeCapabilities over the wire.
type CapabilitiesPayload struct {
	GPUCount    int               `json:"gpu_count"`
	VRAMMiB     int64             `json:"vram_mib"`
	CPUCores    int               `json:"cpu_cores"`
	MemoryMiB   int64             `json:"memory_mib"`
	RuntimeKind string            `json:"runtime_kind"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// HeartbeatMessage is sent periodically; lossy, never retransmitted.
type HeartbeatMessage struct {
	NodeID string    `json:"node_id"`
	At     time.Time `json:"at"`
}

// WorkloadUpdateMessage reports a workload lifecycle transition.
type WorkloadUpdateMessage struct {
	WorkloadID string  `json:"workload_id"`
	State      string  `json:"state"`
	Message    *string `json:"message,omitempty"`
}

// WorkloadLogsMessage carries a batch of log lines for one workload.
type WorkloadLogsMessage struct {
	WorkloadID string   `json:"workload_id"`
	Lines      []string `json:"lines"`
	Truncated  bool     `json:"truncated"`
}

// RegisteredMessage acknowledges a register frame.
type RegisteredMessage struct {
	NodeID               string `json:"node_id"`
	HeartbeatIntervalSecs int   `json:"heartbeat_interval_secs"`
	MetricsIntervalSecs   int   `json:"metrics_interval_secs"`
}

// HeartbeatAckMessage acknowledges a heartbeat.
type HeartbeatAckMessage struct {
	ServerTime time.Time `json:"server_time"`
}

// StartWorkloadMessage instructs a node to start a workload.
type StartWorkloadMessage struct {
	WorkloadID string      `json:"workload_id"`
	Spec       WorkloadSpecPayload `json:"spec"`
}

// WorkloadSpecPayload mirrors types.WorkloadSpec over the wire.
type WorkloadSpecPayload struct {
	Image     string            `json:"image"`
	Command   []string          `json:"command,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	GPUCount  int               `json:"gpu_count"`
	MemoryMiB int64             `json:"memory_mib"`
	CPUCores  float64           `json:"cpu_cores"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// StopWorkloadMessage instructs a node to stop a workload.
type StopWorkloadMessage struct {
	WorkloadID       string `json:"workload_id"`
	GracePeriodSecs  int    `json:"grace_period_secs"`
}

// ErrorMessage reports a protocol-level failure.
type ErrorMessage struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	RequestType string `json:"request_type,omitempty"`
}

// MeshPeerConfigMessage instructs a node to configure one WireGuard peer.
type MeshPeerConfigMessage struct {
	PublicKey     string   `json:"public_key"`
	Endpoint      string   `json:"endpoint,omitempty"`
	AllowedIPs    []string `json:"allowed_ips"`
	KeepaliveSecs *int     `json:"keepalive_secs,omitempty"`
}

// MeshPeerRemoveMessage instructs a node to remove one WireGuard peer.
type MeshPeerRemoveMessage struct {
	PublicKey string `json:"public_key"`
}

// NodeInvokeMessage is an operator-issued out-of-band command to a node.
type NodeInvokeMessage struct {
	NodeID    string          `json:"node_id"`
	Command   string          `json:"command"`
	Params    json.RawMessage `json:"params,omitempty"`
	TimeoutMs int             `json:"timeout_ms"`
}

// DefaultNodeInvokeTimeoutMs is the default used when TimeoutMs is zero.
const DefaultNodeInvokeTimeoutMs = 30000
