package protocol

import (
	"encoding/json"
	"time"
)

// This file carries the CLI<->gateway request/response payloads: one
// struct per operand of the CLI surface (status, nodes, workloads, mesh,
// scheduling, invoke), framed the same way as the node<->gateway messages
// in protocol.go (Encode/Decode, "type" discriminator).

// HelloMessage opens a CLI connection.
type HelloMessage struct {
	ProtocolVer int `json:"protocol_version"`
}

// WelcomeMessage acknowledges a CLI hello.
type WelcomeMessage struct {
	ProtocolVer int `json:"protocol_version"`
}

// GatewayStatusPayload mirrors the gateway dispatcher's cluster-wide counts.
type GatewayStatusPayload struct {
	NodeCount     int `json:"node_count"`
	WorkloadCount int `json:"workload_count"`
	HealthyNodes  int `json:"healthy_nodes"`
}

// NodePayload mirrors types.Node over the wire.
type NodePayload struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Capabilities  CapabilitiesPayload `json:"capabilities"`
	Health        string              `json:"health"`
	LastHeartbeat time.Time           `json:"last_heartbeat"`
	CreatedAt     time.Time           `json:"created_at"`
}

// ListNodesRequest optionally filters by health state; empty means all.
type ListNodesRequest struct {
	HealthFilter string `json:"health_filter,omitempty"`
}

// ListNodesResponse answers list_nodes.
type ListNodesResponse struct {
	Nodes []NodePayload `json:"nodes"`
}

// GetNodeRequest answers get_node.
type GetNodeRequest struct {
	NodeID string `json:"node_id"`
}

// DrainNodeRequest answers drain_node.
type DrainNodeRequest struct {
	NodeID string `json:"node_id"`
	Drain  bool   `json:"drain"`
}

// GatePayload mirrors types.ScheduleGate.
type GatePayload struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// WorkloadPayload mirrors types.Workload over the wire.
type WorkloadPayload struct {
	ID        string              `json:"id"`
	Spec      WorkloadSpecPayload `json:"spec"`
	State     string              `json:"state"`
	NodeID    string              `json:"node_id,omitempty"`
	Gates     []GatePayload       `json:"gates,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	StartedAt time.Time           `json:"started_at,omitempty"`
	StoppedAt time.Time           `json:"stopped_at,omitempty"`
	Reason    string              `json:"reason,omitempty"`
}

// ListWorkloadsResponse answers list_workloads.
type ListWorkloadsResponse struct {
	Workloads []WorkloadPayload `json:"workloads"`
}

// GetWorkloadRequest answers get_workload.
type GetWorkloadRequest struct {
	WorkloadID string `json:"workload_id"`
}

// StartWorkloadRequestMessage answers start_workload_request.
type StartWorkloadRequestMessage struct {
	Spec          WorkloadSpecPayload `json:"spec"`
	PreferredNode string              `json:"preferred_node,omitempty"`
	Gates         []GatePayload       `json:"gates,omitempty"`
}

// StartWorkloadResponse answers start_workload_request.
type StartWorkloadResponse struct {
	WorkloadID string `json:"workload_id"`
}

// StopWorkloadRequestMessage answers stop_workload_request.
type StopWorkloadRequestMessage struct {
	WorkloadID      string `json:"workload_id"`
	GracePeriodSecs int    `json:"grace_period_secs"`
}

// GetLogsRequest answers get_logs.
type GetLogsRequest struct {
	WorkloadID string `json:"workload_id"`
	Tail       *int   `json:"tail,omitempty"`
}

// GetLogsResponse answers get_logs.
type GetLogsResponse struct {
	Lines []string `json:"lines"`
}

// ListGatesResponse answers list_gates.
type ListGatesResponse struct {
	Gates map[string][]GatePayload `json:"gates"`
}

// ClearGateRequest answers clear_gate.
type ClearGateRequest struct {
	WorkloadID string `json:"workload_id"`
	GateName   string `json:"gate_name"`
}

// PeerPayload mirrors mesh.PeerConfig.
type PeerPayload struct {
	PublicKey     string   `json:"public_key"`
	Endpoint      string   `json:"endpoint,omitempty"`
	AllowedIPs    []string `json:"allowed_ips"`
	KeepaliveSecs *int     `json:"keepalive_secs,omitempty"`
}

// TunnelStatusPayload mirrors mesh.TunnelStatus.
type TunnelStatusPayload struct {
	Name           string `json:"name"`
	ListenPort     int    `json:"listen_port"`
	LocalPublicKey string `json:"local_public_key"`
	State          string `json:"state"`
	PeerCount      int    `json:"peer_count"`
}

// MeshStatusRequest answers mesh_status; an empty TunnelName lists every
// tunnel's summary, a non-empty one asks for that tunnel's full status.
type MeshStatusRequest struct {
	TunnelName string `json:"tunnel_name,omitempty"`
}

// MeshStatusResponse answers mesh_status.
type MeshStatusResponse struct {
	Tunnels []TunnelStatusPayload `json:"tunnels"`
}

// MeshPeersRequest answers mesh_peers.
type MeshPeersRequest struct {
	NodeID string `json:"node_id"`
}

// MeshPeersResponse answers mesh_peers.
type MeshPeersResponse struct {
	Peers []PeerPayload `json:"peers"`
}

// MeshNodeRequest answers mesh_node.
type MeshNodeRequest struct {
	NodeID string `json:"node_id"`
}

// MeshNodeResponse answers mesh_node: one node's mesh membership.
type MeshNodeResponse struct {
	NodeID    string `json:"node_id"`
	PublicKey string `json:"public_key,omitempty"`
	MeshIP    string `json:"mesh_ip,omitempty"`
}

// AlertRulePayload mirrors types.AlertRule over the wire.
type AlertRulePayload struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name"`
	MetricName  string            `json:"metric_name"`
	Comparator  string            `json:"comparator"`
	Threshold   float64           `json:"threshold"`
	ForSeconds  int               `json:"for_seconds"`
	Severity    string            `json:"severity"`
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Enabled     bool              `json:"enabled"`
}

// PutAlertRuleRequest answers put_alert_rule.
type PutAlertRuleRequest struct {
	Rule AlertRulePayload `json:"rule"`
}

// PutAlertRuleResponse answers put_alert_rule.
type PutAlertRuleResponse struct {
	RuleID string `json:"rule_id"`
}

// AlertPayload mirrors types.Alert over the wire.
type AlertPayload struct {
	ID         string    `json:"id"`
	RuleID     string    `json:"rule_id"`
	State      string    `json:"state"`
	Value      float64   `json:"value"`
	Labels     map[string]string `json:"labels,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// ListAlertsResponse answers list_alerts.
type ListAlertsResponse struct {
	Alerts []AlertPayload `json:"alerts"`
}

// RollbackPlanPayload mirrors types.RollbackPlan over the wire.
type RollbackPlanPayload struct {
	ID           string `json:"id"`
	From         string `json:"from"`
	To           string `json:"to"`
	TriggerKind  string `json:"trigger_kind"`
	StrategyKind string `json:"strategy_kind"`
	BatchSize    int    `json:"batch_size,omitempty"`
	DryRun       bool   `json:"dry_run"`
}

// PlanRollbackRequest answers plan_rollback; an empty Target asks for the
// executor's default (roll back to the immediately preceding deployment).
type PlanRollbackRequest struct {
	Current string  `json:"current"`
	Target  *string `json:"target,omitempty"`
}

// PlanRollbackResponse answers plan_rollback.
type PlanRollbackResponse struct {
	Plan RollbackPlanPayload `json:"plan"`
}

// ExecuteRollbackRequest answers execute_rollback; it resubmits the plan
// returned by plan_rollback since the gateway keeps no server-side plan
// cache between requests.
type ExecuteRollbackRequest struct {
	Plan RollbackPlanPayload `json:"plan"`
}

// ExecuteRollbackResponse answers execute_rollback.
type ExecuteRollbackResponse struct {
	Success    bool   `json:"success"`
	DurationMs int64  `json:"duration_ms"`
	Details    string `json:"details,omitempty"`
}

// NodeInvokeRequest is the CLI-issued counterpart to the gateway's internal
// NodeInvokeMessage; the gateway routes the node's eventual
// NodeInvokeResultMessage back to the CLI call waiting on that node,
// matching by node ID (no request ID is carried).
type NodeInvokeRequest struct {
	NodeID    string          `json:"node_id"`
	Command   string          `json:"command"`
	Params    json.RawMessage `json:"params,omitempty"`
	TimeoutMs int             `json:"timeout_ms,omitempty"`
}

// NodeInvokeResponse answers node_invoke.
type NodeInvokeResponse struct {
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// TypeNodeInvokeResult is the node-outbound reply to a gateway-issued
// NodeInvokeMessage.
const TypeNodeInvokeResult MessageType = "node_invoke_result"

// NodeInvokeResultMessage carries a node's reply to an out-of-band command.
type NodeInvokeResultMessage struct {
	NodeID  string          `json:"node_id"`
	Command string          `json:"command"`
	Output  json.RawMessage `json:"output,omitempty"`
	Error   string          `json:"error,omitempty"`
}
