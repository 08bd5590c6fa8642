package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/log"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/mesh"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/protocol"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

// CLIServer terminates the CLI<->gateway stream: every request frame on a
// connection gets one response frame (cmd/clawctl dials fresh for every
// invocation and sends a hello followed by a single request).
type CLIServer struct {
	dispatcher *Dispatcher
	nodes      *NodeServer // for node_invoke fan-out
	logger     zerolog.Logger
}

// NewCLIServer builds a CLIServer. nodes may be nil if node_invoke support
// is not needed (it will answer with an internal error).
func NewCLIServer(d *Dispatcher, nodes *NodeServer) *CLIServer {
	return &CLIServer{dispatcher: d, nodes: nodes, logger: log.WithComponent("gateway.cli_server")}
}

// Serve accepts connections on ln until ctx is cancelled or Accept fails.
func (s *CLIServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("gateway: cli listener accept: %w", err)
			}
		}
		go s.handleConn(conn)
	}
}

func (s *CLIServer) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp, respType := s.dispatch(line)
		body, err := protocol.Encode(respType, resp)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to encode cli response")
			return
		}
		if _, err := conn.Write(append(body, '\n')); err != nil {
			return
		}
	}
}

// dispatch decodes one CLI request frame and returns the response payload
// plus its wire type. Errors are reported as protocol.ErrorMessage under
// protocol.TypeError, never as a connection failure.
func (s *CLIServer) dispatch(line []byte) (any, protocol.MessageType) {
	frame, err := protocol.Decode(line)
	if err != nil {
		return protocol.ErrorMessage{Code: protocol.CodeInvalidRequest, Message: err.Error()}, protocol.TypeError
	}

	switch frame.Type {
	case protocol.TypeHello:
		var m protocol.HelloMessage
		json.Unmarshal(frame.Raw, &m)
		if m.ProtocolVer != protocol.ProtocolVersion {
			return ErrorForCode(fmt.Errorf("%w: cli sent %d, gateway wants %d", ErrProtocolMismatch, m.ProtocolVer, protocol.ProtocolVersion), string(frame.Type)), protocol.TypeError
		}
		return protocol.WelcomeMessage{ProtocolVer: protocol.ProtocolVersion}, protocol.TypeWelcome

	case protocol.TypeGetStatus, protocol.TypeGetGatewayStatus:
		st := s.dispatcher.GetStatus()
		return protocol.GatewayStatusPayload{NodeCount: st.NodeCount, WorkloadCount: st.WorkloadCount, HealthyNodes: st.HealthyNodes}, protocol.TypeGetGatewayStatus

	case protocol.TypeListNodes:
		var req protocol.ListNodesRequest
		json.Unmarshal(frame.Raw, &req)
		var filter *types.NodeHealth
		if req.HealthFilter != "" {
			h := types.NodeHealth(req.HealthFilter)
			filter = &h
		}
		nodes := s.dispatcher.ListNodes(filter)
		out := make([]protocol.NodePayload, 0, len(nodes))
		for _, n := range nodes {
			out = append(out, nodePayload(n))
		}
		return protocol.ListNodesResponse{Nodes: out}, protocol.TypeListNodes

	case protocol.TypeGetNode:
		var req protocol.GetNodeRequest
		json.Unmarshal(frame.Raw, &req)
		n, err := s.dispatcher.GetNode(types.NodeID(req.NodeID))
		if err != nil {
			return ErrorForCode(err, string(frame.Type)), protocol.TypeError
		}
		return nodePayload(n), protocol.TypeGetNode

	case protocol.TypeDrainNode:
		var req protocol.DrainNodeRequest
		json.Unmarshal(frame.Raw, &req)
		if err := s.dispatcher.DrainNode(types.NodeID(req.NodeID), req.Drain); err != nil {
			return ErrorForCode(err, string(frame.Type)), protocol.TypeError
		}
		n, _ := s.dispatcher.GetNode(types.NodeID(req.NodeID))
		return nodePayload(n), protocol.TypeDrainNode

	case protocol.TypeListWorkloads:
		workloads := s.dispatcher.ListWorkloads()
		out := make([]protocol.WorkloadPayload, 0, len(workloads))
		for _, w := range workloads {
			out = append(out, workloadPayload(w))
		}
		return protocol.ListWorkloadsResponse{Workloads: out}, protocol.TypeListWorkloads

	case protocol.TypeGetWorkload:
		var req protocol.GetWorkloadRequest
		json.Unmarshal(frame.Raw, &req)
		w, err := s.dispatcher.GetWorkload(types.WorkloadID(req.WorkloadID))
		if err != nil {
			return ErrorForCode(err, string(frame.Type)), protocol.TypeError
		}
		return workloadPayload(w), protocol.TypeGetWorkload

	case protocol.TypeStartWorkloadRequest:
		var req protocol.StartWorkloadRequestMessage
		if err := json.Unmarshal(frame.Raw, &req); err != nil {
			return protocol.ErrorMessage{Code: protocol.CodeInvalidRequest, Message: err.Error()}, protocol.TypeError
		}
		spec := types.WorkloadSpec{
			Image:   req.Spec.Image,
			Command: req.Spec.Command,
			Env:     req.Spec.Env,
			Asks: types.ResourceAsk{
				GPUCount:  req.Spec.GPUCount,
				MemoryMiB: req.Spec.MemoryMiB,
				CPUCores:  req.Spec.CPUCores,
			},
			Labels: req.Spec.Labels,
		}
		var preferred *types.NodeID
		if req.PreferredNode != "" {
			n := types.NodeID(req.PreferredNode)
			preferred = &n
		}
		gates := make([]types.ScheduleGate, 0, len(req.Gates))
		for _, g := range req.Gates {
			gates = append(gates, types.ScheduleGate{Name: g.Name, Reason: g.Reason})
		}
		id, err := s.dispatcher.StartWorkload(spec, preferred, gates)
		if err != nil {
			return ErrorForCode(err, string(frame.Type)), protocol.TypeError
		}
		return protocol.StartWorkloadResponse{WorkloadID: string(id)}, protocol.TypeStartWorkloadRequest

	case protocol.TypeStopWorkloadRequest:
		var req protocol.StopWorkloadRequestMessage
		json.Unmarshal(frame.Raw, &req)
		if err := s.dispatcher.StopWorkload(types.WorkloadID(req.WorkloadID), req.GracePeriodSecs); err != nil {
			return ErrorForCode(err, string(frame.Type)), protocol.TypeError
		}
		return protocol.StartWorkloadResponse{WorkloadID: req.WorkloadID}, protocol.TypeStopWorkloadRequest

	case protocol.TypeGetLogs:
		var req protocol.GetLogsRequest
		json.Unmarshal(frame.Raw, &req)
		lines, err := s.dispatcher.GetLogs(types.WorkloadID(req.WorkloadID), req.Tail)
		if err != nil {
			return ErrorForCode(err, string(frame.Type)), protocol.TypeError
		}
		return protocol.GetLogsResponse{Lines: lines}, protocol.TypeGetLogs

	case protocol.TypeListGates:
		gates := s.dispatcher.ListGates()
		out := make(map[string][]protocol.GatePayload, len(gates))
		for id, gs := range gates {
			payload := make([]protocol.GatePayload, 0, len(gs))
			for _, g := range gs {
				payload = append(payload, protocol.GatePayload{Name: g.Name, Reason: g.Reason})
			}
			out[string(id)] = payload
		}
		return protocol.ListGatesResponse{Gates: out}, protocol.TypeListGates

	case protocol.TypeClearGate:
		var req protocol.ClearGateRequest
		json.Unmarshal(frame.Raw, &req)
		if err := s.dispatcher.ClearGate(types.WorkloadID(req.WorkloadID), req.GateName); err != nil {
			return ErrorForCode(err, string(frame.Type)), protocol.TypeError
		}
		return protocol.ClearGateRequest{WorkloadID: req.WorkloadID, GateName: req.GateName}, protocol.TypeClearGate

	case protocol.TypeMeshStatus:
		var req protocol.MeshStatusRequest
		json.Unmarshal(frame.Raw, &req)
		return s.meshStatus(req)

	case protocol.TypeMeshPeers:
		var req protocol.MeshPeersRequest
		json.Unmarshal(frame.Raw, &req)
		peers, err := s.dispatcher.MeshPeers(req.NodeID)
		if err != nil {
			return ErrorForCode(err, string(frame.Type)), protocol.TypeError
		}
		out := make([]protocol.PeerPayload, 0, len(peers))
		for _, p := range peers {
			out = append(out, protocol.PeerPayload{PublicKey: p.PublicKey, Endpoint: p.Endpoint, AllowedIPs: p.AllowedIPs, KeepaliveSecs: p.KeepaliveSecs})
		}
		return protocol.MeshPeersResponse{Peers: out}, protocol.TypeMeshPeers

	case protocol.TypeMeshNode:
		var req protocol.MeshNodeRequest
		json.Unmarshal(frame.Raw, &req)
		mem, err := s.dispatcher.MeshNode(types.NodeID(req.NodeID))
		if err != nil {
			return ErrorForCode(err, string(frame.Type)), protocol.TypeError
		}
		return protocol.MeshNodeResponse{NodeID: req.NodeID, PublicKey: mem.PublicKey, MeshIP: mem.MeshIP}, protocol.TypeMeshNode

	case protocol.TypePutAlertRule:
		var req protocol.PutAlertRuleRequest
		if err := json.Unmarshal(frame.Raw, &req); err != nil {
			return protocol.ErrorMessage{Code: protocol.CodeInvalidRequest, Message: err.Error()}, protocol.TypeError
		}
		rule := alertRuleFromPayload(req.Rule)
		if err := s.dispatcher.PutAlertRule(&rule); err != nil {
			return ErrorForCode(err, string(frame.Type)), protocol.TypeError
		}
		return protocol.PutAlertRuleResponse{RuleID: string(rule.ID)}, protocol.TypePutAlertRule

	case protocol.TypeListAlerts:
		alerts := s.dispatcher.ListAlerts()
		out := make([]protocol.AlertPayload, 0, len(alerts))
		for _, a := range alerts {
			out = append(out, alertPayload(a))
		}
		return protocol.ListAlertsResponse{Alerts: out}, protocol.TypeListAlerts

	case protocol.TypePlanRollback:
		var req protocol.PlanRollbackRequest
		json.Unmarshal(frame.Raw, &req)
		var target *types.DeploymentID
		if req.Target != nil {
			t := types.DeploymentID(*req.Target)
			target = &t
		}
		plan, err := s.dispatcher.PlanRollback(types.DeploymentID(req.Current), target)
		if err != nil {
			return ErrorForCode(err, string(frame.Type)), protocol.TypeError
		}
		return protocol.PlanRollbackResponse{Plan: rollbackPlanPayload(plan)}, protocol.TypePlanRollback

	case protocol.TypeExecuteRollback:
		var req protocol.ExecuteRollbackRequest
		if err := json.Unmarshal(frame.Raw, &req); err != nil {
			return protocol.ErrorMessage{Code: protocol.CodeInvalidRequest, Message: err.Error()}, protocol.TypeError
		}
		plan := rollbackPlanFromPayload(req.Plan)
		result, err := s.dispatcher.ExecuteRollback(plan)
		if err != nil {
			return ErrorForCode(err, string(frame.Type)), protocol.TypeError
		}
		return protocol.ExecuteRollbackResponse{Success: result.Success, DurationMs: result.Duration.Milliseconds(), Details: result.Details}, protocol.TypeExecuteRollback

	case protocol.TypeNodeInvoke:
		var req protocol.NodeInvokeRequest
		json.Unmarshal(frame.Raw, &req)
		if s.nodes == nil {
			return ErrorForCode(fmt.Errorf("gateway: node invoke transport not configured"), string(frame.Type)), protocol.TypeError
		}
		res, err := s.nodes.Invoke(types.NodeID(req.NodeID), req.Command, req.Params, req.TimeoutMs)
		if err != nil {
			return ErrorForCode(err, string(frame.Type)), protocol.TypeError
		}
		return protocol.NodeInvokeResponse{Output: res.Output}, protocol.TypeNodeInvoke

	default:
		return protocol.ErrorMessage{Code: protocol.CodeInvalidRequest, Message: fmt.Sprintf("unknown request type %q", frame.Type)}, protocol.TypeError
	}
}

func (s *CLIServer) meshStatus(req protocol.MeshStatusRequest) (any, protocol.MessageType) {
	if req.TunnelName != "" {
		st, err := s.dispatcher.MeshTunnelStatus(req.TunnelName)
		if err != nil {
			return ErrorForCode(err, string(protocol.TypeMeshStatus)), protocol.TypeError
		}
		return protocol.MeshStatusResponse{Tunnels: []protocol.TunnelStatusPayload{tunnelPayload(st)}}, protocol.TypeMeshStatus
	}
	names, err := s.dispatcher.MeshTunnels()
	if err != nil {
		return ErrorForCode(err, string(protocol.TypeMeshStatus)), protocol.TypeError
	}
	out := make([]protocol.TunnelStatusPayload, 0, len(names))
	for _, name := range names {
		st, err := s.dispatcher.MeshTunnelStatus(name)
		if err != nil {
			continue
		}
		out = append(out, tunnelPayload(st))
	}
	return protocol.MeshStatusResponse{Tunnels: out}, protocol.TypeMeshStatus
}

func nodePayload(n types.Node) protocol.NodePayload {
	return protocol.NodePayload{
		ID:   string(n.ID),
		Name: n.Name,
		Capabilities: protocol.CapabilitiesPayload{
			GPUCount:    n.Capabilities.GPUCount,
			VRAMMiB:     n.Capabilities.VRAMMiB,
			CPUCores:    n.Capabilities.CPUCores,
			MemoryMiB:   n.Capabilities.MemoryMiB,
			RuntimeKind: n.Capabilities.RuntimeKind,
			Labels:      n.Capabilities.Labels,
		},
		Health:        string(n.Health),
		LastHeartbeat: n.LastHeartbeat,
		CreatedAt:     n.CreatedAt,
	}
}

func workloadPayload(w types.Workload) protocol.WorkloadPayload {
	gates := make([]protocol.GatePayload, 0, len(w.Gates))
	for _, g := range w.Gates {
		gates = append(gates, protocol.GatePayload{Name: g.Name, Reason: g.Reason})
	}
	return protocol.WorkloadPayload{
		ID:        string(w.ID),
		Spec:      toSpecPayload(w.Spec),
		State:     string(w.State),
		NodeID:    string(w.NodeID),
		Gates:     gates,
		CreatedAt: w.CreatedAt,
		StartedAt: w.StartedAt,
		StoppedAt: w.StoppedAt,
		Reason:    w.Reason,
	}
}

func alertRuleFromPayload(p protocol.AlertRulePayload) types.AlertRule {
	return types.AlertRule{
		ID:   types.AlertRuleID(p.ID),
		Name: p.Name,
		Condition: types.Condition{
			MetricName: p.MetricName,
			Comparator: types.Comparator(p.Comparator),
			Threshold:  p.Threshold,
		},
		ForDuration: time.Duration(p.ForSeconds) * time.Second,
		Severity:    types.Severity(p.Severity),
		Labels:      p.Labels,
		Annotations: p.Annotations,
		Enabled:     p.Enabled,
	}
}

func alertPayload(a *types.Alert) protocol.AlertPayload {
	return protocol.AlertPayload{
		ID:        string(a.ID),
		RuleID:    string(a.RuleID),
		State:     string(a.State),
		Value:     a.Value,
		Labels:    a.Labels,
		StartedAt: a.StartedAt,
	}
}

func rollbackPlanPayload(p types.RollbackPlan) protocol.RollbackPlanPayload {
	return protocol.RollbackPlanPayload{
		ID:           string(p.ID),
		From:         string(p.From),
		To:           string(p.To),
		TriggerKind:  string(p.Trigger.Kind),
		StrategyKind: string(p.Strategy.Kind),
		BatchSize:    p.Strategy.BatchSize,
		DryRun:       p.DryRun,
	}
}

func rollbackPlanFromPayload(p protocol.RollbackPlanPayload) types.RollbackPlan {
	return types.RollbackPlan{
		ID:      types.RollbackID(p.ID),
		From:    types.DeploymentID(p.From),
		To:      types.DeploymentID(p.To),
		Trigger: types.RollbackTrigger{Kind: types.TriggerKind(p.TriggerKind)},
		Strategy: types.RollbackStrategy{
			Kind:      types.StrategyKind(p.StrategyKind),
			BatchSize: p.BatchSize,
		},
		DryRun:   p.DryRun,
		Validate: true,
	}
}

// tunnelPayload collapses mesh.TunnelStatus down to its wire summary.
func tunnelPayload(st mesh.TunnelStatus) protocol.TunnelStatusPayload {
	return protocol.TunnelStatusPayload{
		Name:           st.Name,
		ListenPort:     st.ListenPort,
		LocalPublicKey: st.LocalPublicKey,
		State:          string(st.State),
		PeerCount:      len(st.Peers),
	}
}
