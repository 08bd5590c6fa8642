package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/log"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/protocol"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

// maxFrameBytes bounds one newline-delimited JSON frame; a node sending
// more than this is treated as misbehaving and disconnected.
const maxFrameBytes = 4 << 20

// connSink implements NodeSink over one live net.Conn: writes are
// serialized since the wire format is newline-delimited JSON and two
// concurrent writers would interleave.
type connSink struct {
	mu   sync.Mutex
	conn net.Conn
}

func (s *connSink) SendToNode(_ types.NodeID, msgType protocol.MessageType, msg any) error {
	body, err := protocol.Encode(msgType, msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.conn.Write(append(body, '\n'))
	return err
}

// NodeServer terminates the node<->gateway stream: one long-lived
// connection per node carrying register/heartbeat/capabilities/
// workload_update/workload_logs frames, and delivering gateway-initiated
// frames (registered, heartbeat_ack, start_workload, stop_workload,
// node_invoke) back over the same connection.
type NodeServer struct {
	dispatcher *Dispatcher
	logger     zerolog.Logger

	mu      sync.Mutex
	pending map[types.NodeID]chan NodeInvokeResult
}

// NewNodeServer builds a NodeServer bound to a Dispatcher.
func NewNodeServer(d *Dispatcher) *NodeServer {
	return &NodeServer{
		dispatcher: d,
		logger:     log.WithComponent("gateway.node_server"),
		pending:    make(map[types.NodeID]chan NodeInvokeResult),
	}
}

// Serve accepts connections on ln until ctx is cancelled or Accept fails.
func (s *NodeServer) Serve(ctx context.Context, ln net.Listener) error {
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
				return fmt.Errorf("gateway: node listener accept: %w", err)
			}
		}
		go s.handleConn(conn)
	}
}

// invokeResultChan returns (creating if absent) the channel a pending
// InvokeNode call for nodeID should wait on.
func (s *NodeServer) invokeResultChan(nodeID types.NodeID) chan NodeInvokeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.pending[nodeID]
	if !ok {
		ch = make(chan NodeInvokeResult, 1)
		s.pending[nodeID] = ch
	}
	return ch
}

// Invoke dispatches an out-of-band command to a node through the
// dispatcher and blocks for its reply.
func (s *NodeServer) Invoke(nodeID types.NodeID, command string, params []byte, timeoutMs int) (NodeInvokeResult, error) {
	ch := s.invokeResultChan(nodeID)
	res, err := s.dispatcher.InvokeNode(nodeID, command, params, timeoutMs, ch)
	s.mu.Lock()
	delete(s.pending, nodeID)
	s.mu.Unlock()
	return res, err
}

func (s *NodeServer) handleConn(conn net.Conn) {
	defer conn.Close()
	sink := &connSink{conn: conn}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)

	var nodeID types.NodeID
	logger := s.logger

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame, err := protocol.Decode(line)
		if err != nil {
			logger.Warn().Err(err).Msg("malformed frame from node")
			continue
		}

		switch frame.Type {
		case protocol.TypeRegister:
			var m protocol.RegisterMessage
			if err := json.Unmarshal(frame.Raw, &m); err != nil {
				logger.Warn().Err(err).Msg("malformed register frame")
				continue
			}
			caps := types.NodeCapabilities{
				GPUCount:    m.Capabilities.GPUCount,
				VRAMMiB:     m.Capabilities.VRAMMiB,
				CPUCores:    m.Capabilities.CPUCores,
				MemoryMiB:   m.Capabilities.MemoryMiB,
				RuntimeKind: m.Capabilities.RuntimeKind,
				Labels:      m.Capabilities.Labels,
			}
			id, err := s.dispatcher.RegisterNode(m.NodeName, caps, m.ProtocolVer, sink)
			if err != nil {
				sink.SendToNode("", protocol.TypeError, ErrorForCode(err, string(protocol.TypeRegister)))
				continue
			}
			nodeID = id
			logger = logger.With().Str("node_id", string(id)).Logger()
			sink.SendToNode(id, protocol.TypeRegistered, protocol.RegisteredMessage{
				NodeID:                string(id),
				HeartbeatIntervalSecs: int(HeartbeatInterval.Seconds()),
				MetricsIntervalSecs:   int(MetricsInterval.Seconds()),
			})

		case protocol.TypeHeartbeat:
			var m protocol.HeartbeatMessage
			if err := json.Unmarshal(frame.Raw, &m); err != nil {
				continue
			}
			if err := s.dispatcher.Heartbeat(types.NodeID(m.NodeID), m.At); err != nil {
				logger.Warn().Err(err).Msg("heartbeat for unknown node")
				continue
			}
			sink.SendToNode(nodeID, protocol.TypeHeartbeatAck, protocol.HeartbeatAckMessage{ServerTime: time.Now()})

		case protocol.TypeCapabilities:
			var m protocol.CapabilitiesPayload
			if err := json.Unmarshal(frame.Raw, &m); err != nil {
				continue
			}
			if nodeID == "" {
				continue
			}
			s.dispatcher.UpdateCapabilities(nodeID, types.NodeCapabilities{
				GPUCount:    m.GPUCount,
				VRAMMiB:     m.VRAMMiB,
				CPUCores:    m.CPUCores,
				MemoryMiB:   m.MemoryMiB,
				RuntimeKind: m.RuntimeKind,
				Labels:      m.Labels,
			})

		case protocol.TypeWorkloadUpdate:
			var m protocol.WorkloadUpdateMessage
			if err := json.Unmarshal(frame.Raw, &m); err != nil {
				continue
			}
			s.dispatcher.HandleWorkloadUpdate(m)

		case protocol.TypeWorkloadLogs:
			var m protocol.WorkloadLogsMessage
			if err := json.Unmarshal(frame.Raw, &m); err != nil {
				continue
			}
			s.dispatcher.HandleWorkloadLogs(m)

		case protocol.TypeNodeInvokeResult:
			var m protocol.NodeInvokeResultMessage
			if err := json.Unmarshal(frame.Raw, &m); err != nil {
				continue
			}
			result := NodeInvokeResult{Output: m.Output}
			if m.Error != "" {
				result.Err = fmt.Errorf("%s", m.Error)
			}
			s.mu.Lock()
			ch, ok := s.pending[types.NodeID(m.NodeID)]
			s.mu.Unlock()
			if ok {
				select {
				case ch <- result:
				default:
				}
			}

		default:
			logger.Warn().Str("type", string(frame.Type)).Msg("unexpected frame type from node")
		}
	}

	if nodeID != "" {
		logger.Info().Msg("node connection closed")
	}
}
