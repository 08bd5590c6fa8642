package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/metrics"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/protocol"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

// StatusResponse answers get_status.
type StatusResponse struct {
	NodeCount     int `json:"node_count"`
	WorkloadCount int `json:"workload_count"`
	HealthyNodes  int `json:"healthy_nodes"`
}

// GetStatus summarizes cluster-wide counts.
func (d *Dispatcher) GetStatus() StatusResponse {
	d.mu.RLock()
	defer d.mu.RUnlock()
	resp := StatusResponse{NodeCount: len(d.nodes), WorkloadCount: len(d.workloads)}
	for _, entry := range d.nodes {
		if entry.node.Health == types.NodeHealthy {
			resp.HealthyNodes++
		}
	}
	return resp
}

// Metrics returns the Prometheus registry this dispatcher was built with,
// for cmd/clawgate to serve on /metrics. Nil if NewDispatcher was called
// with a nil metricsReg.
func (d *Dispatcher) Metrics() *metrics.Registry {
	return d.metrics
}

// ErrorForCode builds the stable wire-level ErrorMessage for an internal
// error, translating sentinel/typed errors to the protocol's code constants
// and never leaking internal error text beyond the message field.
func ErrorForCode(err error, requestType string) protocol.ErrorMessage {
	code := protocol.CodeInternalError
	switch {
	case errors.Is(err, ErrNodeNotFound):
		code = protocol.CodeNodeNotFound
	case errors.Is(err, ErrWorkloadNotFound):
		code = protocol.CodeWorkloadNotFound
	case errors.Is(err, ErrNoCapacity):
		code = protocol.CodeNoCapacity
	case errors.Is(err, ErrProtocolMismatch):
		code = protocol.CodeProtocolMismatch
	case errors.Is(err, ErrNodeInvokeTimeout):
		code = protocol.CodeNodeInvokeTimeout
	}
	return protocol.ErrorMessage{Code: code, Message: err.Error(), RequestType: requestType}
}

// NodeInvokeResult is the outcome of one node_invoke call: the node's output,
// or the error it reported. InvokeNode waits for it on a caller-supplied
// channel.
type NodeInvokeResult struct {
	Output json.RawMessage
	Err    error
}

// ErrNodeInvokeTimeout mirrors protocol.CodeNodeInvokeTimeout.
var ErrNodeInvokeTimeout = fmt.Errorf("gateway: node_invoke timed out")

// InvokeNode dispatches an out-of-band command to a node and blocks for its
// reply on resultCh, up to timeoutMs (DefaultNodeInvokeTimeoutMs if zero).
func (d *Dispatcher) InvokeNode(nodeID types.NodeID, command string, params []byte, timeoutMs int, resultCh <-chan NodeInvokeResult) (NodeInvokeResult, error) {
	d.mu.RLock()
	entry, ok := d.nodes[nodeID]
	d.mu.RUnlock()
	if !ok {
		return NodeInvokeResult{}, ErrNodeNotFound
	}

	if timeoutMs <= 0 {
		timeoutMs = protocol.DefaultNodeInvokeTimeoutMs
	}
	if err := entry.sink.SendToNode(nodeID, protocol.TypeNodeInvoke, protocol.NodeInvokeMessage{
		NodeID:    string(nodeID),
		Command:   command,
		Params:    params,
		TimeoutMs: timeoutMs,
	}); err != nil {
		return NodeInvokeResult{}, err
	}

	select {
	case res := <-resultCh:
		return res, res.Err
	case <-time.After(time.Duration(timeoutMs) * time.Millisecond):
		return NodeInvokeResult{}, ErrNodeInvokeTimeout
	}
}
