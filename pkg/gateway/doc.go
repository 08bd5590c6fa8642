// Package gateway is the control-plane dispatcher: it terminates both the
// node<->gateway and CLI<->gateway JSON-framed streams (pkg/protocol) and
// wires every other package in this module behind that single process.
//
// It owns the node registry (registration, heartbeat, health-lapse
// transitions healthy -> unhealthy -> offline), the workload registry
// (placement onto a node, scheduling gates, lifecycle tracking driven by
// WorkloadUpdate/WorkloadLogs frames from nodes), and always delegates to
// pkg/tenancy for admission, pkg/registry for service endpoints, pkg/mesh
// for WireGuard peer config fan-out, and pkg/metrics for the exposition
// registry. pkg/rollback, pkg/autoscaler, pkg/alerts, and pkg/observability
// are optional collaborators, attached through With* setters (see
// collaborators.go) and exposed as pass-through methods for cmd/clawctl.
//
// Built around an RWMutex-guarded state, a Config struct, one long-lived
// process per role, and a ticker loop reconciling observed vs. desired
// state, generalized from Raft-replicated FSM state to a single in-memory
// process per the protocol's "exactly one gateway process" framing, and on
// original_source's claw-gateway crate for the dispatch-by-message-type
// shape.
package gateway
