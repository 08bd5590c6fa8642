// Package node is the node agent core (C12): owns the async lifecycle of
// workloads on one host, presents capabilities upstream, and isolates all
// blocking container work behind the runtime.AsyncContainerRuntime port.
// Built on a heartbeat/sync loop shape (Config struct, state lock discipline)
// generalized from gRPC/containerd-direct to
// the JSON protocol (pkg/protocol) and the AsyncContainerRuntime port, and
// on original_source's clawnode/src/handlers_async.rs for the exact
// start/stop workload algorithm and log-streaming batching this package
// implements.
package node
