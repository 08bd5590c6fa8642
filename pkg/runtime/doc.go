// Package runtime defines the AsyncContainerRuntime port the node agent
// (pkg/node) drives to create, stop, remove, and observe containers, plus
// two implementations: a real driver backed by containerd and a fake for
// tests. The real driver wraps containerd's client/oci/cio packages, and on original_source's
// clawnode/src/handlers_async.rs, which names the exact port the node core
// is generic over (create/stop/remove/list/get/logs/stream_logs).
package runtime
