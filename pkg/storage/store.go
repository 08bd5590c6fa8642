// Package storage is an optional, crash-local snapshot cache the gateway
// may use for operator forensics after an unclean shutdown. It is never on
// the path of correctness: cluster state is reconstituted from node
// re-registration and operator re-declaration, so a missing or stale
// snapshot file never blocks startup.
//
// Built on a bucket-per-entity BoltDB idiom (one bolt.Bucket per entity
// kind, JSON-marshaled values, db.Update/View transactions), narrowed down
// to the two entities this control plane's Dispatcher actually
// holds: nodes and workloads.
package storage

import "github.com/clawbernetes/clawbernetes-sub001/pkg/types"

// SnapshotStore persists point-in-time copies of the gateway's node and
// workload registries. Implementations must tolerate being opened against a
// missing or empty file (first run).
type SnapshotStore interface {
	SaveNode(node *types.Node) error
	ListNodes() ([]*types.Node, error)
	DeleteNode(id types.NodeID) error

	SaveWorkload(w *types.Workload) error
	ListWorkloads() ([]*types.Workload, error)
	DeleteWorkload(id types.WorkloadID) error

	Close() error
}
