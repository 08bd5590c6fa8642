/*
Package types defines the core data structures shared across the control
plane: nodes, workloads, tenancy, service mesh membership, volumes, alerts,
rollback plans, and autoscaling policy. These types are the vocabulary every
other package (gateway, node, tenancy, mesh, volume, alerts, rollback,
autoscaler) trades in; nothing here owns storage or transport.

# Core Types

Cluster topology:
  - Node, NodeHealth, NodeCapabilities: a registered GPU host and its health
  - MeshMembership: a node's overlay network identity

Workloads:
  - Workload, WorkloadSpec, WorkloadState: a single GPU job and its lifecycle
  - ScheduleGate: a named precondition a workload waits on before placement
  - ResourceAsk: the GPU/memory/CPU request a spec carries

Tenancy:
  - Tenant, Namespace, Quota, Usage: multi-tenant admission bookkeeping

Service mesh and services:
  - MeshNode, TopologyKind, ConnectionState: overlay network state
  - Service, Endpoint, LBStrategy: service discovery and load balancing

Storage:
  - Volume, Claim, VolumeKind, AccessMode: volume provisioning and binding

Alerting:
  - AlertRule, Alert, Silence, Condition: threshold-based alerting

Rollback and autoscaling:
  - RollbackPlan, RollbackStrategy, FailureAnalysis: deployment rollback
  - ScalingPolicy, ScalingBounds, PoolID: node pool autoscaling

# Identifiers

pkg/types/ids.go defines every domain ID as a distinct string type
(NodeID, WorkloadID, TenantID, NamespaceID, RollbackID, ...) so a NodeID
can never be passed where a WorkloadID is expected. NewXID constructors
mint UUIDv4 values; ValidateShortID checks human-chosen short names used
for deployments, services and volumes.

# Thread Safety

Types in this package carry no synchronization of their own: a *Workload
or *Node handed out by a registry is a point-in-time snapshot, and
concurrent mutation is the owning package's responsibility (see
pkg/gateway, pkg/tenancy, pkg/mesh).
*/
package types
