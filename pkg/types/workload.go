package types

import "time"

// WorkloadState is the lifecycle state of a workload.
type WorkloadState string

const (
	WorkloadPending          WorkloadState = "pending"
	WorkloadSchedulingGated  WorkloadState = "scheduling-gated"
	WorkloadStarting         WorkloadState = "starting"
	WorkloadRunning          WorkloadState = "running"
	WorkloadStopping         WorkloadState = "stopping"
	WorkloadStopped          WorkloadState = "stopped"
	WorkloadFailed           WorkloadState = "failed"
)

// Terminal reports whether the state is immutable (stopped or failed).
func (s WorkloadState) Terminal() bool {
	return s == WorkloadStopped || s == WorkloadFailed
}

// ResourceAsk is the resource request carried by a workload spec.
type ResourceAsk struct {
	GPUCount  int
	MemoryMiB int64
	CPUCores  float64
}

// WorkloadVolumeSpec describes one volume a workload wants attached; exactly
// one of the embedded kinds is set.
type WorkloadVolumeSpec struct {
	Name string
	Kind WorkloadVolumeKind

	// ExistingVolume
	ExistingVolumeID VolumeID

	// VolumeClaim
	ClaimName string

	// DynamicClaim
	Capacity     int64
	AccessMode   AccessMode
	StorageClass string
}

// WorkloadVolumeKind discriminates WorkloadVolumeSpec.
type WorkloadVolumeKind string

const (
	VolumeKindExisting     WorkloadVolumeKind = "existing_volume"
	VolumeKindClaim        WorkloadVolumeKind = "volume_claim"
	VolumeKindEmptyDir     WorkloadVolumeKind = "empty_dir"
	VolumeKindHostPath     WorkloadVolumeKind = "host_path"
	VolumeKindNFS          WorkloadVolumeKind = "nfs"
	VolumeKindS3           WorkloadVolumeKind = "s3"
	VolumeKindDynamicClaim WorkloadVolumeKind = "dynamic_claim"
)

// ContainerVolumeMount references a WorkloadVolumeSpec by name.
type ContainerVolumeMount struct {
	SpecName  string
	MountPath string
	SubPath   string
	ReadOnly  bool
}

// WorkloadSpec is the immutable part of a workload.
type WorkloadSpec struct {
	Image    string
	Command  []string
	Env      map[string]string
	Asks     ResourceAsk
	Volumes  []WorkloadVolumeSpec
	Mounts   []ContainerVolumeMount
	Labels   map[string]string
}

// ScheduleGate is a named precondition blocking a workload from leaving
// scheduling-gated.
type ScheduleGate struct {
	Name   string
	Reason string
}

// Workload is a unit of container execution scheduled to at most one node.
type Workload struct {
	ID         WorkloadID
	Spec       WorkloadSpec
	State      WorkloadState
	NodeID     NodeID
	GPUIndices []int
	Gates      []ScheduleGate
	CreatedAt  time.Time
	StartedAt  time.Time
	StoppedAt  time.Time
	Reason     string
}

// HasGates reports whether the workload still has open scheduling gates.
func (w *Workload) HasGates() bool { return len(w.Gates) > 0 }
