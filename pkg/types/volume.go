package types

import "time"

// VolumeKind is the storage backend for a volume.
type VolumeKind string

const (
	VolumeEmptyDir VolumeKind = "empty_dir"
	VolumeHostPath VolumeKind = "host_path"
	VolumeNFS      VolumeKind = "nfs"
	VolumeS3       VolumeKind = "s3"
	VolumeBlock    VolumeKind = "block"
)

// VolumeStatus is the lifecycle state of a Volume.
type VolumeStatus string

const (
	VolumeAvailable VolumeStatus = "available"
	VolumeBound     VolumeStatus = "bound"
	VolumeAttached  VolumeStatus = "attached"
	VolumeReleasing VolumeStatus = "releasing"
	VolumeFailed    VolumeStatus = "failed"
)

// AccessMode controls how many attachers a volume permits.
type AccessMode string

const (
	AccessReadWriteOnce AccessMode = "RWO"
	AccessReadOnlyMany  AccessMode = "ROX"
	AccessReadWriteMany AccessMode = "RWX"
)

// Compatible reports whether a claim's requested access mode is satisfiable
// by a volume offering `v`. ReadWriteMany volumes satisfy any request;
// otherwise the modes must match exactly.
func (v AccessMode) Compatible(requested AccessMode) bool {
	if v == AccessReadWriteMany {
		return true
	}
	return v == requested
}

// Volume is a unit of storage bound to at most one workload at a time.
type Volume struct {
	ID          VolumeID
	Kind        VolumeKind
	CapacityMiB int64
	AccessMode  AccessMode
	Status      VolumeStatus
	AttachedTo  *WorkloadID
	CreatedBy   WorkloadID // set for ephemeral volumes created by the resolver, empty otherwise
	CreatedAt   time.Time
}

// Claim requests storage of a given capacity and access mode, bound to at
// most one Volume.
type Claim struct {
	ID           ClaimID
	RequestMiB   int64
	AccessMode   AccessMode
	StorageClass string
	BoundVolume  *VolumeID
	CreatedBy    WorkloadID
	CreatedAt    time.Time
}
