// Package volume is the volume manager (C6): volume/claim lifecycle,
// binding, attach/detach, and the workload-volume resolver that turns a
// workload's declared volume specs into concrete mounts. Built around a
// create/delete/mount lifecycle driver and the same state-machine
// discipline used throughout the gateway dispatcher (typed
// not-found/conflict errors, RWMutex-guarded maps).
package volume

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

var (
	ErrVolumeNotFound       = errors.New("volume: not found")
	ErrClaimNotFound        = errors.New("volume: claim not found")
	ErrVolumeNotAvailable   = errors.New("volume: not available for binding")
	ErrClaimAlreadyBound    = errors.New("volume: claim already bound")
	ErrIncompatibleRequest  = errors.New("volume: capacity or access mode incompatible")
	ErrVolumeNotBound       = errors.New("volume: not bound")
	ErrVolumeAlreadyAttached = errors.New("volume: already attached to another workload")
	ErrVolumeNotAttached    = errors.New("volume: not attached")
	ErrVolumeNotDetached    = errors.New("volume: must be detached before release")
	ErrVolumeNotDeletable   = errors.New("volume: not in a deletable state")
)

// Manager owns volumes and claims and enforces the state machine in:
// available -> bound -> attached -> bound (detach) -> available (release).
type Manager struct {
	mu      sync.Mutex
	volumes map[types.VolumeID]*types.Volume
	claims  map[types.ClaimID]*types.Claim
}

// NewManager creates an empty volume manager.
func NewManager() *Manager {
	return &Manager{
		volumes: make(map[types.VolumeID]*types.Volume),
		claims:  make(map[types.ClaimID]*types.Claim),
	}
}

// Provision creates a volume in `available`, or directly `bound` if a claim
// is supplied and compatible.
func (m *Manager) Provision(id types.VolumeID, kind types.VolumeKind, capacityMiB int64, access types.AccessMode, claim *types.Claim) (*types.Volume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := &types.Volume{
		ID:          id,
		Kind:        kind,
		CapacityMiB: capacityMiB,
		AccessMode:  access,
		Status:      types.VolumeAvailable,
		CreatedAt:   time.Now(),
	}
	if claim != nil {
		if !compatible(v, claim) {
			return nil, ErrIncompatibleRequest
		}
		v.Status = types.VolumeBound
		boundID := v.ID
		claim.BoundVolume = &boundID
		m.claims[claim.ID] = claim
	}
	m.volumes[v.ID] = v
	return v, nil
}

func compatible(v *types.Volume, claim *types.Claim) bool {
	return v.CapacityMiB >= claim.RequestMiB && v.AccessMode.Compatible(claim.AccessMode)
}

// PutClaim registers a claim that is not yet bound.
func (m *Manager) PutClaim(claim *types.Claim) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[claim.ID] = claim
}

// GetVolume looks up a volume by ID.
func (m *Manager) GetVolume(id types.VolumeID) (*types.Volume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.volumes[id]
	if !ok {
		return nil, ErrVolumeNotFound
	}
	return v, nil
}

// GetClaim looks up a claim by ID.
func (m *Manager) GetClaim(id types.ClaimID) (*types.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return nil, ErrClaimNotFound
	}
	return c, nil
}

// FindAvailable returns the first available volume satisfying the claim's
// capacity and access mode, or nil if none matches.
func (m *Manager) FindAvailable(claim *types.Claim) *types.Volume {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.volumes {
		if v.Status == types.VolumeAvailable && compatible(v, claim) {
			return v
		}
	}
	return nil
}

// Bind requires the volume to be available and the claim unbound and
// compatible.
func (m *Manager) Bind(volumeID types.VolumeID, claim *types.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.volumes[volumeID]
	if !ok {
		return ErrVolumeNotFound
	}
	if v.Status != types.VolumeAvailable {
		return ErrVolumeNotAvailable
	}
	if claim.BoundVolume != nil {
		return ErrClaimAlreadyBound
	}
	if !compatible(v, claim) {
		return ErrIncompatibleRequest
	}

	v.Status = types.VolumeBound
	boundID := v.ID
	claim.BoundVolume = &boundID
	m.claims[claim.ID] = claim
	return nil
}

// Attach requires the volume to be bound; attaching to the already-attached
// workload is idempotent.
func (m *Manager) Attach(volumeID types.VolumeID, workload types.WorkloadID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.volumes[volumeID]
	if !ok {
		return ErrVolumeNotFound
	}
	if v.Status == types.VolumeAttached {
		if v.AttachedTo != nil && *v.AttachedTo == workload {
			return nil
		}
		return ErrVolumeAlreadyAttached
	}
	if v.Status != types.VolumeBound {
		return ErrVolumeNotBound
	}
	v.Status = types.VolumeAttached
	w := workload
	v.AttachedTo = &w
	return nil
}

// Detach transitions attached -> bound.
func (m *Manager) Detach(volumeID types.VolumeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.volumes[volumeID]
	if !ok {
		return ErrVolumeNotFound
	}
	if v.Status != types.VolumeAttached {
		return ErrVolumeNotAttached
	}
	v.Status = types.VolumeBound
	v.AttachedTo = nil
	return nil
}

// Release transitions bound -> available; only permitted once detached.
func (m *Manager) Release(volumeID types.VolumeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.volumes[volumeID]
	if !ok {
		return ErrVolumeNotFound
	}
	if v.Status != types.VolumeBound {
		return ErrVolumeNotDetached
	}
	v.Status = types.VolumeAvailable
	return nil
}

// Delete is permitted in available|releasing|failed.
func (m *Manager) Delete(volumeID types.VolumeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.volumes[volumeID]
	if !ok {
		return ErrVolumeNotFound
	}
	switch v.Status {
	case types.VolumeAvailable, types.VolumeReleasing, types.VolumeFailed:
		delete(m.volumes, volumeID)
		return nil
	default:
		return ErrVolumeNotDeletable
	}
}

// InvalidMountPathError reports a mount path that fails validation.
type InvalidMountPathError struct {
	Path string
}

func (e *InvalidMountPathError) Error() string {
	return fmt.Sprintf("volume: invalid mount path %q", e.Path)
}
