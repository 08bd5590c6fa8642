package volume

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

var ErrNoMatchingVolume = errors.New("volume: no matching available volume for dynamic claim")

// VolumeMount is the resolved (volume, path) pair for one container mount.
type VolumeMount struct {
	VolumeID  types.VolumeID
	MountPath string
	SubPath   string
	ReadOnly  bool
}

// Resolution is everything a workload start needs from volume resolution,
// plus bookkeeping for cleanup on stop.
type Resolution struct {
	Mounts  []VolumeMount
	Created []types.VolumeID // ephemeral volumes this workload created; cleaned up on stop
}

// Resolver turns a workload's declared WorkloadVolumeSpecs and
// ContainerVolumeMounts into concrete mounts, creating ephemeral volumes and
// dynamic claims as needed.
type Resolver struct {
	volumes *Manager
}

// NewResolver builds a resolver bound to a volume Manager.
func NewResolver(volumes *Manager) *Resolver {
	return &Resolver{volumes: volumes}
}

// Resolve runs the two-pass algorithm: first materialize a VolumeID for
// every declared spec, then build a VolumeMount for every container mount
// that references one of those specs by name.
func (r *Resolver) Resolve(workloadID types.WorkloadID, specs []types.WorkloadVolumeSpec, mounts []types.ContainerVolumeMount) (*Resolution, error) {
	volumeBySpec := make(map[string]types.VolumeID, len(specs))
	res := &Resolution{}

	for _, spec := range specs {
		volID, created, err := r.resolveSpec(workloadID, spec)
		if err != nil {
			r.cleanup(res.Created)
			return nil, fmt.Errorf("volume: resolving spec %q: %w", spec.Name, err)
		}
		volumeBySpec[spec.Name] = volID
		if created {
			res.Created = append(res.Created, volID)
		}
	}

	for _, mount := range mounts {
		volID, ok := volumeBySpec[mount.SpecName]
		if !ok {
			r.cleanup(res.Created)
			return nil, fmt.Errorf("volume: mount references unknown spec %q", mount.SpecName)
		}
		if err := validateMountPath(mount.MountPath, mount.SubPath); err != nil {
			r.cleanup(res.Created)
			return nil, err
		}

		// Ephemeral volumes start out available; lift them to bound via a
		// synthetic claim so they follow the same attach state machine as
		// persistent volumes.
		vol, err := r.volumes.GetVolume(volID)
		if err != nil {
			r.cleanup(res.Created)
			return nil, err
		}
		if vol.Status == types.VolumeAvailable {
			synthetic := &types.Claim{
				ID:           types.ClaimID(fmt.Sprintf("%s-claim", volID)),
				RequestMiB:   vol.CapacityMiB,
				AccessMode:   vol.AccessMode,
				CreatedBy:    workloadID,
			}
			if err := r.volumes.Bind(volID, synthetic); err != nil {
				r.cleanup(res.Created)
				return nil, err
			}
		}
		if err := r.volumes.Attach(volID, workloadID); err != nil {
			r.cleanup(res.Created)
			return nil, err
		}

		res.Mounts = append(res.Mounts, VolumeMount{
			VolumeID:  volID,
			MountPath: mount.MountPath,
			SubPath:   mount.SubPath,
			ReadOnly:  mount.ReadOnly,
		})
	}

	return res, nil
}

func (r *Resolver) resolveSpec(workloadID types.WorkloadID, spec types.WorkloadVolumeSpec) (types.VolumeID, bool, error) {
	switch spec.Kind {
	case types.VolumeKindExisting:
		if _, err := r.volumes.GetVolume(spec.ExistingVolumeID); err != nil {
			return "", false, err
		}
		return spec.ExistingVolumeID, false, nil

	case types.VolumeKindClaim:
		claim, err := r.volumes.GetClaim(types.ClaimID(spec.ClaimName))
		if err != nil {
			return "", false, err
		}
		if claim.BoundVolume == nil {
			return "", false, fmt.Errorf("volume: claim %q is not bound", spec.ClaimName)
		}
		return *claim.BoundVolume, false, nil

	case types.VolumeKindEmptyDir, types.VolumeKindHostPath, types.VolumeKindNFS, types.VolumeKindS3:
		id := types.VolumeID(fmt.Sprintf("%s-%s", workloadID, spec.Name))
		kind := map[types.WorkloadVolumeKind]types.VolumeKind{
			types.VolumeKindEmptyDir: types.VolumeEmptyDir,
			types.VolumeKindHostPath: types.VolumeHostPath,
			types.VolumeKindNFS:      types.VolumeNFS,
			types.VolumeKindS3:       types.VolumeS3,
		}[spec.Kind]
		vol, err := r.volumes.Provision(id, kind, spec.Capacity, spec.AccessMode, nil)
		if err != nil {
			return "", false, err
		}
		return vol.ID, true, nil

	case types.VolumeKindDynamicClaim:
		claimID := types.ClaimID(fmt.Sprintf("%s-%s", workloadID, spec.Name))
		claim := &types.Claim{
			ID:           claimID,
			RequestMiB:   spec.Capacity,
			AccessMode:   spec.AccessMode,
			StorageClass: spec.StorageClass,
			CreatedBy:    workloadID,
		}
		r.volumes.PutClaim(claim)
		match := r.volumes.FindAvailable(claim)
		if match == nil {
			return "", false, ErrNoMatchingVolume
		}
		if err := r.volumes.Bind(match.ID, claim); err != nil {
			return "", false, err
		}
		return match.ID, false, nil

	default:
		return "", false, fmt.Errorf("volume: unknown spec kind %q", spec.Kind)
	}
}

// Cleanup detaches, releases, and deletes every ephemeral volume this
// workload created.
func (r *Resolver) Cleanup(res *Resolution) {
	r.cleanup(res.Created)
}

func (r *Resolver) cleanup(created []types.VolumeID) {
	for _, id := range created {
		_ = r.volumes.Detach(id)
		_ = r.volumes.Release(id)
		_ = r.volumes.Delete(id)
	}
}

func validateMountPath(mountPath, subPath string) error {
	if !path.IsAbs(mountPath) {
		return &InvalidMountPathError{Path: mountPath}
	}
	if subPath != "" {
		clean := path.Clean(subPath)
		if strings.HasPrefix(clean, "..") || path.IsAbs(clean) {
			return &InvalidMountPathError{Path: subPath}
		}
	}
	return nil
}
