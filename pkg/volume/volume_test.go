package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

func TestProvisionBindAttachDetachReleaseDelete(t *testing.T) {
	m := NewManager()
	vol, err := m.Provision("vol-1", types.VolumeEmptyDir, 1024, types.AccessReadWriteOnce, nil)
	require.NoError(t, err)
	assert.Equal(t, types.VolumeAvailable, vol.Status)

	claim := &types.Claim{ID: "claim-1", RequestMiB: 512, AccessMode: types.AccessReadWriteOnce}
	require.NoError(t, m.Bind(vol.ID, claim))
	assert.Equal(t, types.VolumeBound, vol.Status)
	assert.NotNil(t, claim.BoundVolume)

	err = m.Bind(vol.ID, claim)
	assert.ErrorIs(t, err, ErrVolumeNotAvailable)

	require.NoError(t, m.Attach(vol.ID, "wl-1"))
	assert.Equal(t, types.VolumeAttached, vol.Status)
	// idempotent re-attach to same workload
	require.NoError(t, m.Attach(vol.ID, "wl-1"))
	err = m.Attach(vol.ID, "wl-2")
	assert.ErrorIs(t, err, ErrVolumeAlreadyAttached)

	err = m.Delete(vol.ID)
	assert.ErrorIs(t, err, ErrVolumeNotDeletable)

	require.NoError(t, m.Detach(vol.ID))
	assert.Equal(t, types.VolumeBound, vol.Status)

	err = m.Release(vol.ID)
	require.NoError(t, err)
	assert.Equal(t, types.VolumeAvailable, vol.Status)

	require.NoError(t, m.Delete(vol.ID))
	_, err = m.GetVolume(vol.ID)
	assert.ErrorIs(t, err, ErrVolumeNotFound)
}

func TestBindIncompatibleRequest(t *testing.T) {
	m := NewManager()
	vol, err := m.Provision("vol-1", types.VolumeEmptyDir, 100, types.AccessReadWriteOnce, nil)
	require.NoError(t, err)

	claim := &types.Claim{ID: "claim-1", RequestMiB: 200, AccessMode: types.AccessReadWriteOnce}
	err = m.Bind(vol.ID, claim)
	assert.ErrorIs(t, err, ErrIncompatibleRequest)
}

func TestResolverExistingVolumeAndClaim(t *testing.T) {
	m := NewManager()
	res := NewResolver(m)

	existing, err := m.Provision("vol-existing", types.VolumeEmptyDir, 1024, types.AccessReadWriteOnce, nil)
	require.NoError(t, err)
	require.NoError(t, m.Bind(existing.ID, &types.Claim{ID: "pre-bound", RequestMiB: 1024, AccessMode: types.AccessReadWriteOnce}))

	boundClaim := &types.Claim{ID: "my-claim", RequestMiB: 512, AccessMode: types.AccessReadWriteOnce}
	boundVol, err := m.Provision("vol-claimed", types.VolumeEmptyDir, 512, types.AccessReadWriteOnce, boundClaim)
	require.NoError(t, err)

	specs := []types.WorkloadVolumeSpec{
		{Name: "a", Kind: types.VolumeKindExisting, ExistingVolumeID: existing.ID},
		{Name: "b", Kind: types.VolumeKindClaim, ClaimName: "my-claim"},
	}
	mounts := []types.ContainerVolumeMount{
		{SpecName: "a", MountPath: "/data"},
		{SpecName: "b", MountPath: "/cache"},
	}

	resolution, err := res.Resolve("wl-1", specs, mounts)
	require.NoError(t, err)
	require.Len(t, resolution.Mounts, 2)
	assert.Empty(t, resolution.Created)
	assert.Equal(t, boundVol.ID, resolution.Mounts[1].VolumeID)
}

func TestResolverEphemeralAndCleanup(t *testing.T) {
	m := NewManager()
	res := NewResolver(m)

	specs := []types.WorkloadVolumeSpec{
		{Name: "scratch", Kind: types.VolumeKindEmptyDir, Capacity: 256, AccessMode: types.AccessReadWriteOnce},
	}
	mounts := []types.ContainerVolumeMount{
		{SpecName: "scratch", MountPath: "/tmp/scratch"},
	}

	resolution, err := res.Resolve("wl-2", specs, mounts)
	require.NoError(t, err)
	require.Len(t, resolution.Created, 1)
	assert.Equal(t, types.VolumeID("wl-2-scratch"), resolution.Created[0])

	vol, err := m.GetVolume(resolution.Created[0])
	require.NoError(t, err)
	assert.Equal(t, types.VolumeAttached, vol.Status)

	res.Cleanup(resolution)
	_, err = m.GetVolume(resolution.Created[0])
	assert.ErrorIs(t, err, ErrVolumeNotFound)
}

func TestResolverDynamicClaimNoMatch(t *testing.T) {
	m := NewManager()
	res := NewResolver(m)

	specs := []types.WorkloadVolumeSpec{
		{Name: "dyn", Kind: types.VolumeKindDynamicClaim, Capacity: 1024, AccessMode: types.AccessReadWriteOnce},
	}
	_, err := res.Resolve("wl-3", specs, nil)
	assert.ErrorIs(t, err, ErrNoMatchingVolume)
}

func TestResolverDynamicClaimMatches(t *testing.T) {
	m := NewManager()
	res := NewResolver(m)
	_, err := m.Provision("vol-pool-1", types.VolumeBlock, 2048, types.AccessReadWriteOnce, nil)
	require.NoError(t, err)

	specs := []types.WorkloadVolumeSpec{
		{Name: "dyn", Kind: types.VolumeKindDynamicClaim, Capacity: 1024, AccessMode: types.AccessReadWriteOnce},
	}
	mounts := []types.ContainerVolumeMount{
		{SpecName: "dyn", MountPath: "/data"},
	}
	resolution, err := res.Resolve("wl-4", specs, mounts)
	require.NoError(t, err)
	require.Len(t, resolution.Mounts, 1)
	assert.Equal(t, types.VolumeID("vol-pool-1"), resolution.Mounts[0].VolumeID)
	assert.Empty(t, resolution.Created)
}

func TestMountPathValidation(t *testing.T) {
	assert.NoError(t, validateMountPath("/data", ""))
	assert.NoError(t, validateMountPath("/data", "sub/dir"))

	err := validateMountPath("relative/path", "")
	var pathErr *InvalidMountPathError
	assert.ErrorAs(t, err, &pathErr)

	err = validateMountPath("/data", "../escape")
	assert.ErrorAs(t, err, &pathErr)
}

func TestResolverUnknownMountReference(t *testing.T) {
	m := NewManager()
	res := NewResolver(m)
	mounts := []types.ContainerVolumeMount{
		{SpecName: "missing", MountPath: "/data"},
	}
	_, err := res.Resolve("wl-5", nil, mounts)
	assert.Error(t, err)
}
