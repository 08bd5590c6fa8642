package tenancy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

func intp(v int) *int { return &v }

func TestTenantNamespaceLifecycle(t *testing.T) {
	m := NewManager()
	tenant, err := m.CreateTenant("acme")
	require.NoError(t, err)

	_, err = m.CreateTenant("acme")
	assert.ErrorIs(t, err, ErrTenantNameExists)

	maxGPUs := 4
	ns, err := m.CreateNamespace(tenant.ID, "prod", types.Quota{MaxGPUs: &maxGPUs})
	require.NoError(t, err)

	err = m.DeleteTenant(tenant.ID)
	assert.ErrorIs(t, err, ErrTenantHasNamespaces)

	require.NoError(t, m.RecordWorkloadAdded(ns.ID, types.ResourceAskForAdmission{Workloads: 1, GPUs: 4}))

	err = m.DeleteNamespace(ns.ID)
	assert.ErrorIs(t, err, ErrNamespaceHasWorkloads)

	require.NoError(t, m.RecordWorkloadRemoved(ns.ID, types.ResourceAskForAdmission{Workloads: 1, GPUs: 4}))
	require.NoError(t, m.DeleteNamespace(ns.ID))
	require.NoError(t, m.DeleteTenant(tenant.ID))
}

func TestAdmitWorkloadQuota(t *testing.T) {
	quota := types.Quota{MaxGPUs: intp(4)}
	usage := types.Usage{GPUsInUse: 3}

	err := AdmitWorkload(quota, usage, types.ResourceAskForAdmission{GPUs: 1})
	assert.NoError(t, err)

	err = AdmitWorkload(quota, usage, types.ResourceAskForAdmission{GPUs: 2})
	require.Error(t, err)
	var qe *QuotaExceededError
	assert.ErrorAs(t, err, &qe)
	assert.Equal(t, "max_gpus", qe.Resource)
}

func TestResetBillingPeriod(t *testing.T) {
	m := NewManager()
	tenant, _ := m.CreateTenant("t")
	ns, _ := m.CreateNamespace(tenant.ID, "ns", types.Quota{})
	require.NoError(t, m.RecordWorkloadAdded(ns.ID, types.ResourceAskForAdmission{Workloads: 1, GPUHours: 10}))

	require.NoError(t, m.ResetBillingPeriod(ns.ID))
	got, err := m.GetNamespace(ns.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Usage.GPUHoursUsed)
	assert.Equal(t, 1, got.Usage.ActiveWorkloads)
}
