// Package tenancy is the tenancy manager (C5): tenants, namespaces, and
// quota-based admission. Built in an RWMutex-guarded-maps CRUD style
// (typed not-found/conflict errors) generalized to
// the two-level tenant/namespace hierarchy of original_source's
// claw-tenancy/manager.rs.
package tenancy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/log"
	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

var (
	ErrTenantNotFound      = errors.New("tenancy: tenant not found")
	ErrNamespaceNotFound   = errors.New("tenancy: namespace not found")
	ErrTenantNameExists    = errors.New("tenancy: tenant name already exists")
	ErrNamespaceNameExists = errors.New("tenancy: namespace name already exists in tenant")
	ErrTenantHasNamespaces = errors.New("tenancy: tenant still has namespaces")
	ErrNamespaceHasWorkloads = errors.New("tenancy: namespace still has active workloads")
)

// QuotaExceededError reports which resource blocked an admission decision.
type QuotaExceededError struct {
	Resource  string
	Limit     float64
	Used      float64
	Requested float64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("tenancy: quota exceeded for %s: used=%.2f requested=%.2f limit=%.2f",
		e.Resource, e.Used, e.Requested, e.Limit)
}

// Manager owns the tenant/namespace tables. Tenants and namespaces reference
// each other only by opaque ID: Tenant.Namespaces
// holds namespace IDs, Namespace.TenantID holds its tenant's ID, and this
// Manager owns both tables so neither side needs a back-reference.
type Manager struct {
	mu     sync.RWMutex
	logger zerolog.Logger

	tenants        map[types.TenantID]*types.Tenant
	tenantsByName  map[string]types.TenantID
	namespaces     map[types.NamespaceID]*types.Namespace
	namespaceNames map[types.TenantID]map[string]types.NamespaceID
}

// NewManager creates an empty tenancy manager.
func NewManager() *Manager {
	return &Manager{
		logger:         log.WithComponent("tenancy"),
		tenants:        make(map[types.TenantID]*types.Tenant),
		tenantsByName:  make(map[string]types.TenantID),
		namespaces:     make(map[types.NamespaceID]*types.Namespace),
		namespaceNames: make(map[types.TenantID]map[string]types.NamespaceID),
	}
}

// CreateTenant registers a new tenant with a globally unique name.
func (m *Manager) CreateTenant(name string) (*types.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tenantsByName[name]; exists {
		return nil, ErrTenantNameExists
	}

	tenant := &types.Tenant{
		ID:         types.NewTenantID(),
		Name:       name,
		Namespaces: make(map[types.NamespaceID]struct{}),
		CreatedAt:  time.Now(),
	}
	m.tenants[tenant.ID] = tenant
	m.tenantsByName[name] = tenant.ID
	m.namespaceNames[tenant.ID] = make(map[string]types.NamespaceID)
	return tenant, nil
}

// GetTenant looks up a tenant by ID.
func (m *Manager) GetTenant(id types.TenantID) (*types.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return t, nil
}

// DeleteTenant removes a tenant; refuses if it still owns namespaces.
func (m *Manager) DeleteTenant(id types.TenantID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenant, ok := m.tenants[id]
	if !ok {
		return ErrTenantNotFound
	}
	if len(tenant.Namespaces) > 0 {
		return ErrTenantHasNamespaces
	}
	delete(m.tenants, id)
	delete(m.tenantsByName, tenant.Name)
	delete(m.namespaceNames, id)
	return nil
}

// CreateNamespace adds a namespace to a tenant; the name must be unique
// within that tenant (but may repeat across tenants).
func (m *Manager) CreateNamespace(tenantID types.TenantID, name string, quota types.Quota) (*types.Namespace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenant, ok := m.tenants[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	names := m.namespaceNames[tenantID]
	if _, exists := names[name]; exists {
		return nil, ErrNamespaceNameExists
	}

	ns := &types.Namespace{
		ID:        types.NewNamespaceID(),
		TenantID:  tenantID,
		Name:      name,
		Quota:     quota,
		CreatedAt: time.Now(),
	}
	m.namespaces[ns.ID] = ns
	names[name] = ns.ID
	tenant.Namespaces[ns.ID] = struct{}{}
	return ns, nil
}

// GetNamespace looks up a namespace by ID.
func (m *Manager) GetNamespace(id types.NamespaceID) (*types.Namespace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.namespaces[id]
	if !ok {
		return nil, ErrNamespaceNotFound
	}
	return ns, nil
}

// DeleteNamespace removes a namespace; refuses if it still has active workloads.
func (m *Manager) DeleteNamespace(id types.NamespaceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.namespaces[id]
	if !ok {
		return ErrNamespaceNotFound
	}
	if ns.Usage.ActiveWorkloads > 0 {
		return ErrNamespaceHasWorkloads
	}
	delete(m.namespaces, id)
	delete(m.namespaceNames[ns.TenantID], ns.Name)
	if tenant, ok := m.tenants[ns.TenantID]; ok {
		delete(tenant.Namespaces, id)
	}
	return nil
}

// AdmitWorkload is a pure function of (quota, usage, ask): admit iff for
// every set limit, used + ask <= limit.
func AdmitWorkload(quota types.Quota, usage types.Usage, ask types.ResourceAskForAdmission) error {
	if quota.MaxWorkloads != nil && float64(usage.ActiveWorkloads+ask.Workloads) > float64(*quota.MaxWorkloads) {
		return &QuotaExceededError{"max_workloads", float64(*quota.MaxWorkloads), float64(usage.ActiveWorkloads), float64(ask.Workloads)}
	}
	if quota.MaxGPUs != nil && float64(usage.GPUsInUse+ask.GPUs) > float64(*quota.MaxGPUs) {
		return &QuotaExceededError{"max_gpus", float64(*quota.MaxGPUs), float64(usage.GPUsInUse), float64(ask.GPUs)}
	}
	if quota.MemoryMiB != nil && usage.MemoryMiBUsed+ask.MemoryMiB > *quota.MemoryMiB {
		return &QuotaExceededError{"memory_mib", float64(*quota.MemoryMiB), float64(usage.MemoryMiBUsed), float64(ask.MemoryMiB)}
	}
	if quota.GPUHours != nil && usage.GPUHoursUsed+ask.GPUHours > *quota.GPUHours {
		return &QuotaExceededError{"gpu_hours", *quota.GPUHours, usage.GPUHoursUsed, ask.GPUHours}
	}
	return nil
}

// RecordWorkloadAdded checks quota admission and, if admitted, updates usage
// counters. Callers must pair every call with RecordWorkloadRemoved.
func (m *Manager) RecordWorkloadAdded(id types.NamespaceID, ask types.ResourceAskForAdmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.namespaces[id]
	if !ok {
		return ErrNamespaceNotFound
	}
	if err := AdmitWorkload(ns.Quota, ns.Usage, ask); err != nil {
		return err
	}
	ns.Usage.ActiveWorkloads += ask.Workloads
	ns.Usage.GPUsInUse += ask.GPUs
	ns.Usage.MemoryMiBUsed += ask.MemoryMiB
	ns.Usage.GPUHoursUsed += ask.GPUHours
	return nil
}

// RecordWorkloadRemoved reverses the workload, GPU and memory counters that
// RecordWorkloadAdded raised; GPUHoursUsed is left as is until
// ResetBillingPeriod.
func (m *Manager) RecordWorkloadRemoved(id types.NamespaceID, ask types.ResourceAskForAdmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.namespaces[id]
	if !ok {
		return ErrNamespaceNotFound
	}
	ns.Usage.ActiveWorkloads -= ask.Workloads
	ns.Usage.GPUsInUse -= ask.GPUs
	ns.Usage.MemoryMiBUsed -= ask.MemoryMiB
	if ns.Usage.ActiveWorkloads < 0 {
		ns.Usage.ActiveWorkloads = 0
	}
	if ns.Usage.GPUsInUse < 0 {
		ns.Usage.GPUsInUse = 0
	}
	if ns.Usage.MemoryMiBUsed < 0 {
		ns.Usage.MemoryMiBUsed = 0
	}
	return nil
}

// ResetBillingPeriod zeroes gpu_hours_used without touching active counters.
func (m *Manager) ResetBillingPeriod(id types.NamespaceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.namespaces[id]
	if !ok {
		return ErrNamespaceNotFound
	}
	ns.Usage.GPUHoursUsed = 0
	return nil
}
