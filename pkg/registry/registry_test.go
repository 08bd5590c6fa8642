package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

func newService(strategy types.LBStrategy, affinity bool) *types.Service {
	return &types.Service{
		ID:              "svc-1",
		Namespace:       "default",
		Name:            "api",
		Ports:           []int{8080},
		Strategy:        strategy,
		SessionAffinity: affinity,
	}
}

func TestRegisterValidationAndDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newService(types.LBRoundRobin, false)))

	err := r.Register(newService(types.LBRoundRobin, false))
	assert.ErrorIs(t, err, ErrServiceExists)

	bad := newService(types.LBRoundRobin, false)
	bad.Name = "-bad"
	bad.ID = "svc-2"
	var invName *InvalidServiceName
	assert.ErrorAs(t, r.Register(bad), &invName)

	bad2 := newService(types.LBRoundRobin, false)
	bad2.Namespace = "-bad"
	bad2.ID = "svc-3"
	var invNS *InvalidNamespace
	assert.ErrorAs(t, r.Register(bad2), &invNS)
}

func TestDeregisterEquivalence(t *testing.T) {
	r := NewRegistry()
	svc := newService(types.LBRoundRobin, false)
	require.NoError(t, r.Register(svc))
	require.NoError(t, r.Deregister("default", "api"))
	_, err := r.Get("default", "api")
	assert.ErrorIs(t, err, ErrServiceNotFound)

	svc2 := newService(types.LBRoundRobin, false)
	svc2.ID = "svc-2"
	require.NoError(t, r.Register(svc2))
	require.NoError(t, r.DeregisterByID(svc2.ID))
	_, err = r.Get("default", "api")
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func endpoints(n int) []*types.Endpoint {
	eps := make([]*types.Endpoint, n)
	for i := range eps {
		eps[i] = &types.Endpoint{
			ID:        types.EndpointID(string(rune('a' + i))),
			ServiceID: "svc-1",
			Address:   "10.0.0.1",
			Port:      8080 + i,
			Health:    types.EndpointHealthy,
		}
	}
	return eps
}

func TestRoundRobinCyclesHealthyOnly(t *testing.T) {
	r := NewRegistry()
	svc := newService(types.LBRoundRobin, false)
	require.NoError(t, r.Register(svc))
	eps := endpoints(3)
	for _, ep := range eps {
		require.NoError(t, r.AddEndpoint(svc.ID, ep))
	}
	eps[1].Health = types.EndpointUnhealthy

	seen := make([]types.EndpointID, 0, 4)
	for i := 0; i < 4; i++ {
		ep, err := r.SelectEndpoint("default", "api", "")
		require.NoError(t, err)
		seen = append(seen, ep.ID)
	}
	for _, id := range seen {
		assert.NotEqual(t, eps[1].ID, id)
	}
}

func TestLeastConnections(t *testing.T) {
	r := NewRegistry()
	svc := newService(types.LBLeastConnection, false)
	require.NoError(t, r.Register(svc))
	eps := endpoints(2)
	eps[0].ActiveConnections = 5
	eps[1].ActiveConnections = 1
	for _, ep := range eps {
		require.NoError(t, r.AddEndpoint(svc.ID, ep))
	}

	ep, err := r.SelectEndpoint("default", "api", "")
	require.NoError(t, err)
	assert.Equal(t, eps[1].ID, ep.ID)
}

func TestSessionAffinityStableForSameClient(t *testing.T) {
	r := NewRegistry()
	svc := newService(types.LBRoundRobin, true)
	require.NoError(t, r.Register(svc))
	for _, ep := range endpoints(4) {
		require.NoError(t, r.AddEndpoint(svc.ID, ep))
	}

	first, err := r.SelectEndpoint("default", "api", "203.0.113.7")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.SelectEndpoint("default", "api", "203.0.113.7")
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
	}
}

func TestRecordConnectionAndDisconnection(t *testing.T) {
	r := NewRegistry()
	svc := newService(types.LBRoundRobin, false)
	require.NoError(t, r.Register(svc))
	ep := endpoints(1)[0]
	require.NoError(t, r.AddEndpoint(svc.ID, ep))

	require.NoError(t, r.RecordConnection(svc.ID, ep.ID))
	require.NoError(t, r.RecordConnection(svc.ID, ep.ID))
	assert.Equal(t, 2, ep.ActiveConnections)

	require.NoError(t, r.RecordDisconnection(svc.ID, ep.ID))
	assert.Equal(t, 1, ep.ActiveConnections)

	require.NoError(t, r.RecordDisconnection(svc.ID, ep.ID))
	require.NoError(t, r.RecordDisconnection(svc.ID, ep.ID))
	assert.Equal(t, 0, ep.ActiveConnections)
}

func TestNoHealthyEndpoints(t *testing.T) {
	r := NewRegistry()
	svc := newService(types.LBRoundRobin, false)
	require.NoError(t, r.Register(svc))
	ep := endpoints(1)[0]
	ep.Health = types.EndpointUnhealthy
	require.NoError(t, r.AddEndpoint(svc.ID, ep))

	_, err := r.SelectEndpoint("default", "api", "")
	assert.ErrorIs(t, err, ErrNoHealthyEndpoints)
}

func TestRemoveEndpoint(t *testing.T) {
	r := NewRegistry()
	svc := newService(types.LBRoundRobin, false)
	require.NoError(t, r.Register(svc))
	ep := endpoints(1)[0]
	require.NoError(t, r.AddEndpoint(svc.ID, ep))
	require.NoError(t, r.RemoveEndpoint(svc.ID, ep.ID))

	err := r.RemoveEndpoint(svc.ID, ep.ID)
	assert.ErrorIs(t, err, ErrEndpointNotFound)
}
