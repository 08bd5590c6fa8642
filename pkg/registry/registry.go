// Package registry is the service registry & load balancer (C7): the
// authoritative directory of services and endpoints, plus endpoint
// selection. Built in a strategy-dispatch-over-a-candidate-list-under-a-
// read-lock style, generalized
// to per-service endpoint pools, keyed the way original_source's
// claw-discovery registry is keyed: (namespace, name) primary, service_id
// secondary.
package registry

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"regexp"
	"sort"
	"sync"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

var (
	ErrServiceExists   = errors.New("registry: service already exists")
	ErrServiceNotFound = errors.New("registry: service not found")
	ErrEndpointNotFound = errors.New("registry: endpoint not found")
	ErrNoHealthyEndpoints = errors.New("registry: no healthy endpoints")
)

// InvalidServiceName reports a service name that fails validation.
type InvalidServiceName struct{ Name string }

func (e *InvalidServiceName) Error() string {
	return fmt.Sprintf("registry: invalid service name %q", e.Name)
}

// InvalidNamespace reports a namespace that fails validation.
type InvalidNamespace struct{ Namespace string }

func (e *InvalidNamespace) Error() string {
	return fmt.Sprintf("registry: invalid namespace %q", e.Namespace)
}

var (
	serviceNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.-]*$`)
	namespaceRe   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]*$`)
)

func validateServiceName(name string) error {
	if len(name) < 1 || len(name) > 253 || !serviceNameRe.MatchString(name) {
		return &InvalidServiceName{Name: name}
	}
	return nil
}

func validateNamespace(ns string) error {
	if len(ns) < 1 || len(ns) > 63 || !namespaceRe.MatchString(ns) {
		return &InvalidNamespace{Namespace: ns}
	}
	return nil
}

type serviceKey struct {
	namespace string
	name      string
}

// Registry is the authoritative directory of services and their endpoints.
type Registry struct {
	mu sync.RWMutex

	services   map[serviceKey]*types.Service
	byID       map[types.ServiceID]serviceKey
	balancers  map[types.ServiceID]*loadBalancer
}

// NewRegistry creates an empty service registry.
func NewRegistry() *Registry {
	return &Registry{
		services:  make(map[serviceKey]*types.Service),
		byID:      make(map[types.ServiceID]serviceKey),
		balancers: make(map[types.ServiceID]*loadBalancer),
	}
}

// Register adds a new service under (namespace, name); fails if the key
// already exists.
func (r *Registry) Register(svc *types.Service) error {
	if err := validateNamespace(svc.Namespace); err != nil {
		return err
	}
	if err := validateServiceName(svc.Name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := serviceKey{svc.Namespace, svc.Name}
	if _, exists := r.services[key]; exists {
		return ErrServiceExists
	}
	r.services[key] = svc
	r.byID[svc.ID] = key
	r.balancers[svc.ID] = newLoadBalancer(svc.Strategy)
	return nil
}

// DeregisterByID removes a service and all its endpoints by ID.
func (r *Registry) DeregisterByID(id types.ServiceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byID[id]
	if !ok {
		return ErrServiceNotFound
	}
	delete(r.services, key)
	delete(r.byID, id)
	delete(r.balancers, id)
	return nil
}

// Deregister removes a service by (namespace, name); equivalent to
// DeregisterByID.
func (r *Registry) Deregister(namespace, name string) error {
	r.mu.Lock()
	key := serviceKey{namespace, name}
	svc, ok := r.services[key]
	if !ok {
		r.mu.Unlock()
		return ErrServiceNotFound
	}
	delete(r.services, key)
	delete(r.byID, svc.ID)
	delete(r.balancers, svc.ID)
	r.mu.Unlock()
	return nil
}

// Get looks up a service by (namespace, name).
func (r *Registry) Get(namespace, name string) (*types.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[serviceKey{namespace, name}]
	if !ok {
		return nil, ErrServiceNotFound
	}
	return svc, nil
}

// AddEndpoint adds an endpoint to a service's load balancer.
func (r *Registry) AddEndpoint(serviceID types.ServiceID, ep *types.Endpoint) error {
	r.mu.RLock()
	lb, ok := r.balancers[serviceID]
	r.mu.RUnlock()
	if !ok {
		return ErrServiceNotFound
	}
	lb.add(ep)
	return nil
}

// RemoveEndpoint removes an endpoint from a service's load balancer.
func (r *Registry) RemoveEndpoint(serviceID types.ServiceID, endpointID types.EndpointID) error {
	r.mu.RLock()
	lb, ok := r.balancers[serviceID]
	r.mu.RUnlock()
	if !ok {
		return ErrServiceNotFound
	}
	return lb.remove(endpointID)
}

// SelectEndpoint picks an endpoint for (namespace, name). If the service has
// session affinity configured and clientIP is non-empty, selection is by
// consistent hash; otherwise the service's configured strategy is used.
func (r *Registry) SelectEndpoint(namespace, name, clientIP string) (*types.Endpoint, error) {
	r.mu.RLock()
	svc, ok := r.services[serviceKey{namespace, name}]
	if !ok {
		r.mu.RUnlock()
		return nil, ErrServiceNotFound
	}
	lb := r.balancers[svc.ID]
	r.mu.RUnlock()

	if svc.SessionAffinity && clientIP != "" {
		return lb.selectByHash(clientIP)
	}
	return lb.selectByStrategy(svc.Strategy)
}

// RecordConnection atomically increments active_connections on an endpoint.
func (r *Registry) RecordConnection(serviceID types.ServiceID, endpointID types.EndpointID) error {
	r.mu.RLock()
	lb, ok := r.balancers[serviceID]
	r.mu.RUnlock()
	if !ok {
		return ErrServiceNotFound
	}
	return lb.adjustConnections(endpointID, 1)
}

// RecordDisconnection atomically decrements active_connections on an endpoint.
func (r *Registry) RecordDisconnection(serviceID types.ServiceID, endpointID types.EndpointID) error {
	r.mu.RLock()
	lb, ok := r.balancers[serviceID]
	r.mu.RUnlock()
	if !ok {
		return ErrServiceNotFound
	}
	return lb.adjustConnections(endpointID, -1)
}

// loadBalancer holds one service's endpoint pool and strategy state, guarded
// by its own fine-grained lock.
type loadBalancer struct {
	mu       sync.Mutex
	strategy types.LBStrategy
	rrIndex  int
	endpoints map[types.EndpointID]*types.Endpoint
	order     []types.EndpointID // insertion order, for round-robin and stable hash ring
}

func newLoadBalancer(strategy types.LBStrategy) *loadBalancer {
	return &loadBalancer{
		strategy:  strategy,
		endpoints: make(map[types.EndpointID]*types.Endpoint),
	}
}

func (lb *loadBalancer) add(ep *types.Endpoint) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if _, exists := lb.endpoints[ep.ID]; !exists {
		lb.order = append(lb.order, ep.ID)
	}
	lb.endpoints[ep.ID] = ep
}

func (lb *loadBalancer) remove(id types.EndpointID) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if _, ok := lb.endpoints[id]; !ok {
		return ErrEndpointNotFound
	}
	delete(lb.endpoints, id)
	for i, epID := range lb.order {
		if epID == id {
			lb.order = append(lb.order[:i], lb.order[i+1:]...)
			break
		}
	}
	return nil
}

func (lb *loadBalancer) healthy() []*types.Endpoint {
	healthy := make([]*types.Endpoint, 0, len(lb.order))
	for _, id := range lb.order {
		if ep := lb.endpoints[id]; ep.Health == types.EndpointHealthy {
			healthy = append(healthy, ep)
		}
	}
	return healthy
}

func (lb *loadBalancer) selectByStrategy(strategy types.LBStrategy) (*types.Endpoint, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	candidates := lb.healthy()
	if len(candidates) == 0 {
		return nil, ErrNoHealthyEndpoints
	}

	switch strategy {
	case types.LBRoundRobin:
		ep := candidates[lb.rrIndex%len(candidates)]
		lb.rrIndex++
		return ep, nil

	case types.LBLeastConnection:
		best := candidates[0]
		for _, ep := range candidates[1:] {
			if ep.ActiveConnections < best.ActiveConnections {
				best = ep
			}
		}
		return best, nil

	case types.LBRandom:
		return candidates[rand.Intn(len(candidates))], nil

	default:
		return candidates[0], nil
	}
}

// selectByHash implements consistent-hash session affinity: hash the client
// IP onto a ring of healthy endpoints sorted by ID, so repeated calls from
// the same client land on the same endpoint as long as the endpoint set is
// unchanged.
func (lb *loadBalancer) selectByHash(clientIP string) (*types.Endpoint, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	candidates := lb.healthy()
	if len(candidates) == 0 {
		return nil, ErrNoHealthyEndpoints
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	h := fnv.New64a()
	_, _ = h.Write([]byte(clientIP))
	idx := int(h.Sum64() % uint64(len(candidates)))
	return candidates[idx], nil
}

func (lb *loadBalancer) adjustConnections(id types.EndpointID, delta int) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	ep, ok := lb.endpoints[id]
	if !ok {
		return ErrEndpointNotFound
	}
	ep.ActiveConnections += delta
	if ep.ActiveConnections < 0 {
		ep.ActiveConnections = 0
	}
	return nil
}

