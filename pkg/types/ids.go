// Package types holds the value objects shared across the control plane:
// identifiers, node/workload/tenant/volume/service descriptions, scaling
// policies, alerts, rollback plans and mesh nodes. Nothing in this package
// mutates shared state; every manager keeps its own locked map keyed by
// these IDs.
package types

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// NodeID identifies a node registered with the gateway.
type NodeID string

// WorkloadID identifies a scheduled unit of container execution.
type WorkloadID string

// TenantID identifies a tenant.
type TenantID string

// NamespaceID identifies a namespace owned by a tenant.
type NamespaceID string

// RollbackID identifies a rollback plan.
type RollbackID string

// NewNodeID generates a random 128-bit node identifier.
func NewNodeID() NodeID { return NodeID(uuid.New().String()) }

// NewWorkloadID generates a random 128-bit workload identifier.
func NewWorkloadID() WorkloadID { return WorkloadID(uuid.New().String()) }

// NewTenantID generates a random 128-bit tenant identifier.
func NewTenantID() TenantID { return TenantID(uuid.New().String()) }

// NewNamespaceID generates a random 128-bit namespace identifier.
func NewNamespaceID() NamespaceID { return NamespaceID(uuid.New().String()) }

// NewRollbackID generates a random 128-bit rollback identifier.
func NewRollbackID() RollbackID { return RollbackID(uuid.New().String()) }

// dnsLabel matches the DNS-label style short identifiers used for
// Deployment, Service and Volume: alphanumeric plus hyphen, leading
// character alphanumeric.
var dnsLabel = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]*$`)

// ValidateShortID checks a Deployment/Service/Volume identifier against the
// DNS-label style rule shared by all three: 1-253 chars, leading
// alphanumeric, remaining chars alphanumeric or hyphen.
func ValidateShortID(id string) error {
	if len(id) == 0 || len(id) > 253 {
		return fmt.Errorf("%w: length %d not in [1,253]", ErrInvalidID, len(id))
	}
	if !dnsLabel.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// ErrInvalidID is returned by ValidateShortID for malformed identifiers.
var ErrInvalidID = fmt.Errorf("invalid identifier")

// DeploymentID is a validated short string identifying a deployment.
type DeploymentID string

// ServiceID is a validated short string identifying a service.
type ServiceID string

// VolumeID is a validated short string identifying a volume.
type VolumeID string

// ClaimID is a validated short string identifying a volume claim.
type ClaimID string

// EndpointID identifies a service endpoint.
type EndpointID string
