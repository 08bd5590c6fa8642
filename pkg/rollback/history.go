// Package rollback is the rollback engine (C10): a bounded deployment
// history ring, rollback planning and pre-flight validation, a
// strategy-dispatching executor, and a failure analyzer. Grounded on
// original_source's claw-rollback crate (types.rs, executor.rs,
// analysis.rs), restructured into a manager-struct-with-typed-errors idiom.
package rollback

import (
	"errors"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

// ErrInvalidCapacity is returned by NewHistory for a non-positive capacity.
var ErrInvalidCapacity = errors.New("rollback: history capacity must be > 0")

// History is a bounded ring of deployment snapshots, ordered by
// insertion. When full, recording a new snapshot evicts the oldest.
type History struct {
	capacity  int
	snapshots []types.DeploymentSnapshot
}

// NewHistory builds a History with the given capacity.
func NewHistory(capacity int) (*History, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &History{capacity: capacity}, nil
}

// Record appends a snapshot at the tail, evicting the oldest entry if the
// ring is already at capacity.
func (h *History) Record(snap types.DeploymentSnapshot) {
	h.snapshots = append(h.snapshots, snap)
	if len(h.snapshots) > h.capacity {
		h.snapshots = h.snapshots[len(h.snapshots)-h.capacity:]
	}
}

// Current returns the most recently recorded snapshot.
func (h *History) Current() (types.DeploymentSnapshot, bool) {
	if len(h.snapshots) == 0 {
		return types.DeploymentSnapshot{}, false
	}
	return h.snapshots[len(h.snapshots)-1], true
}

// Previous returns the snapshot recorded immediately before id, in
// insertion order.
func (h *History) Previous(id types.DeploymentID) (types.DeploymentSnapshot, bool) {
	for i, s := range h.snapshots {
		if s.ID == id && i > 0 {
			return h.snapshots[i-1], true
		}
	}
	return types.DeploymentSnapshot{}, false
}

// Find scans the history for a snapshot matching id.
func (h *History) Find(id types.DeploymentID) (types.DeploymentSnapshot, bool) {
	for _, s := range h.snapshots {
		if s.ID == id {
			return s, true
		}
	}
	return types.DeploymentSnapshot{}, false
}

// Len returns the number of snapshots currently held.
func (h *History) Len() int { return len(h.snapshots) }
