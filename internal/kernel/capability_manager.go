// Package kernel implements the two-stage safety choke point between the
// agent and the hardware abstraction layer: a capability check followed by
// an ordered physical-invariant rule engine.
package kernel

import (
	"sync"

	"mechos/internal/mechtypes"
)

// CapabilityManager tracks which capabilities have been granted to which
// agent ids. Grants are process-lifetime and structural: a grant of
// HardwareInvoke("drive_base") only authorizes that exact capability value.
type CapabilityManager struct {
	mu     sync.RWMutex
	grants map[string]map[mechtypes.Capability]struct{}
}

func NewCapabilityManager() *CapabilityManager {
	return &CapabilityManager{grants: make(map[string]map[mechtypes.Capability]struct{})}
}

func (m *CapabilityManager) Grant(agentID string, cap mechtypes.Capability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.grants[agentID]
	if !ok {
		set = make(map[mechtypes.Capability]struct{})
		m.grants[agentID] = set
	}
	set[cap] = struct{}{}
}

func (m *CapabilityManager) Revoke(agentID string, cap mechtypes.Capability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.grants[agentID]; ok {
		delete(set, cap)
	}
}

// Check reports whether agentID holds cap, returning *mechtypes.MechError
// of kind Unauthorized if not.
func (m *CapabilityManager) Check(agentID string, cap mechtypes.Capability) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if set, ok := m.grants[agentID]; ok {
		if _, granted := set[cap]; granted {
			return nil
		}
	}
	return mechtypes.NewUnauthorized(cap)
}
