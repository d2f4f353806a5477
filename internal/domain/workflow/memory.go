package workflow

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"hrpay/internal/domain/apperr"
)

// MemoryStore keeps definitions and instances in process. Instances are
// copied on the way in and out so callers never share slices with it.
type MemoryStore struct {
	mu          sync.Mutex
	definitions []Definition
	instances   map[string]Instance
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{instances: map[string]Instance{}}
}

func instanceKey(entityType EntityType, entityID string) string {
	return string(entityType) + ":" + entityID
}

func (m *MemoryStore) CreateDefinition(_ context.Context, def Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.definitions {
		if existing.EntityType == def.EntityType && existing.PositionCode == def.PositionCode {
			return apperr.Conflict("workflow_exists", fmt.Sprintf("a %s workflow already exists for position %s", def.EntityType, def.PositionCode))
		}
	}
	def.Steps = slices.Clone(def.Steps)
	m.definitions = append(m.definitions, def)
	return nil
}

func (m *MemoryStore) GetDefinition(_ context.Context, id string) (Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, def := range m.definitions {
		if def.ID == id {
			return def, nil
		}
	}
	return Definition{}, apperr.NotFound("workflow_not_found", "approval workflow not found")
}

func (m *MemoryStore) ListDefinitions(_ context.Context, entityType EntityType) ([]Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Definition
	for _, def := range m.definitions {
		if entityType == "" || def.EntityType == entityType {
			out = append(out, def)
		}
	}
	return out, nil
}

func (m *MemoryStore) FindDefinition(_ context.Context, entityType EntityType, positionCode string) (Definition, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, def := range m.definitions {
		if def.EntityType == entityType && def.PositionCode == positionCode {
			return def, true, nil
		}
	}
	return Definition{}, false, nil
}

func (m *MemoryStore) CreateInstance(_ context.Context, inst Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := instanceKey(inst.EntityType, inst.EntityID)
	if _, exists := m.instances[key]; exists {
		return apperr.Conflict("workflow_already_started", fmt.Sprintf("%s %s already has an approval in progress", inst.EntityType, inst.EntityID))
	}
	m.instances[key] = cloneInstance(inst)
	return nil
}

func (m *MemoryStore) GetInstance(_ context.Context, entityType EntityType, entityID string) (Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[instanceKey(entityType, entityID)]
	if !ok {
		return Instance{}, apperr.NotFound("workflow_instance_not_found", "no approval found for this entity")
	}
	return cloneInstance(inst), nil
}

func (m *MemoryStore) SaveInstance(_ context.Context, inst Instance, expectedVersion int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := instanceKey(inst.EntityType, inst.EntityID)
	current, ok := m.instances[key]
	if !ok || current.Version != expectedVersion {
		return false, nil
	}
	m.instances[key] = cloneInstance(inst)
	return true, nil
}

func cloneInstance(inst Instance) Instance {
	inst.Definition.Steps = slices.Clone(inst.Definition.Steps)
	inst.Delegations = slices.Clone(inst.Delegations)
	inst.History = slices.Clone(inst.History)
	return inst
}
