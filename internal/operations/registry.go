package operations

import (
	"fmt"
	"sync"

	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// Registry manages registered steps
type Registry struct {
	mu    sync.RWMutex
	steps map[domain.Stage]Step
	order []domain.Stage // registration order
}

// NewRegistry creates an empty step registry
func NewRegistry() *Registry {
	return &Registry{
		steps: make(map[domain.Stage]Step),
	}
}

// Register adds a step to the registry
func (r *Registry) Register(step Step) error {
	if step == nil {
		return fmt.Errorf("cannot register nil step")
	}

	id := step.ID()
	if id == "" {
		return fmt.Errorf("step ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.steps[id]; exists {
		return fmt.Errorf("step with ID %s already registered", id)
	}

	r.steps[id] = step
	r.order = append(r.order, id)
	return nil
}

// Count returns the number of registered steps
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.steps)
}

// GetDependencyOrder returns steps ordered by dependencies. Steps whose
// dependencies are satisfied at the same time keep their registration order.
func (r *Registry) GetDependencyOrder() ([]Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dependents := make(map[domain.Stage][]domain.Stage, len(r.steps))
	inDegree := make(map[domain.Stage]int, len(r.steps))
	for id, step := range r.steps {
		for _, dep := range step.GetDependencies() {
			if _, exists := r.steps[dep]; !exists {
				return nil, fmt.Errorf("step %s depends on non-existent step %s", id, dep)
			}
			dependents[dep] = append(dependents[dep], id)
			inDegree[id]++
		}
	}

	// Kahn's algorithm, scanning in registration order
	ready := make(map[domain.Stage]bool)
	for _, id := range r.order {
		if inDegree[id] == 0 {
			ready[id] = true
		}
	}

	ordered := make([]Step, 0, len(r.steps))
	for len(ready) > 0 {
		var next domain.Stage
		for _, id := range r.order {
			if ready[id] {
				next = id
				break
			}
		}
		delete(ready, next)
		ordered = append(ordered, r.steps[next])
		for _, dependent := range dependents[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready[dependent] = true
			}
		}
	}

	if len(ordered) != len(r.steps) {
		return nil, fmt.Errorf("circular dependency detected among steps")
	}
	return ordered, nil
}
