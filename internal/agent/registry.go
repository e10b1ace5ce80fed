package agent

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// TypeSpec is the declarative specification for an agent type. The
// autonomy fleet is constructed entirely from these.
type TypeSpec struct {
	// Type is the registry key, e.g. "BackupRecoveryAgent".
	Type string `json:"type"`
	// ID is the mesh identity agents of this type register under.
	ID          string   `json:"id"`
	Description string   `json:"description"`
	// Capabilities map onto skills via SkillBindings.
	Capabilities []string `json:"capabilities"`
	// SkillBindings maps capability name -> skill name in the skill set.
	SkillBindings map[string]string `json:"skill_bindings"`
	// CycleInterval overrides the fleet default when non-zero.
	CycleInterval time.Duration `json:"cycle_interval,omitempty"`
	Tags          []string      `json:"tags,omitempty"`
}

// TypeRegistry holds agent type specifications with secondary indexes
// for capability and tag lookups.
type TypeRegistry struct {
	mu    sync.RWMutex
	specs map[string]*TypeSpec

	byCapability map[string][]string
	byTag        map[string][]string
}

// NewTypeRegistry creates an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		specs:        make(map[string]*TypeSpec),
		byCapability: make(map[string][]string),
		byTag:        make(map[string][]string),
	}
}

// Register adds a spec. Duplicate types are rejected.
func (r *TypeRegistry) Register(spec TypeSpec) error {
	if spec.Type == "" {
		return fmt.Errorf("spec has empty type")
	}
	if spec.ID == "" {
		return fmt.Errorf("spec %q has empty mesh id", spec.Type)
	}
	for _, cap := range spec.Capabilities {
		if _, ok := spec.SkillBindings[cap]; !ok {
			return fmt.Errorf("spec %q: capability %q has no skill binding", spec.Type, cap)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specs[spec.Type]; exists {
		return fmt.Errorf("duplicate agent type %q", spec.Type)
	}

	stored := spec
	r.specs[spec.Type] = &stored
	for _, cap := range spec.Capabilities {
		r.byCapability[cap] = append(r.byCapability[cap], spec.Type)
	}
	for _, tag := range spec.Tags {
		r.byTag[tag] = append(r.byTag[tag], spec.Type)
	}
	return nil
}

// Get returns the spec for an agent type.
func (r *TypeRegistry) Get(agentType string) (*TypeSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[agentType]
	if !ok {
		return nil, false
	}
	copied := *spec
	return &copied, true
}

// FindByCapability returns the types offering a capability, sorted.
func (r *TypeRegistry) FindByCapability(capability string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedCopy(r.byCapability[capability])
}

// FindByTag returns the types carrying a tag, sorted.
func (r *TypeRegistry) FindByTag(tag string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedCopy(r.byTag[tag])
}

// List returns all specs sorted by type name.
func (r *TypeRegistry) List() []TypeSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TypeSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		out = append(out, *spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Len returns the number of registered types.
func (r *TypeRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
