// Package skill implements the shared skills autonomy agents execute:
// regex code scanning, literal patching, host metrics snapshots, and
// secret detection. Agent types bind capabilities to skills by name;
// the fleet resolves bindings against a Set at construction time so an
// unknown skill fails agent construction, not a run cycle.
package skill

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Skill names registered in the default set.
const (
	NameCodeScan   = "codescan"
	NamePatch      = "patch"
	NameSysMetrics = "sysmetrics"
	NameSecretScan = "secretscan"
)

// Result statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Args carries the inputs a skill run may need. Skills ignore fields
// that don't apply to them.
type Args struct {
	// Roots are the directories to scan or patch.
	Roots []string
	// Patterns are regex patterns for codescan.
	Patterns []string
	// Include and Exclude are filepath globs restricting which files
	// codescan visits. Globs match the path relative to the root or its
	// base name. Empty Include means every file.
	Include []string
	Exclude []string
	// Match and Replace drive the patch skill.
	Match   string
	Replace string
	// DryRun makes patch report without writing.
	DryRun bool
}

// Result is the uniform outcome every skill produces.
type Result struct {
	Skill   string `json:"skill"`
	Status  string `json:"status"`
	Summary string `json:"summary"`
	// Data holds skill-specific payloads: []Finding for codescan,
	// *PatchReport for patch, *MetricsSnapshot for sysmetrics,
	// []LeakFinding for secretscan.
	Data any `json:"data,omitempty"`
}

// Skill is one executable capability implementation.
type Skill interface {
	Name() string
	Run(ctx context.Context, args Args) (*Result, error)
}

// Set is a named collection of skills.
type Set struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

// NewSet creates an empty skill set.
func NewSet() *Set {
	return &Set{skills: make(map[string]Skill)}
}

// Register adds a skill. Duplicate names are rejected.
func (s *Set) Register(sk Skill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.skills[sk.Name()]; exists {
		return fmt.Errorf("duplicate skill %q", sk.Name())
	}
	s.skills[sk.Name()] = sk
	return nil
}

// Get returns the named skill.
func (s *Set) Get(name string) (Skill, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sk, ok := s.skills[name]
	return sk, ok
}

// Names returns the registered skill names, sorted.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.skills))
	for name := range s.skills {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DefaultSet returns the set the fleet runs with.
func DefaultSet() *Set {
	s := NewSet()
	// Registration of the built-ins cannot collide.
	_ = s.Register(NewScanner())
	_ = s.Register(NewPatcher())
	_ = s.Register(NewSysMetrics())
	_ = s.Register(NewSecretScanner())
	return s
}
