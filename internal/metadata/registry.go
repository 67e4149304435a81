package metadata

import (
	"fmt"
	"sort"
	"sync"

	"profile-backend/internal/store"
)

// Registry holds the section catalog and the closed schema whitelist.
// Definitions are replaced wholesale by Load; the whitelist is fixed at
// construction.
type Registry struct {
	mu      sync.RWMutex
	defs    []SectionDefinition
	byID    map[int64]SectionDefinition
	targets map[string]SchemaTarget
}

// NewRegistry builds a registry over DefaultSchemas.
func NewRegistry() *Registry {
	reg, err := NewRegistryWithSchemas(DefaultSchemas())
	if err != nil {
		panic(err)
	}
	return reg
}

// NewRegistryWithSchemas builds a registry over targets. Every table name
// must pass the strict identifier check.
func NewRegistryWithSchemas(targets map[string]SchemaTarget) (*Registry, error) {
	clean := make(map[string]SchemaTarget, len(targets))
	for name, t := range targets {
		if err := store.CheckIdentifier(t.Table, false); err != nil {
			return nil, fmt.Errorf("schema for section %q: %w", name, err)
		}
		clean[NormalizeSectionName(name)] = t
	}
	return &Registry{
		byID:    make(map[int64]SectionDefinition),
		targets: clean,
	}, nil
}

// Load replaces all definitions. Called at startup and on admin reload.
func (r *Registry) Load(defs []SectionDefinition) {
	sorted := make([]SectionDefinition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	byID := make(map[int64]SectionDefinition, len(sorted))
	for i := range sorted {
		if t, ok := r.targets[NormalizeSectionName(sorted[i].Name)]; ok {
			sorted[i].Schema = t.Table
		} else {
			sorted[i].Schema = ""
		}
		byID[sorted[i].ID] = sorted[i]
	}

	r.mu.Lock()
	r.defs = sorted
	r.byID = byID
	r.mu.Unlock()
}

// All returns every definition ordered by id.
func (r *Registry) All() []SectionDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SectionDefinition, len(r.defs))
	copy(out, r.defs)
	return out
}

// ListAvailable returns the definitions a user of userType may add, ordered
// by id. An empty userType returns the whole catalog.
func (r *Registry) ListAvailable(userType string) []SectionDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SectionDefinition, 0, len(r.defs))
	for _, d := range r.defs {
		if userType == "" || d.AppliesTo(userType) {
			out = append(out, d)
		}
	}
	return out
}

// Get returns the definition with the given id.
func (r *Registry) Get(id int64) (SectionDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// ResolveSchemaName maps a section name to its table. Unknown names return
// ("", false); there is no derived fallback.
func (r *Registry) ResolveSchemaName(sectionName string) (string, bool) {
	t, ok := r.Target(sectionName)
	if !ok {
		return "", false
	}
	return t.Table, true
}

// Target returns the whitelist entry for sectionName.
func (r *Registry) Target(sectionName string) (SchemaTarget, bool) {
	t, ok := r.targets[NormalizeSectionName(sectionName)]
	return t, ok
}

// Tables returns the distinct whitelisted tables, sorted.
func (r *Registry) Tables() []string {
	seen := make(map[string]bool, len(r.targets))
	var out []string
	for _, t := range r.targets {
		if !seen[t.Table] {
			seen[t.Table] = true
			out = append(out, t.Table)
		}
	}
	sort.Strings(out)
	return out
}

// Unmapped returns loaded definitions whose name has no whitelist entry.
func (r *Registry) Unmapped() []SectionDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []SectionDefinition
	for _, d := range r.defs {
		if d.Schema == "" {
			out = append(out, d)
		}
	}
	return out
}
