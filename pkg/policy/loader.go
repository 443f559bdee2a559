package policy

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed default_policy.yaml
var defaultPolicy []byte

// document is the on-disk form of a policy table. JSON is accepted too since
// it is a subset of YAML.
type document struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

// Parse decodes and validates a policy document.
func Parse(data []byte) (*Table, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("policy: parse document: %w", err)
	}
	if doc.Name == "" {
		doc.Name = "unnamed"
	}
	return NewTable(doc.Name, doc.Version, doc.Rules)
}

// Load reads a policy document from path.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w (from %s)", err, path)
	}
	return t, nil
}

// LoadRegistry loads every document in paths into one registry. Two
// documents with the same version are an error.
func LoadRegistry(paths ...string) (*Registry, error) {
	r, err := NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		t, err := Load(path)
		if err != nil {
			return nil, err
		}
		if err := r.Register(t); err != nil {
			return nil, fmt.Errorf("%w (from %s)", err, path)
		}
	}
	return r, nil
}

// Default returns the built-in escrow policy.
func Default() *Table {
	t, err := Parse(defaultPolicy)
	if err != nil {
		panic(fmt.Sprintf("policy: built-in table is invalid: %v", err))
	}
	return t
}

// Registry keeps every known version of a policy. The newest version is the
// active one; older versions stay resolvable for re-verification.
type Registry struct {
	mu       sync.RWMutex
	versions map[string]*Table
}

// NewRegistry returns a registry seeded with tables.
func NewRegistry(tables ...*Table) (*Registry, error) {
	r := &Registry{versions: make(map[string]*Table)}
	for _, t := range tables {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a new version. Re-registering an existing version is an
// error: a published version is never replaced.
func (r *Registry) Register(t *Table) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.versions[t.Version()]; exists {
		return fmt.Errorf("policy: version %s already registered", t.Version())
	}
	r.versions[t.Version()] = t
	return nil
}

// Get returns a specific version.
func (r *Registry) Get(version string) (*Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.versions[version]
	return t, ok
}

// Latest returns the highest registered version, or nil if empty.
func (r *Registry) Latest() *Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *Table
	for _, t := range r.versions {
		if latest == nil || latest.SemVer().LessThan(t.SemVer()) {
			latest = t
		}
	}
	return latest
}

// Versions lists registered versions in ascending order.
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tables := make([]*Table, 0, len(r.versions))
	for _, t := range r.versions {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool {
		return tables[i].SemVer().LessThan(tables[j].SemVer())
	})
	out := make([]string, len(tables))
	for i, t := range tables {
		out[i] = t.Version()
	}
	return out
}
