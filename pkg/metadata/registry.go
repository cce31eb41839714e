package metadata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"sigs.k8s.io/yaml"
)

// Registry looks up entity metadata. An empty version selects the default
// version of the entity.
type Registry interface {
	Entity(ctx context.Context, name, version string) (*Entity, error)
}

// MemoryRegistry is a Registry backed by a map. It is safe for concurrent use.
type MemoryRegistry struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	defaults map[string]string
}

var _ Registry = (*MemoryRegistry)(nil)

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		entities: map[string]*Entity{},
		defaults: map[string]string{},
	}
}

// Add validates and registers e. The first version added for a name becomes
// its default version.
func (r *MemoryRegistry) Add(e *Entity) error {
	if err := e.Init(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[e.Key()] = e
	if _, ok := r.defaults[e.Name]; !ok {
		r.defaults[e.Name] = e.Version
	}
	return nil
}

// SetDefaultVersion selects the version used when none is requested.
func (r *MemoryRegistry) SetDefaultVersion(name, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[name] = version
}

func (r *MemoryRegistry) Entity(_ context.Context, name, version string) (*Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if version == "" {
		version = r.defaults[name]
	}
	e, ok := r.entities[name+":"+version]
	if !ok {
		return nil, fmt.Errorf("%w: %s:%s", ErrUnknownEntity, name, version)
	}
	return e, nil
}

// Names returns the registered entity keys, sorted.
func (r *MemoryRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entities))
	for k := range r.entities {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ParseEntity decodes one entity from YAML or JSON.
func ParseEntity(data []byte) (*Entity, error) {
	var e Entity
	if err := yaml.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	return &e, nil
}

// LoadDir registers every *.yaml, *.yml and *.json file under dir.
func (r *MemoryRegistry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		if err := r.LoadFile(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile registers the entity described in file.
func (r *MemoryRegistry) LoadFile(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	e, err := ParseEntity(data)
	if err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	if err := r.Add(e); err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	return nil
}
