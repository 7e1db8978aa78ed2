package module

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds the available modules by name.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

func NewRegistry(mods ...Module) *Registry {
	r := &Registry{modules: make(map[string]Module)}
	for _, m := range mods {
		r.Register(m)
	}
	return r
}

// Default returns a registry with the built-in probes.
func Default() *Registry {
	return NewRegistry(NewDNS(nil), NewHTTP(nil))
}

// Register adds m, replacing any module with the same name.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Name()] = m
}

func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// All returns every module sorted by name.
func (r *Registry) All() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Module, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Select resolves a module list such as "all" or "dns,http".
func (r *Registry) Select(spec string) ([]Module, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || strings.EqualFold(spec, "all") {
		return r.All(), nil
	}

	seen := make(map[string]struct{})
	var out []Module
	for _, name := range strings.Split(spec, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		m, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown module %q", name)
		}
		seen[name] = struct{}{}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no modules selected in %q", spec)
	}
	return out, nil
}
