package module

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ultaai-agent/internal/ctxlog"
)

// MetadataReader obtains the raw self-description of an executable.
type MetadataReader interface {
	Metadata(ctx context.Context, path string) ([]byte, error)
}

// Registry maps module names to modules. It is filled during startup and
// must not be mutated once dispatching has begun.
type Registry struct {
	modules  map[string]*Module
	rejected []*DiscoveryError
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]*Module)}
}

// Register adds a module. A second module with the same name is refused.
func (r *Registry) Register(m *Module) error {
	if _, exists := r.modules[m.Name]; exists {
		return fmt.Errorf("module '%s' is already registered", m.Name)
	}
	r.modules[m.Name] = m
	return nil
}

// Resolve finds the action for a module/action pair.
func (r *Registry) Resolve(moduleName, actionName string) (*Action, error) {
	m, ok := r.modules[moduleName]
	if !ok {
		return nil, &UnknownActionError{Module: moduleName, Action: actionName}
	}
	a, ok := m.Action(actionName)
	if !ok {
		return nil, &UnknownActionError{Module: moduleName, Action: actionName, ModuleKnown: true}
	}
	return a, nil
}

// Module returns a registered module by name.
func (r *Registry) Module(name string) (*Module, bool) {
	m, ok := r.modules[name]
	return m, ok
}

// Modules returns all registered modules ordered by name.
func (r *Registry) Modules() []*Module {
	out := make([]*Module, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Rejected lists the candidates excluded during the last load.
func (r *Registry) Rejected() []*DiscoveryError {
	return r.rejected
}

// Loader discovers external modules in a directory.
type Loader struct {
	Reader MetadataReader
	// Manifest, when set, restricts discovery to pinned executables.
	Manifest *Manifest
	// Builtins are registered before the scan. Their names are reserved:
	// an executable declaring one of them is rejected.
	Builtins []*Module
}

// NewRegistryWith returns a registry holding the given modules.
func NewRegistryWith(mods ...*Module) (*Registry, error) {
	reg := NewRegistry()
	for _, m := range mods {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// LoadModules scans dir with the given reader and no manifest.
func LoadModules(ctx context.Context, dir string, reader MetadataReader) (*Registry, error) {
	l := &Loader{Reader: reader}
	return l.Load(ctx, dir)
}

// Load scans dir for executables and registers every one whose metadata is
// valid. Only an unreadable directory fails the load; rejected candidates
// are logged and kept in Rejected.
func (l *Loader) Load(ctx context.Context, dir string) (*Registry, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading modules.", "path", dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &DiscoveryError{Path: dir, Err: err}
	}

	reg, err := NewRegistryWith(l.Builtins...)
	if err != nil {
		return nil, err
	}
	builtins := len(reg.modules)
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
			logger.Debug("Skipping non-executable entry.", "path", path)
			continue
		}

		m, err := l.loadOne(ctx, path)
		if err == nil {
			err = reg.Register(m)
		}
		if err != nil {
			derr := &DiscoveryError{Path: path, Err: err}
			reg.rejected = append(reg.rejected, derr)
			logger.Warn("Module rejected.", "path", path, "error", err)
			continue
		}
		logger.Info("Module loaded.", "module", m.Name, "actions", len(m.Actions), "path", path)
	}

	logger.Info("Modules loaded.", "loaded", len(reg.modules)-builtins, "rejected", len(reg.rejected))
	return reg, nil
}

func (l *Loader) loadOne(ctx context.Context, path string) (*Module, error) {
	if l.Manifest != nil {
		if err := l.Manifest.Verify(path); err != nil {
			return nil, err
		}
	}
	raw, err := l.Reader.Metadata(ctx, path)
	if err != nil {
		return nil, err
	}
	return ParseMetadata(raw, path)
}
