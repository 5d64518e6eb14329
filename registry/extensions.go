package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registration is one observer unit. Handler is the expected handler name
// used in discovery reports when loading fails before a name is known.
type Registration struct {
	Handler string
	Load    Loader
}

// Extension groups the observers an optional extension contributes.
type Extension struct {
	Name      string
	Observers []Registration
}

// ExtensionManager tracks installed extensions per tenant. Every change bumps
// the tenant's generation token.
type ExtensionManager struct {
	mu          sync.RWMutex
	installed   map[string]map[string]struct{}
	generations map[string]uint64
}

func NewExtensionManager() *ExtensionManager {
	return &ExtensionManager{
		installed:   map[string]map[string]struct{}{},
		generations: map[string]uint64{},
	}
}

func (m *ExtensionManager) Install(tenant string, name string) error {
	if m == nil {
		return fmt.Errorf("registry: extension manager is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("registry: extension name is required")
	}
	tenant = strings.TrimSpace(tenant)

	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.installed[tenant]
	if !ok {
		set = map[string]struct{}{}
		m.installed[tenant] = set
	}
	if _, exists := set[name]; exists {
		return nil
	}
	set[name] = struct{}{}
	m.generations[tenant]++
	return nil
}

func (m *ExtensionManager) Uninstall(tenant string, name string) error {
	if m == nil {
		return fmt.Errorf("registry: extension manager is nil")
	}
	name = strings.TrimSpace(name)
	tenant = strings.TrimSpace(tenant)

	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.installed[tenant]
	if _, exists := set[name]; !exists {
		return nil
	}
	delete(set, name)
	m.generations[tenant]++
	return nil
}

func (m *ExtensionManager) Installed(tenant string) []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	set := m.installed[strings.TrimSpace(tenant)]
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (m *ExtensionManager) IsInstalled(tenant string, name string) bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.installed[strings.TrimSpace(tenant)][strings.TrimSpace(name)]
	return ok
}

func (m *ExtensionManager) Generation(tenant string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generations[strings.TrimSpace(tenant)]
}
