package webhooks

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-webhooks/registry"
)

// ObserverPack groups core observers registered for every company.
type ObserverPack struct {
	Name      string
	Observers []registry.Observer
}

type CommandQueryBundleFactory func(engine *Engine) (any, error)

// ExtensionHooks collects observers, installable extensions and extra
// command/query bundles before an engine is built.
type ExtensionHooks struct {
	mu sync.RWMutex

	observerPacks map[string]ObserverPack
	extensions    map[string]registry.Extension
	bundles       map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		observerPacks: map[string]ObserverPack{},
		extensions:    map[string]registry.Extension{},
		bundles:       map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterObserverPack(pack ObserverPack) error {
	if h == nil {
		return fmt.Errorf("webhooks: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("webhooks: observer pack name is required")
	}
	if len(pack.Observers) == 0 {
		return fmt.Errorf("webhooks: observer pack %q has no observers", name)
	}

	normalized := ObserverPack{
		Name:      name,
		Observers: append([]registry.Observer(nil), pack.Observers...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.observerPacks[name]; exists {
		return fmt.Errorf("webhooks: observer pack %q already registered", name)
	}
	h.observerPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterExtension(ext registry.Extension) error {
	if h == nil {
		return fmt.Errorf("webhooks: extension hooks are nil")
	}
	name := strings.TrimSpace(ext.Name)
	if name == "" {
		return fmt.Errorf("webhooks: extension name is required")
	}
	if len(ext.Observers) == 0 {
		return fmt.Errorf("webhooks: extension %q has no observers", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.extensions[name]; exists {
		return fmt.Errorf("webhooks: extension %q already registered", name)
	}
	h.extensions[name] = registry.Extension{
		Name:      name,
		Observers: append([]registry.Registration(nil), ext.Observers...),
	}
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("webhooks: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("webhooks: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("webhooks: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("webhooks: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyObserverPacks registers every pack observer as a core observer and
// every extension as installable, in name order.
func (h *ExtensionHooks) ApplyObserverPacks(reg *registry.Registry) error {
	if h == nil {
		return nil
	}
	if reg == nil {
		return fmt.Errorf("webhooks: registry is required")
	}

	for _, pack := range h.ObserverPacks() {
		for _, observer := range pack.Observers {
			if observer == nil {
				return fmt.Errorf("webhooks: observer pack %q contains nil observer", pack.Name)
			}
			if err := reg.RegisterObserver(observer); err != nil {
				return err
			}
		}
	}
	for _, ext := range h.Extensions() {
		if err := reg.RegisterExtension(ext); err != nil {
			return err
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildCommandQueryBundles(engine *Engine) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if engine == nil {
		return nil, fmt.Errorf("webhooks: engine is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](engine)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) ObserverPacks() []ObserverPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.observerPacks))
	for name := range h.observerPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ObserverPack, 0, len(names))
	for _, name := range names {
		pack := h.observerPacks[name]
		out = append(out, ObserverPack{
			Name:      pack.Name,
			Observers: append([]registry.Observer(nil), pack.Observers...),
		})
	}
	return out
}

func (h *ExtensionHooks) Extensions() []registry.Extension {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.extensions))
	for name := range h.extensions {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]registry.Extension, 0, len(names))
	for _, name := range names {
		ext := h.extensions[name]
		out = append(out, registry.Extension{
			Name:      ext.Name,
			Observers: append([]registry.Registration(nil), ext.Observers...),
		})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
