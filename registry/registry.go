package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-webhooks/core"
)

// SourceCore marks observers registered outside any extension.
const SourceCore = "core"

// DiscoveryFailure pairs a handler unit with the error that kept it out of
// the registry.
type DiscoveryFailure struct {
	Handler string
	Source  string
	Err     error
}

type DiscoveryReport struct {
	Tenant   string
	Token    Token
	BuiltAt  time.Time
	Events   []string
	Failures []DiscoveryFailure
}

// Token identifies the registration state a snapshot was built from.
type Token struct {
	Registrations uint64
	Extensions    uint64
}

type Stats struct {
	Builds int64
	Hits   int64
}

type entry struct {
	handler core.Handler
	source  string
}

type snapshot struct {
	token   Token
	events  []string
	entries map[string]entry
	report  DiscoveryReport
}

type Registry struct {
	mu            sync.RWMutex
	core          []Registration
	extensions    map[string]Extension
	registrations atomic.Uint64

	manager *ExtensionManager

	slotsMu sync.Mutex
	slots   map[string]*atomic.Pointer[snapshot]
	buildMu sync.Mutex

	builds atomic.Int64
	hits   atomic.Int64

	telemetry core.Telemetry
	now       func() time.Time
}

type Option func(*Registry)

func WithExtensionManager(manager *ExtensionManager) Option {
	return func(r *Registry) {
		if manager != nil {
			r.manager = manager
		}
	}
}

func WithTelemetry(telemetry core.Telemetry) Option {
	return func(r *Registry) {
		r.telemetry = telemetry
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		extensions: map[string]Extension{},
		manager:    NewExtensionManager(),
		slots:      map[string]*atomic.Pointer[snapshot]{},
		telemetry:  core.NewTelemetry("webhooks.registry", nil, nil, nil),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Registry) Extensions() *ExtensionManager {
	if r == nil {
		return nil
	}
	return r.manager
}

// RegisterCore adds an observer that is available to every tenant.
func (r *Registry) RegisterCore(handler string, loader Loader) error {
	if r == nil {
		return fmt.Errorf("registry: registry is nil")
	}
	if loader == nil {
		return fmt.Errorf("registry: loader is required for %q", handler)
	}
	r.mu.Lock()
	r.core = append(r.core, Registration{Handler: strings.TrimSpace(handler), Load: loader})
	r.mu.Unlock()
	r.registrations.Add(1)
	return nil
}

// RegisterObserver adds a prebuilt core observer.
func (r *Registry) RegisterObserver(observer Observer) error {
	if observer == nil {
		return fmt.Errorf("registry: observer is nil")
	}
	return r.RegisterCore(observer.Name(), Static(observer))
}

func (r *Registry) RegisterExtension(ext Extension) error {
	if r == nil {
		return fmt.Errorf("registry: registry is nil")
	}
	name := strings.TrimSpace(ext.Name)
	if name == "" {
		return fmt.Errorf("registry: extension name is required")
	}
	if strings.EqualFold(name, SourceCore) {
		return fmt.Errorf("registry: extension name %q is reserved", name)
	}
	if len(ext.Observers) == 0 {
		return fmt.Errorf("registry: extension %q has no observers", name)
	}
	for _, registration := range ext.Observers {
		if registration.Load == nil {
			return fmt.Errorf("registry: extension %q has an observer without a loader", name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.extensions[name]; exists {
		return fmt.Errorf("registry: extension %q already registered", name)
	}
	r.extensions[name] = Extension{
		Name:      name,
		Observers: append([]Registration(nil), ext.Observers...),
	}
	r.registrations.Add(1)
	return nil
}

// Install marks a registered extension as installed for tenant.
func (r *Registry) Install(tenant string, extension string) error {
	if r == nil {
		return fmt.Errorf("registry: registry is nil")
	}
	r.mu.RLock()
	_, ok := r.extensions[strings.TrimSpace(extension)]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("registry: extension %q is not registered", extension)
	}
	return r.manager.Install(tenant, extension)
}

func (r *Registry) Uninstall(tenant string, extension string) error {
	if r == nil {
		return fmt.Errorf("registry: registry is nil")
	}
	return r.manager.Uninstall(tenant, extension)
}

func (r *Registry) ListEvents(ctx context.Context, tenant string) ([]string, error) {
	snap, err := r.current(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), snap.events...), nil
}

func (r *Registry) Resolve(ctx context.Context, tenant string, event string) (core.Resolution, error) {
	snap, err := r.current(ctx, tenant)
	if err != nil {
		return core.Resolution{}, err
	}
	event = strings.TrimSpace(event)
	found, ok := snap.entries[event]
	if !ok {
		return core.Resolution{}, core.EventNotFoundError(event)
	}
	return core.Resolution{Event: event, Handler: found.handler, Source: found.source}, nil
}

// Refresh rebuilds the tenant snapshot regardless of its token.
func (r *Registry) Refresh(ctx context.Context, tenant string) (DiscoveryReport, error) {
	if r == nil {
		return DiscoveryReport{}, fmt.Errorf("registry: registry is nil")
	}
	tenant = strings.TrimSpace(tenant)
	r.buildMu.Lock()
	defer r.buildMu.Unlock()
	snap := r.build(ctx, tenant, r.token(tenant))
	r.slot(tenant).Store(snap)
	return snap.report, nil
}

// Report returns the discovery report behind the tenant's current snapshot.
func (r *Registry) Report(ctx context.Context, tenant string) (DiscoveryReport, error) {
	snap, err := r.current(ctx, tenant)
	if err != nil {
		return DiscoveryReport{}, err
	}
	return snap.report, nil
}

func (r *Registry) Stats() Stats {
	if r == nil {
		return Stats{}
	}
	return Stats{Builds: r.builds.Load(), Hits: r.hits.Load()}
}

func (r *Registry) current(ctx context.Context, tenant string) (*snapshot, error) {
	if r == nil {
		return nil, fmt.Errorf("registry: registry is nil")
	}
	tenant = strings.TrimSpace(tenant)
	slot := r.slot(tenant)
	token := r.token(tenant)
	if snap := slot.Load(); snap != nil && snap.token == token {
		r.hits.Add(1)
		return snap, nil
	}

	r.buildMu.Lock()
	defer r.buildMu.Unlock()
	token = r.token(tenant)
	if snap := slot.Load(); snap != nil && snap.token == token {
		r.hits.Add(1)
		return snap, nil
	}
	snap := r.build(ctx, tenant, token)
	slot.Store(snap)
	return snap, nil
}

func (r *Registry) token(tenant string) Token {
	return Token{
		Registrations: r.registrations.Load(),
		Extensions:    r.manager.Generation(tenant),
	}
}

func (r *Registry) slot(tenant string) *atomic.Pointer[snapshot] {
	r.slotsMu.Lock()
	defer r.slotsMu.Unlock()
	slot, ok := r.slots[tenant]
	if !ok {
		slot = &atomic.Pointer[snapshot]{}
		r.slots[tenant] = slot
	}
	return slot
}

type sourcedRegistration struct {
	Registration
	source string
}

func (r *Registry) eligible(tenant string) []sourcedRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]sourcedRegistration, 0, len(r.core))
	for _, registration := range r.core {
		out = append(out, sourcedRegistration{Registration: registration, source: SourceCore})
	}
	for _, name := range r.manager.Installed(tenant) {
		ext, ok := r.extensions[name]
		if !ok {
			continue
		}
		for _, registration := range ext.Observers {
			out = append(out, sourcedRegistration{Registration: registration, source: ext.Name})
		}
	}
	return out
}

// build must run under buildMu. The returned snapshot is never mutated.
func (r *Registry) build(ctx context.Context, tenant string, token Token) *snapshot {
	startedAt := time.Now()
	r.builds.Add(1)

	snap := &snapshot{
		token:   token,
		entries: map[string]entry{},
		report: DiscoveryReport{
			Tenant:  tenant,
			Token:   token,
			BuiltAt: r.now().UTC(),
		},
	}

	for _, registration := range r.eligible(tenant) {
		observer, methods, err := load(ctx, registration.Registration)
		if err != nil {
			snap.report.Failures = append(snap.report.Failures, DiscoveryFailure{
				Handler: registration.Handler,
				Source:  registration.source,
				Err:     err,
			})
			r.telemetry.LogWarn(ctx, "observer discovery failed", map[string]any{
				"tenant":  tenant,
				"handler": registration.Handler,
				"source":  registration.source,
				"error":   err.Error(),
			})
			continue
		}
		handler := HandlerName(observer.Name())
		for _, method := range methods {
			if !isEnumerable(method) {
				continue
			}
			event := core.EventName(handler, method)
			if existing, exists := snap.entries[event]; exists {
				snap.report.Failures = append(snap.report.Failures, DiscoveryFailure{
					Handler: handler,
					Source:  registration.source,
					Err:     fmt.Errorf("registry: event %s already provided by %s", event, existing.source),
				})
				continue
			}
			snap.entries[event] = entry{
				handler: boundHandler{observer: observer, method: strings.TrimSpace(method)},
				source:  registration.source,
			}
		}
	}

	snap.events = make([]string, 0, len(snap.entries))
	for event := range snap.entries {
		snap.events = append(snap.events, event)
	}
	sort.Strings(snap.events)
	snap.report.Events = append([]string(nil), snap.events...)

	r.telemetry.ObserveOperation(ctx, startedAt, "registry_build", nil, map[string]any{
		"tenant":   tenant,
		"events":   len(snap.events),
		"failures": len(snap.report.Failures),
	})
	return snap
}

func load(ctx context.Context, registration Registration) (observer Observer, methods []string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			observer, methods = nil, nil
			err = fmt.Errorf("registry: loader panicked: %v", recovered)
		}
	}()
	if ctx == nil {
		ctx = context.Background()
	}
	observer, err = registration.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	if observer == nil {
		return nil, nil, fmt.Errorf("registry: loader returned no observer")
	}
	if HandlerName(observer.Name()) == "" {
		return nil, nil, fmt.Errorf("registry: observer name is required")
	}
	return observer, observer.Methods(), nil
}

var _ core.EventResolver = (*Registry)(nil)
