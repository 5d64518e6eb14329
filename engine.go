package webhooks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-webhooks/adapters/gologger"
	"github.com/goliatone/go-webhooks/bus"
	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/deliverylog"
	"github.com/goliatone/go-webhooks/inbound"
	"github.com/goliatone/go-webhooks/outbound"
	"github.com/goliatone/go-webhooks/registry"
	"github.com/goliatone/go-webhooks/store/memory"
	"github.com/goliatone/go-webhooks/transport"
	"github.com/gorilla/mux"
)

type Config = core.Config

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// Engine wires the event registry, both dispatch flows and the delivery log
// around one pair of stores.
type Engine struct {
	config     core.Config
	webhooks   core.WebhookStore
	registry   *registry.Registry
	logs       *deliverylog.Service
	dispatcher *outbound.Dispatcher
	resolver   *inbound.Resolver
	facade     *Facade
	telemetry  core.Telemetry
	bundles    map[string]any

	subMu         sync.Mutex
	subscriptions map[string]*busSubscription
}

// busSubscription is the set of events one tenant has listeners for.
type busSubscription struct {
	bus    bus.EventBus
	events map[string]struct{}
}

// New resolves configuration (defaults, provider, then cfg as runtime
// overrides) and builds the engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	builder := engineBuilder{runtimeConfig: cfg}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	resolved, err := core.ResolveConfig(context.Background(), builder.configProvider, builder.optionsResolver, builder.runtimeConfig)
	if err != nil {
		return nil, core.MapError(err)
	}

	bridge := gologger.NewBridge(resolved.ServiceName, builder.loggerProvider, builder.logger)
	telemetryFor := func(component string) core.Telemetry {
		return bridge.Telemetry(component, builder.metricsRecorder)
	}

	if builder.webhookStore == nil {
		builder.webhookStore = memory.NewWebhookStore()
	}
	if builder.deliveryLogs == nil {
		builder.deliveryLogs = memory.NewDeliveryLogStore(builder.webhookStore)
	}
	if builder.registry == nil {
		builder.registry = registry.New(registry.WithTelemetry(telemetryFor("registry")))
	}
	if err := builder.hooks.ApplyObserverPacks(builder.registry); err != nil {
		return nil, err
	}

	logs := deliverylog.NewService(builder.deliveryLogs,
		deliverylog.WithPerPage(resolved.LogPageSize),
		deliverylog.WithTelemetry(telemetryFor("deliverylog")),
	)

	clientOpts := []transport.ClientOption{}
	if builder.httpDoer != nil {
		clientOpts = append(clientOpts, transport.WithHTTPDoer(builder.httpDoer))
	}
	dispatcherOpts := []outbound.Option{outbound.WithTelemetry(telemetryFor("outbound"))}
	if !builder.skipValidation {
		dispatcherOpts = append(dispatcherOpts, outbound.WithEventValidation(builder.registry))
	}
	dispatcher, err := outbound.NewDispatcher(
		builder.webhookStore,
		transport.NewClientFromConfig(resolved, clientOpts...),
		logs,
		dispatcherOpts...,
	)
	if err != nil {
		return nil, err
	}

	resolver, err := inbound.NewResolver(
		builder.webhookStore,
		builder.registry,
		logs,
		inbound.WithTelemetry(telemetryFor("inbound")),
	)
	if err != nil {
		return nil, err
	}
	logs.Bind(dispatcher, resolver)

	engine := &Engine{
		config:     resolved,
		webhooks:   builder.webhookStore,
		registry:   builder.registry,
		logs:       logs,
		dispatcher: dispatcher,
		resolver:   resolver,
		telemetry:  telemetryFor(""),
	}
	engine.facade, err = NewFacade(dispatcher, logs,
		WithEventLister(builder.registry),
		WithRegistryRefresher(builder.registry),
	)
	if err != nil {
		return nil, err
	}
	engine.bundles, err = builder.hooks.BuildCommandQueryBundles(engine)
	if err != nil {
		return nil, err
	}
	return engine, nil
}

func (e *Engine) Config() core.Config                { return e.config }
func (e *Engine) Registry() *registry.Registry       { return e.registry }
func (e *Engine) WebhookStore() core.WebhookStore    { return e.webhooks }
func (e *Engine) DeliveryLogs() *deliverylog.Service { return e.logs }
func (e *Engine) Dispatcher() *outbound.Dispatcher   { return e.dispatcher }
func (e *Engine) Resolver() *inbound.Resolver        { return e.resolver }
func (e *Engine) Commands() Commands                 { return e.facade.Commands() }
func (e *Engine) Queries() Queries                   { return e.facade.Queries() }

// Bundle returns the command/query bundle built from the extension hooks
// under name.
func (e *Engine) Bundle(name string) (any, bool) {
	bundle, ok := e.bundles[name]
	return bundle, ok
}

func (e *Engine) ListEvents(ctx context.Context, companyID string) ([]string, error) {
	return e.registry.ListEvents(ctx, companyID)
}

func (e *Engine) Dispatch(ctx context.Context, req core.DispatchRequest) (core.DispatchResult, error) {
	return e.dispatcher.Dispatch(ctx, req)
}

func (e *Engine) HandleTrigger(ctx context.Context, req inbound.TriggerRequest) (map[string]any, error) {
	return e.resolver.HandleTrigger(ctx, req)
}

func (e *Engine) Replay(ctx context.Context, logID string, staffID string) (deliverylog.ReplayResult, error) {
	return e.logs.Replay(ctx, logID, staffID)
}

func (e *Engine) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return e.logs.PurgeOlderThan(ctx, cutoff)
}

// Listen returns the bus listener that dispatches event for companyID.
func (e *Engine) Listen(event string, companyID string) bus.ListenerFunc {
	event = strings.TrimSpace(event)
	return func(ctx context.Context, payload map[string]any) error {
		result, err := e.Dispatch(ctx, core.DispatchRequest{
			Event:     event,
			Payload:   payload,
			CompanyID: companyID,
		})
		if err != nil {
			e.telemetry.LogError(ctx, "bus dispatch failed", map[string]any{
				"event":      event,
				"company_id": companyID,
				"error":      err.Error(),
			})
			return err
		}
		if result.Failures > 0 {
			e.telemetry.LogWarn(ctx, "bus dispatch had failed deliveries", map[string]any{
				"event":      event,
				"company_id": companyID,
				"failures":   result.Failures,
			})
		}
		return nil
	}
}

// Subscribe registers Listen on eventBus for every event the registry knows
// for companyID and returns them. Calling it again only adds listeners for
// events that appeared since; InstallExtension does that automatically.
// Events that disappear keep their listener, and dispatch skips them.
func (e *Engine) Subscribe(ctx context.Context, eventBus bus.EventBus, companyID string) ([]string, error) {
	if eventBus == nil {
		return nil, fmt.Errorf("webhooks: event bus is required")
	}
	companyID = strings.TrimSpace(companyID)

	e.subMu.Lock()
	defer e.subMu.Unlock()
	if e.subscriptions == nil {
		e.subscriptions = map[string]*busSubscription{}
	}
	sub, ok := e.subscriptions[companyID]
	if !ok {
		sub = &busSubscription{bus: eventBus, events: map[string]struct{}{}}
		e.subscriptions[companyID] = sub
	}
	sub.bus = eventBus
	return e.syncLocked(ctx, companyID, sub)
}

// InstallExtension installs extension for companyID and, when that tenant is
// subscribed to a bus, adds listeners for the events it contributes.
func (e *Engine) InstallExtension(ctx context.Context, companyID string, extension string) error {
	if err := e.registry.Install(companyID, extension); err != nil {
		return err
	}
	companyID = strings.TrimSpace(companyID)

	e.subMu.Lock()
	defer e.subMu.Unlock()
	sub, ok := e.subscriptions[companyID]
	if !ok {
		return nil
	}
	_, err := e.syncLocked(ctx, companyID, sub)
	return err
}

func (e *Engine) syncLocked(ctx context.Context, companyID string, sub *busSubscription) ([]string, error) {
	events, err := e.ListEvents(ctx, companyID)
	if err != nil {
		return nil, err
	}
	added := 0
	for _, event := range events {
		if _, exists := sub.events[event]; exists {
			continue
		}
		sub.bus.On(event, e.Listen(event, companyID))
		sub.events[event] = struct{}{}
		added++
	}
	if added > 0 {
		e.telemetry.LogInfo(ctx, "subscribed webhook dispatch to event bus", map[string]any{
			"company_id": companyID,
			"events":     len(events),
			"added":      added,
			"generation": e.registry.Extensions().Generation(companyID),
		})
	}
	return events, nil
}

// RegisterRoutes mounts the trigger endpoint at the configured trigger prefix
// and the delivery log API under adminPrefix.
func (e *Engine) RegisterRoutes(router *mux.Router, adminPrefix string) {
	if router == nil {
		return
	}
	deliverylog.NewHandlers(e.logs).RegisterRoutes(router, adminPrefix)
	inbound.NewHandlers(e.resolver, e.config.MaxTriggerBodyBytes).RegisterRoutes(router, e.config.HTTP.TriggerPrefix)
}
