package webhooks

import (
	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/registry"
	"github.com/goliatone/go-webhooks/transport"
)

type engineBuilder struct {
	runtimeConfig   core.Config
	loggerProvider  core.LoggerProvider
	logger          core.Logger
	metricsRecorder core.MetricsRecorder
	configProvider  core.ConfigProvider
	optionsResolver core.OptionsResolver
	webhookStore    core.WebhookStore
	deliveryLogs    core.DeliveryLogStore
	registry        *registry.Registry
	httpDoer        transport.HTTPDoer
	skipValidation  bool
	hooks           *ExtensionHooks
}

type Option func(*engineBuilder)

func WithLogger(logger core.Logger) Option {
	return func(b *engineBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *engineBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *engineBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(b *engineBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver core.OptionsResolver) Option {
	return func(b *engineBuilder) {
		b.optionsResolver = resolver
	}
}

// WithWebhookStore sets the webhook definition store. Without it the engine
// keeps definitions in memory.
func WithWebhookStore(store core.WebhookStore) Option {
	return func(b *engineBuilder) {
		b.webhookStore = store
	}
}

// WithDeliveryLogStore sets the delivery log store. Without it the engine
// keeps logs in memory.
func WithDeliveryLogStore(store core.DeliveryLogStore) Option {
	return func(b *engineBuilder) {
		b.deliveryLogs = store
	}
}

func WithRegistry(reg *registry.Registry) Option {
	return func(b *engineBuilder) {
		b.registry = reg
	}
}

// WithHTTPDoer replaces the HTTP client outbound deliveries go through.
func WithHTTPDoer(doer transport.HTTPDoer) Option {
	return func(b *engineBuilder) {
		b.httpDoer = doer
	}
}

// WithoutEventValidation lets Dispatch deliver events the registry does not
// list for the tenant. Validation is on by default.
func WithoutEventValidation() Option {
	return func(b *engineBuilder) {
		b.skipValidation = true
	}
}

func WithExtensionHooks(hooks *ExtensionHooks) Option {
	return func(b *engineBuilder) {
		b.hooks = hooks
	}
}
