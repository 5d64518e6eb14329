package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

// QueueResolverKey names the resolver that mirrors registered webhook
// commands into a go-job queue registry.
const QueueResolverKey = "webhooks.queue"

// ValidateMessageContract checks that msg has a non-empty Type() and passes
// its own Validate(), when it has one.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	_, err := messageType(msg)
	return err
}

func messageType(msg any) (string, error) {
	m, ok := msg.(command.Message)
	if !ok {
		return "", fmt.Errorf("gocommand: message %T must implement Type() string", msg)
	}
	name := strings.TrimSpace(m.Type())
	if name == "" {
		return "", fmt.Errorf("gocommand: message %T has an empty type", msg)
	}
	return name, nil
}

// RegistryAdapter owns the go-command registry webhook handlers are
// registered on.
type RegistryAdapter struct {
	registry *command.Registry
	types    map[string]struct{}
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry, types: map[string]struct{}{}}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

// Types lists the message types registered through the adapter.
func (a *RegistryAdapter) Types() []string {
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a.types))
	for name := range a.types {
		out = append(out, name)
	}
	return out
}

func (a *RegistryAdapter) register(handler any, msgType string) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if _, exists := a.types[msgType]; exists {
		return fmt.Errorf("gocommand: handler for %q already registered", msgType)
	}
	if err := a.registry.RegisterCommand(handler); err != nil {
		return err
	}
	a.types[msgType] = struct{}{}
	return nil
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// MirrorToQueue makes every registered command available to go-job workers
// through queueRegistry once the registry is initialized.
func (a *RegistryAdapter) MirrorToQueue(queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(QueueResolverKey, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// RegisterCommand subscribes cmd on the dispatcher and registers it on the
// adapter's registry. The subscription is released when registration fails.
func RegisterCommand[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	var zero T
	msgType, err := messageType(zero)
	if err != nil {
		return nil, err
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.register(cmd, msgType); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// RegisterQuery is RegisterCommand for queries.
func RegisterQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	var zero T
	msgType, err := messageType(zero)
	if err != nil {
		return nil, err
	}
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := adapter.register(qry, msgType); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}
