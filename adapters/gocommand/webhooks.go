package gocommand

import (
	"fmt"

	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	webhookcommand "github.com/goliatone/go-webhooks/command"
	"github.com/goliatone/go-webhooks/core"
	webhookquery "github.com/goliatone/go-webhooks/query"
)

// DeliveryLogService is the delivery log surface the webhook commands and
// queries need.
type DeliveryLogService interface {
	webhookcommand.DeliveryLogMutator
	webhookquery.DeliveryLogReader
}

// WebhookHandlers names the services backing the webhook command and query
// handlers. Nil services skip their handlers.
type WebhookHandlers struct {
	Dispatcher   core.Dispatcher
	DeliveryLogs DeliveryLogService
	Registry     webhookcommand.RegistryRefresher
	Events       webhookquery.EventLister
	RunnerOpts   []runner.Option
}

// Subscriptions groups the dispatcher subscriptions created for one
// registration so they can be released together.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, sub := range s {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

// RegisterWebhookHandlers registers and subscribes every webhook command and
// query backed by a configured service. On failure the subscriptions made so
// far are released.
func RegisterWebhookHandlers(adapter *RegistryAdapter, handlers WebhookHandlers) (Subscriptions, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	subs := Subscriptions{}
	track := func(sub commanddispatcher.Subscription, err error) error {
		if err != nil {
			subs.Unsubscribe()
			return err
		}
		subs = append(subs, sub)
		return nil
	}
	opts := handlers.RunnerOpts

	if handlers.Dispatcher != nil {
		if err := track(RegisterCommand(adapter, webhookcommand.NewDispatchEventCommand(handlers.Dispatcher), opts...)); err != nil {
			return nil, err
		}
	}
	if handlers.DeliveryLogs != nil {
		logs := handlers.DeliveryLogs
		steps := []func() error{
			func() error {
				return track(RegisterCommand(adapter, webhookcommand.NewReplayDeliveryLogCommand(logs), opts...))
			},
			func() error {
				return track(RegisterCommand(adapter, webhookcommand.NewPurgeDeliveryLogsCommand(logs), opts...))
			},
			func() error {
				return track(RegisterQuery(adapter, webhookquery.NewGetDeliveryLogQuery(logs), opts...))
			},
			func() error {
				return track(RegisterQuery(adapter, webhookquery.NewListDeliveryLogsQuery(logs), opts...))
			},
			func() error {
				return track(RegisterQuery(adapter, webhookquery.NewListWebhookDeliveryLogsQuery(logs), opts...))
			},
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return nil, err
			}
		}
	}
	if handlers.Registry != nil {
		if err := track(RegisterCommand(adapter, webhookcommand.NewRefreshEventRegistryCommand(handlers.Registry), opts...)); err != nil {
			return nil, err
		}
	}
	if handlers.Events != nil {
		if err := track(RegisterQuery(adapter, webhookquery.NewListEventsQuery(handlers.Events), opts...)); err != nil {
			return nil, err
		}
	}
	return subs, nil
}
