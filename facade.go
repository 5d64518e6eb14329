package webhooks

import (
	"fmt"

	webhookscommand "github.com/goliatone/go-webhooks/command"
	"github.com/goliatone/go-webhooks/core"
	webhooksquery "github.com/goliatone/go-webhooks/query"
)

type DeliveryLogService interface {
	webhookscommand.DeliveryLogMutator
	webhooksquery.DeliveryLogReader
}

type Commands struct {
	Dispatch *webhookscommand.DispatchEventCommand
	Replay   *webhookscommand.ReplayDeliveryLogCommand
	Purge    *webhookscommand.PurgeDeliveryLogsCommand
	Refresh  *webhookscommand.RefreshEventRegistryCommand
}

type Queries struct {
	GetDeliveryLog          *webhooksquery.GetDeliveryLogQuery
	ListDeliveryLogs        *webhooksquery.ListDeliveryLogsQuery
	ListWebhookDeliveryLogs *webhooksquery.ListWebhookDeliveryLogsQuery
	ListEvents              *webhooksquery.ListEventsQuery
}

type Facade struct {
	dispatcher core.Dispatcher
	logs       DeliveryLogService
	commands   Commands
	queries    Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	events    webhooksquery.EventLister
	refresher webhookscommand.RegistryRefresher
}

func WithEventLister(events webhooksquery.EventLister) FacadeOption {
	return func(options *facadeOptions) {
		options.events = events
	}
}

func WithRegistryRefresher(refresher webhookscommand.RegistryRefresher) FacadeOption {
	return func(options *facadeOptions) {
		options.refresher = refresher
	}
}

// NewFacade builds the command and query handlers over one dispatcher and
// delivery log service. Event listing and registry refresh fall back to the
// dispatcher when it implements them.
func NewFacade(dispatcher core.Dispatcher, logs DeliveryLogService, opts ...FacadeOption) (*Facade, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("webhooks: dispatcher is required")
	}
	if logs == nil {
		return nil, fmt.Errorf("webhooks: delivery log service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if cfg.events == nil {
		if lister, ok := dispatcher.(webhooksquery.EventLister); ok {
			cfg.events = lister
		}
	}
	if cfg.refresher == nil {
		if refresher, ok := dispatcher.(webhookscommand.RegistryRefresher); ok {
			cfg.refresher = refresher
		}
	}

	facade := &Facade{dispatcher: dispatcher, logs: logs}
	facade.commands = Commands{
		Dispatch: webhookscommand.NewDispatchEventCommand(dispatcher),
		Replay:   webhookscommand.NewReplayDeliveryLogCommand(logs),
		Purge:    webhookscommand.NewPurgeDeliveryLogsCommand(logs),
		Refresh:  webhookscommand.NewRefreshEventRegistryCommand(cfg.refresher),
	}
	facade.queries = Queries{
		GetDeliveryLog:          webhooksquery.NewGetDeliveryLogQuery(logs),
		ListDeliveryLogs:        webhooksquery.NewListDeliveryLogsQuery(logs),
		ListWebhookDeliveryLogs: webhooksquery.NewListWebhookDeliveryLogsQuery(logs),
		ListEvents:              webhooksquery.NewListEventsQuery(cfg.events),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) DeliveryLogs() DeliveryLogService {
	if f == nil {
		return nil
	}
	return f.logs
}
