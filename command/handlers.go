package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/deliverylog"
	"github.com/goliatone/go-webhooks/registry"
)

type DeliveryLogMutator interface {
	Replay(ctx context.Context, id string, staffID string) (deliverylog.ReplayResult, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type RegistryRefresher interface {
	Refresh(ctx context.Context, tenant string) (registry.DiscoveryReport, error)
}

type DispatchEventCommand struct {
	dispatcher core.Dispatcher
}

func NewDispatchEventCommand(dispatcher core.Dispatcher) *DispatchEventCommand {
	return &DispatchEventCommand{dispatcher: dispatcher}
}

func (c *DispatchEventCommand) Execute(ctx context.Context, msg DispatchEventMessage) error {
	if c == nil || c.dispatcher == nil {
		return commandDependencyError("command: dispatcher is required")
	}
	out, err := c.dispatcher.Dispatch(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ReplayDeliveryLogCommand struct {
	service DeliveryLogMutator
}

func NewReplayDeliveryLogCommand(service DeliveryLogMutator) *ReplayDeliveryLogCommand {
	return &ReplayDeliveryLogCommand{service: service}
}

func (c *ReplayDeliveryLogCommand) Execute(ctx context.Context, msg ReplayDeliveryLogMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: delivery log service is required")
	}
	out, err := c.service.Replay(ctx, msg.LogID, msg.StaffID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type PurgeResult struct {
	Cutoff  time.Time
	Deleted int64
}

type PurgeDeliveryLogsCommand struct {
	service DeliveryLogMutator
	now     func() time.Time
}

func NewPurgeDeliveryLogsCommand(service DeliveryLogMutator) *PurgeDeliveryLogsCommand {
	return &PurgeDeliveryLogsCommand{service: service, now: time.Now}
}

func (c *PurgeDeliveryLogsCommand) Execute(ctx context.Context, msg PurgeDeliveryLogsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: delivery log service is required")
	}
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	cutoff := msg.ResolveCutoff(now())
	deleted, err := c.service.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	storeResult(ctx, PurgeResult{Cutoff: cutoff, Deleted: deleted})
	return nil
}

type RefreshEventRegistryCommand struct {
	registry RegistryRefresher
}

func NewRefreshEventRegistryCommand(refresher RegistryRefresher) *RefreshEventRegistryCommand {
	return &RefreshEventRegistryCommand{registry: refresher}
}

func (c *RefreshEventRegistryCommand) Execute(ctx context.Context, msg RefreshEventRegistryMessage) error {
	if c == nil || c.registry == nil {
		return commandDependencyError("command: event registry is required")
	}
	out, err := c.registry.Refresh(ctx, msg.CompanyID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
