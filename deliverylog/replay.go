package deliverylog

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhooks/core"
)

type ReplayResult struct {
	Log      core.DeliveryLog
	Dispatch *core.DispatchResult
	// Returned is the aggregated handler result of an incoming replay.
	Returned map[string]any
}

// Replay re-runs a logged attempt. Outgoing attempts go back through the
// dispatcher restricted to the original webhook, incoming ones through the
// handler invocation step restricted to the original event. Either way the
// resulting attempt updates row id.
func (s *Service) Replay(ctx context.Context, id string, staffID string) (result ReplayResult, err error) {
	if s == nil || s.Store == nil {
		return ReplayResult{}, fmt.Errorf("deliverylog: store is not configured")
	}
	startedAt := time.Now()
	fields := map[string]any{"log_id": strings.TrimSpace(id)}
	defer func() {
		s.Telemetry.ObserveOperation(ctx, startedAt, "replay_delivery_log", err, fields)
	}()

	entry, err := s.Get(ctx, id)
	if err != nil {
		return ReplayResult{}, err
	}
	fields["event"] = entry.Event
	fields["webhook_type"] = string(entry.Type)
	fields["webhook_id"] = entry.WebhookID

	payload, err := entry.Payload()
	if err != nil {
		return ReplayResult{}, core.WrapWebhookError(err, goerrors.CategoryInternal, "deliverylog: stored payload is unreadable", core.WebhookErrorInternal, map[string]any{
			"log_id": entry.ID,
		})
	}
	payload[core.LogIDKey] = entry.ID

	switch entry.Type {
	case core.WebhookTypeIncoming:
		if s.Invoker == nil {
			return ReplayResult{}, fmt.Errorf("deliverylog: invoker is not configured")
		}
		returned, invokeErr := s.Invoker.Invoke(ctx, core.InvokeRequest{
			WebhookID: entry.WebhookID,
			Event:     entry.Event,
			Payload:   payload,
			LogID:     entry.ID,
			StaffID:   staffID,
		})
		if invokeErr != nil {
			return ReplayResult{}, invokeErr
		}
		result.Returned = returned
	default:
		if s.Dispatcher == nil {
			return ReplayResult{}, fmt.Errorf("deliverylog: dispatcher is not configured")
		}
		dispatched, dispatchErr := s.Dispatcher.Dispatch(ctx, core.DispatchRequest{
			Event:               entry.Event,
			Payload:             payload,
			RestrictToWebhookID: entry.WebhookID,
			StaffID:             staffID,
		})
		if dispatchErr != nil {
			return ReplayResult{}, dispatchErr
		}
		if len(dispatched.Deliveries) == 0 {
			return ReplayResult{}, core.NewWebhookError(
				"deliverylog: replay produced no delivery; webhook no longer subscribes to "+entry.Event,
				goerrors.CategoryConflict,
				core.WebhookErrorConflict,
				map[string]any{"log_id": entry.ID, "webhook_id": entry.WebhookID},
			)
		}
		result.Dispatch = &dispatched
	}

	updated, err := s.Get(ctx, entry.ID)
	if err != nil {
		return ReplayResult{}, err
	}
	result.Log = updated
	fields["http_status"] = updated.HTTPResponse
	return result, nil
}
