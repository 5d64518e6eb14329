package outbound

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/mapping"
	"github.com/goliatone/go-webhooks/transport"
)

// Deliverer sends one shaped webhook request.
type Deliverer interface {
	Deliver(ctx context.Context, req transport.Request) (transport.Response, error)
}

type Dispatcher struct {
	webhooks  core.WebhookStore
	deliverer Deliverer
	recorder  core.DeliveryRecorder
	events    core.EventResolver
	telemetry core.Telemetry
}

type Option func(*Dispatcher)

func WithTelemetry(telemetry core.Telemetry) Option {
	return func(d *Dispatcher) {
		d.telemetry = telemetry
	}
}

// WithEventValidation makes Dispatch skip events the registry does not know,
// such as events of an uninstalled extension.
func WithEventValidation(events core.EventResolver) Option {
	return func(d *Dispatcher) {
		d.events = events
	}
}

func NewDispatcher(
	webhooks core.WebhookStore,
	deliverer Deliverer,
	recorder core.DeliveryRecorder,
	opts ...Option,
) (*Dispatcher, error) {
	if webhooks == nil {
		return nil, fmt.Errorf("outbound: webhook store is required")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("outbound: deliverer is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("outbound: delivery recorder is required")
	}
	dispatcher := &Dispatcher{
		webhooks:  webhooks,
		deliverer: deliverer,
		recorder:  recorder,
		telemetry: core.NewTelemetry("webhooks.outbound", nil, nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(dispatcher)
		}
	}
	return dispatcher, nil
}

// Dispatch delivers req.Event to every subscribed outgoing webhook of the
// tenant, in stored order. Remote failures are recorded, never returned; the
// error return is reserved for resolving targets. Targets are isolated from
// each other: a failing one is counted and the loop moves on. Once ctx is
// done the remaining targets are skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, req core.DispatchRequest) (result core.DispatchResult, err error) {
	if d == nil || d.webhooks == nil || d.deliverer == nil || d.recorder == nil {
		return core.DispatchResult{}, fmt.Errorf("outbound: dispatcher is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	event := strings.TrimSpace(req.Event)
	startedAt := time.Now()
	fields := map[string]any{
		"event":        event,
		"webhook_type": string(core.WebhookTypeOutgoing),
		"company_id":   req.CompanyID,
	}
	defer func() {
		fields["deliveries"] = len(result.Deliveries)
		fields["failures"] = result.Failures
		fields["skipped"] = result.Skipped
		d.telemetry.ObserveOperation(ctx, startedAt, "dispatch_event", err, fields)
	}()

	result.Event = event
	if _, _, splitErr := core.SplitEventName(event); splitErr != nil {
		return result, core.WrapWebhookError(splitErr, goerrors.CategoryBadInput, "outbound: invalid event name", core.WebhookErrorBadInput, map[string]any{
			"event": req.Event,
		})
	}
	if d.events != nil && strings.TrimSpace(req.RestrictToWebhookID) == "" {
		if _, resolveErr := d.events.Resolve(ctx, req.CompanyID, event); resolveErr != nil {
			if !isEventNotFound(resolveErr) {
				return result, resolveErr
			}
			fields["unregistered"] = true
			return result, nil
		}
	}

	targets, err := d.targets(ctx, req, event)
	if err != nil {
		return result, err
	}

	logID, payload := splitLogID(req.Payload)
	for idx, hook := range targets {
		if ctx.Err() != nil {
			result.Skipped = len(targets) - idx
			d.telemetry.LogWarn(ctx, "dispatch stopped before all targets were attempted", map[string]any{
				"event":   event,
				"skipped": result.Skipped,
				"error":   ctx.Err().Error(),
			})
			break
		}
		outcome := d.deliver(ctx, hook, event, payload, logID, req.StaffID)
		if outcome.Err != nil {
			result.Failures++
		}
		result.Deliveries = append(result.Deliveries, outcome)
	}
	return result, nil
}

func (d *Dispatcher) targets(ctx context.Context, req core.DispatchRequest, event string) ([]core.Webhook, error) {
	restrictTo := strings.TrimSpace(req.RestrictToWebhookID)
	if restrictTo == "" {
		hooks, err := d.webhooks.ListByType(ctx, core.WebhookTypeOutgoing, req.CompanyID)
		if err != nil {
			return nil, fmt.Errorf("outbound: list outgoing webhooks: %w", err)
		}
		out := make([]core.Webhook, 0, len(hooks))
		for _, hook := range hooks {
			if hook.SubscribesTo(event) {
				out = append(out, hook)
			}
		}
		return out, nil
	}

	hook, ok, err := d.webhooks.Get(ctx, restrictTo)
	if err != nil {
		return nil, fmt.Errorf("outbound: load webhook %s: %w", restrictTo, err)
	}
	if !ok {
		return nil, core.WebhookNotFoundError(restrictTo)
	}
	if hook.Type != core.WebhookTypeOutgoing {
		return nil, nil
	}
	if companyID := strings.TrimSpace(req.CompanyID); companyID != "" && hook.CompanyID != companyID {
		return nil, nil
	}
	if !hook.SubscribesTo(event) {
		return nil, nil
	}
	return []core.Webhook{hook}, nil
}

// deliver performs and records one attempt. The stored payload is the
// unmapped one so a replay maps it again exactly once.
func (d *Dispatcher) deliver(
	ctx context.Context,
	hook core.Webhook,
	event string,
	payload map[string]any,
	logID string,
	staffID string,
) (outcome core.DeliveryOutcome) {
	outcome.WebhookID = hook.ID
	outcome.HTTPResponse = core.DeliveryFailureStatus
	defer func() {
		if recovered := recover(); recovered != nil {
			outcome.Err = core.NewWebhookError(
				fmt.Sprintf("outbound: delivery to webhook %s panicked: %v", hook.ID, recovered),
				goerrors.CategoryInternal,
				core.WebhookErrorInternal,
				map[string]any{"webhook_id": hook.ID, "event": event},
			)
			d.telemetry.LogError(ctx, "webhook delivery panicked", map[string]any{
				"webhook_id": hook.ID,
				"event":      event,
				"panic":      fmt.Sprint(recovered),
			})
		}
	}()

	response, deliverErr := d.deliverer.Deliver(ctx, transport.Request{
		WebhookID: hook.ID,
		Event:     event,
		Method:    hook.Method,
		Callback:  hook.Callback,
		Fields:    mapping.MapFields(payload, hook.Fields),
	})
	body := ""
	status := response.StatusCode
	if deliverErr != nil {
		outcome.Err = deliverErr
		status = core.DeliveryFailureStatus
		d.telemetry.LogWarn(ctx, "webhook delivery failed", map[string]any{
			"webhook_id": hook.ID,
			"event":      event,
			"callback":   hook.Callback,
			"error":      deliverErr.Error(),
		})
	} else {
		body = string(response.Body)
		if response.Truncated {
			d.telemetry.LogWarn(ctx, "webhook response body truncated", map[string]any{
				"webhook_id": hook.ID,
				"event":      event,
				"bytes":      len(response.Body),
			})
		}
	}
	if status == 0 {
		status = core.DeliveryFailureStatus
	}
	outcome.HTTPResponse = status
	d.telemetry.RecordCounter(ctx, "webhooks.delivery.total", 1, map[string]string{
		"event":       event,
		"method":      string(hook.Method),
		"http_status": fmt.Sprint(status),
	})
	d.telemetry.RecordHistogram(ctx, "webhooks.delivery.duration_ms", float64(response.Duration.Milliseconds()), map[string]string{
		"event":  event,
		"method": string(hook.Method),
	})

	entry, recordErr := d.recorder.Record(ctx, core.Attempt{
		LogID:        logID,
		StaffID:      staffID,
		WebhookID:    hook.ID,
		Type:         core.WebhookTypeOutgoing,
		Event:        event,
		Payload:      payload,
		Response:     body,
		HTTPResponse: status,
	})
	if recordErr != nil {
		d.telemetry.LogError(ctx, "record webhook delivery failed", map[string]any{
			"webhook_id": hook.ID,
			"event":      event,
			"error":      recordErr.Error(),
		})
		if outcome.Err == nil {
			outcome.Err = recordErr
		}
		return outcome
	}
	outcome.LogID = entry.ID
	return outcome
}

// splitLogID removes the replay correlation key from payload.
func splitLogID(payload map[string]any) (string, map[string]any) {
	out := make(map[string]any, len(payload))
	logID := ""
	for key, value := range payload {
		if key == core.LogIDKey {
			if text, ok := value.(string); ok {
				logID = strings.TrimSpace(text)
			} else if value != nil {
				logID = strings.TrimSpace(fmt.Sprint(value))
			}
			continue
		}
		out[key] = value
	}
	return logID, out
}

func isEventNotFound(err error) bool {
	var richErr *goerrors.Error
	return goerrors.As(err, &richErr) && richErr.TextCode == core.WebhookErrorEventNotFound
}

var _ core.Dispatcher = (*Dispatcher)(nil)
