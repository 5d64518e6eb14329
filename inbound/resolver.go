package inbound

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/mapping"
)

// TriggerRequest is one call to an incoming webhook's trigger endpoint.
type TriggerRequest struct {
	CompanyID   string
	Token       string
	HTTPMethod  string
	Body        []byte
	Query       url.Values
	Form        url.Values
	ContentType string
}

type Resolver struct {
	webhooks  core.WebhookStore
	events    core.EventResolver
	recorder  core.DeliveryRecorder
	telemetry core.Telemetry
}

type Option func(*Resolver)

func WithTelemetry(telemetry core.Telemetry) Option {
	return func(r *Resolver) {
		r.telemetry = telemetry
	}
}

func NewResolver(
	webhooks core.WebhookStore,
	events core.EventResolver,
	recorder core.DeliveryRecorder,
	opts ...Option,
) (*Resolver, error) {
	if webhooks == nil {
		return nil, fmt.Errorf("inbound: webhook store is required")
	}
	if events == nil {
		return nil, fmt.Errorf("inbound: event resolver is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("inbound: delivery recorder is required")
	}
	resolver := &Resolver{
		webhooks:  webhooks,
		events:    events,
		recorder:  recorder,
		telemetry: core.NewTelemetry("webhooks.inbound", nil, nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(resolver)
		}
	}
	return resolver, nil
}

// HandleTrigger runs every event the token's webhook subscribes to and
// returns the merged handler results. An unknown token yields an empty map
// and touches nothing. Events the registry cannot resolve are skipped;
// handler errors are logged on the event's row and do not stop the others.
func (r *Resolver) HandleTrigger(ctx context.Context, req TriggerRequest) (out map[string]any, err error) {
	out = map[string]any{}
	if r == nil || r.webhooks == nil || r.events == nil || r.recorder == nil {
		return out, inboundInternal("inbound: resolver is not configured", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return out, nil
	}

	startedAt := time.Now()
	fields := map[string]any{
		"company_id":   req.CompanyID,
		"webhook_type": string(core.WebhookTypeIncoming),
	}
	defer func() {
		r.telemetry.ObserveOperation(ctx, startedAt, "handle_trigger", err, fields)
	}()

	hook, ok, err := r.webhooks.GetByCallback(ctx, req.CompanyID, token, core.WebhookTypeIncoming)
	if err != nil {
		return out, inboundWrapError(err, goerrors.CategoryInternal, "inbound: resolve trigger token", http.StatusInternalServerError, core.WebhookErrorInternal, map[string]any{
			"company_id": req.CompanyID,
		})
	}
	if !ok {
		fields["matched"] = false
		return out, nil
	}
	fields["matched"] = true
	fields["webhook_id"] = hook.ID
	fields["method"] = string(hook.Method)

	mapped := mapping.MapFields(Decode(hook.Method, req), hook.Fields)
	processed := 0
	for _, event := range hook.Events {
		if ctx.Err() != nil {
			r.telemetry.LogWarn(ctx, "trigger stopped before all events ran", map[string]any{
				"webhook_id": hook.ID,
				"error":      ctx.Err().Error(),
			})
			break
		}
		event = strings.TrimSpace(event)
		resolution, resolveErr := r.events.Resolve(ctx, hook.CompanyID, event)
		if resolveErr != nil {
			r.telemetry.LogDebug(ctx, "skipping unresolvable event", map[string]any{
				"webhook_id": hook.ID,
				"event":      event,
				"error":      resolveErr.Error(),
			})
			continue
		}
		result, _ := r.run(ctx, hook, resolution, mapped, "", "")
		for key, value := range result {
			out[key] = value
		}
		processed++
	}
	fields["events"] = processed
	return out, nil
}

// Invoke runs the handler step for a single event. Replays use it with the
// stored, already mapped payload. Unlike HandleTrigger an unresolvable event
// is an error here.
func (r *Resolver) Invoke(ctx context.Context, req core.InvokeRequest) (map[string]any, error) {
	if r == nil || r.webhooks == nil || r.events == nil || r.recorder == nil {
		return nil, inboundInternal("inbound: resolver is not configured", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	webhookID := strings.TrimSpace(req.WebhookID)
	if webhookID == "" {
		return nil, inboundBadInput("inbound: webhook id is required", nil)
	}
	hook, ok, err := r.webhooks.Get(ctx, webhookID)
	if err != nil {
		return nil, fmt.Errorf("inbound: load webhook %s: %w", webhookID, err)
	}
	if !ok || hook.Type != core.WebhookTypeIncoming {
		return nil, core.WebhookNotFoundError(webhookID)
	}
	companyID := strings.TrimSpace(req.CompanyID)
	if companyID == "" {
		companyID = hook.CompanyID
	}
	resolution, err := r.events.Resolve(ctx, companyID, strings.TrimSpace(req.Event))
	if err != nil {
		return nil, err
	}

	payload := make(map[string]any, len(req.Payload))
	for key, value := range req.Payload {
		if key != core.LogIDKey {
			payload[key] = value
		}
	}
	logID := strings.TrimSpace(req.LogID)
	if logID == "" {
		if raw, ok := req.Payload[core.LogIDKey].(string); ok {
			logID = strings.TrimSpace(raw)
		}
	}
	return r.run(ctx, hook, resolution, payload, logID, req.StaffID)
}

// run invokes one resolved handler and records the attempt. A handler error
// takes precedence over a failed log write.
func (r *Resolver) run(
	ctx context.Context,
	hook core.Webhook,
	resolution core.Resolution,
	payload map[string]any,
	logID string,
	staffID string,
) (map[string]any, error) {
	startedAt := time.Now()
	returned, handlerErr := invokeSafely(ctx, resolution.Handler, payload)

	var result map[string]any
	var response any
	status := http.StatusOK
	if handlerErr != nil {
		handlerErr = handlerFailed(handlerErr, resolution.Event, hook.ID)
		status = core.DeliveryFailureStatus
		response = map[string]any{"error": handlerErr.Error()}
		result = map[string]any{}
	} else {
		result = MergeResult(payload, returned)
		response = result
	}
	r.telemetry.ObserveOperation(ctx, startedAt, "invoke_event", handlerErr, map[string]any{
		"event":        resolution.Event,
		"source":       resolution.Source,
		"webhook_id":   hook.ID,
		"webhook_type": string(core.WebhookTypeIncoming),
		"http_status":  status,
	})

	_, recordErr := r.recorder.Record(ctx, core.Attempt{
		LogID:        logID,
		StaffID:      staffID,
		WebhookID:    hook.ID,
		Type:         core.WebhookTypeIncoming,
		Event:        resolution.Event,
		Payload:      payload,
		Response:     response,
		HTTPResponse: status,
	})
	if recordErr != nil {
		r.telemetry.LogError(ctx, "record trigger attempt failed", map[string]any{
			"webhook_id": hook.ID,
			"event":      resolution.Event,
			"error":      recordErr.Error(),
		})
	}
	if handlerErr != nil {
		return result, handlerErr
	}
	return result, recordErr
}

func invokeSafely(ctx context.Context, handler core.Handler, payload map[string]any) (returned any, err error) {
	if handler == nil {
		return nil, fmt.Errorf("inbound: handler is nil")
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("inbound: handler panicked: %v", recovered)
		}
	}()
	return handler.Invoke(ctx, payload)
}

// MergeResult keeps the returned keys that were part of the input, so a
// caller can read back values the handler changed, and puts the whole
// return value under core.ReturnKey unless it is empty.
func MergeResult(input map[string]any, returned any) map[string]any {
	out := map[string]any{}
	if isEmpty(returned) {
		return out
	}
	out[core.ReturnKey] = returned
	if tree, ok := returned.(map[string]any); ok {
		for key, value := range tree {
			if _, exists := input[key]; exists {
				out[key] = value
			}
		}
	}
	return out
}

func isEmpty(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case bool:
		return !typed
	case string:
		return typed == "" || typed == "0"
	case int:
		return typed == 0
	case int64:
		return typed == 0
	case float64:
		return typed == 0
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

var _ core.Invoker = (*Resolver)(nil)
