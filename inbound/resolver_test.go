package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/deliverylog"
	"github.com/goliatone/go-webhooks/registry"
	"github.com/goliatone/go-webhooks/store/memory"
)

type handlerCalls struct {
	payloads map[string][]map[string]any
}

func (c *handlerCalls) record(event string, payload map[string]any) {
	if c.payloads == nil {
		c.payloads = map[string][]map[string]any{}
	}
	c.payloads[event] = append(c.payloads[event], payload)
}

type fixture struct {
	webhooks *memory.WebhookStore
	logs     *memory.DeliveryLogStore
	service  *deliverylog.Service
	registry *registry.Registry
	resolver *Resolver
	calls    *handlerCalls
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	calls := &handlerCalls{}
	reg := registry.New()
	err := reg.RegisterObserver(registry.Observe("LeadObserver", map[string]core.HandlerFunc{
		"create": func(_ context.Context, payload map[string]any) (any, error) {
			calls.record("Lead.create", payload)
			return map[string]any{"contact_email": "normalized@b.com", "lead_id": 77}, nil
		},
		"tag": func(_ context.Context, payload map[string]any) (any, error) {
			calls.record("Lead.tag", payload)
			return map[string]any{"contact_email": "tagged@b.com"}, nil
		},
		"fail": func(_ context.Context, payload map[string]any) (any, error) {
			calls.record("Lead.fail", payload)
			return nil, errors.New("crm unavailable")
		},
		"quiet": func(_ context.Context, payload map[string]any) (any, error) {
			calls.record("Lead.quiet", payload)
			return false, nil
		},
	}))
	if err != nil {
		t.Fatalf("register observer: %v", err)
	}

	webhooks := memory.NewWebhookStore()
	logs := memory.NewDeliveryLogStore(webhooks)
	service := deliverylog.NewService(logs)
	resolver, err := NewResolver(webhooks, reg, service)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	service.Bind(nil, resolver)
	return &fixture{webhooks: webhooks, logs: logs, service: service, registry: reg, resolver: resolver, calls: calls}
}

func (f *fixture) addHook(t *testing.T, hook core.Webhook) core.Webhook {
	t.Helper()
	if hook.CompanyID == "" {
		hook.CompanyID = "acme"
	}
	hook.Type = core.WebhookTypeIncoming
	saved, err := f.webhooks.SaveWebhook(context.Background(), hook)
	if err != nil {
		t.Fatalf("save webhook: %v", err)
	}
	return saved
}

func (f *fixture) logCount(t *testing.T) int {
	t.Helper()
	count, err := f.logs.Count(context.Background(), core.DeliveryLogFilter{})
	if err != nil {
		t.Fatalf("count logs: %v", err)
	}
	return count
}

func TestHandleTrigger_GetWithFieldMap(t *testing.T) {
	f := newFixture(t)
	hook := f.addHook(t, core.Webhook{
		Callback: "new-lead",
		Method:   core.MethodGet,
		Events:   []string{"Lead.create"},
		Fields:   []core.FieldMapping{{Field: "email", Parameter: "contact_email"}},
	})

	out, err := f.resolver.HandleTrigger(context.Background(), TriggerRequest{
		CompanyID:  "acme",
		Token:      "new-lead",
		HTTPMethod: "GET",
		Query:      url.Values{"email": {"a@b.com"}},
	})
	if err != nil {
		t.Fatalf("handle trigger: %v", err)
	}

	received := f.calls.payloads["Lead.create"]
	if len(received) != 1 || received[0]["contact_email"] != "a@b.com" {
		t.Fatalf("expected mapped payload, got %#v", received)
	}
	if _, has := received[0]["email"]; has {
		t.Fatalf("expected source key to be renamed")
	}
	if out["contact_email"] != "normalized@b.com" {
		t.Fatalf("expected echoed input key, got %#v", out)
	}
	if _, has := out["lead_id"]; has {
		t.Fatalf("keys absent from the input must only appear under %s", core.ReturnKey)
	}
	returned, ok := out[core.ReturnKey].(map[string]any)
	if !ok || returned["lead_id"] != 77 {
		t.Fatalf("expected full return value, got %#v", out[core.ReturnKey])
	}

	page, _ := f.logs.List(context.Background(), core.DeliveryLogFilter{WebhookID: hook.ID}, core.PageRequest{})
	if page.Total != 1 {
		t.Fatalf("expected one log row, got %d", page.Total)
	}
	entry := page.Items[0]
	if entry.Type != core.WebhookTypeIncoming || entry.Event != "Lead.create" || entry.HTTPResponse != 200 {
		t.Fatalf("unexpected log row %#v", entry)
	}
	stored, _ := entry.Payload()
	if stored["contact_email"] != "a@b.com" {
		t.Fatalf("expected mapped payload stored, got %#v", stored)
	}
}

func TestHandleTrigger_UnknownTokenDoesNothing(t *testing.T) {
	f := newFixture(t)
	f.addHook(t, core.Webhook{Callback: "known", Method: core.MethodGet, Events: []string{"Lead.create"}})

	out, err := f.resolver.HandleTrigger(context.Background(), TriggerRequest{CompanyID: "acme", Token: "unknown"})
	if err != nil {
		t.Fatalf("handle trigger: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty result, got %#v", out)
	}
	if len(f.calls.payloads) != 0 || f.logCount(t) != 0 {
		t.Fatalf("expected no handler call and no log row")
	}

	out, _ = f.resolver.HandleTrigger(context.Background(), TriggerRequest{CompanyID: "other", Token: "known"})
	if len(out) != 0 || len(f.calls.payloads) != 0 {
		t.Fatalf("tokens are scoped to their company")
	}
}

func TestHandleTrigger_UninstalledExtensionEventsAreSkipped(t *testing.T) {
	f := newFixture(t)
	fooCalls := 0
	err := f.registry.RegisterExtension(registry.Extension{
		Name: "foo_plugin",
		Observers: []registry.Registration{{
			Handler: "Foo",
			Load: registry.Static(registry.Observe("Foo", map[string]core.HandlerFunc{
				"bar": func(context.Context, map[string]any) (any, error) {
					fooCalls++
					return "foo", nil
				},
			})),
		}},
	})
	if err != nil {
		t.Fatalf("register extension: %v", err)
	}
	if err := f.registry.Install("acme", "foo_plugin"); err != nil {
		t.Fatalf("install: %v", err)
	}
	f.addHook(t, core.Webhook{Callback: "mixed", Method: core.MethodPost, Events: []string{"Foo.bar", "Lead.create"}})
	trigger := TriggerRequest{CompanyID: "acme", Token: "mixed", Form: url.Values{"email": {"x@y.z"}}}

	if _, err := f.resolver.HandleTrigger(context.Background(), trigger); err != nil {
		t.Fatalf("handle trigger: %v", err)
	}
	if fooCalls != 1 || f.logCount(t) != 2 {
		t.Fatalf("expected both events to run while installed, foo=%d logs=%d", fooCalls, f.logCount(t))
	}

	if err := f.registry.Uninstall("acme", "foo_plugin"); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	out, err := f.resolver.HandleTrigger(context.Background(), trigger)
	if err != nil {
		t.Fatalf("handle trigger after uninstall: %v", err)
	}
	if fooCalls != 1 {
		t.Fatalf("expected uninstalled handler to be skipped")
	}
	if f.logCount(t) != 3 {
		t.Fatalf("expected only Lead.create to be logged after uninstall, got %d rows", f.logCount(t))
	}
	if out[core.ReturnKey] == nil {
		t.Fatalf("expected remaining event result, got %#v", out)
	}
}

func TestHandleTrigger_HandlerErrorDoesNotStopSiblings(t *testing.T) {
	f := newFixture(t)
	hook := f.addHook(t, core.Webhook{
		Callback: "chain",
		Method:   core.MethodJSON,
		Events:   []string{"Lead.fail", "Lead.create", "Lead.tag", "Lead.quiet"},
	})

	out, err := f.resolver.HandleTrigger(context.Background(), TriggerRequest{
		CompanyID: "acme",
		Token:     "chain",
		Body:      []byte(`{"contact_email":"a@b.com"}`),
	})
	if err != nil {
		t.Fatalf("handle trigger: %v", err)
	}
	for _, event := range []string{"Lead.fail", "Lead.create", "Lead.tag", "Lead.quiet"} {
		if len(f.calls.payloads[event]) != 1 {
			t.Fatalf("expected %s to run once", event)
		}
	}
	if out["contact_email"] != "tagged@b.com" {
		t.Fatalf("expected later event to win on shared keys, got %#v", out["contact_email"])
	}

	failed, _ := f.logs.Count(context.Background(), core.DeliveryLogFilter{WebhookID: hook.ID, HTTPResponse: core.DeliveryFailureStatus})
	succeeded, _ := f.logs.Count(context.Background(), core.DeliveryLogFilter{WebhookID: hook.ID, HTTPResponse: 200})
	if failed != 1 || succeeded != 3 {
		t.Fatalf("expected one failed and three successful rows, got %d/%d", failed, succeeded)
	}

	quiet, _ := f.logs.List(context.Background(), core.DeliveryLogFilter{Event: "Lead.quiet"}, core.PageRequest{})
	if len(quiet.Items) != 1 || quiet.Items[0].Response != "{}" {
		t.Fatalf("expected empty return value to log an empty object, got %#v", quiet.Items)
	}
}

func TestHandleTrigger_JSONFallsBackToForm(t *testing.T) {
	f := newFixture(t)
	f.addHook(t, core.Webhook{Callback: "json", Method: core.MethodPostJSON, Events: []string{"Lead.create"}})

	_, err := f.resolver.HandleTrigger(context.Background(), TriggerRequest{
		CompanyID: "acme",
		Token:     "json",
		Body:      []byte("email=a%40b.com"),
		Form:      url.Values{"email": {"a@b.com"}},
	})
	if err != nil {
		t.Fatalf("handle trigger: %v", err)
	}
	received := f.calls.payloads["Lead.create"]
	if len(received) != 1 || received[0]["email"] != "a@b.com" {
		t.Fatalf("expected form fallback payload, got %#v", received)
	}
}

func TestInvoke_ReplayUpdatesRow(t *testing.T) {
	f := newFixture(t)
	f.addHook(t, core.Webhook{Callback: "replay", Method: core.MethodGet, Events: []string{"Lead.create"}})
	if _, err := f.resolver.HandleTrigger(context.Background(), TriggerRequest{
		CompanyID: "acme",
		Token:     "replay",
		Query:     url.Values{"contact_email": {"first@b.com"}},
	}); err != nil {
		t.Fatalf("handle trigger: %v", err)
	}
	page, _ := f.logs.List(context.Background(), core.DeliveryLogFilter{}, core.PageRequest{})
	original := page.Items[0]

	result, err := f.service.Replay(context.Background(), original.ID, "staff-2")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.Log.ID != original.ID || result.Log.DateLastRetry == nil || !result.Log.DateTriggered.Equal(original.DateTriggered) {
		t.Fatalf("unexpected replayed row %#v", result.Log)
	}
	if result.Returned["contact_email"] != "normalized@b.com" {
		t.Fatalf("expected handler result, got %#v", result.Returned)
	}
	received := f.calls.payloads["Lead.create"]
	if len(received) != 2 {
		t.Fatalf("expected handler to run again")
	}
	if _, has := received[1][core.LogIDKey]; has {
		t.Fatalf("log id must not reach the handler")
	}
	if f.logCount(t) != 1 {
		t.Fatalf("expected replay to update in place")
	}
	decoded := map[string]any{}
	if err := json.Unmarshal([]byte(result.Log.Response), &decoded); err != nil || decoded[core.ReturnKey] == nil {
		t.Fatalf("expected json handler result stored, got %q", result.Log.Response)
	}
}

func TestInvoke_UnresolvableEventFails(t *testing.T) {
	f := newFixture(t)
	hook := f.addHook(t, core.Webhook{Callback: "gone", Method: core.MethodGet, Events: []string{"Lead.create"}})

	_, err := f.resolver.Invoke(context.Background(), core.InvokeRequest{WebhookID: hook.ID, Event: "Gone.away"})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.WebhookErrorEventNotFound {
		t.Fatalf("expected event not found error, got %v", err)
	}
}

func TestNewResolver_RequiresCollaborators(t *testing.T) {
	if _, err := NewResolver(nil, registry.New(), deliverylog.NewService(memory.NewDeliveryLogStore(nil))); err == nil {
		t.Fatalf("expected missing store to fail")
	}
}
