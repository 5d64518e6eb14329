package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-webhooks/bus"
	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/inbound"
	"github.com/goliatone/go-webhooks/registry"
	"github.com/goliatone/go-webhooks/store/memory"
	"github.com/gorilla/mux"
)

type callbackRecorder struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (c *callbackRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body := map[string]any{}
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("decode callback body: %v", err)
		}
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}
}

func (c *callbackRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func newTestEngine(t *testing.T, callback string, opts ...Option) (*Engine, *memory.WebhookStore) {
	t.Helper()
	store := memory.NewWebhookStore(
		core.Webhook{
			ID:        "hook-out",
			CompanyID: "acme",
			Callback:  callback,
			Type:      core.WebhookTypeOutgoing,
			Method:    core.MethodPostJSON,
			Events:    []string{"Invoice.paid"},
			Fields:    []core.FieldMapping{{Field: "invoice.total", Parameter: "amount"}},
		},
		core.Webhook{
			ID:        "hook-in",
			CompanyID: "acme",
			Callback:  "tok-1",
			Type:      core.WebhookTypeIncoming,
			Method:    core.MethodJSON,
			Events:    []string{"Lead.create"},
			Fields:    []core.FieldMapping{{Field: "full_name", Parameter: "name"}},
		},
	)
	hooks := NewExtensionHooks()
	if err := hooks.RegisterObserverPack(ObserverPack{
		Name: "core",
		Observers: []registry.Observer{
			registry.Observe("InvoiceObserver", map[string]core.HandlerFunc{
				"paid": func(context.Context, map[string]any) (any, error) { return nil, nil },
			}),
			registry.Observe("LeadObserver", map[string]core.HandlerFunc{
				"create": func(_ context.Context, payload map[string]any) (any, error) {
					return map[string]any{"name": strings.ToUpper(payload["name"].(string)), "id": "lead-9"}, nil
				},
			}),
		},
	}); err != nil {
		t.Fatalf("register observer pack: %v", err)
	}

	all := append([]Option{
		WithWebhookStore(store),
		WithExtensionHooks(hooks),
		WithMetricsRecorder(core.NewMemoryMetricsRecorder()),
	}, opts...)
	engine, err := New(DefaultConfig(), all...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine, store
}

func TestEngine_DispatchLogsAndReplays(t *testing.T) {
	recorder := &callbackRecorder{}
	server := httptest.NewServer(recorder.handler(t))
	defer server.Close()

	engine, _ := newTestEngine(t, server.URL, WithHTTPDoer(server.Client()))
	ctx := context.Background()

	result, err := engine.Dispatch(ctx, core.DispatchRequest{
		Event:     "Invoice.paid",
		CompanyID: "acme",
		Payload:   map[string]any{"invoice": map[string]any{"total": 42.5}},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(result.Deliveries) != 1 || result.Deliveries[0].HTTPResponse != http.StatusOK {
		t.Fatalf("unexpected dispatch result: %#v", result)
	}
	if recorder.count() != 1 || recorder.bodies[0]["amount"] != 42.5 {
		t.Fatalf("expected mapped callback body, got %#v", recorder.bodies)
	}

	page, err := engine.DeliveryLogs().ListAll(ctx, core.DeliveryLogFilter{WebhookID: "hook-out"}, core.PageRequest{})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("expected one delivery log, got %d", page.Total)
	}
	logID := page.Items[0].ID

	replayed, err := engine.Replay(ctx, logID, "staff-3")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed.Log.ID != logID || replayed.Log.DateLastRetry == nil {
		t.Fatalf("expected replay to update the original log, got %#v", replayed.Log)
	}
	if recorder.count() != 2 {
		t.Fatalf("expected replay to call the callback again, calls=%d", recorder.count())
	}
	if count, _ := engine.DeliveryLogs().CountAll(ctx, core.DeliveryLogFilter{}); count != 1 {
		t.Fatalf("expected replay to reuse the log row, count=%d", count)
	}
}

func TestEngine_DispatchSkipsUnregisteredEvents(t *testing.T) {
	recorder := &callbackRecorder{}
	server := httptest.NewServer(recorder.handler(t))
	defer server.Close()

	engine, store := newTestEngine(t, server.URL, WithHTTPDoer(server.Client()))
	if _, err := store.SaveWebhook(context.Background(), core.Webhook{
		ID:        "hook-ghost",
		CompanyID: "acme",
		Callback:  server.URL,
		Type:      core.WebhookTypeOutgoing,
		Method:    core.MethodPostJSON,
		Events:    []string{"Ghost.walk"},
	}); err != nil {
		t.Fatalf("save webhook: %v", err)
	}

	result, err := engine.Dispatch(context.Background(), core.DispatchRequest{Event: "Ghost.walk", CompanyID: "acme"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(result.Deliveries) != 0 || recorder.count() != 0 {
		t.Fatalf("expected unregistered event to be skipped, got %#v", result)
	}
}

func TestEngine_ValidatesEventsAgainstInstalledExtensions(t *testing.T) {
	recorder := &callbackRecorder{}
	server := httptest.NewServer(recorder.handler(t))
	defer server.Close()

	newEngine := func(opts ...Option) (*Engine, error) {
		hooks := NewExtensionHooks()
		if err := hooks.RegisterExtension(registry.Extension{
			Name: "foo",
			Observers: []registry.Registration{{
				Handler: "BarObserver",
				Load: registry.Static(registry.Observe("BarObserver", map[string]core.HandlerFunc{
					"sync": func(context.Context, map[string]any) (any, error) { return nil, nil },
				})),
			}},
		}); err != nil {
			return nil, err
		}
		store := memory.NewWebhookStore(core.Webhook{
			ID:        "hook-bar",
			CompanyID: "acme",
			Callback:  server.URL,
			Type:      core.WebhookTypeOutgoing,
			Method:    core.MethodPostJSON,
			Events:    []string{"Bar.sync"},
		})
		all := append([]Option{WithWebhookStore(store), WithExtensionHooks(hooks), WithHTTPDoer(server.Client())}, opts...)
		return New(DefaultConfig(), all...)
	}
	ctx := context.Background()
	req := core.DispatchRequest{Event: "Bar.sync", CompanyID: "acme"}

	engine, err := newEngine()
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	result, err := engine.Dispatch(ctx, req)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(result.Deliveries) != 0 || recorder.count() != 0 {
		t.Fatalf("expected event of an uninstalled extension to be skipped, got %#v", result)
	}

	if err := engine.Registry().Install("acme", "foo"); err != nil {
		t.Fatalf("install extension: %v", err)
	}
	result, err = engine.Dispatch(ctx, req)
	if err != nil {
		t.Fatalf("dispatch after install: %v", err)
	}
	if len(result.Deliveries) != 1 || recorder.count() != 1 {
		t.Fatalf("expected delivery once the extension is installed, got %#v", result)
	}

	unchecked, err := newEngine(WithoutEventValidation())
	if err != nil {
		t.Fatalf("new engine without validation: %v", err)
	}
	result, err = unchecked.Dispatch(ctx, req)
	if err != nil {
		t.Fatalf("dispatch without validation: %v", err)
	}
	if len(result.Deliveries) != 1 || recorder.count() != 2 {
		t.Fatalf("expected opt-out to deliver unknown events, got %#v", result)
	}
}

func TestEngine_HandleTriggerMapsAndMerges(t *testing.T) {
	engine, _ := newTestEngine(t, "https://unused.test")
	ctx := context.Background()

	out, err := engine.HandleTrigger(ctx, inbound.TriggerRequest{
		CompanyID:   "acme",
		Token:       "tok-1",
		HTTPMethod:  http.MethodPost,
		Body:        []byte(`{"full_name":"ada"}`),
		ContentType: "application/json",
	})
	if err != nil {
		t.Fatalf("handle trigger: %v", err)
	}
	if out["name"] != "ADA" {
		t.Fatalf("expected returned value to be mapped back onto input keys, got %#v", out)
	}
	if _, ok := out[core.ReturnKey]; !ok {
		t.Fatalf("expected full return value under %q", core.ReturnKey)
	}

	page, err := engine.DeliveryLogs().ListByWebhook(ctx, "hook-in", core.PageRequest{})
	if err != nil {
		t.Fatalf("list incoming logs: %v", err)
	}
	if page.Total != 1 || page.Items[0].Event != "Lead.create" {
		t.Fatalf("expected one incoming log, got %#v", page)
	}

	out, err = engine.HandleTrigger(ctx, inbound.TriggerRequest{CompanyID: "acme", Token: "nope"})
	if err != nil || len(out) != 0 {
		t.Fatalf("expected unknown token to yield empty result, got %#v %v", out, err)
	}
}

func TestEngine_SubscribeDispatchesBusEvents(t *testing.T) {
	recorder := &callbackRecorder{}
	server := httptest.NewServer(recorder.handler(t))
	defer server.Close()

	engine, _ := newTestEngine(t, server.URL, WithHTTPDoer(server.Client()))
	eventBus := bus.NewMemory()
	ctx := context.Background()

	events, err := engine.Subscribe(ctx, eventBus, "acme")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if len(events) != 2 || events[0] != "Invoice.paid" || events[1] != "Lead.create" {
		t.Fatalf("unexpected subscribed events %v", events)
	}
	if err := eventBus.Emit(ctx, "Invoice.paid", map[string]any{"invoice": map[string]any{"total": 10.0}}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if recorder.count() != 1 {
		t.Fatalf("expected bus event to reach callback, calls=%d", recorder.count())
	}

	if _, err := engine.Subscribe(ctx, nil, "acme"); err == nil {
		t.Fatalf("expected nil bus error")
	}
}

func TestEngine_InstallExtensionExtendsBusSubscription(t *testing.T) {
	recorder := &callbackRecorder{}
	server := httptest.NewServer(recorder.handler(t))
	defer server.Close()

	engine, store := newTestEngine(t, server.URL, WithHTTPDoer(server.Client()))
	if err := engine.Registry().RegisterExtension(registry.Extension{
		Name: "foo",
		Observers: []registry.Registration{{
			Handler: "BarObserver",
			Load: registry.Static(registry.Observe("BarObserver", map[string]core.HandlerFunc{
				"sync": func(context.Context, map[string]any) (any, error) { return nil, nil },
			})),
		}},
	}); err != nil {
		t.Fatalf("register extension: %v", err)
	}
	if _, err := store.SaveWebhook(context.Background(), core.Webhook{
		ID:        "hook-bar",
		CompanyID: "acme",
		Callback:  server.URL,
		Type:      core.WebhookTypeOutgoing,
		Method:    core.MethodPostJSON,
		Events:    []string{"Bar.sync"},
	}); err != nil {
		t.Fatalf("save webhook: %v", err)
	}

	eventBus := bus.NewMemory()
	ctx := context.Background()
	if _, err := engine.Subscribe(ctx, eventBus, "acme"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := engine.Subscribe(ctx, eventBus, "acme"); err != nil {
		t.Fatalf("subscribe again: %v", err)
	}
	if err := eventBus.Emit(ctx, "Bar.sync", map[string]any{}); err != nil {
		t.Fatalf("emit before install: %v", err)
	}
	if recorder.count() != 0 {
		t.Fatalf("expected no listener before install, calls=%d", recorder.count())
	}

	if err := engine.InstallExtension(ctx, "acme", "foo"); err != nil {
		t.Fatalf("install extension: %v", err)
	}
	if err := eventBus.Emit(ctx, "Bar.sync", map[string]any{}); err != nil {
		t.Fatalf("emit after install: %v", err)
	}
	if recorder.count() != 1 {
		t.Fatalf("expected installed extension event to reach callback once, calls=%d", recorder.count())
	}

	if err := eventBus.Emit(ctx, "Invoice.paid", map[string]any{"invoice": map[string]any{"total": 1.0}}); err != nil {
		t.Fatalf("emit core event: %v", err)
	}
	if recorder.count() != 2 {
		t.Fatalf("expected repeated Subscribe to keep a single listener, calls=%d", recorder.count())
	}

	if err := engine.InstallExtension(ctx, "acme", "missing"); err == nil {
		t.Fatalf("expected unknown extension error")
	}
}

func TestEngine_PurgeOlderThan(t *testing.T) {
	recorder := &callbackRecorder{}
	server := httptest.NewServer(recorder.handler(t))
	defer server.Close()

	engine, _ := newTestEngine(t, server.URL, WithHTTPDoer(server.Client()))
	ctx := context.Background()
	if _, err := engine.Dispatch(ctx, core.DispatchRequest{Event: "Invoice.paid", CompanyID: "acme"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	deleted, err := engine.PurgeOlderThan(ctx, time.Now().Add(-time.Hour))
	if err != nil || deleted != 0 {
		t.Fatalf("expected recent logs to survive, deleted=%d err=%v", deleted, err)
	}
	deleted, err = engine.PurgeOlderThan(ctx, time.Now().Add(time.Hour))
	if err != nil || deleted != 1 {
		t.Fatalf("expected log to be purged, deleted=%d err=%v", deleted, err)
	}
}

func TestEngine_RegisterRoutes(t *testing.T) {
	engine, _ := newTestEngine(t, "https://unused.test")
	router := mux.NewRouter()
	engine.RegisterRoutes(router, "/admin")

	req := httptest.NewRequest(http.MethodPost, "/acme/webhooks/trigger/tok-1", strings.NewReader(`{"full_name":"grace"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected trigger 200, got %d", rec.Code)
	}
	body := map[string]any{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode trigger response: %v", err)
	}
	if body["name"] != "GRACE" {
		t.Fatalf("unexpected trigger response %#v", body)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/logs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected admin logs 200, got %d", rec.Code)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestTimeoutSeconds = 600
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected invalid timeout to be rejected")
	}
}
