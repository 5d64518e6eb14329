package deliverylog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/store/memory"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

func newTestService(t *testing.T) (*Service, *memory.DeliveryLogStore, *fixedClock) {
	t.Helper()
	clock := &fixedClock{now: time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)}
	store := memory.NewDeliveryLogStore(nil)
	return NewService(store, WithClock(clock.Now), WithPerPage(2)), store, clock
}

func TestRecord_InsertDefaults(t *testing.T) {
	svc, _, clock := newTestService(t)
	entry, err := svc.Record(context.Background(), core.Attempt{
		WebhookID: "w1",
		Event:     "Invoice.create",
		Payload:   map[string]any{"id": 42, core.LogIDKey: "ignored"},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if entry.ID == "" {
		t.Fatalf("expected generated id")
	}
	if entry.HTTPResponse != core.DeliveryFailureStatus {
		t.Fatalf("expected default 500 status, got %d", entry.HTTPResponse)
	}
	if entry.Type != core.WebhookTypeOutgoing {
		t.Fatalf("expected outgoing default type, got %q", entry.Type)
	}
	if entry.Response != "" {
		t.Fatalf("expected empty response, got %q", entry.Response)
	}
	if string(entry.Fields) != `{"id":42}` {
		t.Fatalf("expected json payload without log_id, got %s", entry.Fields)
	}
	if !entry.DateTriggered.Equal(clock.now) || entry.DateLastRetry != nil {
		t.Fatalf("unexpected timestamps %v %v", entry.DateTriggered, entry.DateLastRetry)
	}
}

func TestRecord_EncodesStructuredResponses(t *testing.T) {
	svc, _, _ := newTestService(t)
	entry, err := svc.Record(context.Background(), core.Attempt{
		Type:         core.WebhookTypeIncoming,
		Response:     map[string]any{core.ReturnKey: true},
		HTTPResponse: 200,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if entry.Response != `{"__return__":true}` {
		t.Fatalf("expected json encoded response, got %q", entry.Response)
	}

	entry, _ = svc.Record(context.Background(), core.Attempt{Response: []byte("raw body"), HTTPResponse: 404})
	if entry.Response != "raw body" || entry.HTTPResponse != 404 {
		t.Fatalf("expected raw body kept verbatim, got %#v", entry)
	}
}

func TestRecord_UpdateInPlace(t *testing.T) {
	svc, store, clock := newTestService(t)
	first, err := svc.Record(context.Background(), core.Attempt{
		WebhookID:    "w1",
		Event:        "Invoice.create",
		Payload:      map[string]any{"id": 1},
		HTTPResponse: 503,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	clock.now = clock.now.Add(time.Hour)
	updated, err := svc.Record(context.Background(), core.Attempt{
		LogID:        first.ID,
		StaffID:      "staff-7",
		Payload:      map[string]any{"id": 1},
		Response:     "ok",
		HTTPResponse: 200,
	})
	if err != nil {
		t.Fatalf("record update: %v", err)
	}
	if updated.ID != first.ID {
		t.Fatalf("expected same row id")
	}
	if !updated.DateTriggered.Equal(first.DateTriggered) {
		t.Fatalf("expected date_triggered to be preserved")
	}
	if updated.DateLastRetry == nil || !updated.DateLastRetry.Equal(clock.now) {
		t.Fatalf("expected date_last_retry to be set, got %v", updated.DateLastRetry)
	}
	if updated.HTTPResponse != 200 || updated.Response != "ok" || updated.StaffID != "staff-7" {
		t.Fatalf("unexpected updated row %#v", updated)
	}
	if updated.WebhookID != "w1" || updated.Event != "Invoice.create" {
		t.Fatalf("expected original webhook and event to be kept, got %#v", updated)
	}
	if count, _ := store.Count(context.Background(), core.DeliveryLogFilter{}); count != 1 {
		t.Fatalf("expected a single row, got %d", count)
	}
}

func TestRecord_UpdateUnknownRow(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Record(context.Background(), core.Attempt{LogID: "missing"})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.DeliveryLogErrorNotFound {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func seedLogs(t *testing.T, svc *Service, clock *fixedClock) []core.DeliveryLog {
	t.Helper()
	specs := []struct {
		webhook string
		event   string
		status  int
		offset  time.Duration
	}{
		{"w1", "Invoice.create", 200, 0},
		{"w1", "Invoice.create", 500, 24 * time.Hour},
		{"w2", "Lead.create", 200, 48 * time.Hour},
		{"w1", "Invoice.edit", 404, 72 * time.Hour},
	}
	base := clock.now
	out := make([]core.DeliveryLog, 0, len(specs))
	for _, spec := range specs {
		clock.now = base.Add(spec.offset)
		entry, err := svc.Record(context.Background(), core.Attempt{
			WebhookID:    spec.webhook,
			Event:        spec.event,
			HTTPResponse: spec.status,
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		out = append(out, entry)
	}
	clock.now = base
	return out
}

func TestListByWebhook_PaginatesNewestFirst(t *testing.T) {
	svc, _, clock := newTestService(t)
	seeded := seedLogs(t, svc, clock)

	page, err := svc.ListByWebhook(context.Background(), "w1", core.PageRequest{Page: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 2 || !page.HasNext {
		t.Fatalf("unexpected page %#v", page)
	}
	if page.Items[0].ID != seeded[3].ID || page.Items[1].ID != seeded[1].ID {
		t.Fatalf("expected newest first ordering")
	}

	second, _ := svc.ListByWebhook(context.Background(), "w1", core.PageRequest{Page: 2})
	if len(second.Items) != 1 || second.Items[0].ID != seeded[0].ID || second.HasNext {
		t.Fatalf("unexpected second page %#v", second)
	}

	oldest, _ := svc.ListByWebhook(context.Background(), "w1", core.PageRequest{Page: 1, Order: core.SortOldestFirst})
	if oldest.Items[0].ID != seeded[0].ID {
		t.Fatalf("expected oldest first ordering")
	}

	count, err := svc.CountByWebhook(context.Background(), "w1")
	if err != nil || count != 3 {
		t.Fatalf("expected 3 logs for w1, got %d err=%v", count, err)
	}
	if _, err := svc.ListByWebhook(context.Background(), " ", core.PageRequest{}); err == nil {
		t.Fatalf("expected webhook id validation")
	}
}

func TestListAll_Filters(t *testing.T) {
	svc, _, clock := newTestService(t)
	seedLogs(t, svc, clock)

	count, _ := svc.CountAll(context.Background(), core.DeliveryLogFilter{Event: "Invoice.create"})
	if count != 2 {
		t.Fatalf("expected 2 Invoice.create logs, got %d", count)
	}
	count, _ = svc.CountAll(context.Background(), core.DeliveryLogFilter{HTTPResponse: 200})
	if count != 2 {
		t.Fatalf("expected 2 successful logs, got %d", count)
	}

	day := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)
	count, _ = svc.CountAll(context.Background(), core.DeliveryLogFilter{DateStart: &day, DateEnd: &day})
	if count != 1 {
		t.Fatalf("expected inclusive end-of-day range to match one log, got %d", count)
	}

	start := time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	page, err := svc.ListAll(context.Background(), core.DeliveryLogFilter{WebhookID: "w1", DateStart: &start, DateEnd: &end}, core.PageRequest{PerPage: 10})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("expected 2 w1 logs within range, got %d", page.Total)
	}

	if _, err := svc.ListAll(context.Background(), core.DeliveryLogFilter{DateStart: &end, DateEnd: &start}, core.PageRequest{}); err == nil {
		t.Fatalf("expected inverted range to fail")
	}
}

func TestPurgeOlderThan(t *testing.T) {
	svc, store, clock := newTestService(t)
	seedLogs(t, svc, clock)

	cutoff := clock.now.Add(36 * time.Hour)
	deleted, err := svc.PurgeOlderThan(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 purged rows, got %d", deleted)
	}
	if count, _ := store.Count(context.Background(), core.DeliveryLogFilter{}); count != 2 {
		t.Fatalf("expected 2 remaining rows, got %d", count)
	}
	if _, err := svc.PurgeOlderThan(context.Background(), time.Time{}); err == nil {
		t.Fatalf("expected zero cutoff to fail")
	}
}

type recordingDispatcher struct {
	svc      *Service
	requests []core.DispatchRequest
	deliver  bool
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, req core.DispatchRequest) (core.DispatchResult, error) {
	d.requests = append(d.requests, req)
	if !d.deliver {
		return core.DispatchResult{Event: req.Event}, nil
	}
	logID, _ := req.Payload[core.LogIDKey].(string)
	entry, err := d.svc.Record(ctx, core.Attempt{
		LogID:        logID,
		StaffID:      req.StaffID,
		WebhookID:    req.RestrictToWebhookID,
		Type:         core.WebhookTypeOutgoing,
		Event:        req.Event,
		Payload:      req.Payload,
		Response:     "accepted",
		HTTPResponse: 202,
	})
	if err != nil {
		return core.DispatchResult{}, err
	}
	return core.DispatchResult{
		Event:      req.Event,
		Deliveries: []core.DeliveryOutcome{{WebhookID: req.RestrictToWebhookID, LogID: entry.ID, HTTPResponse: 202}},
	}, nil
}

type recordingInvoker struct {
	svc      *Service
	requests []core.InvokeRequest
}

func (i *recordingInvoker) Invoke(ctx context.Context, req core.InvokeRequest) (map[string]any, error) {
	i.requests = append(i.requests, req)
	result := map[string]any{core.ReturnKey: "done"}
	_, err := i.svc.Record(ctx, core.Attempt{
		LogID:        req.LogID,
		WebhookID:    req.WebhookID,
		Type:         core.WebhookTypeIncoming,
		Event:        req.Event,
		Payload:      req.Payload,
		Response:     result,
		HTTPResponse: 200,
	})
	return result, err
}

func TestReplay_OutgoingUpdatesSameRow(t *testing.T) {
	svc, store, clock := newTestService(t)
	dispatcher := &recordingDispatcher{svc: svc, deliver: true}
	svc.Bind(dispatcher, nil)

	original, _ := svc.Record(context.Background(), core.Attempt{
		WebhookID: "w1",
		Event:     "Invoice.create",
		Payload:   map[string]any{"id": 42.0},
	})
	clock.now = clock.now.Add(2 * time.Hour)

	result, err := svc.Replay(context.Background(), original.ID, "staff-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(dispatcher.requests) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(dispatcher.requests))
	}
	req := dispatcher.requests[0]
	if req.RestrictToWebhookID != "w1" || req.Event != "Invoice.create" || req.StaffID != "staff-1" {
		t.Fatalf("unexpected dispatch request %#v", req)
	}
	if req.Payload[core.LogIDKey] != original.ID || req.Payload["id"] != 42.0 {
		t.Fatalf("expected stored payload plus log id, got %#v", req.Payload)
	}

	if result.Log.ID != original.ID {
		t.Fatalf("expected replay to keep the row id")
	}
	if !result.Log.DateTriggered.Equal(original.DateTriggered) {
		t.Fatalf("expected date_triggered unchanged")
	}
	if result.Log.DateLastRetry == nil || !result.Log.DateLastRetry.Equal(clock.now) {
		t.Fatalf("expected date_last_retry set to replay time")
	}
	if result.Log.HTTPResponse != 202 || result.Log.Response != "accepted" {
		t.Fatalf("expected replay outcome to overwrite response, got %#v", result.Log)
	}
	stored := map[string]any{}
	_ = json.Unmarshal(result.Log.Fields, &stored)
	if _, has := stored[core.LogIDKey]; has {
		t.Fatalf("log id must not be persisted in fields")
	}
	if count, _ := store.Count(context.Background(), core.DeliveryLogFilter{}); count != 1 {
		t.Fatalf("expected replay to create no new row, got %d", count)
	}
}

func TestReplay_IncomingUsesInvoker(t *testing.T) {
	svc, _, _ := newTestService(t)
	invoker := &recordingInvoker{svc: svc}
	svc.Bind(nil, invoker)

	original, _ := svc.Record(context.Background(), core.Attempt{
		WebhookID: "w2",
		Type:      core.WebhookTypeIncoming,
		Event:     "Lead.create",
		Payload:   map[string]any{"contact_email": "a@b.com"},
	})

	result, err := svc.Replay(context.Background(), original.ID, "")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(invoker.requests) != 1 || invoker.requests[0].Event != "Lead.create" || invoker.requests[0].LogID != original.ID {
		t.Fatalf("unexpected invoke requests %#v", invoker.requests)
	}
	if result.Returned[core.ReturnKey] != "done" {
		t.Fatalf("expected handler result, got %#v", result.Returned)
	}
	if result.Log.Response != `{"__return__":"done"}` || result.Log.HTTPResponse != 200 {
		t.Fatalf("unexpected replayed row %#v", result.Log)
	}
}

func TestReplay_NoDeliveryIsConflict(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.Bind(&recordingDispatcher{svc: svc}, nil)
	original, _ := svc.Record(context.Background(), core.Attempt{WebhookID: "w1", Event: "Invoice.create"})

	_, err := svc.Replay(context.Background(), original.ID, "")
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryConflict {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestReplay_UnknownLog(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Replay(context.Background(), "missing", "")
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.DeliveryLogErrorNotFound {
		t.Fatalf("expected not found error, got %v", err)
	}
}
