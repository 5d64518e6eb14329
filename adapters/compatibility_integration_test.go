package adapters_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-command"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-webhooks/adapters/gocommand"
	"github.com/goliatone/go-webhooks/adapters/gojob"
	"github.com/goliatone/go-webhooks/adapters/gologger"
	webhookcommand "github.com/goliatone/go-webhooks/command"
	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/deliverylog"
	"github.com/goliatone/go-webhooks/outbound"
	"github.com/goliatone/go-webhooks/store/memory"
	"github.com/goliatone/go-webhooks/transport"
)

func TestRuntimeCompatibility_QueuedDispatchReachesCallback(t *testing.T) {
	ctx := context.Background()

	var (
		mu     sync.Mutex
		bodies []map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		decoded := map[string]any{}
		_ = json.Unmarshal(raw, &decoded)
		mu.Lock()
		bodies = append(bodies, decoded)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	bridge := gologger.NewBridge("webhooks", &compatProvider{logger: compatLogger{}}, nil)
	if bridge.JobProvider == nil || bridge.JobLogger == nil {
		t.Fatalf("expected go-job logger bridges")
	}
	metrics := core.NewMemoryMetricsRecorder()

	webhooks := memory.NewWebhookStore()
	if _, err := webhooks.SaveWebhook(ctx, core.Webhook{
		ID:        "hook-1",
		CompanyID: "acme",
		Callback:  server.URL,
		Type:      core.WebhookTypeOutgoing,
		Method:    core.MethodPostJSON,
		Events:    []string{"Invoice.paid"},
	}); err != nil {
		t.Fatalf("save webhook: %v", err)
	}
	logs := deliverylog.NewService(memory.NewDeliveryLogStore(webhooks))
	dispatcher, err := outbound.NewDispatcher(
		webhooks,
		transport.NewClient(transport.WithHTTPDoer(server.Client())),
		logs,
		outbound.WithTelemetry(bridge.Telemetry("outbound", metrics)),
	)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	logs.Bind(dispatcher, nil)

	memQueue := &compatQueue{}
	enqueuer := gojob.NewEnqueuer(memQueue)
	if _, err := enqueuer.EnqueueDispatch(ctx, core.DispatchRequest{
		Event:     "Invoice.paid",
		CompanyID: "acme",
		Payload:   map[string]any{"invoice_id": 42},
	}); err != nil {
		t.Fatalf("enqueue dispatch: %v", err)
	}

	processor := gojob.NewProcessor(
		webhookcommand.NewDispatchEventCommand(dispatcher),
		webhookcommand.NewPurgeDeliveryLogsCommand(logs),
		gojob.WithWorkerHook(gojob.NewTelemetryHook(bridge.Telemetry("jobs", metrics))),
	)
	if err := processor.ProcessNext(ctx, memQueue); err != nil {
		t.Fatalf("process next: %v", err)
	}
	if memQueue.acked != 1 {
		t.Fatalf("expected queued dispatch to be acked, got %d", memQueue.acked)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 1 || bodies[0]["invoice_id"] != float64(42) {
		t.Fatalf("expected callback to receive the payload, got %#v", bodies)
	}
	page, err := logs.ListByWebhook(ctx, "hook-1", core.PageRequest{})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if page.Total != 1 || page.Items[0].HTTPResponse != http.StatusOK {
		t.Fatalf("expected one successful delivery log, got %#v", page)
	}
	if metrics.Counter("webhooks_jobs_total") != 1 {
		t.Fatalf("expected job telemetry to be recorded")
	}
}

func TestRuntimeCompatibility_CommandRegistryMirrorsIntoQueue(t *testing.T) {
	queueRegistry := jobqueuecommand.NewRegistry()
	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	if err := adapter.MirrorToQueue(queueRegistry); err != nil {
		t.Fatalf("mirror to queue: %v", err)
	}

	logs := deliverylog.NewService(memory.NewDeliveryLogStore(nil))
	subs, err := gocommand.RegisterWebhookHandlers(adapter, gocommand.WebhookHandlers{DeliveryLogs: logs})
	if err != nil {
		t.Fatalf("register webhook handlers: %v", err)
	}
	defer subs.Unsubscribe()
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize command registry: %v", err)
	}
	if _, ok := queueRegistry.Get(webhookcommand.TypePurgeDeliveryLogs); !ok {
		t.Fatalf("expected purge command to be mirrored into go-job queue registry")
	}
}

// compatQueue is a single-slot in-process queue.
type compatQueue struct {
	mu      sync.Mutex
	pending []*job.ExecutionMessage
	acked   int
}

func (q *compatQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, msg)
	return queue.EnqueueReceipt{DispatchID: msg.IdempotencyKey, EnqueuedAt: time.Now()}, nil
}

func (q *compatQueue) Dequeue(context.Context) (queue.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, io.EOF
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	return &compatDelivery{queue: q, msg: msg}, nil
}

type compatDelivery struct {
	queue *compatQueue
	msg   *job.ExecutionMessage
}

func (d *compatDelivery) Message() *job.ExecutionMessage { return d.msg }

func (d *compatDelivery) Ack(context.Context) error {
	d.queue.mu.Lock()
	d.queue.acked++
	d.queue.mu.Unlock()
	return nil
}

func (d *compatDelivery) Nack(ctx context.Context, opts queue.NackOptions) error {
	if opts.Disposition == queue.NackDispositionRetry {
		_, err := d.queue.Enqueue(ctx, d.msg)
		return err
	}
	return nil
}

type compatProvider struct {
	logger glog.Logger
}

func (p *compatProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type compatLogger struct{}

func (compatLogger) Trace(string, ...any)                    {}
func (compatLogger) Debug(string, ...any)                    {}
func (compatLogger) Info(string, ...any)                     {}
func (compatLogger) Warn(string, ...any)                     {}
func (compatLogger) Error(string, ...any)                    {}
func (compatLogger) Fatal(string, ...any)                    {}
func (compatLogger) WithContext(context.Context) glog.Logger { return compatLogger{} }
