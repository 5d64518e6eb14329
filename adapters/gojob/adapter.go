package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhooks/command"
	"github.com/goliatone/go-webhooks/core"
	"github.com/google/uuid"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDDispatch          = "webhooks.dispatch"
	JobIDPurgeDeliveryLogs = "webhooks.delivery_log.purge"
)

const (
	paramEvent        = "event"
	paramCompanyID    = "company_id"
	paramRestrictTo   = "restrict_to_webhook_id"
	paramStaffID      = "staff_id"
	paramPayload      = "payload"
	paramCutoff       = "cutoff"
	paramMaxAgeDays   = "max_age_days"
	defaultRetryDelay = 5 * time.Second
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation. A
// blank disposition means retry. Once attempt reaches MaxAttempts a retry
// becomes a dead letter, or a plain failure when DeadLetterOnMax is off.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Disposition == "" {
		out.Disposition = queue.NackDispositionRetry
	}
	if out.Disposition == queue.NackDispositionRetry && p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Disposition = queue.NackDispositionFailed
		if p.DeadLetterOnMax {
			out.Disposition = queue.NackDispositionDeadLetter
		}
	}
	if out.Disposition != queue.NackDispositionRetry || out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	return out
}

// Backoff doubles BaseDelay per attempt, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// DispatchMessage encodes a dispatch request as a go-job execution message.
func DispatchMessage(req core.DispatchRequest) (*job.ExecutionMessage, error) {
	event := strings.TrimSpace(req.Event)
	if event == "" {
		return nil, fmt.Errorf("gojob: event is required")
	}
	params := map[string]any{
		paramEvent:   event,
		paramPayload: copyAnyMap(req.Payload),
	}
	setIfPresent(params, paramCompanyID, req.CompanyID)
	setIfPresent(params, paramRestrictTo, req.RestrictToWebhookID)
	setIfPresent(params, paramStaffID, req.StaffID)
	return &job.ExecutionMessage{
		JobID:          JobIDDispatch,
		ScriptPath:     JobIDDispatch,
		Parameters:     params,
		IdempotencyKey: uuid.NewString(),
	}, nil
}

// DispatchRequestFromMessage decodes a message built by DispatchMessage.
func DispatchRequestFromMessage(msg *job.ExecutionMessage) (core.DispatchRequest, error) {
	if msg == nil {
		return core.DispatchRequest{}, fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDDispatch {
		return core.DispatchRequest{}, fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	payload, err := payloadParam(msg.Parameters[paramPayload])
	if err != nil {
		return core.DispatchRequest{}, err
	}
	return core.DispatchRequest{
		Event:               stringParam(msg.Parameters, paramEvent),
		Payload:             payload,
		CompanyID:           stringParam(msg.Parameters, paramCompanyID),
		RestrictToWebhookID: stringParam(msg.Parameters, paramRestrictTo),
		StaffID:             stringParam(msg.Parameters, paramStaffID),
	}, nil
}

// PurgeMessage encodes a retention purge. A zero cutoff defers to maxAgeDays
// at execution time.
func PurgeMessage(cutoff time.Time, maxAgeDays int) *job.ExecutionMessage {
	params := map[string]any{}
	if !cutoff.IsZero() {
		params[paramCutoff] = cutoff.UTC().Format(time.RFC3339Nano)
	}
	if maxAgeDays > 0 {
		params[paramMaxAgeDays] = maxAgeDays
	}
	return &job.ExecutionMessage{
		JobID:          JobIDPurgeDeliveryLogs,
		ScriptPath:     JobIDPurgeDeliveryLogs,
		Parameters:     params,
		IdempotencyKey: uuid.NewString(),
	}
}

// PurgeFromMessage decodes a message built by PurgeMessage.
func PurgeFromMessage(msg *job.ExecutionMessage) (command.PurgeDeliveryLogsMessage, error) {
	if msg == nil {
		return command.PurgeDeliveryLogsMessage{}, fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDPurgeDeliveryLogs {
		return command.PurgeDeliveryLogsMessage{}, fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	out := command.PurgeDeliveryLogsMessage{}
	if raw := stringParam(msg.Parameters, paramCutoff); raw != "" {
		cutoff, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return command.PurgeDeliveryLogsMessage{}, fmt.Errorf("gojob: invalid cutoff: %w", err)
		}
		out.Cutoff = cutoff
	}
	switch value := msg.Parameters[paramMaxAgeDays].(type) {
	case int:
		out.MaxAgeDays = value
	case int64:
		out.MaxAgeDays = int(value)
	case float64:
		out.MaxAgeDays = int(value)
	}
	return out, nil
}

// Enqueuer turns webhook work into go-job messages.
type Enqueuer struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuer(enqueuer queue.Enqueuer) *Enqueuer {
	return &Enqueuer{enqueuer: enqueuer}
}

// EnqueueDispatch queues req and returns the queue's dispatch id, or the
// message idempotency key when the queue assigns none.
func (e *Enqueuer) EnqueueDispatch(ctx context.Context, req core.DispatchRequest) (string, error) {
	msg, err := DispatchMessage(req)
	if err != nil {
		return "", err
	}
	return e.enqueue(ctx, msg)
}

func (e *Enqueuer) EnqueuePurge(ctx context.Context, cutoff time.Time, maxAgeDays int) (string, error) {
	return e.enqueue(ctx, PurgeMessage(cutoff, maxAgeDays))
}

func (e *Enqueuer) enqueue(ctx context.Context, msg *job.ExecutionMessage) (string, error) {
	if e == nil || e.enqueuer == nil {
		return "", fmt.Errorf("gojob: enqueuer is not configured")
	}
	receipt, err := e.enqueuer.Enqueue(ctx, msg)
	if err != nil {
		return "", err
	}
	if id := strings.TrimSpace(receipt.DispatchID); id != "" {
		return id, nil
	}
	return msg.IdempotencyKey, nil
}

// Processor executes dequeued webhook jobs through the command handlers and
// settles each delivery according to its RetryPolicy.
type Processor struct {
	dispatch gocmd.Commander[command.DispatchEventMessage]
	purge    gocmd.Commander[command.PurgeDeliveryLogsMessage]
	policy   RetryPolicy
	hook     worker.Hook
	now      func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

type ProcessorOption func(*Processor)

func WithRetryPolicy(policy RetryPolicy) ProcessorOption {
	return func(p *Processor) {
		p.policy = policy
	}
}

func WithWorkerHook(hook worker.Hook) ProcessorOption {
	return func(p *Processor) {
		if hook != nil {
			p.hook = hook
		}
	}
}

func NewProcessor(
	dispatch gocmd.Commander[command.DispatchEventMessage],
	purge gocmd.Commander[command.PurgeDeliveryLogsMessage],
	opts ...ProcessorOption,
) *Processor {
	p := &Processor{
		dispatch: dispatch,
		purge:    purge,
		policy:   RetryPolicy{MaxAttempts: 5, MaxDelay: 5 * time.Minute, DeadLetterOnMax: true},
		now:      time.Now,
		attempts: map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// ProcessNext dequeues and processes a single delivery.
func (p *Processor) ProcessNext(ctx context.Context, dequeuer queue.Dequeuer) error {
	if dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	return p.Process(ctx, delivery)
}

// Process runs the delivery's job and acks or nacks it. The returned error is
// the settlement error; job failures are reported through the hook.
func (p *Processor) Process(ctx context.Context, delivery queue.Delivery) error {
	if p == nil {
		return fmt.Errorf("gojob: processor is not configured")
	}
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	msg := delivery.Message()
	attempt := p.nextAttempt(msg)
	event := worker.Event{
		Message:   msg,
		Delivery:  delivery,
		Attempt:   attempt,
		StartedAt: p.now(),
	}
	p.onStart(ctx, event)

	runErr := p.run(ctx, msg)
	event.Duration = p.now().Sub(event.StartedAt)
	if runErr == nil {
		p.forget(msg)
		p.onSuccess(ctx, event)
		return delivery.Ack(ctx)
	}

	disposition := queue.NackDispositionRetry
	if !retryable(runErr) {
		disposition = queue.NackDispositionDeadLetter
	}
	opts := p.policy.NormalizeAttempt(queue.NackOptions{
		Disposition: disposition,
		Delay:       p.policy.Backoff(attempt),
		Reason:      runErr.Error(),
	}, attempt)
	event.Err = runErr
	event.Delay = opts.Delay
	if opts.Disposition == queue.NackDispositionRetry {
		p.onRetry(ctx, event)
	} else {
		p.forget(msg)
		p.onFailure(ctx, event)
	}
	return delivery.Nack(ctx, opts)
}

func (p *Processor) run(ctx context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return goerrors.New("gojob: delivery has no message", goerrors.CategoryValidation)
	}
	switch strings.TrimSpace(msg.JobID) {
	case JobIDDispatch:
		if p.dispatch == nil {
			return fmt.Errorf("gojob: dispatch command is not configured")
		}
		req, err := DispatchRequestFromMessage(msg)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "gojob: decode dispatch job")
		}
		return p.dispatch.Execute(ctx, command.DispatchEventMessage{Request: req})
	case JobIDPurgeDeliveryLogs:
		if p.purge == nil {
			return fmt.Errorf("gojob: purge command is not configured")
		}
		purge, err := PurgeFromMessage(msg)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "gojob: decode purge job")
		}
		return p.purge.Execute(ctx, purge)
	default:
		return goerrors.New(fmt.Sprintf("gojob: unsupported job id %q", msg.JobID), goerrors.CategoryValidation)
	}
}

// retryable reports false for validation and bad-input failures, which fail
// the same way on every attempt.
func retryable(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return true
	}
	if richErr.Category == goerrors.CategoryValidation || richErr.Category == goerrors.CategoryBadInput {
		return false
	}
	return richErr.TextCode != core.WebhookErrorBadInput
}

func (p *Processor) nextAttempt(msg *job.ExecutionMessage) int {
	key := attemptKey(msg)
	if key == "" {
		return 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[key]++
	return p.attempts[key]
}

func (p *Processor) forget(msg *job.ExecutionMessage) {
	key := attemptKey(msg)
	if key == "" {
		return
	}
	p.mu.Lock()
	delete(p.attempts, key)
	p.mu.Unlock()
}

func attemptKey(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	return strings.TrimSpace(msg.IdempotencyKey)
}

func (p *Processor) onStart(ctx context.Context, event worker.Event) {
	if p.hook != nil {
		p.hook.OnStart(ctx, event)
	}
}

func (p *Processor) onSuccess(ctx context.Context, event worker.Event) {
	if p.hook != nil {
		p.hook.OnSuccess(ctx, event)
	}
}

func (p *Processor) onFailure(ctx context.Context, event worker.Event) {
	if p.hook != nil {
		p.hook.OnFailure(ctx, event)
	}
}

func (p *Processor) onRetry(ctx context.Context, event worker.Event) {
	if p.hook != nil {
		p.hook.OnRetry(ctx, event)
	}
}

// TelemetryHook reports worker lifecycle events to a core.Telemetry.
type TelemetryHook struct {
	telemetry core.Telemetry
}

func NewTelemetryHook(telemetry core.Telemetry) *TelemetryHook {
	if telemetry.Metrics == nil {
		telemetry.Metrics = core.NopMetricsRecorder{}
	}
	return &TelemetryHook{telemetry: telemetry}
}

func (h *TelemetryHook) OnStart(ctx context.Context, event worker.Event) {
	h.log(ctx, "webhooks job started", event)
}

func (h *TelemetryHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.record(ctx, "success", event)
	h.log(ctx, "webhooks job succeeded", event)
}

func (h *TelemetryHook) OnFailure(ctx context.Context, event worker.Event) {
	h.record(ctx, "failure", event)
	h.log(ctx, "webhooks job failed", event)
}

func (h *TelemetryHook) OnRetry(ctx context.Context, event worker.Event) {
	h.record(ctx, "retry", event)
	h.log(ctx, "webhooks job scheduled for retry", event)
}

func (h *TelemetryHook) record(ctx context.Context, status string, event worker.Event) {
	if h == nil {
		return
	}
	tags := map[string]string{"job_id": jobID(event), "status": status}
	h.telemetry.RecordCounter(ctx, "webhooks_jobs_total", 1, tags)
	if event.Duration > 0 {
		h.telemetry.RecordHistogram(ctx, "webhooks_job_duration_ms", float64(event.Duration.Milliseconds()), tags)
	}
}

func (h *TelemetryHook) log(ctx context.Context, msg string, event worker.Event) {
	if h == nil {
		return
	}
	fields := map[string]any{"job_id": jobID(event), "attempt": event.Attempt}
	if event.Delay > 0 {
		fields["delay_ms"] = event.Delay.Milliseconds()
	}
	if event.Duration > 0 {
		fields["duration_ms"] = event.Duration.Milliseconds()
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
		h.telemetry.LogWarn(ctx, msg, fields)
		return
	}
	h.telemetry.LogInfo(ctx, msg, fields)
}

func jobID(event worker.Event) string {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	if message == nil {
		return ""
	}
	return strings.TrimSpace(message.JobID)
}

func payloadParam(raw any) (map[string]any, error) {
	switch value := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return copyAnyMap(value), nil
	default:
		return nil, fmt.Errorf("gojob: payload must be an object, got %T", raw)
	}
}

func stringParam(params map[string]any, key string) string {
	if len(params) == 0 {
		return ""
	}
	value, ok := params[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func setIfPresent(params map[string]any, key string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		params[key] = value
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var _ worker.Hook = (*TelemetryHook)(nil)
