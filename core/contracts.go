package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// WebhookStore is the read side of webhook configuration.
type WebhookStore interface {
	Get(ctx context.Context, id string) (Webhook, bool, error)
	GetByCallback(ctx context.Context, companyID string, callback string, webhookType WebhookType) (Webhook, bool, error)
	ListByType(ctx context.Context, webhookType WebhookType, companyID string) ([]Webhook, error)
}

// WebhookWriter persists webhook definitions. Definition CRUD lives outside
// the engine; the writer exists so hosts and fixtures can seed configuration.
type WebhookWriter interface {
	SaveWebhook(ctx context.Context, webhook Webhook) (Webhook, error)
}

type DeliveryLogStore interface {
	Insert(ctx context.Context, entry DeliveryLog) (DeliveryLog, error)
	// Update overwrites the attempt fields of an existing row. DateTriggered
	// is never changed by an update.
	Update(ctx context.Context, entry DeliveryLog) (DeliveryLog, error)
	Get(ctx context.Context, id string) (DeliveryLog, bool, error)
	List(ctx context.Context, filter DeliveryLogFilter, page PageRequest) (DeliveryLogPage, error)
	Count(ctx context.Context, filter DeliveryLogFilter) (int, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Attempt struct {
	LogID        string
	StaffID      string
	WebhookID    string
	Type         WebhookType
	Event        string
	Payload      any
	Response     any
	HTTPResponse int
}

// DeliveryRecorder records attempts. Both dispatch directions write through it.
type DeliveryRecorder interface {
	Record(ctx context.Context, attempt Attempt) (DeliveryLog, error)
}

// EventResolver is the read contract the dispatch flows need from the
// event registry.
type EventResolver interface {
	ListEvents(ctx context.Context, companyID string) ([]string, error)
	Resolve(ctx context.Context, companyID string, event string) (Resolution, error)
}

// Handler is a resolved, invocable event handler.
type Handler interface {
	Invoke(ctx context.Context, payload map[string]any) (any, error)
}

type HandlerFunc func(ctx context.Context, payload map[string]any) (any, error)

func (f HandlerFunc) Invoke(ctx context.Context, payload map[string]any) (any, error) {
	if f == nil {
		return nil, nil
	}
	return f(ctx, payload)
}

type Resolution struct {
	Event   string
	Handler Handler
	// Source names the registration the handler came from: "core" or an
	// extension name.
	Source string
}

type DispatchRequest struct {
	Event               string
	Payload             map[string]any
	CompanyID           string
	RestrictToWebhookID string
	StaffID             string
}

type DeliveryOutcome struct {
	WebhookID    string
	LogID        string
	HTTPResponse int
	Err          error
}

type DispatchResult struct {
	Event      string
	Deliveries []DeliveryOutcome
	// Failures counts targets whose attempt ended in an error. HTTP error
	// statuses are not errors.
	Failures int
	// Skipped counts targets not attempted because the context ended.
	Skipped int
}

// Dispatcher delivers a fired event to its outgoing webhooks.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error)
}

type InvokeRequest struct {
	CompanyID string
	WebhookID string
	Event     string
	Payload   map[string]any
	LogID     string
	StaffID   string
}

// Invoker runs the handler-invocation step of an inbound trigger.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (map[string]any, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
