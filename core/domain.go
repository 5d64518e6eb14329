package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidWebhookType   = errors.New("core: invalid webhook type")
	ErrInvalidWebhookMethod = errors.New("core: invalid webhook method")
	ErrInvalidEventName     = errors.New("core: invalid event name")
)

const (
	// LogIDKey carries the delivery log correlation id through a replayed payload.
	LogIDKey = "log_id"
	// ReturnKey holds a handler's full return value in an inbound trigger result.
	ReturnKey = "__return__"

	MaxCallbackLength = 255

	// DeliveryFailureStatus is recorded when no HTTP response was obtained.
	DeliveryFailureStatus = 500
)

type WebhookType string

const (
	WebhookTypeIncoming WebhookType = "incoming"
	WebhookTypeOutgoing WebhookType = "outgoing"
)

func ParseWebhookType(value string) (WebhookType, error) {
	switch WebhookType(strings.TrimSpace(strings.ToLower(value))) {
	case WebhookTypeIncoming:
		return WebhookTypeIncoming, nil
	case WebhookTypeOutgoing:
		return WebhookTypeOutgoing, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidWebhookType, value)
	}
}

type Method string

const (
	MethodGet      Method = "get"
	MethodPost     Method = "post"
	MethodPut      Method = "put"
	MethodPostJSON Method = "post_json"
	MethodPutJSON  Method = "put_json"
	// MethodJSON is accepted on inbound triggers only.
	MethodJSON Method = "json"
)

func ParseMethod(value string) (Method, error) {
	method := Method(strings.TrimSpace(strings.ToLower(value)))
	switch method {
	case MethodGet, MethodPost, MethodPut, MethodPostJSON, MethodPutJSON, MethodJSON:
		return method, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidWebhookMethod, value)
	}
}

// IsJSON reports whether the method carries a JSON body.
func (m Method) IsJSON() bool {
	switch m {
	case MethodJSON, MethodPostJSON, MethodPutJSON:
		return true
	default:
		return false
	}
}

// Verb returns the HTTP verb used on the wire.
func (m Method) Verb() string {
	switch m {
	case MethodPost, MethodPostJSON, MethodJSON:
		return "POST"
	case MethodPut, MethodPutJSON:
		return "PUT"
	default:
		return "GET"
	}
}

type FieldMapping struct {
	Field     string
	Parameter string
}

type Webhook struct {
	ID        string
	CompanyID string
	Callback  string
	Type      WebhookType
	Method    Method
	Events    []string
	Fields    []FieldMapping
}

func (w Webhook) Validate() error {
	if strings.TrimSpace(w.CompanyID) == "" {
		return fmt.Errorf("core: webhook company id is required")
	}
	callback := strings.TrimSpace(w.Callback)
	if callback == "" {
		return fmt.Errorf("core: webhook callback is required")
	}
	if len(callback) > MaxCallbackLength {
		return fmt.Errorf("core: webhook callback exceeds %d characters", MaxCallbackLength)
	}
	if _, err := ParseWebhookType(string(w.Type)); err != nil {
		return err
	}
	if _, err := ParseMethod(string(w.Method)); err != nil {
		return err
	}
	if w.Type == WebhookTypeOutgoing && w.Method == MethodJSON {
		return fmt.Errorf("%w: json is only valid for incoming webhooks", ErrInvalidWebhookMethod)
	}
	seen := make(map[string]struct{}, len(w.Fields))
	for _, mapping := range w.Fields {
		field := strings.TrimSpace(mapping.Field)
		if field == "" || strings.TrimSpace(mapping.Parameter) == "" {
			return fmt.Errorf("core: webhook field mapping requires field and parameter")
		}
		if _, exists := seen[field]; exists {
			return fmt.Errorf("core: duplicate webhook field mapping %q", field)
		}
		seen[field] = struct{}{}
	}
	for _, event := range w.Events {
		if _, _, err := SplitEventName(event); err != nil {
			return err
		}
	}
	return nil
}

// SubscribesTo reports whether event is one of the webhook's events.
func (w Webhook) SubscribesTo(event string) bool {
	event = strings.TrimSpace(event)
	for _, candidate := range w.Events {
		if strings.TrimSpace(candidate) == event {
			return true
		}
	}
	return false
}

// EventName joins a handler name and a method into "Handler.method".
func EventName(handler, method string) string {
	return strings.TrimSpace(handler) + "." + strings.TrimSpace(method)
}

func SplitEventName(event string) (handler string, method string, err error) {
	trimmed := strings.TrimSpace(event)
	idx := strings.LastIndex(trimmed, ".")
	if idx <= 0 || idx == len(trimmed)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidEventName, event)
	}
	return trimmed[:idx], trimmed[idx+1:], nil
}

type DeliveryLog struct {
	ID            string
	StaffID       string
	WebhookID     string
	Type          WebhookType
	Event         string
	Fields        json.RawMessage
	Response      string
	HTTPResponse  int
	DateTriggered time.Time
	DateLastRetry *time.Time

	// Callback and Method are populated on listings from the parent webhook.
	Callback string
	Method   Method
}

// Payload decodes the stored fields back into a tree.
func (l DeliveryLog) Payload() (map[string]any, error) {
	if len(l.Fields) == 0 {
		return map[string]any{}, nil
	}
	out := map[string]any{}
	if err := json.Unmarshal(l.Fields, &out); err != nil {
		return nil, fmt.Errorf("core: decode delivery log %s fields: %w", l.ID, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

type DeliveryLogFilter struct {
	WebhookID    string
	Event        string
	HTTPResponse int
	DateStart    *time.Time
	// DateEnd covers the whole of that day.
	DateEnd *time.Time
}

// DayAfter returns midnight of the day following t, in t's location. A
// DateEnd bound matches rows strictly before it.
func DayAfter(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day+1, 0, 0, 0, 0, t.Location())
}

type SortOrder string

const (
	SortNewestFirst SortOrder = "desc"
	SortOldestFirst SortOrder = "asc"
)

type PageRequest struct {
	Page    int
	PerPage int
	Order   SortOrder
}

func (p PageRequest) Normalize(defaultPerPage int) PageRequest {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PerPage <= 0 {
		p.PerPage = defaultPerPage
	}
	if p.PerPage <= 0 {
		p.PerPage = 20
	}
	switch SortOrder(strings.ToLower(strings.TrimSpace(string(p.Order)))) {
	case SortOldestFirst:
		p.Order = SortOldestFirst
	default:
		p.Order = SortNewestFirst
	}
	return p
}

func (p PageRequest) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.PerPage
}

type DeliveryLogPage struct {
	Items   []DeliveryLog
	Page    int
	PerPage int
	Total   int
	HasNext bool
}
