package deliverylog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-webhooks/core"
)

type Service struct {
	Store core.DeliveryLogStore
	// Dispatcher replays outgoing attempts; Invoker replays incoming ones.
	Dispatcher core.Dispatcher
	Invoker    core.Invoker
	PerPage    int
	Telemetry  core.Telemetry
	Now        func() time.Time
}

type Option func(*Service)

func WithPerPage(perPage int) Option {
	return func(s *Service) {
		if perPage > 0 {
			s.PerPage = perPage
		}
	}
}

func WithTelemetry(telemetry core.Telemetry) Option {
	return func(s *Service) {
		s.Telemetry = telemetry
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.Now = now
		}
	}
}

func NewService(store core.DeliveryLogStore, opts ...Option) *Service {
	service := &Service{
		Store:     store,
		PerPage:   core.DefaultLogPageSize,
		Telemetry: core.NewTelemetry("webhooks.deliverylog", nil, nil, nil),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

// Bind attaches the replay targets once the dispatch flows are built.
func (s *Service) Bind(dispatcher core.Dispatcher, invoker core.Invoker) {
	if s == nil {
		return
	}
	s.Dispatcher = dispatcher
	s.Invoker = invoker
}

// Record inserts a new row or, when attempt.LogID is set, overwrites that row
// in place keeping its date_triggered.
func (s *Service) Record(ctx context.Context, attempt core.Attempt) (core.DeliveryLog, error) {
	if s == nil || s.Store == nil {
		return core.DeliveryLog{}, fmt.Errorf("deliverylog: store is not configured")
	}
	fields, err := EncodePayload(attempt.Payload)
	if err != nil {
		return core.DeliveryLog{}, err
	}
	response, err := EncodeResponse(attempt.Response)
	if err != nil {
		return core.DeliveryLog{}, err
	}
	status := attempt.HTTPResponse
	if status == 0 {
		status = core.DeliveryFailureStatus
	}
	logType := attempt.Type
	if logType == "" {
		logType = core.WebhookTypeOutgoing
	}
	now := s.now()

	logID := strings.TrimSpace(attempt.LogID)
	if logID == "" {
		return s.Store.Insert(ctx, core.DeliveryLog{
			StaffID:       strings.TrimSpace(attempt.StaffID),
			WebhookID:     strings.TrimSpace(attempt.WebhookID),
			Type:          logType,
			Event:         strings.TrimSpace(attempt.Event),
			Fields:        fields,
			Response:      response,
			HTTPResponse:  status,
			DateTriggered: now,
		})
	}

	current, ok, err := s.Store.Get(ctx, logID)
	if err != nil {
		return core.DeliveryLog{}, err
	}
	if !ok {
		return core.DeliveryLog{}, core.DeliveryLogNotFoundError(logID)
	}
	current.Fields = fields
	current.Response = response
	current.HTTPResponse = status
	current.DateLastRetry = &now
	if staffID := strings.TrimSpace(attempt.StaffID); staffID != "" {
		current.StaffID = staffID
	}
	if webhookID := strings.TrimSpace(attempt.WebhookID); webhookID != "" {
		current.WebhookID = webhookID
	}
	if event := strings.TrimSpace(attempt.Event); event != "" {
		current.Event = event
	}
	if attempt.Type != "" {
		current.Type = attempt.Type
	}
	return s.Store.Update(ctx, current)
}

func (s *Service) Get(ctx context.Context, id string) (core.DeliveryLog, error) {
	if s == nil || s.Store == nil {
		return core.DeliveryLog{}, fmt.Errorf("deliverylog: store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.DeliveryLog{}, core.NewWebhookError("deliverylog: log id is required", goerrors.CategoryBadInput, core.WebhookErrorBadInput, nil)
	}
	entry, ok, err := s.Store.Get(ctx, id)
	if err != nil {
		return core.DeliveryLog{}, err
	}
	if !ok {
		return core.DeliveryLog{}, core.DeliveryLogNotFoundError(id)
	}
	return entry, nil
}

func (s *Service) ListByWebhook(ctx context.Context, webhookID string, page core.PageRequest) (core.DeliveryLogPage, error) {
	webhookID = strings.TrimSpace(webhookID)
	if webhookID == "" {
		return core.DeliveryLogPage{}, core.NewWebhookError("deliverylog: webhook id is required", goerrors.CategoryBadInput, core.WebhookErrorBadInput, nil)
	}
	return s.ListAll(ctx, core.DeliveryLogFilter{WebhookID: webhookID}, page)
}

func (s *Service) CountByWebhook(ctx context.Context, webhookID string) (int, error) {
	webhookID = strings.TrimSpace(webhookID)
	if webhookID == "" {
		return 0, core.NewWebhookError("deliverylog: webhook id is required", goerrors.CategoryBadInput, core.WebhookErrorBadInput, nil)
	}
	return s.CountAll(ctx, core.DeliveryLogFilter{WebhookID: webhookID})
}

func (s *Service) ListAll(ctx context.Context, filter core.DeliveryLogFilter, page core.PageRequest) (core.DeliveryLogPage, error) {
	if s == nil || s.Store == nil {
		return core.DeliveryLogPage{}, fmt.Errorf("deliverylog: store is not configured")
	}
	if err := validateFilter(filter); err != nil {
		return core.DeliveryLogPage{}, err
	}
	return s.Store.List(ctx, filter, page.Normalize(s.PerPage))
}

func (s *Service) CountAll(ctx context.Context, filter core.DeliveryLogFilter) (int, error) {
	if s == nil || s.Store == nil {
		return 0, fmt.Errorf("deliverylog: store is not configured")
	}
	if err := validateFilter(filter); err != nil {
		return 0, err
	}
	return s.Store.Count(ctx, filter)
}

// PurgeOlderThan deletes rows triggered before cutoff.
func (s *Service) PurgeOlderThan(ctx context.Context, cutoff time.Time) (deleted int64, err error) {
	if s == nil || s.Store == nil {
		return 0, fmt.Errorf("deliverylog: store is not configured")
	}
	startedAt := time.Now()
	defer func() {
		s.Telemetry.ObserveOperation(ctx, startedAt, "purge_delivery_logs", err, map[string]any{
			"cutoff":  cutoff.UTC().Format(time.RFC3339),
			"deleted": deleted,
		})
	}()
	if cutoff.IsZero() {
		return 0, core.NewWebhookError("deliverylog: purge cutoff is required", goerrors.CategoryBadInput, core.WebhookErrorBadInput, nil)
	}
	return s.Store.DeleteBefore(ctx, cutoff.UTC())
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func validateFilter(filter core.DeliveryLogFilter) error {
	if filter.DateStart != nil && filter.DateEnd != nil && !core.DayAfter(*filter.DateEnd).After(*filter.DateStart) {
		return core.NewWebhookError("deliverylog: date_end must not be before date_start", goerrors.CategoryBadInput, core.WebhookErrorBadInput, nil)
	}
	if filter.HTTPResponse < 0 || filter.HTTPResponse > 999 {
		return core.NewWebhookError("deliverylog: invalid http_response filter", goerrors.CategoryBadInput, core.WebhookErrorBadInput, nil)
	}
	return nil
}

// EncodePayload stores a payload as JSON without the replay correlation key.
func EncodePayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage(`{}`), nil
	}
	if tree, ok := payload.(map[string]any); ok {
		if _, has := tree[core.LogIDKey]; has {
			stripped := make(map[string]any, len(tree))
			for key, value := range tree {
				if key != core.LogIDKey {
					stripped[key] = value
				}
			}
			payload = stripped
		}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("deliverylog: encode payload: %w", err)
	}
	return encoded, nil
}

// EncodeResponse keeps raw bodies verbatim and JSON encodes anything else.
func EncodeResponse(response any) (string, error) {
	switch typed := response.(type) {
	case nil:
		return "", nil
	case string:
		return typed, nil
	case []byte:
		return string(typed), nil
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return "", fmt.Errorf("deliverylog: encode response: %w", err)
		}
		return string(encoded), nil
	}
}
