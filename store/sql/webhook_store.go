package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-webhooks/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type WebhookStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookRecord]
}

func NewWebhookStore(db *bun.DB) (*WebhookStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookRecord](db, webhookHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook repository wiring: %w", err)
		}
	}
	return &WebhookStore{db: db, repo: repo}, nil
}

// SaveWebhook inserts or replaces a webhook together with its events and
// field mappings. Event and field order is preserved.
func (s *WebhookStore) SaveWebhook(ctx context.Context, webhook core.Webhook) (core.Webhook, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.Webhook{}, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	webhook = normalizeWebhook(webhook)
	if webhook.ID == "" {
		webhook.ID = uuid.NewString()
	}
	if err := webhook.Validate(); err != nil {
		return core.Webhook{}, err
	}

	now := time.Now().UTC()
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &webhookRecord{}
		selectErr := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.id = ?", webhook.ID).
			Limit(1).
			Scan(ctx)
		switch {
		case selectErr == sql.ErrNoRows:
			record := newWebhookRecord(webhook, now)
			inserted, createErr := s.repo.CreateTx(ctx, tx, record)
			if createErr != nil {
				return createErr
			}
			webhook.ID = inserted.ID
		case selectErr != nil:
			return selectErr
		default:
			existing.CompanyID = webhook.CompanyID
			existing.Callback = webhook.Callback
			existing.Type = string(webhook.Type)
			existing.Method = string(webhook.Method)
			existing.UpdatedAt = now
			if _, updateErr := tx.NewUpdate().
				Model(existing).
				Column("company_id", "callback", "type", "method", "updated_at").
				WherePK().
				Exec(ctx); updateErr != nil {
				return updateErr
			}
		}
		return replaceChildren(ctx, tx, webhook)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return core.Webhook{}, core.NewWebhookError(
				fmt.Sprintf("incoming callback %q already exists", webhook.Callback),
				goerrors.CategoryConflict,
				core.WebhookErrorConflict,
				map[string]any{"company_id": webhook.CompanyID, "callback": webhook.Callback},
			)
		}
		return core.Webhook{}, fmt.Errorf("sqlstore: save webhook %s: %w", webhook.ID, err)
	}
	return webhook, nil
}

// Delete removes a webhook; events and fields cascade. Delivery logs are kept.
func (s *WebhookStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook store is not configured")
	}
	id = strings.TrimSpace(id)
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*webhookEventRecord)(nil)).Where("webhook_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*webhookFieldRecord)(nil)).Where("webhook_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewDelete().Model((*webhookRecord)(nil)).Where("id = ?", id).Exec(ctx)
		return err
	})
}

func (s *WebhookStore) Get(ctx context.Context, id string) (core.Webhook, bool, error) {
	if s == nil || s.db == nil {
		return core.Webhook{}, false, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	record := &webhookRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return core.Webhook{}, false, nil
	}
	if err != nil {
		return core.Webhook{}, false, err
	}
	hooks, err := s.hydrate(ctx, []*webhookRecord{record})
	if err != nil {
		return core.Webhook{}, false, err
	}
	return hooks[0], true, nil
}

func (s *WebhookStore) GetByCallback(
	ctx context.Context,
	companyID string,
	callback string,
	webhookType core.WebhookType,
) (core.Webhook, bool, error) {
	if s == nil || s.db == nil {
		return core.Webhook{}, false, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	record := &webhookRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.company_id = ?", strings.TrimSpace(companyID)).
		Where("?TableAlias.callback = ?", strings.TrimSpace(callback)).
		Where("?TableAlias.type = ?", string(webhookType)).
		OrderExpr("?TableAlias.created_at ASC").
		Limit(1).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return core.Webhook{}, false, nil
	}
	if err != nil {
		return core.Webhook{}, false, err
	}
	hooks, err := s.hydrate(ctx, []*webhookRecord{record})
	if err != nil {
		return core.Webhook{}, false, err
	}
	return hooks[0], true, nil
}

func (s *WebhookStore) ListByType(ctx context.Context, webhookType core.WebhookType, companyID string) ([]core.Webhook, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("type", "=", string(webhookType)),
		repository.SelectBy("company_id", "=", strings.TrimSpace(companyID)),
		repository.OrderBy("created_at ASC"),
		repository.OrderBy("id ASC"),
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []core.Webhook{}, nil
	}
	return s.hydrate(ctx, records)
}

// hydrate loads events and fields for records in two queries.
func (s *WebhookStore) hydrate(ctx context.Context, records []*webhookRecord) ([]core.Webhook, error) {
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID)
	}

	var events []webhookEventRecord
	if err := s.db.NewSelect().
		Model(&events).
		Where("?TableAlias.webhook_id IN (?)", bun.In(ids)).
		OrderExpr("?TableAlias.webhook_id ASC, ?TableAlias.sort_order ASC").
		Scan(ctx); err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	var fields []webhookFieldRecord
	if err := s.db.NewSelect().
		Model(&fields).
		Where("?TableAlias.webhook_id IN (?)", bun.In(ids)).
		OrderExpr("?TableAlias.webhook_id ASC, ?TableAlias.sort_order ASC").
		Scan(ctx); err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	eventsByHook := map[string][]string{}
	for _, event := range events {
		eventsByHook[event.WebhookID] = append(eventsByHook[event.WebhookID], event.Event)
	}
	fieldsByHook := map[string][]core.FieldMapping{}
	for _, field := range fields {
		fieldsByHook[field.WebhookID] = append(fieldsByHook[field.WebhookID], core.FieldMapping{
			Field:     field.Field,
			Parameter: field.Parameter,
		})
	}

	out := make([]core.Webhook, 0, len(records))
	for _, record := range records {
		hook := record.toDomain()
		hook.Events = eventsByHook[record.ID]
		hook.Fields = fieldsByHook[record.ID]
		out = append(out, hook)
	}
	return out, nil
}

func replaceChildren(ctx context.Context, tx bun.Tx, webhook core.Webhook) error {
	if _, err := tx.NewDelete().Model((*webhookEventRecord)(nil)).Where("webhook_id = ?", webhook.ID).Exec(ctx); err != nil {
		return err
	}
	if _, err := tx.NewDelete().Model((*webhookFieldRecord)(nil)).Where("webhook_id = ?", webhook.ID).Exec(ctx); err != nil {
		return err
	}

	events := make([]webhookEventRecord, 0, len(webhook.Events))
	seen := map[string]struct{}{}
	for idx, event := range webhook.Events {
		if _, exists := seen[event]; exists {
			continue
		}
		seen[event] = struct{}{}
		events = append(events, webhookEventRecord{WebhookID: webhook.ID, Event: event, SortOrder: idx})
	}
	if len(events) > 0 {
		if _, err := tx.NewInsert().Model(&events).Exec(ctx); err != nil {
			return err
		}
	}

	fields := make([]webhookFieldRecord, 0, len(webhook.Fields))
	for idx, mapping := range webhook.Fields {
		fields = append(fields, webhookFieldRecord{
			WebhookID: webhook.ID,
			Field:     mapping.Field,
			Parameter: mapping.Parameter,
			SortOrder: idx,
		})
	}
	if len(fields) > 0 {
		if _, err := tx.NewInsert().Model(&fields).Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func newWebhookRecord(webhook core.Webhook, now time.Time) *webhookRecord {
	return &webhookRecord{
		ID:        webhook.ID,
		CompanyID: webhook.CompanyID,
		Callback:  webhook.Callback,
		Type:      string(webhook.Type),
		Method:    string(webhook.Method),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *webhookRecord) toDomain() core.Webhook {
	if r == nil {
		return core.Webhook{}
	}
	return core.Webhook{
		ID:        r.ID,
		CompanyID: r.CompanyID,
		Callback:  r.Callback,
		Type:      core.WebhookType(r.Type),
		Method:    core.Method(r.Method),
	}
}

func normalizeWebhook(webhook core.Webhook) core.Webhook {
	webhook.ID = strings.TrimSpace(webhook.ID)
	webhook.CompanyID = strings.TrimSpace(webhook.CompanyID)
	webhook.Callback = strings.TrimSpace(webhook.Callback)
	if parsed, err := core.ParseWebhookType(string(webhook.Type)); err == nil {
		webhook.Type = parsed
	}
	if parsed, err := core.ParseMethod(string(webhook.Method)); err == nil {
		webhook.Method = parsed
	}
	events := make([]string, 0, len(webhook.Events))
	for _, event := range webhook.Events {
		if trimmed := strings.TrimSpace(event); trimmed != "" {
			events = append(events, trimmed)
		}
	}
	webhook.Events = events
	fields := make([]core.FieldMapping, 0, len(webhook.Fields))
	for _, mapping := range webhook.Fields {
		fields = append(fields, core.FieldMapping{
			Field:     strings.TrimSpace(mapping.Field),
			Parameter: strings.TrimSpace(mapping.Parameter),
		})
	}
	webhook.Fields = fields
	return webhook
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
