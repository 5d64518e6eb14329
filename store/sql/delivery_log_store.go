package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-webhooks/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type DeliveryLogStore struct {
	db   *bun.DB
	repo repository.Repository[*deliveryLogRecord]
}

func NewDeliveryLogStore(db *bun.DB) (*DeliveryLogStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deliveryLogRecord](db, deliveryLogHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid delivery log repository wiring: %w", err)
		}
	}
	return &DeliveryLogStore{db: db, repo: repo}, nil
}

func (s *DeliveryLogStore) Insert(ctx context.Context, entry core.DeliveryLog) (core.DeliveryLog, error) {
	if s == nil || s.repo == nil {
		return core.DeliveryLog{}, fmt.Errorf("sqlstore: delivery log store is not configured")
	}
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	if entry.DateTriggered.IsZero() {
		entry.DateTriggered = time.Now().UTC()
	}
	record := newDeliveryLogRecord(entry)
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.DeliveryLog{}, fmt.Errorf("sqlstore: insert delivery log: %w", err)
	}
	return created.toDomain(), nil
}

func (s *DeliveryLogStore) Update(ctx context.Context, entry core.DeliveryLog) (core.DeliveryLog, error) {
	if s == nil || s.repo == nil {
		return core.DeliveryLog{}, fmt.Errorf("sqlstore: delivery log store is not configured")
	}
	id := strings.TrimSpace(entry.ID)
	current, err := s.find(ctx, id)
	if err != nil {
		return core.DeliveryLog{}, err
	}
	if current == nil {
		return core.DeliveryLog{}, core.DeliveryLogNotFoundError(id)
	}

	record := newDeliveryLogRecord(entry)
	record.ID = current.ID
	record.DateTriggered = current.DateTriggered
	updated, err := s.repo.Update(ctx, record, repository.UpdateByID(id))
	if err != nil {
		return core.DeliveryLog{}, fmt.Errorf("sqlstore: update delivery log %s: %w", id, err)
	}
	return updated.toDomain(), nil
}

func (s *DeliveryLogStore) Get(ctx context.Context, id string) (core.DeliveryLog, bool, error) {
	if s == nil || s.db == nil {
		return core.DeliveryLog{}, false, fmt.Errorf("sqlstore: delivery log store is not configured")
	}
	record, err := s.find(ctx, strings.TrimSpace(id))
	if err != nil || record == nil {
		return core.DeliveryLog{}, false, err
	}
	entries, err := s.decorate(ctx, []*deliveryLogRecord{record})
	if err != nil {
		return core.DeliveryLog{}, false, err
	}
	return entries[0], true, nil
}

func (s *DeliveryLogStore) List(ctx context.Context, filter core.DeliveryLogFilter, page core.PageRequest) (core.DeliveryLogPage, error) {
	if s == nil || s.repo == nil {
		return core.DeliveryLogPage{}, fmt.Errorf("sqlstore: delivery log store is not configured")
	}
	page = page.Normalize(core.DefaultLogPageSize)
	direction := "DESC"
	if page.Order == core.SortOldestFirst {
		direction = "ASC"
	}
	selectors := logFilterSelectors(filter)
	selectors = append(selectors,
		repository.OrderBy("date_triggered "+direction),
		repository.OrderBy("id "+direction),
		repository.SelectPaginate(page.PerPage, page.Offset()),
	)

	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return core.DeliveryLogPage{}, err
	}
	items, err := s.decorate(ctx, records)
	if err != nil {
		return core.DeliveryLogPage{}, err
	}
	return core.DeliveryLogPage{
		Items:   items,
		Page:    page.Page,
		PerPage: page.PerPage,
		Total:   total,
		HasNext: page.Offset()+len(items) < total,
	}, nil
}

func (s *DeliveryLogStore) Count(ctx context.Context, filter core.DeliveryLogFilter) (int, error) {
	if s == nil || s.repo == nil {
		return 0, fmt.Errorf("sqlstore: delivery log store is not configured")
	}
	selectors := append(logFilterSelectors(filter), repository.SelectPaginate(1, 0))
	_, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *DeliveryLogStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: delivery log store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*deliveryLogRecord)(nil)).
		Where("date_triggered < ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *DeliveryLogStore) find(ctx context.Context, id string) (*deliveryLogRecord, error) {
	record := &deliveryLogRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// decorate copies callback and method from the parent webhooks. Rows whose
// webhook no longer exists are returned undecorated.
func (s *DeliveryLogStore) decorate(ctx context.Context, records []*deliveryLogRecord) ([]core.DeliveryLog, error) {
	out := make([]core.DeliveryLog, 0, len(records))
	if len(records) == 0 {
		return out, nil
	}
	ids := make([]string, 0, len(records))
	seen := map[string]struct{}{}
	for _, record := range records {
		if _, exists := seen[record.WebhookID]; exists {
			continue
		}
		seen[record.WebhookID] = struct{}{}
		ids = append(ids, record.WebhookID)
	}
	var hooks []webhookRecord
	if err := s.db.NewSelect().
		Model(&hooks).
		Where("?TableAlias.id IN (?)", bun.In(ids)).
		Scan(ctx); err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	byID := make(map[string]webhookRecord, len(hooks))
	for _, hook := range hooks {
		byID[hook.ID] = hook
	}
	for _, record := range records {
		entry := record.toDomain()
		if hook, ok := byID[record.WebhookID]; ok {
			entry.Callback = hook.Callback
			entry.Method = core.Method(hook.Method)
		}
		out = append(out, entry)
	}
	return out, nil
}

func logFilterSelectors(filter core.DeliveryLogFilter) []repository.SelectCriteria {
	selectors := []repository.SelectCriteria{}
	if webhookID := strings.TrimSpace(filter.WebhookID); webhookID != "" {
		selectors = append(selectors, repository.SelectBy("webhook_id", "=", webhookID))
	}
	if event := strings.TrimSpace(filter.Event); event != "" {
		selectors = append(selectors, repository.SelectBy("event", "=", event))
	}
	if filter.HTTPResponse != 0 {
		status := filter.HTTPResponse
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.http_response = ?", status)
		}))
	}
	if filter.DateStart != nil {
		start := filter.DateStart.UTC()
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.date_triggered >= ?", start)
		}))
	}
	if filter.DateEnd != nil {
		end := core.DayAfter(*filter.DateEnd).UTC()
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.date_triggered < ?", end)
		}))
	}
	return selectors
}

func newDeliveryLogRecord(entry core.DeliveryLog) *deliveryLogRecord {
	fields := strings.TrimSpace(string(entry.Fields))
	if fields == "" || !json.Valid([]byte(fields)) {
		fields = "{}"
	}
	var retried *time.Time
	if entry.DateLastRetry != nil {
		value := entry.DateLastRetry.UTC()
		retried = &value
	}
	return &deliveryLogRecord{
		ID:            strings.TrimSpace(entry.ID),
		StaffID:       strings.TrimSpace(entry.StaffID),
		WebhookID:     strings.TrimSpace(entry.WebhookID),
		Type:          string(entry.Type),
		Event:         strings.TrimSpace(entry.Event),
		Fields:        fields,
		Response:      entry.Response,
		HTTPResponse:  entry.HTTPResponse,
		DateTriggered: entry.DateTriggered.UTC(),
		DateLastRetry: retried,
	}
}

func (r *deliveryLogRecord) toDomain() core.DeliveryLog {
	if r == nil {
		return core.DeliveryLog{}
	}
	var retried *time.Time
	if r.DateLastRetry != nil {
		value := r.DateLastRetry.UTC()
		retried = &value
	}
	return core.DeliveryLog{
		ID:            r.ID,
		StaffID:       r.StaffID,
		WebhookID:     r.WebhookID,
		Type:          core.WebhookType(r.Type),
		Event:         r.Event,
		Fields:        json.RawMessage(r.Fields),
		Response:      r.Response,
		HTTPResponse:  r.HTTPResponse,
		DateTriggered: r.DateTriggered.UTC(),
		DateLastRetry: retried,
	}
}
