package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-webhooks/core"
	"github.com/google/uuid"
)

type DeliveryLogStore struct {
	mu      sync.RWMutex
	entries map[string]core.DeliveryLog
	// Webhooks, when set, decorates listings with the parent callback and method.
	Webhooks core.WebhookStore
}

func NewDeliveryLogStore(webhooks core.WebhookStore) *DeliveryLogStore {
	return &DeliveryLogStore{
		entries:  map[string]core.DeliveryLog{},
		Webhooks: webhooks,
	}
}

func (s *DeliveryLogStore) Insert(_ context.Context, entry core.DeliveryLog) (core.DeliveryLog, error) {
	if s == nil {
		return core.DeliveryLog{}, fmt.Errorf("memory: delivery log store is nil")
	}
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	if entry.DateTriggered.IsZero() {
		entry.DateTriggered = time.Now().UTC()
	}
	entry = cloneLog(entry)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.ID]; exists {
		return core.DeliveryLog{}, fmt.Errorf("memory: delivery log %s already exists", entry.ID)
	}
	s.entries[entry.ID] = entry
	return cloneLog(entry), nil
}

func (s *DeliveryLogStore) Update(_ context.Context, entry core.DeliveryLog) (core.DeliveryLog, error) {
	if s == nil {
		return core.DeliveryLog{}, fmt.Errorf("memory: delivery log store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.entries[strings.TrimSpace(entry.ID)]
	if !ok {
		return core.DeliveryLog{}, core.DeliveryLogNotFoundError(entry.ID)
	}
	entry.DateTriggered = current.DateTriggered
	entry = cloneLog(entry)
	s.entries[entry.ID] = entry
	return cloneLog(entry), nil
}

func (s *DeliveryLogStore) Get(ctx context.Context, id string) (core.DeliveryLog, bool, error) {
	if s == nil {
		return core.DeliveryLog{}, false, fmt.Errorf("memory: delivery log store is nil")
	}
	s.mu.RLock()
	entry, ok := s.entries[strings.TrimSpace(id)]
	s.mu.RUnlock()
	if !ok {
		return core.DeliveryLog{}, false, nil
	}
	return s.decorate(ctx, cloneLog(entry)), true, nil
}

func (s *DeliveryLogStore) List(ctx context.Context, filter core.DeliveryLogFilter, page core.PageRequest) (core.DeliveryLogPage, error) {
	if s == nil {
		return core.DeliveryLogPage{}, fmt.Errorf("memory: delivery log store is nil")
	}
	page = page.Normalize(core.DefaultLogPageSize)
	matches := s.filter(filter)
	sort.SliceStable(matches, func(i, j int) bool {
		left, right := matches[i], matches[j]
		if !left.DateTriggered.Equal(right.DateTriggered) {
			if page.Order == core.SortOldestFirst {
				return left.DateTriggered.Before(right.DateTriggered)
			}
			return left.DateTriggered.After(right.DateTriggered)
		}
		if page.Order == core.SortOldestFirst {
			return left.ID < right.ID
		}
		return left.ID > right.ID
	})

	total := len(matches)
	start := page.Offset()
	if start > total {
		start = total
	}
	end := start + page.PerPage
	if end > total {
		end = total
	}
	items := make([]core.DeliveryLog, 0, end-start)
	for _, entry := range matches[start:end] {
		items = append(items, s.decorate(ctx, entry))
	}
	return core.DeliveryLogPage{
		Items:   items,
		Page:    page.Page,
		PerPage: page.PerPage,
		Total:   total,
		HasNext: end < total,
	}, nil
}

func (s *DeliveryLogStore) Count(_ context.Context, filter core.DeliveryLogFilter) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("memory: delivery log store is nil")
	}
	return len(s.filter(filter)), nil
}

func (s *DeliveryLogStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("memory: delivery log store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, entry := range s.entries {
		if entry.DateTriggered.Before(cutoff) {
			delete(s.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *DeliveryLogStore) filter(filter core.DeliveryLogFilter) []core.DeliveryLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	webhookID := strings.TrimSpace(filter.WebhookID)
	event := strings.TrimSpace(filter.Event)
	var dayAfter time.Time
	if filter.DateEnd != nil {
		dayAfter = core.DayAfter(*filter.DateEnd)
	}
	out := make([]core.DeliveryLog, 0, len(s.entries))
	for _, entry := range s.entries {
		if webhookID != "" && entry.WebhookID != webhookID {
			continue
		}
		if event != "" && entry.Event != event {
			continue
		}
		if filter.HTTPResponse != 0 && entry.HTTPResponse != filter.HTTPResponse {
			continue
		}
		if filter.DateStart != nil && entry.DateTriggered.Before(*filter.DateStart) {
			continue
		}
		if filter.DateEnd != nil && !entry.DateTriggered.Before(dayAfter) {
			continue
		}
		out = append(out, cloneLog(entry))
	}
	return out
}

func (s *DeliveryLogStore) decorate(ctx context.Context, entry core.DeliveryLog) core.DeliveryLog {
	if s.Webhooks == nil || entry.WebhookID == "" {
		return entry
	}
	hook, ok, err := s.Webhooks.Get(ctx, entry.WebhookID)
	if err != nil || !ok {
		return entry
	}
	entry.Callback = hook.Callback
	entry.Method = hook.Method
	return entry
}

func cloneLog(entry core.DeliveryLog) core.DeliveryLog {
	entry.Fields = append([]byte(nil), entry.Fields...)
	if entry.DateLastRetry != nil {
		retried := *entry.DateLastRetry
		entry.DateLastRetry = &retried
	}
	return entry
}
