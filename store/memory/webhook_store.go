package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-webhooks/core"
	"github.com/google/uuid"
)

type WebhookStore struct {
	mu    sync.RWMutex
	hooks map[string]core.Webhook
	order []string
}

func NewWebhookStore(hooks ...core.Webhook) *WebhookStore {
	store := &WebhookStore{hooks: map[string]core.Webhook{}}
	for _, hook := range hooks {
		_, _ = store.SaveWebhook(context.Background(), hook)
	}
	return store
}

func (s *WebhookStore) SaveWebhook(_ context.Context, webhook core.Webhook) (core.Webhook, error) {
	if s == nil {
		return core.Webhook{}, fmt.Errorf("memory: webhook store is nil")
	}
	if strings.TrimSpace(webhook.ID) == "" {
		webhook.ID = uuid.NewString()
	}
	if err := webhook.Validate(); err != nil {
		return core.Webhook{}, err
	}
	webhook = cloneWebhook(webhook)

	s.mu.Lock()
	defer s.mu.Unlock()
	if webhook.Type == core.WebhookTypeIncoming {
		for id, existing := range s.hooks {
			if id != webhook.ID &&
				existing.Type == core.WebhookTypeIncoming &&
				existing.CompanyID == webhook.CompanyID &&
				existing.Callback == webhook.Callback {
				return core.Webhook{}, fmt.Errorf("memory: incoming callback %q already exists", webhook.Callback)
			}
		}
	}
	if _, exists := s.hooks[webhook.ID]; !exists {
		s.order = append(s.order, webhook.ID)
	}
	s.hooks[webhook.ID] = webhook
	return cloneWebhook(webhook), nil
}

func (s *WebhookStore) Delete(_ context.Context, id string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hooks, id)
	for idx, candidate := range s.order {
		if candidate == id {
			s.order = append(s.order[:idx], s.order[idx+1:]...)
			break
		}
	}
}

func (s *WebhookStore) Get(_ context.Context, id string) (core.Webhook, bool, error) {
	if s == nil {
		return core.Webhook{}, false, fmt.Errorf("memory: webhook store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	hook, ok := s.hooks[strings.TrimSpace(id)]
	if !ok {
		return core.Webhook{}, false, nil
	}
	return cloneWebhook(hook), true, nil
}

func (s *WebhookStore) GetByCallback(_ context.Context, companyID string, callback string, webhookType core.WebhookType) (core.Webhook, bool, error) {
	if s == nil {
		return core.Webhook{}, false, fmt.Errorf("memory: webhook store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		hook := s.hooks[id]
		if hook.CompanyID == companyID && hook.Type == webhookType && hook.Callback == callback {
			return cloneWebhook(hook), true, nil
		}
	}
	return core.Webhook{}, false, nil
}

// ListByType returns webhooks in insertion order, which is the order
// dispatch attempts them in.
func (s *WebhookStore) ListByType(_ context.Context, webhookType core.WebhookType, companyID string) ([]core.Webhook, error) {
	if s == nil {
		return nil, fmt.Errorf("memory: webhook store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Webhook, 0, len(s.order))
	for _, id := range s.order {
		hook := s.hooks[id]
		if hook.Type == webhookType && hook.CompanyID == companyID {
			out = append(out, cloneWebhook(hook))
		}
	}
	return out, nil
}

func (s *WebhookStore) Count() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hooks)
}

func cloneWebhook(hook core.Webhook) core.Webhook {
	hook.Events = append([]string(nil), hook.Events...)
	hook.Fields = append([]core.FieldMapping(nil), hook.Fields...)
	return hook
}
