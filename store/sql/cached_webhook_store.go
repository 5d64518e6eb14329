package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-webhooks/core"
)

const webhookCacheKeyPrefix = "go-webhooks::webhook::v1"

// SavingWebhookStore is a webhook store that also accepts writes.
type SavingWebhookStore interface {
	core.WebhookStore
	core.WebhookWriter
}

// CachedWebhookStore serves webhook reads from a cache service and
// invalidates the affected keys on every write through it.
type CachedWebhookStore struct {
	base  SavingWebhookStore
	cache repositorycache.CacheService
}

// cachedWebhook keeps lookups that miss distinguishable from cached hits.
type cachedWebhook struct {
	Webhook core.Webhook
	Found   bool
}

func NewCachedWebhookStore(base SavingWebhookStore, cacheService repositorycache.CacheService) (*CachedWebhookStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base webhook store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: webhook cache service is required")
	}
	return &CachedWebhookStore{base: base, cache: cacheService}, nil
}

// WebhookCacheKey builds go-webhooks::webhook::v1::<kind>::<segments...>
// with each segment URL-path escaped.
func WebhookCacheKey(kind string, segments ...string) string {
	parts := make([]string, 0, len(segments)+2)
	parts = append(parts, webhookCacheKeyPrefix, url.PathEscape(kind))
	for _, segment := range segments {
		parts = append(parts, url.PathEscape(strings.TrimSpace(segment)))
	}
	return strings.Join(parts, "::")
}

func (s *CachedWebhookStore) Get(ctx context.Context, id string) (core.Webhook, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Webhook{}, false, fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	key := WebhookCacheKey("id", id)
	entry, err := repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (cachedWebhook, error) {
		hook, found, fetchErr := s.base.Get(ctx, id)
		if fetchErr != nil {
			return cachedWebhook{}, fetchErr
		}
		return cachedWebhook{Webhook: cloneWebhook(hook), Found: found}, nil
	})
	if err != nil {
		return core.Webhook{}, false, err
	}
	return cloneWebhook(entry.Webhook), entry.Found, nil
}

func (s *CachedWebhookStore) GetByCallback(
	ctx context.Context,
	companyID string,
	callback string,
	webhookType core.WebhookType,
) (core.Webhook, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Webhook{}, false, fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	key := WebhookCacheKey("callback", companyID, string(webhookType), callback)
	entry, err := repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (cachedWebhook, error) {
		hook, found, fetchErr := s.base.GetByCallback(ctx, companyID, callback, webhookType)
		if fetchErr != nil {
			return cachedWebhook{}, fetchErr
		}
		return cachedWebhook{Webhook: cloneWebhook(hook), Found: found}, nil
	})
	if err != nil {
		return core.Webhook{}, false, err
	}
	return cloneWebhook(entry.Webhook), entry.Found, nil
}

func (s *CachedWebhookStore) ListByType(ctx context.Context, webhookType core.WebhookType, companyID string) ([]core.Webhook, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	key := WebhookCacheKey("list", companyID, string(webhookType))
	hooks, err := repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) ([]core.Webhook, error) {
		fetched, fetchErr := s.base.ListByType(ctx, webhookType, companyID)
		if fetchErr != nil {
			return nil, fetchErr
		}
		return cloneWebhooks(fetched), nil
	})
	if err != nil {
		return nil, err
	}
	return cloneWebhooks(hooks), nil
}

func (s *CachedWebhookStore) SaveWebhook(ctx context.Context, webhook core.Webhook) (core.Webhook, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Webhook{}, fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	var previous *core.Webhook
	if id := strings.TrimSpace(webhook.ID); id != "" {
		current, found, err := s.base.Get(ctx, id)
		if err != nil {
			return core.Webhook{}, err
		}
		if found {
			previous = &current
		}
	}

	saved, err := s.base.SaveWebhook(ctx, webhook)
	if err != nil {
		return core.Webhook{}, err
	}
	if err := s.invalidate(ctx, saved); err != nil {
		return core.Webhook{}, err
	}
	if previous != nil {
		if err := s.invalidate(ctx, *previous); err != nil {
			return core.Webhook{}, err
		}
	}
	return saved, nil
}

func (s *CachedWebhookStore) invalidate(ctx context.Context, hook core.Webhook) error {
	keys := []string{
		WebhookCacheKey("id", hook.ID),
		WebhookCacheKey("callback", hook.CompanyID, string(hook.Type), hook.Callback),
		WebhookCacheKey("list", hook.CompanyID, string(hook.Type)),
	}
	for _, key := range keys {
		if err := s.cache.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func cloneWebhook(hook core.Webhook) core.Webhook {
	hook.Events = append([]string(nil), hook.Events...)
	hook.Fields = append([]core.FieldMapping(nil), hook.Fields...)
	return hook
}

func cloneWebhooks(hooks []core.Webhook) []core.Webhook {
	out := make([]core.Webhook, 0, len(hooks))
	for _, hook := range hooks {
		out = append(out, cloneWebhook(hook))
	}
	return out
}

var (
	_ core.WebhookStore  = (*CachedWebhookStore)(nil)
	_ core.WebhookWriter = (*CachedWebhookStore)(nil)
)
