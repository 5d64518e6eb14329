package sqlstore

import "github.com/goliatone/go-webhooks/core"

var (
	_ core.WebhookStore     = (*WebhookStore)(nil)
	_ core.WebhookWriter    = (*WebhookStore)(nil)
	_ core.DeliveryLogStore = (*DeliveryLogStore)(nil)
	_ SavingWebhookStore    = (*CachedWebhookStore)(nil)
)
