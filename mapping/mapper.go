package mapping

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-webhooks/core"
)

// MapFields applies a rename table to payload. Renamed leaves are written
// after the untouched leaves, so a rename wins over an unmapped leaf at the
// same path; among renames the later one in traversal order wins. Source
// keys are read from the original payload, so rename chains do not cascade.
func MapFields(payload map[string]any, fields []core.FieldMapping) map[string]any {
	if len(payload) == 0 {
		return map[string]any{}
	}
	flat := Flatten(payload)
	if len(fields) == 0 {
		return Unflatten(flat)
	}

	renames := make(map[string]string, len(fields))
	for _, mapping := range fields {
		field := strings.TrimSpace(mapping.Field)
		parameter := strings.TrimSpace(mapping.Parameter)
		if field == "" || parameter == "" {
			continue
		}
		renames[field] = parameter
	}

	out := make(map[string]any, len(flat))
	for _, path := range Paths(payload) {
		if _, renamed := renames[path]; !renamed {
			out[path] = flat[path]
		}
	}
	for _, path := range Paths(payload) {
		if parameter, renamed := renames[path]; renamed {
			out[parameter] = flat[path]
		}
	}
	return Unflatten(out)
}

// Mapper loads a webhook's field table from the store before mapping.
type Mapper struct {
	store core.WebhookStore
}

func NewMapper(store core.WebhookStore) *Mapper {
	return &Mapper{store: store}
}

func (m *Mapper) MapFields(ctx context.Context, webhookID string, payload map[string]any) (map[string]any, error) {
	if m == nil || m.store == nil {
		return nil, fmt.Errorf("mapping: webhook store is not configured")
	}
	webhook, ok, err := m.store.Get(ctx, strings.TrimSpace(webhookID))
	if err != nil {
		return nil, fmt.Errorf("mapping: load webhook %s: %w", webhookID, err)
	}
	if !ok {
		return nil, core.WebhookNotFoundError(webhookID)
	}
	return MapFields(payload, webhook.Fields), nil
}
