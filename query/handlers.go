package query

import (
	"context"

	"github.com/goliatone/go-webhooks/core"
)

type DeliveryLogReader interface {
	Get(ctx context.Context, id string) (core.DeliveryLog, error)
	ListAll(ctx context.Context, filter core.DeliveryLogFilter, page core.PageRequest) (core.DeliveryLogPage, error)
	ListByWebhook(ctx context.Context, webhookID string, page core.PageRequest) (core.DeliveryLogPage, error)
}

type EventLister interface {
	ListEvents(ctx context.Context, companyID string) ([]string, error)
}

type GetDeliveryLogQuery struct {
	reader DeliveryLogReader
}

func NewGetDeliveryLogQuery(reader DeliveryLogReader) *GetDeliveryLogQuery {
	return &GetDeliveryLogQuery{reader: reader}
}

func (q *GetDeliveryLogQuery) Query(ctx context.Context, msg GetDeliveryLogMessage) (core.DeliveryLog, error) {
	if q == nil || q.reader == nil {
		return core.DeliveryLog{}, queryDependencyError("query: delivery log reader is required")
	}
	return q.reader.Get(ctx, msg.LogID)
}

type ListDeliveryLogsQuery struct {
	reader DeliveryLogReader
}

func NewListDeliveryLogsQuery(reader DeliveryLogReader) *ListDeliveryLogsQuery {
	return &ListDeliveryLogsQuery{reader: reader}
}

func (q *ListDeliveryLogsQuery) Query(ctx context.Context, msg ListDeliveryLogsMessage) (core.DeliveryLogPage, error) {
	if q == nil || q.reader == nil {
		return core.DeliveryLogPage{}, queryDependencyError("query: delivery log reader is required")
	}
	return q.reader.ListAll(ctx, msg.Filter, msg.Page)
}

type ListWebhookDeliveryLogsQuery struct {
	reader DeliveryLogReader
}

func NewListWebhookDeliveryLogsQuery(reader DeliveryLogReader) *ListWebhookDeliveryLogsQuery {
	return &ListWebhookDeliveryLogsQuery{reader: reader}
}

func (q *ListWebhookDeliveryLogsQuery) Query(
	ctx context.Context,
	msg ListWebhookDeliveryLogsMessage,
) (core.DeliveryLogPage, error) {
	if q == nil || q.reader == nil {
		return core.DeliveryLogPage{}, queryDependencyError("query: delivery log reader is required")
	}
	return q.reader.ListByWebhook(ctx, msg.WebhookID, msg.Page)
}

type ListEventsQuery struct {
	events EventLister
}

func NewListEventsQuery(events EventLister) *ListEventsQuery {
	return &ListEventsQuery{events: events}
}

func (q *ListEventsQuery) Query(ctx context.Context, msg ListEventsMessage) ([]string, error) {
	if q == nil || q.events == nil {
		return nil, queryDependencyError("query: event registry is required")
	}
	events, err := q.events.ListEvents(ctx, msg.CompanyID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []string{}
	}
	return events, nil
}
