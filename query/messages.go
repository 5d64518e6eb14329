package query

import (
	"strings"

	"github.com/goliatone/go-webhooks/core"
)

const (
	TypeGetDeliveryLog          = "webhooks.query.delivery_log.get"
	TypeListDeliveryLogs        = "webhooks.query.delivery_log.list"
	TypeListWebhookDeliveryLogs = "webhooks.query.delivery_log.list_by_webhook"
	TypeListEvents              = "webhooks.query.events.list"
)

type GetDeliveryLogMessage struct {
	LogID string
}

func (GetDeliveryLogMessage) Type() string { return TypeGetDeliveryLog }

func (m GetDeliveryLogMessage) Validate() error {
	if strings.TrimSpace(m.LogID) == "" {
		return queryValidationError("log_id", "log id is required")
	}
	return nil
}

type ListDeliveryLogsMessage struct {
	Filter core.DeliveryLogFilter
	Page   core.PageRequest
}

func (ListDeliveryLogsMessage) Type() string { return TypeListDeliveryLogs }

func (m ListDeliveryLogsMessage) Validate() error {
	if err := validatePage(m.Page); err != nil {
		return err
	}
	if m.Filter.DateStart != nil && m.Filter.DateEnd != nil && !core.DayAfter(*m.Filter.DateEnd).After(*m.Filter.DateStart) {
		return queryValidationError("date_end", "date_end must not be before date_start")
	}
	return nil
}

type ListWebhookDeliveryLogsMessage struct {
	WebhookID string
	Page      core.PageRequest
}

func (ListWebhookDeliveryLogsMessage) Type() string { return TypeListWebhookDeliveryLogs }

func (m ListWebhookDeliveryLogsMessage) Validate() error {
	if strings.TrimSpace(m.WebhookID) == "" {
		return queryValidationError("webhook_id", "webhook id is required")
	}
	return validatePage(m.Page)
}

type ListEventsMessage struct {
	CompanyID string
}

func (ListEventsMessage) Type() string { return TypeListEvents }

func validatePage(page core.PageRequest) error {
	if page.Page < 0 {
		return queryValidationError("page", "page must be >= 0")
	}
	if page.PerPage < 0 {
		return queryValidationError("per_page", "per_page must be >= 0")
	}
	return nil
}
