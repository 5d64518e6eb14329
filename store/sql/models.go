package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type webhookRecord struct {
	bun.BaseModel `bun:"table:webhooks,alias:wh"`

	ID        string    `bun:"id,pk"`
	CompanyID string    `bun:"company_id,notnull"`
	Callback  string    `bun:"callback,notnull"`
	Type      string    `bun:"type,notnull"`
	Method    string    `bun:"method,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type webhookEventRecord struct {
	bun.BaseModel `bun:"table:webhook_events,alias:whe"`

	WebhookID string `bun:"webhook_id,pk"`
	Event     string `bun:"event,pk"`
	SortOrder int    `bun:"sort_order,notnull"`
}

type webhookFieldRecord struct {
	bun.BaseModel `bun:"table:webhook_fields,alias:whf"`

	WebhookID string `bun:"webhook_id,pk"`
	Field     string `bun:"field,pk"`
	Parameter string `bun:"parameter,notnull"`
	SortOrder int    `bun:"sort_order,notnull"`
}

type deliveryLogRecord struct {
	bun.BaseModel `bun:"table:log_webhooks,alias:lw"`

	ID            string     `bun:"id,pk"`
	StaffID       string     `bun:"staff_id,notnull"`
	WebhookID     string     `bun:"webhook_id,notnull"`
	Type          string     `bun:"type,notnull"`
	Event         string     `bun:"event,notnull"`
	Fields        string     `bun:"fields,notnull"`
	Response      string     `bun:"response,notnull"`
	HTTPResponse  int        `bun:"http_response,notnull"`
	DateTriggered time.Time  `bun:"date_triggered,notnull"`
	DateLastRetry *time.Time `bun:"date_last_retry,nullzero"`
}
