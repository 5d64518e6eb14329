package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-webhooks/core"
)

var (
	_ gocmd.Querier[GetDeliveryLogMessage, core.DeliveryLog]              = (*GetDeliveryLogQuery)(nil)
	_ gocmd.Querier[ListDeliveryLogsMessage, core.DeliveryLogPage]        = (*ListDeliveryLogsQuery)(nil)
	_ gocmd.Querier[ListWebhookDeliveryLogsMessage, core.DeliveryLogPage] = (*ListWebhookDeliveryLogsQuery)(nil)
	_ gocmd.Querier[ListEventsMessage, []string]                          = (*ListEventsQuery)(nil)
)
