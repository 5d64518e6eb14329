package command

import (
	"strings"
	"time"

	"github.com/goliatone/go-webhooks/core"
)

const (
	TypeDispatchEvent        = "webhooks.command.event.dispatch"
	TypeReplayDeliveryLog    = "webhooks.command.delivery_log.replay"
	TypePurgeDeliveryLogs    = "webhooks.command.delivery_log.purge"
	TypeRefreshEventRegistry = "webhooks.command.registry.refresh"
)

type DispatchEventMessage struct {
	Request core.DispatchRequest
}

func (DispatchEventMessage) Type() string { return TypeDispatchEvent }

func (m DispatchEventMessage) Validate() error {
	if strings.TrimSpace(m.Request.Event) == "" {
		return commandValidationError("event", "event is required")
	}
	if _, _, err := core.SplitEventName(m.Request.Event); err != nil {
		return commandWrapValidation(err, "command: invalid event name")
	}
	return nil
}

type ReplayDeliveryLogMessage struct {
	LogID   string
	StaffID string
}

func (ReplayDeliveryLogMessage) Type() string { return TypeReplayDeliveryLog }

func (m ReplayDeliveryLogMessage) Validate() error {
	if strings.TrimSpace(m.LogID) == "" {
		return commandValidationError("log_id", "log id is required")
	}
	return nil
}

// PurgeDeliveryLogsMessage deletes logs triggered before Cutoff, or before
// now minus MaxAgeDays when Cutoff is zero.
type PurgeDeliveryLogsMessage struct {
	Cutoff     time.Time
	MaxAgeDays int
}

func (PurgeDeliveryLogsMessage) Type() string { return TypePurgeDeliveryLogs }

func (m PurgeDeliveryLogsMessage) Validate() error {
	if m.Cutoff.IsZero() && m.MaxAgeDays <= 0 {
		return commandValidationError("max_age_days", "cutoff or a positive max age is required")
	}
	return nil
}

func (m PurgeDeliveryLogsMessage) ResolveCutoff(now time.Time) time.Time {
	if !m.Cutoff.IsZero() {
		return m.Cutoff.UTC()
	}
	return now.UTC().Add(-time.Duration(m.MaxAgeDays) * 24 * time.Hour)
}

type RefreshEventRegistryMessage struct {
	CompanyID string
}

func (RefreshEventRegistryMessage) Type() string { return TypeRefreshEventRegistry }
