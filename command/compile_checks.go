package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[DispatchEventMessage]        = (*DispatchEventCommand)(nil)
	_ gocmd.Commander[ReplayDeliveryLogMessage]    = (*ReplayDeliveryLogCommand)(nil)
	_ gocmd.Commander[PurgeDeliveryLogsMessage]    = (*PurgeDeliveryLogsCommand)(nil)
	_ gocmd.Commander[RefreshEventRegistryMessage] = (*RefreshEventRegistryCommand)(nil)
)
