// Package outbound delivers fired events to the outgoing webhooks that
// subscribe to them and records every attempt in the delivery log.
package outbound
