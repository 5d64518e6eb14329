// Package inbound resolves trigger calls from external systems into
// registered event handlers.
//
// A trigger names an incoming webhook by its callback token. The request is
// decoded according to the webhook's method, passed through the webhook's
// field map and handed to each subscribed event handler in stored order.
// Every processed event leaves one delivery log row.
package inbound
