// Package core holds the webhook domain model, the store and dispatch
// contracts shared by every engine component, configuration, error envelopes
// and the logging/metrics plumbing. Adapters depend on core; core depends on
// no adapter.
package core
