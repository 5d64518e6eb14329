// Package transport builds and sends outbound webhook HTTP requests.
package transport
