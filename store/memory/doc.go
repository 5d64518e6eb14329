// Package memory provides in-process webhook and delivery log stores for
// hosts without a database and for tests.
package memory
