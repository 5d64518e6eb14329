// Package mapping reshapes webhook payloads. A payload tree is flattened into
// dotted leaf paths, keys listed in a webhook's field table are renamed, and
// the result is folded back into a tree. Inbound and outbound flows share the
// same mapper.
package mapping
