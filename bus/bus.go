// Package bus is the host event bus contract the engine subscribes its
// dispatch listener to, plus an in-memory implementation.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ListenerFunc receives one fired event.
type ListenerFunc func(ctx context.Context, payload map[string]any) error

// EventBus is the subscription side of a host event bus.
type EventBus interface {
	On(event string, fn ListenerFunc)
}

// Memory fans emitted events out to listeners in registration order.
type Memory struct {
	mu        sync.RWMutex
	listeners map[string][]ListenerFunc
}

func NewMemory() *Memory {
	return &Memory{listeners: map[string][]ListenerFunc{}}
}

func (m *Memory) On(event string, fn ListenerFunc) {
	event = strings.TrimSpace(event)
	if m == nil || event == "" || fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[event] = append(m.listeners[event], fn)
}

// Emit runs every listener of event. Listener failures do not stop the
// remaining listeners and are returned joined.
func (m *Memory) Emit(ctx context.Context, event string, payload map[string]any) error {
	if m == nil {
		return nil
	}
	event = strings.TrimSpace(event)
	var errs []error
	for idx, fn := range m.snapshot(event) {
		if err := fn(ctx, copyPayload(payload)); err != nil {
			errs = append(errs, fmt.Errorf("bus: listener %d for %q failed: %w", idx, event, err))
		}
	}
	return errors.Join(errs...)
}

// Events lists the events with at least one listener.
func (m *Memory) Events() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.listeners))
	for event := range m.listeners {
		out = append(out, event)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) snapshot(event string) []ListenerFunc {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ListenerFunc(nil), m.listeners[event]...)
}

func copyPayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		out[key] = value
	}
	return out
}

var _ EventBus = (*Memory)(nil)
