package bus

import (
	"context"
	"errors"
	"testing"
)

func TestMemory_EmitRunsListenersInOrder(t *testing.T) {
	memory := NewMemory()
	var calls []string
	memory.On("Invoice.paid", func(_ context.Context, payload map[string]any) error {
		calls = append(calls, "first")
		payload["mutated"] = true
		return nil
	})
	memory.On("Invoice.paid", func(_ context.Context, payload map[string]any) error {
		calls = append(calls, "second")
		if _, ok := payload["mutated"]; ok {
			t.Fatalf("expected each listener to get its own payload copy")
		}
		return nil
	})
	memory.On("Lead.create", func(context.Context, map[string]any) error {
		calls = append(calls, "other")
		return nil
	})

	if err := memory.Emit(context.Background(), "Invoice.paid", map[string]any{"id": 1}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Fatalf("unexpected listener calls %v", calls)
	}
	if events := memory.Events(); len(events) != 2 || events[0] != "Invoice.paid" {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestMemory_EmitJoinsListenerErrors(t *testing.T) {
	memory := NewMemory()
	boom := errors.New("boom")
	ran := false
	memory.On("Invoice.paid", func(context.Context, map[string]any) error { return boom })
	memory.On("Invoice.paid", func(context.Context, map[string]any) error {
		ran = true
		return nil
	})

	err := memory.Emit(context.Background(), "Invoice.paid", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined listener error, got %v", err)
	}
	if !ran {
		t.Fatalf("expected later listeners to run after a failure")
	}
	if err := memory.Emit(context.Background(), "Unknown.event", nil); err != nil {
		t.Fatalf("expected no error without listeners, got %v", err)
	}
}
