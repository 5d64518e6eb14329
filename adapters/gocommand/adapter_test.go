package gocommand

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

type pingMessage struct {
	Callback string
}

func (pingMessage) Type() string { return "webhooks.test.ping" }

type untypedMessage struct{}

func (untypedMessage) Type() string { return "  " }

type rejectedMessage struct{}

func (rejectedMessage) Type() string { return "webhooks.test.rejected" }

func (rejectedMessage) Validate() error { return errors.New("callback is required") }

type mirroredMessage struct{}

func (mirroredMessage) Type() string { return "webhooks.test.mirrored" }

type sizeQuery struct{}

func (sizeQuery) Type() string { return "webhooks.test.size" }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(pingMessage{}); err != nil {
		t.Fatalf("expected ping message to be valid, got %v", err)
	}
	if err := ValidateMessageContract(untypedMessage{}); err == nil {
		t.Fatalf("expected blank type to fail")
	}
	if err := ValidateMessageContract(rejectedMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to surface")
	}
}

func TestRegisterCommandDispatches(t *testing.T) {
	adapter := NewRegistryAdapter(nil)
	var got []string
	cmd := command.CommandFunc[pingMessage](func(_ context.Context, msg pingMessage) error {
		got = append(got, msg.Callback)
		return nil
	})

	sub, err := RegisterCommand(adapter, cmd)
	if err != nil {
		t.Fatalf("register command: %v", err)
	}
	defer sub.Unsubscribe()

	resolverRuns := 0
	if err := adapter.AddResolver("audit", func(any, command.CommandMeta, *command.Registry) error {
		resolverRuns++
		return nil
	}); err != nil {
		t.Fatalf("add resolver: %v", err)
	}
	if !adapter.HasResolver(" audit ") {
		t.Fatalf("expected resolver lookup to ignore surrounding space")
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if resolverRuns != 1 {
		t.Fatalf("expected resolver to run once, got %d", resolverRuns)
	}

	if err := Dispatch(context.Background(), pingMessage{Callback: "https://a.test"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(got) != 1 || got[0] != "https://a.test" {
		t.Fatalf("unexpected deliveries %v", got)
	}
	if types := adapter.Types(); len(types) != 1 || types[0] != "webhooks.test.ping" {
		t.Fatalf("unexpected registered types %v", types)
	}
}

func TestRegisterCommandRejectsDuplicatesAndUntyped(t *testing.T) {
	adapter := NewRegistryAdapter(nil)
	cmd := command.CommandFunc[mirroredMessage](func(context.Context, mirroredMessage) error { return nil })
	sub, err := RegisterCommand(adapter, cmd)
	if err != nil {
		t.Fatalf("register command: %v", err)
	}
	defer sub.Unsubscribe()

	if _, err := RegisterCommand(adapter, cmd); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}

	untyped := command.CommandFunc[untypedMessage](func(context.Context, untypedMessage) error { return nil })
	if _, err := RegisterCommand(adapter, untyped); err == nil {
		t.Fatalf("expected untyped message to fail")
	}
}

func TestRegisterQueryReturnsResult(t *testing.T) {
	adapter := NewRegistryAdapter(nil)
	qry := command.QueryFunc[sizeQuery, int](func(context.Context, sizeQuery) (int, error) {
		return 3, nil
	})
	sub, err := RegisterQuery(adapter, qry)
	if err != nil {
		t.Fatalf("register query: %v", err)
	}
	defer sub.Unsubscribe()

	size, err := Query[sizeQuery, int](context.Background(), sizeQuery{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if size != 3 {
		t.Fatalf("expected 3, got %d", size)
	}
}

func TestMirrorToQueue(t *testing.T) {
	adapter := NewRegistryAdapter(nil)
	if err := adapter.MirrorToQueue(nil); err == nil {
		t.Fatalf("expected nil queue registry to fail")
	}

	queueRegistry := jobqueuecommand.NewRegistry()
	if err := adapter.MirrorToQueue(queueRegistry); err != nil {
		t.Fatalf("mirror to queue: %v", err)
	}
	if !adapter.HasResolver(QueueResolverKey) {
		t.Fatalf("expected queue resolver to be registered")
	}
	sub, err := RegisterCommand(adapter, command.CommandFunc[mirroredMessage](func(context.Context, mirroredMessage) error { return nil }))
	if err != nil {
		t.Fatalf("register command: %v", err)
	}
	defer sub.Unsubscribe()
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, ok := queueRegistry.Get("webhooks.test.mirrored"); !ok {
		t.Fatalf("expected command to be mirrored into the queue registry")
	}
}

func TestNilAdapter(t *testing.T) {
	var adapter *RegistryAdapter
	if adapter.Registry() != nil || adapter.HasResolver("x") || adapter.Types() != nil {
		t.Fatalf("expected nil adapter accessors to be empty")
	}
	if err := adapter.Initialize(); err == nil {
		t.Fatalf("expected nil adapter initialize to fail")
	}
}
