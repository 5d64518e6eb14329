package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/goliatone/go-webhooks/core"
)

// ReservedMethod is the invocation entry point of an observer and is never
// enumerated as an event.
const ReservedMethod = "triggerEvent"

// Observer exposes the event methods of one handler unit.
type Observer interface {
	Name() string
	Methods() []string
	Invoke(ctx context.Context, method string, payload map[string]any) (any, error)
}

// Loader produces an observer during discovery. A loader error or panic is
// reported for that unit only.
type Loader func(ctx context.Context) (Observer, error)

// Static wraps an already built observer.
func Static(observer Observer) Loader {
	return func(context.Context) (Observer, error) {
		return observer, nil
	}
}

type methodObserver struct {
	name    string
	methods map[string]core.HandlerFunc
}

// Observe builds an observer from a method table.
func Observe(name string, methods map[string]core.HandlerFunc) Observer {
	table := make(map[string]core.HandlerFunc, len(methods))
	for method, fn := range methods {
		if trimmed := strings.TrimSpace(method); trimmed != "" && fn != nil {
			table[trimmed] = fn
		}
	}
	return &methodObserver{name: strings.TrimSpace(name), methods: table}
}

func (o *methodObserver) Name() string {
	return o.name
}

func (o *methodObserver) Methods() []string {
	methods := make([]string, 0, len(o.methods))
	for method := range o.methods {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}

func (o *methodObserver) Invoke(ctx context.Context, method string, payload map[string]any) (any, error) {
	fn, ok := o.methods[method]
	if !ok {
		return nil, fmt.Errorf("registry: observer %s has no method %s", o.name, method)
	}
	return fn(ctx, payload)
}

// HandlerName derives the event prefix for an observer. A trailing
// "Observer" is dropped so InvoiceObserver publishes Invoice.* events.
func HandlerName(observerName string) string {
	name := strings.TrimSpace(observerName)
	if idx := strings.LastIndexAny(name, `\/`); idx >= 0 {
		name = name[idx+1:]
	}
	if trimmed := strings.TrimSuffix(name, "Observer"); trimmed != "" {
		name = trimmed
	}
	return name
}

func isEnumerable(method string) bool {
	method = strings.TrimSpace(method)
	return method != "" && !strings.EqualFold(method, ReservedMethod)
}

type boundHandler struct {
	observer Observer
	method   string
}

func (h boundHandler) Invoke(ctx context.Context, payload map[string]any) (any, error) {
	return h.observer.Invoke(ctx, h.method, payload)
}
