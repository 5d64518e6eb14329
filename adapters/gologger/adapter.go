package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-webhooks/core"
)

// Bridge carries one resolved logger in the shapes the engine components and
// the go-job runtime expect.
type Bridge struct {
	Name        string
	Provider    glog.LoggerProvider
	Logger      glog.Logger
	JobProvider job.LoggerProvider
	JobLogger   job.Logger
}

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// NewBridge resolves name and wraps the result for go-job.
func NewBridge(name string, provider glog.LoggerProvider, logger glog.Logger) Bridge {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "webhooks"
	}
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return Bridge{
		Name:        name,
		Provider:    resolvedProvider,
		Logger:      resolvedLogger,
		JobProvider: ToJobProvider(resolvedProvider),
		JobLogger:   ToJobLogger(resolvedLogger),
	}
}

// Telemetry returns a telemetry bundle for component, named
// "<bridge>.<component>" through the bridged provider.
func (b Bridge) Telemetry(component string, metrics core.MetricsRecorder) core.Telemetry {
	name := b.Name
	if component = strings.TrimSpace(component); component != "" {
		name = name + "." + component
	}
	return core.NewTelemetry(name, b.Provider, b.Logger, metrics)
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}
