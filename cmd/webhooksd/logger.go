package main

import (
	"io"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

// newRootLogger builds the daemon's root logger. Component loggers come from
// its GetLogger and carry their name in the "logger" attribute.
func newRootLogger(level, format string, output io.Writer) *glog.BaseLogger {
	opts := []glog.Option{
		glog.WithLevel(normalizeLevel(level)),
		glog.WithWriter(output),
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case glog.LoggerTypeConsole:
		opts = append(opts, glog.WithLoggerTypeConsole())
	case glog.LoggerTypePretty:
		opts = append(opts, glog.WithLoggerTypePretty())
	default:
		opts = append(opts, glog.WithLoggerTypeJSON())
	}
	return glog.NewLogger(opts...)
}

func normalizeLevel(level string) string {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case glog.Trace, glog.Debug, glog.Warn, glog.Error:
		return strings.ToUpper(strings.TrimSpace(level))
	case "WARNING":
		return glog.Warn
	default:
		return glog.Info
	}
}
