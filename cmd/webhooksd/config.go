package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goliatone/go-webhooks/core"
	"gopkg.in/yaml.v3"
)

// fileConfigLoader reads the raw configuration map from a YAML or JSON file. A
// missing path yields an empty map so defaults and env overrides apply.
type fileConfigLoader struct {
	path string
}

func (l fileConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	path := strings.TrimSpace(l.path)
	if path == "" {
		return map[string]any{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("webhooksd: read config %s: %w", path, err)
	}
	values := map[string]any{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("webhooksd: parse config %s: %w", path, err)
	}
	return values, nil
}

// envOverrides builds the runtime layer from WEBHOOKS_* variables.
func envOverrides() core.Config {
	cfg := core.Config{}
	cfg.Database.Driver = os.Getenv("WEBHOOKS_DB_DRIVER")
	cfg.Database.DSN = os.Getenv("WEBHOOKS_DB_DSN")
	cfg.HTTP.Addr = os.Getenv("WEBHOOKS_HTTP_ADDR")
	return cfg
}
