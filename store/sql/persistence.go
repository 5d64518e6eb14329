package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-webhooks/core"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// PersistenceConfig adapts core.DatabaseConfig to the persistence client.
type PersistenceConfig struct {
	Database    core.DatabaseConfig
	ServiceName string
}

func (c PersistenceConfig) GetDebug() bool {
	return c.Database.Debug
}

func (c PersistenceConfig) GetDriver() string {
	driver, _ := driverName(c.Database.Driver)
	return driver
}

func (c PersistenceConfig) GetServer() string {
	return c.Database.DSN
}

func (c PersistenceConfig) GetPingTimeout() time.Duration {
	if c.Database.PingTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Database.PingTimeoutSeconds) * time.Second
}

func (c PersistenceConfig) GetOtelIdentifier() string {
	if name := strings.TrimSpace(c.ServiceName); name != "" {
		return name
	}
	return "go-webhooks"
}

// Dialect returns the migration dialect name for the configured driver.
func (c PersistenceConfig) Dialect() string {
	_, dialect := driverName(c.Database.Driver)
	return dialect
}

// OpenPersistence opens the configured database and wraps it in a
// persistence client. Migrations are registered by the caller.
func OpenPersistence(cfg PersistenceConfig) (*persistence.Client, error) {
	driver, dialectName := driverName(cfg.Database.Driver)
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, fmt.Errorf("sqlstore: database dsn is required")
	}
	sqlDB, err := sql.Open(driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}

	var dialect schema.Dialect
	switch dialectName {
	case "postgres":
		dialect = pgdialect.New()
	default:
		// sqlite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
		dialect = sqlitedialect.New()
	}

	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}
	return client, nil
}

func driverName(driver string) (sqlDriver string, dialect string) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pg":
		return "postgres", "postgres"
	default:
		return "sqlite3", "sqlite"
	}
}
