// Package migrations exposes the embedded webhook schema to go-persistence-bun
// migration runners, one filesystem per SQL dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strings"

	webhooks "github.com/goliatone/go-webhooks"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	DefaultSourceLabel = "go-webhooks"

	rootPath = "data/sql/migrations"
)

// SchemaTables lists the tables every dialect's up migrations must create.
var SchemaTables = []string{"webhooks", "webhook_events", "webhook_fields", "log_webhooks"}

var createTablePattern = regexp.MustCompile(`(?i)create\s+table\s+(?:if\s+not\s+exists\s+)?"?([a-z0-9_]+)"?`)

// FilesystemSpec is the migration tree of one dialect.
type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type Registration struct {
	SourceLabel       string
	ValidationTargets []string
	Filesystems       []FilesystemSpec
}

// Dialects returns the dialects that were handed to the register function.
func (r Registration) Dialects() []string {
	out := make([]string, 0, len(r.Filesystems))
	for _, fsys := range r.Filesystems {
		if slices.Contains(r.ValidationTargets, fsys.Dialect) {
			out = append(out, fsys.Dialect)
		}
	}
	return out
}

// RegisterFunc matches the persistence client's RegisterDialectMigrations shape.
type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

func WithSourceLabel(label string) Option {
	return func(r *Registration) {
		if label = strings.TrimSpace(label); label != "" {
			r.SourceLabel = label
		}
	}
}

// WithValidationTargets restricts registration to the named dialects.
// Blank names are ignored; an all-blank list keeps the defaults.
func WithValidationTargets(targets ...string) Option {
	return func(r *Registration) {
		if next := normalizeDialects(targets); len(next) > 0 {
			r.ValidationTargets = next
		}
	}
}

// WithFilesystems replaces the embedded trees, typically with a host's own
// migration directory.
func WithFilesystems(filesystems ...FilesystemSpec) Option {
	return func(r *Registration) {
		next := make([]FilesystemSpec, 0, len(filesystems))
		for _, fsys := range filesystems {
			dialect := strings.ToLower(strings.TrimSpace(fsys.Dialect))
			if dialect == "" || fsys.FS == nil {
				continue
			}
			next = append(next, FilesystemSpec{Dialect: dialect, Path: fsys.Path, FS: fsys.FS})
		}
		if len(next) > 0 {
			r.Filesystems = next
		}
	}
}

// Filesystems splits the migration tree into its postgres root and sqlite
// subdirectory. The embedded tree is used unless a source is given.
func Filesystems(sources ...fs.FS) ([]FilesystemSpec, error) {
	root := webhooks.GetMigrationsFS()
	if len(sources) > 0 && sources[0] != nil {
		root = sources[0]
	}

	postgres, postgresPath, err := locateRoot(root)
	if err != nil {
		return nil, err
	}
	sqlitePath := "sqlite"
	if postgresPath != "." {
		sqlitePath = postgresPath + "/sqlite"
	}
	sqlite, err := fs.Sub(postgres, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: sqlite tree: %w", err)
	}

	out := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: postgresPath, FS: postgres},
		{Dialect: DialectSQLite, Path: sqlitePath, FS: sqlite},
	}
	for _, spec := range out {
		if err := CheckSchema(spec); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CheckSchema verifies that spec holds up migrations creating every table in
// SchemaTables.
func CheckSchema(spec FilesystemSpec) error {
	files, err := fs.Glob(spec.FS, "*.up.sql")
	if err != nil {
		return fmt.Errorf("migrations: %s %q: %w", spec.Dialect, spec.Path, err)
	}
	if len(files) == 0 {
		return fmt.Errorf("migrations: %s %q has no *.up.sql files", spec.Dialect, spec.Path)
	}

	created := map[string]bool{}
	for _, name := range files {
		content, err := fs.ReadFile(spec.FS, name)
		if err != nil {
			return fmt.Errorf("migrations: read %s/%s: %w", spec.Path, name, err)
		}
		for _, match := range createTablePattern.FindAllStringSubmatch(string(content), -1) {
			created[strings.ToLower(match[1])] = true
		}
	}
	missing := []string{}
	for _, table := range SchemaTables {
		if !created[table] {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("migrations: %s %q does not create tables %s", spec.Dialect, spec.Path, strings.Join(missing, ", "))
	}
	return nil
}

// Register hands each targeted dialect tree to registerFn.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel:       DefaultSourceLabel,
		ValidationTargets: []string{DialectPostgres, DialectSQLite},
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}

	filesystems, err := Filesystems()
	if err != nil {
		return reg, err
	}
	reg.Filesystems = filesystems
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}

	matched := 0
	for _, fsys := range reg.Filesystems {
		if !slices.Contains(reg.ValidationTargets, fsys.Dialect) {
			continue
		}
		matched++
		if err := registerFn(ctx, fsys.Dialect, reg.SourceLabel, fsys.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", fsys.Dialect, fsys.Path, err)
		}
	}
	if matched == 0 {
		return reg, fmt.Errorf("migrations: no migrations for dialects %v", reg.ValidationTargets)
	}
	return reg, nil
}

func locateRoot(root fs.FS) (fs.FS, string, error) {
	if sub, err := fs.Sub(root, rootPath); err == nil {
		if _, statErr := fs.Stat(sub, "."); statErr == nil {
			return sub, rootPath, nil
		}
	}
	// a tree handed in directly may already be the migrations directory
	if files, _ := fs.Glob(root, "*.sql"); len(files) > 0 {
		return root, ".", nil
	}
	return nil, "", fmt.Errorf("migrations: %s not found", rootPath)
}

func normalizeDialects(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value != "" && !slices.Contains(out, value) {
			out = append(out, value)
		}
	}
	return out
}
