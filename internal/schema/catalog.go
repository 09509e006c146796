package schema

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Catalog lists the schema scripts shipped with the service. The layout is
// <dir>/<keyspace>/baseline/*.cql for table baselines and
// <dir>/<keyspace>/schema_migrations/*.cql for incremental migrations.
type Catalog struct {
	dir    string
	logger *slog.Logger
}

// NewCatalog returns a catalog rooted at dir.
func NewCatalog(dir string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{dir: dir, logger: logger.With("component", "schema-catalog")}
}

// Baselines returns the absolute paths of the baseline scripts for a
// keyspace, sorted by file name. A missing directory yields an empty list.
func (c *Catalog) Baselines(keyspace string) ([]string, error) {
	return c.list(filepath.Join(c.dir, keyspace, "baseline"))
}

// Migrations returns the absolute paths of the migration scripts for a
// keyspace, sorted by file name. A missing directory yields an empty list.
func (c *Catalog) Migrations(keyspace string) ([]string, error) {
	return c.list(filepath.Join(c.dir, keyspace, "schema_migrations"))
}

func (c *Catalog) list(dir string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".cql") {
			c.logger.Info("skipping non-cql file in schema directory", "file", entry.Name(), "dir", abs)
			continue
		}
		paths = append(paths, filepath.Join(abs, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// TableName derives the table a baseline script creates from its file name,
// users.cql describing the users table and so on.
func TableName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".cql")
}
