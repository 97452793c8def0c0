// Package catalog tracks the tables a query can scan, together with the
// size estimates the static broadcast pass consults before any stage has
// run. Registration is process-wide; statistics are advisory estimates,
// unlike the exact per-stage measurements taken during execution.
package catalog

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"adaptdb/core"
)

// TableStatistics are pre-execution estimates for a registered table.
// A value of UnknownSize means no estimate is available and the table is
// never eligible for static broadcast.
type TableStatistics struct {
	RowCount  int64
	SizeBytes int64
}

// UnknownSize marks an absent size or row-count estimate.
const UnknownSize int64 = -1

// Table binds a name to its source and optional statistics.
type Table struct {
	Name   string
	Source core.TableSource
	Stats  *TableStatistics
}

// Schema returns the source schema.
func (t *Table) Schema() core.Schema { return t.Source.Schema() }

// Catalog is a concurrency-safe table registry.
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]*Table
	log    *zap.Logger
}

// NewCatalog creates an empty catalog.
func NewCatalog(log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{
		tables: make(map[string]*Table),
		log:    log,
	}
}

// RegisterTable adds a table under the given name. Statistics may be nil
// when no estimates exist.
func (c *Catalog) RegisterTable(name string, source core.TableSource, stats *TableStatistics) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tables[name]; exists {
		return errors.Errorf("table %q is already registered", name)
	}
	c.tables[name] = &Table{Name: name, Source: source, Stats: stats}
	c.log.Debug("registered table",
		zap.String("table", name),
		zap.Int("columns", len(source.Schema())))
	return nil
}

// RegisterParquetTable registers a parquet file under the given name, using
// the file size as the table's size estimate.
func (c *Catalog) RegisterParquetTable(name, path string) error {
	source, err := core.NewParquetTable(path)
	if err != nil {
		return errors.Wrapf(err, "registering table %q", name)
	}
	stats := &TableStatistics{RowCount: UnknownSize, SizeBytes: source.SizeInBytes()}
	return c.RegisterTable(name, source, stats)
}

// Table looks up a registered table by name.
func (c *Catalog) Table(name string) (*Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.tables[name]
	if !ok {
		return nil, errors.Errorf("table %q is not registered", name)
	}
	return t, nil
}

// TableNames lists the registered table names.
func (c *Catalog) TableNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	return names
}

// EstimatedSize returns the registered size estimate for a table, or
// UnknownSize when the table is absent or carries no statistics.
func (c *Catalog) EstimatedSize(name string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.tables[name]
	if !ok || t.Stats == nil {
		return UnknownSize
	}
	return t.Stats.SizeBytes
}
