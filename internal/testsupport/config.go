// Package testsupport provides helpers shared by package tests: temp-dir
// seeded configs, store seeding, and ledger openers.
package testsupport

import (
	"path/filepath"
	"testing"

	"loom/internal/config"
	"loom/internal/store"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StoreFile = filepath.Join(base, "store.json")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.BackupDir = filepath.Join(base, "backups")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Flow.TotalItems = 20
	cfgVal.Flow.BatchSize = 5

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithFlowSize overrides the total item count and batch size.
func WithFlowSize(totalItems, batchSize int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Flow.TotalItems = totalItems
		b.cfg.Flow.BatchSize = batchSize
	}
}

// WithBackupRetention overrides the backup retention count.
func WithBackupRetention(retention int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Flow.BackupRetention = retention
	}
}

// WithoutPreIntegrationBackups disables automatic snapshots before each merge.
func WithoutPreIntegrationBackups() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Flow.BackupBeforeIntegrate = false
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// SeedStore writes a consistent store document with n items to the configured
// store path and returns it.
func SeedStore(t testing.TB, cfg *config.Config, n int) *store.Document {
	t.Helper()

	doc := store.NewDocument()
	for i := 1; i <= n; i++ {
		doc.Items = append(doc.Items, store.Item{
			ID:         store.ItemID(i),
			Category:   "networking",
			Difficulty: "easy",
			Type:       "multiple_choice",
			Prompt:     "seed prompt",
			Options:    []string{"a", "b", "c", "d"},
			Answer:     "a",
		})
	}
	doc.Recount()
	if err := store.Save(cfg.Paths.StoreFile, doc); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return doc
}
