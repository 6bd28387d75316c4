// Package integrate merges a batch of generated items into the canonical
// store transactionally: snapshot first, merge in memory, validate the merged
// document, and only then commit it to disk. An invalid merge never touches
// the live file.
package integrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"loom/internal/backup"
	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/services"
	"loom/internal/store"
)

// Result reports what one integration did to the store.
type Result struct {
	Success           bool
	BatchNumber       int
	ItemsAdded        int
	NewTotal          int
	NewIDs            []string
	UpdatedCategories map[string]int
	UpdatedDifficulty map[string]int
	UpdatedTypes      map[string]int
	ValidationValid   bool
	ValidationIssues  []string
	BackupID          string
	RollbackAvailable bool
	Elapsed           time.Duration
}

// Manager performs batch integrations against a single store file.
type Manager struct {
	storePath string
	backups   *backup.Manager
	logger    *slog.Logger
}

// NewManager builds an integration manager from config.
func NewManager(cfg *config.Config, backups *backup.Manager, logger *slog.Logger) *Manager {
	return &Manager{
		storePath: cfg.Paths.StoreFile,
		backups:   backups,
		logger:    logging.NewComponentLogger(logger, "integrate"),
	}
}

// Integrate merges items into the store as batch batchNumber. When
// createBackup is set and the store already exists, a pre-integration
// snapshot is taken first. The merged document is validated in memory before
// anything is written: a failed validation rejects the batch and leaves the
// live file byte-identical to its pre-call state.
func (m *Manager) Integrate(ctx context.Context, batchNumber int, items []store.Item, createBackup bool) (*Result, error) {
	start := time.Now()
	result := &Result{BatchNumber: batchNumber}

	if len(items) == 0 {
		return result, services.Wrap(services.ErrValidation, "integrate", "merge", "no items to integrate", nil)
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	doc, err := store.LoadOrInit(m.storePath)
	if err != nil {
		return result, services.Wrap(services.ErrFatal, "integrate", "load", "load store", err)
	}

	var preBackup *backup.Backup
	if createBackup && len(doc.Items) > 0 {
		preBackup, err = m.backups.Create(backup.ReasonPreIntegration, batchNumber)
		if err != nil {
			return result, services.Wrap(services.ErrFatal, "integrate", "backup", "pre-integration backup", err)
		}
		result.BackupID = preBackup.ID
	}

	// Ids continue the canonical sequence regardless of what the supplier
	// put on the incoming items.
	next := doc.MaxItemOrdinal()
	for _, item := range items {
		next++
		item.ID = store.ItemID(next)
		doc.Items = append(doc.Items, item)
		result.NewIDs = append(result.NewIDs, item.ID)
	}
	doc.Recount()

	// Validate before committing: no reader can ever observe an invalid
	// store, even if the process dies right after the check.
	valid, issues := store.Validate(doc)
	result.ValidationValid = valid
	result.ValidationIssues = issues
	if !valid {
		result.RollbackAvailable = preBackup != nil
		m.logger.Error("integration rejected, store unchanged",
			logging.Args(
				logging.Int(logging.FieldBatch, batchNumber),
				logging.Int("issues", len(issues)),
			)...)
		return result, services.Wrap(services.ErrValidation, "integrate", "validate",
			fmt.Sprintf("merged store failed validation with %d issues", len(issues)), nil)
	}

	if err := store.Save(m.storePath, doc); err != nil {
		return result, services.Wrap(services.ErrFatal, "integrate", "save", "save merged store", err)
	}

	result.Success = true
	result.ItemsAdded = len(items)
	result.NewTotal = doc.TotalCount
	result.UpdatedCategories = doc.Categories
	result.UpdatedDifficulty = doc.Difficulty
	result.UpdatedTypes = doc.Types
	result.Elapsed = time.Since(start)

	m.logger.Info("batch integrated",
		logging.Args(
			logging.Int(logging.FieldBatch, batchNumber),
			logging.Int("items_added", result.ItemsAdded),
			logging.Int("new_total", result.NewTotal),
			logging.Duration(logging.FieldDuration, result.Elapsed),
		)...)
	return result, nil
}
