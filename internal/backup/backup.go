// Package backup manages timestamped snapshots of the canonical store:
// creation with checksum metadata, verified restore, restore-by-id with a
// safety snapshot of the current state, and retention pruning.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"loom/internal/config"
	"loom/internal/fileutil"
	"loom/internal/logging"
	"loom/internal/store"
)

const (
	backupPrefix = "store_backup_"
	metaSuffix   = ".meta.json"

	// ReasonPreIntegration tags snapshots taken before a batch is merged.
	ReasonPreIntegration = "pre-integration"
	// ReasonSafety tags snapshots of the live store taken before a restore.
	ReasonSafety = "safety"
	// ReasonManual tags operator-requested snapshots.
	ReasonManual = "manual"
)

// Backup describes one snapshot of the store.
type Backup struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	Reason    string    `json:"reason"`
	Batch     int       `json:"batch,omitempty"`
	Checksum  string    `json:"checksum"`
	SizeBytes int64     `json:"size_bytes"`
	ItemCount int       `json:"item_count"`
}

// Manager creates and restores store snapshots under a single backup
// directory.
type Manager struct {
	storePath string
	dir       string
	retention int
	logger    *slog.Logger

	now func() time.Time
}

// Option customizes manager construction.
type Option func(*Manager)

// WithClock overrides the timestamp source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager builds a backup manager from config.
func NewManager(cfg *config.Config, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		storePath: cfg.Paths.StoreFile,
		dir:       cfg.Paths.BackupDir,
		retention: cfg.Flow.BackupRetention,
		logger:    logging.NewComponentLogger(logger, "backup"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create snapshots the current store. A missing store file is an error, never
// a silent no-op: callers that tolerate a fresh store must check first.
func (m *Manager) Create(reason string, batch int) (*Backup, error) {
	if _, err := os.Stat(m.storePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("create backup: store %s does not exist: %w", m.storePath, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("create backup: stat store: %w", err)
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	createdAt := m.now().UTC()
	id := m.backupID(createdAt, batch)
	path := filepath.Join(m.dir, id+".json")

	if err := fileutil.CopyFileVerified(m.storePath, path); err != nil {
		return nil, fmt.Errorf("copy store to backup: %w", err)
	}

	checksum, err := fileutil.ChecksumFile(path)
	if err != nil {
		return nil, fmt.Errorf("checksum backup: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat backup: %w", err)
	}

	itemCount := 0
	if doc, err := store.Load(path); err == nil {
		itemCount = len(doc.Items)
	}

	b := &Backup{
		ID:        id,
		Path:      path,
		CreatedAt: createdAt,
		Reason:    strings.TrimSpace(reason),
		Batch:     batch,
		Checksum:  checksum,
		SizeBytes: info.Size(),
		ItemCount: itemCount,
	}
	if err := m.writeMeta(b); err != nil {
		return nil, err
	}

	m.logger.Info("backup created",
		logging.Args(
			logging.String("backup_id", b.ID),
			logging.String("reason", b.Reason),
			logging.Int(logging.FieldBatch, b.Batch),
			logging.Int("items", b.ItemCount),
		)...)

	if m.retention > 0 {
		if _, err := m.Prune(); err != nil {
			m.logger.Warn("backup pruning failed", logging.Args(logging.Error(err))...)
		}
	}
	return b, nil
}

// Restore replaces the live store with the given backup after verifying its
// checksum still matches the recorded one.
func (m *Manager) Restore(b *Backup) error {
	if b == nil {
		return errors.New("restore: nil backup")
	}
	checksum, err := fileutil.ChecksumFile(b.Path)
	if err != nil {
		return fmt.Errorf("restore %s: checksum backup: %w", b.ID, err)
	}
	if b.Checksum != "" && checksum != b.Checksum {
		return fmt.Errorf("restore %s: backup corrupted: checksum %s does not match recorded %s", b.ID, checksum, b.Checksum)
	}

	data, err := os.ReadFile(b.Path)
	if err != nil {
		return fmt.Errorf("restore %s: read backup: %w", b.ID, err)
	}
	if err := fileutil.WriteFileAtomic(m.storePath, data, 0o644); err != nil {
		return fmt.Errorf("restore %s: write store: %w", b.ID, err)
	}

	m.logger.Info("store restored from backup",
		logging.Args(logging.String("backup_id", b.ID))...)
	return nil
}

// RestoreByID restores the named backup, first snapshotting the current store
// so the restore itself can be undone.
func (m *Manager) RestoreByID(id string) (*Backup, error) {
	b, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(m.storePath); err == nil {
		if _, err := m.Create(ReasonSafety, 0); err != nil {
			return nil, fmt.Errorf("safety backup before restore: %w", err)
		}
	}

	if err := m.Restore(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Get returns the backup with the given id.
func (m *Manager) Get(id string) (*Backup, error) {
	backups, err := m.List()
	if err != nil {
		return nil, err
	}
	for _, b := range backups {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, fmt.Errorf("backup %q not found", id)
}

// List returns all backups, newest first.
func (m *Manager) List() ([]*Backup, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var backups []*Backup
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, metaSuffix) {
			continue
		}
		b, err := m.readMeta(strings.TrimSuffix(name, ".json"))
		if err != nil {
			// Backup file without usable metadata: surface what the
			// filesystem knows so the operator can still restore manually.
			info, statErr := entry.Info()
			if statErr != nil {
				continue
			}
			b = &Backup{
				ID:        strings.TrimSuffix(name, ".json"),
				Path:      filepath.Join(m.dir, name),
				CreatedAt: info.ModTime().UTC(),
				SizeBytes: info.Size(),
			}
		}
		backups = append(backups, b)
	}

	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].CreatedAt.After(backups[j].CreatedAt)
		}
		return backups[i].ID > backups[j].ID
	})
	return backups, nil
}

// Prune removes the oldest backups beyond the configured retention count and
// returns how many were deleted.
func (m *Manager) Prune() (int, error) {
	if m.retention <= 0 {
		return 0, nil
	}
	backups, err := m.List()
	if err != nil {
		return 0, err
	}
	if len(backups) <= m.retention {
		return 0, nil
	}

	removed := 0
	for _, b := range backups[m.retention:] {
		if err := os.Remove(b.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("prune backup %s: %w", b.ID, err)
		}
		_ = os.Remove(filepath.Join(m.dir, b.ID+metaSuffix))
		removed++
	}
	return removed, nil
}

func (m *Manager) backupID(createdAt time.Time, batch int) string {
	id := backupPrefix + createdAt.Format("20060102_150405")
	if batch > 0 {
		id = fmt.Sprintf("%s_batch%02d", id, batch)
	}
	// Disambiguate snapshots taken within the same second.
	candidate := id
	for i := 2; ; i++ {
		if _, err := os.Stat(filepath.Join(m.dir, candidate+".json")); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d", id, i)
	}
}

func (m *Manager) writeMeta(b *Backup) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encode backup metadata: %w", err)
	}
	path := filepath.Join(m.dir, b.ID+metaSuffix)
	if err := fileutil.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write backup metadata: %w", err)
	}
	return nil
}

func (m *Manager) readMeta(id string) (*Backup, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, id+metaSuffix))
	if err != nil {
		return nil, err
	}
	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse backup metadata %s: %w", id, err)
	}
	return &b, nil
}
