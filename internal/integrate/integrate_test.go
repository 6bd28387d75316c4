package integrate_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"loom/internal/backup"
	"loom/internal/config"
	"loom/internal/integrate"
	"loom/internal/logging"
	"loom/internal/services"
	"loom/internal/store"
	"loom/internal/testsupport"
)

func newManager(t *testing.T, cfg *config.Config) *integrate.Manager {
	t.Helper()
	backups := backup.NewManager(cfg, logging.NewNop())
	return integrate.NewManager(cfg, backups, logging.NewNop())
}

func batchItems(n int) []store.Item {
	items := make([]store.Item, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, store.Item{
			Category:   "storage",
			Difficulty: "medium",
			Type:       "multiple_choice",
			Prompt:     "generated prompt",
			Options:    []string{"a", "b", "c", "d"},
			Answer:     "b",
		})
	}
	return items
}

func TestIntegrateAppendsSequentialIDs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.SeedStore(t, cfg, 3)

	mgr := newManager(t, cfg)
	result, err := mgr.Integrate(context.Background(), 1, batchItems(2), true)
	if err != nil {
		t.Fatalf("Integrate returned error: %v", err)
	}

	if !result.Success || result.ItemsAdded != 2 || result.NewTotal != 5 {
		t.Fatalf("unexpected result: %+v", result)
	}
	want := []string{store.ItemID(4), store.ItemID(5)}
	if len(result.NewIDs) != 2 || result.NewIDs[0] != want[0] || result.NewIDs[1] != want[1] {
		t.Fatalf("new ids = %v, want %v", result.NewIDs, want)
	}
	if result.BackupID == "" {
		t.Fatal("expected pre-integration backup id")
	}

	doc, err := store.Load(cfg.Paths.StoreFile)
	if err != nil {
		t.Fatal(err)
	}
	if doc.TotalCount != 5 || len(doc.Items) != 5 {
		t.Fatalf("store not updated: total=%d items=%d", doc.TotalCount, len(doc.Items))
	}
	if doc.Categories["storage"] != 2 || doc.Categories["networking"] != 3 {
		t.Fatalf("category counts not rebuilt: %v", doc.Categories)
	}
}

func TestIntegrateInitializesMissingStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	mgr := newManager(t, cfg)
	result, err := mgr.Integrate(context.Background(), 1, batchItems(3), true)
	if err != nil {
		t.Fatalf("Integrate returned error: %v", err)
	}
	if result.NewTotal != 3 || result.NewIDs[0] != store.ItemID(1) {
		t.Fatalf("unexpected result: %+v", result)
	}
	// Nothing existed to snapshot, so no backup id is recorded.
	if result.BackupID != "" {
		t.Fatalf("expected no backup for fresh store, got %q", result.BackupID)
	}
}

func TestIntegrateOverridesSupplierIDs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.SeedStore(t, cfg, 2)

	items := batchItems(1)
	items[0].ID = "item999"

	mgr := newManager(t, cfg)
	result, err := mgr.Integrate(context.Background(), 1, items, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.NewIDs[0] != store.ItemID(3) {
		t.Fatalf("supplier id must be replaced, got %v", result.NewIDs)
	}
}

func TestIntegrateRejectsEmptyBatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mgr := newManager(t, cfg)

	_, err := mgr.Integrate(context.Background(), 1, nil, false)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIntegrateRejectsInvalidMerge(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	// A store with a duplicated id fails validation after any merge.
	doc := store.NewDocument()
	doc.Items = []store.Item{
		{ID: store.ItemID(1), Category: "networking", Difficulty: "easy", Type: "multiple_choice"},
		{ID: store.ItemID(1), Category: "networking", Difficulty: "easy", Type: "multiple_choice"},
	}
	doc.Recount()
	if err := store.Save(cfg.Paths.StoreFile, doc); err != nil {
		t.Fatal(err)
	}
	original, err := os.ReadFile(cfg.Paths.StoreFile)
	if err != nil {
		t.Fatal(err)
	}

	mgr := newManager(t, cfg)
	result, err := mgr.Integrate(context.Background(), 2, batchItems(1), true)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if result.Success {
		t.Fatal("failed integration must not report success")
	}
	if !result.RollbackAvailable {
		t.Fatal("expected the pre-integration snapshot to be recorded")
	}
	if len(result.ValidationIssues) == 0 {
		t.Fatal("expected validation issues in result")
	}

	after, err := os.ReadFile(cfg.Paths.StoreFile)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(original, after) {
		t.Fatal("store must be byte-identical after a rejected merge")
	}
}

func TestIntegrateRejectsInvalidMergeWithoutBackup(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	doc := store.NewDocument()
	doc.Items = []store.Item{
		{ID: "bogus", Category: "networking", Difficulty: "easy", Type: "multiple_choice"},
	}
	doc.Recount()
	if err := store.Save(cfg.Paths.StoreFile, doc); err != nil {
		t.Fatal(err)
	}
	original, err := os.ReadFile(cfg.Paths.StoreFile)
	if err != nil {
		t.Fatal(err)
	}

	mgr := newManager(t, cfg)
	result, err := mgr.Integrate(context.Background(), 1, batchItems(1), false)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if result.RollbackAvailable {
		t.Fatal("no snapshot exists without a pre-integration backup")
	}

	after, err := os.ReadFile(cfg.Paths.StoreFile)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(original, after) {
		t.Fatal("store must be byte-identical after a rejected merge")
	}
}

func TestIntegrateLeavesHandEditedStoreUntouched(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	// Compact formatting Save never produces; a rejected merge must not
	// rewrite the file, not even with equivalent content.
	raw := []byte(`{"version":"1.0","generated_at":"2026-01-02T03:04:05Z","total_count":2,` +
		`"categories":{"networking":2},"difficulty":{"easy":2},"types":{"multiple_choice":2},` +
		`"items":[` +
		`{"id":"item001","category":"networking","difficulty":"easy","type":"multiple_choice","prompt":"p","options":["a","b","c","d"],"answer":"a"},` +
		`{"id":"item001","category":"networking","difficulty":"easy","type":"multiple_choice","prompt":"p","options":["a","b","c","d"],"answer":"a"}]}`)
	if err := os.WriteFile(cfg.Paths.StoreFile, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	mgr := newManager(t, cfg)
	if _, err := mgr.Integrate(context.Background(), 1, batchItems(1), false); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	after, err := os.ReadFile(cfg.Paths.StoreFile)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw, after) {
		t.Fatal("rejected merge must leave the store file byte-identical")
	}
}

func TestIntegrateHonorsCancelledContext(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.SeedStore(t, cfg, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mgr := newManager(t, cfg)
	if _, err := mgr.Integrate(ctx, 1, batchItems(1), false); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
