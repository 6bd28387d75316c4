package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"loom/internal/store"
)

func writeTestConfig(t *testing.T, totalItems, batchSize int) (string, string) {
	t.Helper()
	base := t.TempDir()
	storeFile := filepath.Join(base, "store.json")
	content := fmt.Sprintf(`[paths]
store_file = %q
state_dir = %q
backup_dir = %q
log_dir = %q

[flow]
total_items = %d
batch_size = %d

[suppliers]
mode = "synthetic"

[logging]
format = "json"
level = "info"
`,
		storeFile,
		filepath.Join(base, "state"),
		filepath.Join(base, "backups"),
		filepath.Join(base, "logs"),
		totalItems, batchSize,
	)
	configPath := filepath.Join(base, "loom.toml")
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return configPath, storeFile
}

func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestStatusWithoutState(t *testing.T) {
	configPath, _ := writeTestConfig(t, 10, 5)

	out, _, err := executeCommand(t, "--config", configPath, "status")
	if err != nil {
		t.Fatalf("status returned error: %v", err)
	}
	if !strings.Contains(out, "No run recorded yet") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestRunCommandCompletesPipeline(t *testing.T) {
	configPath, storeFile := writeTestConfig(t, 10, 5)

	out, _, err := executeCommand(t, "--config", configPath, "run")
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if !strings.Contains(out, "Completed") {
		t.Fatalf("expected completed summary, got: %q", out)
	}

	doc, err := store.Load(storeFile)
	if err != nil {
		t.Fatal(err)
	}
	if doc.TotalCount != 10 {
		t.Fatalf("store total = %d, want 10", doc.TotalCount)
	}
}

func TestRunThenStatusShowsBatches(t *testing.T) {
	configPath, _ := writeTestConfig(t, 10, 5)

	if _, _, err := executeCommand(t, "--config", configPath, "run"); err != nil {
		t.Fatal(err)
	}
	out, _, err := executeCommand(t, "--config", configPath, "status")
	if err != nil {
		t.Fatalf("status returned error: %v", err)
	}
	if !strings.Contains(out, "2/2 batches") {
		t.Fatalf("expected full progress, got: %q", out)
	}
}

func TestStoreValidateReportsIssues(t *testing.T) {
	configPath, storeFile := writeTestConfig(t, 10, 5)

	doc := store.NewDocument()
	doc.Items = []store.Item{
		{ID: store.ItemID(1), Category: "networking", Difficulty: "easy", Type: "multiple_choice"},
	}
	doc.Recount()
	doc.TotalCount = 5
	if err := os.MkdirAll(filepath.Dir(storeFile), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(storeFile, doc); err != nil {
		t.Fatal(err)
	}

	out, _, err := executeCommand(t, "--config", configPath, "store", "validate")
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(out, "item count mismatch") {
		t.Fatalf("expected issue listing, got: %q", out)
	}
}

func TestBackupsListEmpty(t *testing.T) {
	configPath, _ := writeTestConfig(t, 10, 5)

	out, _, err := executeCommand(t, "--config", configPath, "backups", "list")
	if err != nil {
		t.Fatalf("backups list returned error: %v", err)
	}
	if !strings.Contains(out, "No backups found") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestBackupCreateAndRestoreRoundTrip(t *testing.T) {
	configPath, storeFile := writeTestConfig(t, 10, 5)

	if _, _, err := executeCommand(t, "--config", configPath, "run"); err != nil {
		t.Fatal(err)
	}
	out, _, err := executeCommand(t, "--config", configPath, "backups", "create")
	if err != nil {
		t.Fatalf("backups create returned error: %v", err)
	}
	fields := strings.Fields(out)
	if len(fields) < 3 {
		t.Fatalf("unexpected create output: %q", out)
	}
	id := fields[2]

	// Wreck the store, then restore.
	if err := os.WriteFile(storeFile, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := executeCommand(t, "--config", configPath, "backups", "restore", id); err != nil {
		t.Fatalf("restore returned error: %v", err)
	}
	doc, err := store.Load(storeFile)
	if err != nil {
		t.Fatal(err)
	}
	if doc.TotalCount != 10 {
		t.Fatalf("restored store total = %d, want 10", doc.TotalCount)
	}
}

func TestConfigShowPrintsEffectiveSettings(t *testing.T) {
	configPath, _ := writeTestConfig(t, 10, 5)

	out, _, err := executeCommand(t, "--config", configPath, "config", "show")
	if err != nil {
		t.Fatalf("config show returned error: %v", err)
	}
	if !strings.Contains(out, "total_items = 10") {
		t.Fatalf("expected effective flow settings, got: %q", out)
	}
	if !strings.Contains(out, "mode = 'synthetic'") && !strings.Contains(out, `mode = "synthetic"`) {
		t.Fatalf("expected supplier mode, got: %q", out)
	}
}

func TestDisplayName(t *testing.T) {
	tests := map[string]string{
		"multiple_choice": "Multiple Choice",
		"pre-integration": "Pre-Integration",
		"completed":       "Completed",
	}
	for in, want := range tests {
		if got := displayName(in); got != want {
			t.Fatalf("displayName(%q) = %q, want %q", in, got, want)
		}
	}
}
