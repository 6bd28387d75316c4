package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains file and directory configuration.
type Paths struct {
	StoreFile string `toml:"store_file"`
	StateDir  string `toml:"state_dir"`
	BackupDir string `toml:"backup_dir"`
	LogDir    string `toml:"log_dir"`
}

// Flow contains configuration for the batch pipeline itself.
type Flow struct {
	TotalItems            int  `toml:"total_items"`
	BatchSize             int  `toml:"batch_size"`
	StalenessHours        int  `toml:"staleness_hours"`
	BackupBeforeIntegrate bool `toml:"backup_before_integrate"`
	BackupRetention       int  `toml:"backup_retention"`
}

// Generation describes the catalog dimensions the planner distributes items
// across.
type Generation struct {
	Categories   []string `toml:"categories"`
	Difficulties []string `toml:"difficulties"`
	Types        []string `toml:"types"`
}

// Retry contains the two backoff profiles used by the flow.
type Retry struct {
	InitMaxAttempts  int     `toml:"init_max_attempts"`
	InitBaseSeconds  int     `toml:"init_base_seconds"`
	InitMaxSeconds   int     `toml:"init_max_seconds"`
	BatchMaxAttempts int     `toml:"batch_max_attempts"`
	BatchBaseSeconds int     `toml:"batch_base_seconds"`
	BatchMaxSeconds  int     `toml:"batch_max_seconds"`
	Multiplier       float64 `toml:"multiplier"`
	Jitter           float64 `toml:"jitter"`
}

// Suppliers selects which stage supplier implementation backs the pipeline.
type Suppliers struct {
	Mode string `toml:"mode"` // "synthetic" or "llm"
}

// LLM contains connection settings for LLM-backed suppliers.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Loom.
//
// Configuration sections by subsystem:
//   - Paths: store file, state, backup, and log locations
//   - Flow: batch sizing, staleness window, backup policy
//   - Generation: catalog dimensions for the planner
//   - Retry: initialization and batch backoff profiles
//   - Suppliers: stage supplier selection
//   - LLM: connection settings for LLM-backed suppliers
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Flow          Flow          `toml:"flow"`
	Generation    Generation    `toml:"generation"`
	Retry         Retry         `toml:"retry"`
	Suppliers     Suppliers     `toml:"suppliers"`
	LLM           LLM           `toml:"llm"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/loom/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("loom.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories required for a run.
func (c *Config) EnsureDirectories() error {
	storeDir := filepath.Dir(c.Paths.StoreFile)
	for _, dir := range []string{storeDir, c.Paths.StateDir, c.Paths.BackupDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	sample := sampleConfig

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// StateFile returns the path of the persisted flow state document.
func (c *Config) StateFile() string {
	return filepath.Join(c.Paths.StateDir, "flow_state.json")
}

// LockFile returns the path of the single-run lock guarding the store.
func (c *Config) LockFile() string {
	return filepath.Join(c.Paths.StateDir, "loom.lock")
}

// LedgerFile returns the path of the sqlite run ledger.
func (c *Config) LedgerFile() string {
	return filepath.Join(c.Paths.StateDir, "ledger.db")
}
