package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"loom/internal/backup"
	"loom/internal/config"
	"loom/internal/flow"
	"loom/internal/integrate"
	"loom/internal/ledger"
	"loom/internal/logging"
	"loom/internal/notifications"
	"loom/internal/state"
	"loom/internal/suppliers"
	"loom/internal/suppliers/llm"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.NewFromConfig(cfg)
}

// acquireRunLock takes the single-process lock guarding the store and state.
// The returned release func is safe to call once.
func (c *commandContext) acquireRunLock() (func(), error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	fl := flock.New(cfg.LockFile())
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another loom process holds the lock at %s", cfg.LockFile())
	}
	return func() { _ = fl.Unlock() }, nil
}

// buildSupplier selects the configured stage supplier.
func buildSupplier(cfg *config.Config, logger *slog.Logger) (suppliers.Supplier, error) {
	switch cfg.Suppliers.Mode {
	case "", "synthetic":
		return suppliers.NewSynthetic(), nil
	case "llm":
		client := llm.NewClient(cfg.LLM)
		return llm.NewSupplier(client, logger), nil
	default:
		return nil, fmt.Errorf("unknown supplier mode %q", cfg.Suppliers.Mode)
	}
}

// buildManager wires the full pipeline for run and resume.
func (c *commandContext) buildManager(logger *slog.Logger) (*flow.Manager, *ledger.Ledger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	supplier, err := buildSupplier(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	history, err := ledger.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}

	backups := backup.NewManager(cfg, logger)
	integrator := integrate.NewManager(cfg, backups, logger)
	states := state.NewStore(cfg.StateFile())
	notifier := notifications.NewService(cfg)

	manager := flow.NewManager(cfg, supplier, integrator, states, history, notifier, logger)
	return manager, history, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
