package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateFlow(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateSuppliers(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StoreFile) == "" {
		return errors.New("paths.store_file must be set")
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	if strings.TrimSpace(c.Paths.BackupDir) == "" {
		return errors.New("paths.backup_dir must be set")
	}
	return nil
}

func (c *Config) validateFlow() error {
	if err := ensurePositiveMap(map[string]int{
		"flow.total_items":     c.Flow.TotalItems,
		"flow.batch_size":      c.Flow.BatchSize,
		"flow.staleness_hours": c.Flow.StalenessHours,
	}); err != nil {
		return err
	}
	if c.Flow.BatchSize > c.Flow.TotalItems {
		return errors.New("flow.batch_size must not exceed flow.total_items")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if err := ensurePositiveMap(map[string]int{
		"retry.init_max_attempts":  c.Retry.InitMaxAttempts,
		"retry.init_base_seconds":  c.Retry.InitBaseSeconds,
		"retry.init_max_seconds":   c.Retry.InitMaxSeconds,
		"retry.batch_max_attempts": c.Retry.BatchMaxAttempts,
		"retry.batch_base_seconds": c.Retry.BatchBaseSeconds,
		"retry.batch_max_seconds":  c.Retry.BatchMaxSeconds,
	}); err != nil {
		return err
	}
	if c.Retry.Multiplier < 1 {
		return errors.New("retry.multiplier must be >= 1")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return errors.New("retry.jitter must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateSuppliers() error {
	switch c.Suppliers.Mode {
	case "synthetic":
		return nil
	case "llm":
		if strings.TrimSpace(c.LLM.APIKey) == "" {
			return errors.New("llm.api_key must be set when suppliers.mode is \"llm\" (or set LOOM_LLM_API_KEY)")
		}
		if strings.TrimSpace(c.LLM.Model) == "" {
			return errors.New("llm.model must be set when suppliers.mode is \"llm\"")
		}
		return nil
	default:
		return fmt.Errorf("suppliers.mode: unsupported value %q (expected \"synthetic\" or \"llm\")", c.Suppliers.Mode)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
