package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeFlow()
	c.normalizeGeneration()
	c.normalizeRetry()
	c.normalizeSuppliers()
	c.normalizeLLM()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StoreFile, err = expandPath(c.Paths.StoreFile); err != nil {
		return fmt.Errorf("paths.store_file: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.BackupDir, err = expandPath(c.Paths.BackupDir); err != nil {
		return fmt.Errorf("paths.backup_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeFlow() {
	if c.Flow.TotalItems <= 0 {
		c.Flow.TotalItems = defaultTotalItems
	}
	if c.Flow.BatchSize <= 0 {
		c.Flow.BatchSize = defaultBatchSize
	}
	if c.Flow.StalenessHours <= 0 {
		c.Flow.StalenessHours = defaultStalenessHours
	}
	if c.Flow.BackupRetention < 0 {
		c.Flow.BackupRetention = 0
	}
}

func (c *Config) normalizeGeneration() {
	c.Generation.Categories = normalizeList(c.Generation.Categories, defaultCategories())
	c.Generation.Difficulties = normalizeList(c.Generation.Difficulties, defaultDifficulties())
	c.Generation.Types = normalizeList(c.Generation.Types, defaultTypes())
}

func normalizeList(values []string, fallback []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		normalized := strings.ToLower(strings.TrimSpace(value))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func (c *Config) normalizeRetry() {
	if c.Retry.InitMaxAttempts <= 0 {
		c.Retry.InitMaxAttempts = defaultInitMaxAttempts
	}
	if c.Retry.InitBaseSeconds <= 0 {
		c.Retry.InitBaseSeconds = defaultInitBaseSeconds
	}
	if c.Retry.InitMaxSeconds <= 0 {
		c.Retry.InitMaxSeconds = defaultInitMaxSeconds
	}
	if c.Retry.BatchMaxAttempts <= 0 {
		c.Retry.BatchMaxAttempts = defaultBatchMaxAttempts
	}
	if c.Retry.BatchBaseSeconds <= 0 {
		c.Retry.BatchBaseSeconds = defaultBatchBaseSeconds
	}
	if c.Retry.BatchMaxSeconds <= 0 {
		c.Retry.BatchMaxSeconds = defaultBatchMaxSeconds
	}
	if c.Retry.Multiplier < 1 {
		c.Retry.Multiplier = defaultRetryMultiplier
	}
	if c.Retry.Jitter < 0 {
		c.Retry.Jitter = 0
	}
}

func (c *Config) normalizeSuppliers() {
	c.Suppliers.Mode = strings.ToLower(strings.TrimSpace(c.Suppliers.Mode))
	if c.Suppliers.Mode == "" {
		c.Suppliers.Mode = defaultSupplierMode
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("LOOM_LLM_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeout
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "auto":
		c.Logging.Format = defaultLogFormat
	case "console", "json":
	default:
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
