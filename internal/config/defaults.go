package config

const (
	defaultStoreFile        = "~/.local/share/loom/store.json"
	defaultStateDir         = "~/.local/share/loom/state"
	defaultBackupDir        = "~/.local/share/loom/backups"
	defaultLogDir           = "~/.local/share/loom/logs"
	defaultTotalItems       = 200
	defaultBatchSize        = 50
	defaultStalenessHours   = 24
	defaultBackupRetention  = 20
	defaultInitMaxAttempts  = 3
	defaultInitBaseSeconds  = 2
	defaultInitMaxSeconds   = 30
	defaultBatchMaxAttempts = 5
	defaultBatchBaseSeconds = 5
	defaultBatchMaxSeconds  = 300
	defaultRetryMultiplier  = 2.0
	defaultRetryJitter      = 0.1
	defaultSupplierMode     = "synthetic"
	defaultLLMBaseURL       = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMTimeout       = 60
	defaultNotifyTimeout    = 10
	defaultLogFormat        = "auto"
	defaultLogLevel         = "info"
)

func defaultCategories() []string {
	return []string{"networking", "storage", "security", "compute"}
}

func defaultDifficulties() []string {
	return []string{"easy", "medium", "hard"}
}

func defaultTypes() []string {
	return []string{"multiple_choice", "multiple_response", "scenario"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StoreFile: defaultStoreFile,
			StateDir:  defaultStateDir,
			BackupDir: defaultBackupDir,
			LogDir:    defaultLogDir,
		},
		Flow: Flow{
			TotalItems:            defaultTotalItems,
			BatchSize:             defaultBatchSize,
			StalenessHours:        defaultStalenessHours,
			BackupBeforeIntegrate: true,
			BackupRetention:       defaultBackupRetention,
		},
		Generation: Generation{
			Categories:   defaultCategories(),
			Difficulties: defaultDifficulties(),
			Types:        defaultTypes(),
		},
		Retry: Retry{
			InitMaxAttempts:  defaultInitMaxAttempts,
			InitBaseSeconds:  defaultInitBaseSeconds,
			InitMaxSeconds:   defaultInitMaxSeconds,
			BatchMaxAttempts: defaultBatchMaxAttempts,
			BatchBaseSeconds: defaultBatchBaseSeconds,
			BatchMaxSeconds:  defaultBatchMaxSeconds,
			Multiplier:       defaultRetryMultiplier,
			Jitter:           defaultRetryJitter,
		},
		Suppliers: Suppliers{
			Mode: defaultSupplierMode,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			TimeoutSeconds: defaultLLMTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
