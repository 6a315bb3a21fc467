package config

import "time"

// SyncConfig holds synchronization configuration
type SyncConfig struct {
	CustomersPageSize     int
	SuppliersPageSize     int
	IncrementalPageSize   int
	FullRefreshInterval   time.Duration
	IncrementalSoftDelete bool
	ProgressLogs          bool
	UpsertLogs            bool
	BatchConfig           BatchConfig
}

// BatchConfig holds configuration of the per-page apply pool
type BatchConfig struct {
	Workers int
}

// DefaultSyncConfig returns the default sync configuration
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		CustomersPageSize:     100,
		SuppliersPageSize:     250,
		IncrementalPageSize:   100,
		FullRefreshInterval:   24 * time.Hour,
		IncrementalSoftDelete: true,
		ProgressLogs:          true,
		UpsertLogs:            false,
		BatchConfig: BatchConfig{
			Workers: 1,
		},
	}
}

func loadSyncConfig() (*SyncConfig, error) {
	cfg := DefaultSyncConfig()

	hours, err := getInt("FULL_REFRESH_HOURS", 24)
	if err != nil {
		return nil, err
	}
	if hours <= 0 {
		hours = 24
	}
	cfg.FullRefreshInterval = time.Duration(hours) * time.Hour

	workers, err := getInt("UPSERT_WORKERS", cfg.BatchConfig.Workers)
	if err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}
	cfg.BatchConfig.Workers = workers

	cfg.IncrementalSoftDelete = getBool("INCREMENTAL_SOFT_DELETE", cfg.IncrementalSoftDelete)
	cfg.ProgressLogs = getBool("PROGRESS_LOGS", cfg.ProgressLogs)
	cfg.UpsertLogs = getBool("UPSERT_LOGS", cfg.UpsertLogs)
	return cfg, nil
}
