package config

import (
	"os"
	"strings"
	"time"
)

// DefaultTimezone is used when a factory has no timezone configured.
const DefaultTimezone = "Asia/Yangon"

// BackupRetentionCount is the number of completed backups kept per factory
// when its schedule does not specify one.
//
// Set via env:
// - BACKUP_RETENTION_COUNT=14
func BackupRetentionCount() int {
	n := intFromEnv("BACKUP_RETENTION_COUNT", 14)
	if n <= 0 {
		return 14
	}
	return n
}

// BackupSchedulerEnabled controls whether the server runs scheduled backups in-process.
// Disable it when backups are triggered externally (cron + factoryctl).
func BackupSchedulerEnabled() bool {
	return boolFromEnv("BACKUP_SCHEDULER_ENABLED", true)
}

// ImportMaxRows bounds the total number of rows accepted by one import.
func ImportMaxRows() int {
	return intFromEnv("IMPORT_MAX_ROWS", 200000)
}

// ReportCacheEnabled toggles redis caching of report results.
//
// Set via env:
// - ENABLE_REPORT_CACHE=true
// - REPORT_CACHE_TTL_SECONDS=60
func ReportCacheEnabled() bool {
	return boolFromEnv("ENABLE_REPORT_CACHE", false)
}

func ReportCacheTTL() time.Duration {
	ttl := intFromEnv("REPORT_CACHE_TTL_SECONDS", 60)
	if ttl <= 0 {
		ttl = 60
	}
	return time.Duration(ttl) * time.Second
}

// TokenLifespan is the session lifetime, TOKEN_HOUR_LIFESPAN hours (default 24).
func TokenLifespan() time.Duration {
	h := intFromEnv("TOKEN_HOUR_LIFESPAN", 24)
	if h <= 0 {
		h = 24
	}
	return time.Duration(h) * time.Hour
}

// StorageProvider returns "local" (default) or "gcs".
func StorageProvider() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STORAGE_PROVIDER")))
	if v == "" {
		return "local"
	}
	return v
}

func LocalStorageDir() string {
	if v := strings.TrimSpace(os.Getenv("LOCAL_STORAGE_DIR")); v != "" {
		return v
	}
	return "./storage"
}

// SplitList parses a comma separated env value.
func SplitList(key string) []string {
	raw := os.Getenv(key)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ReportSlowThreshold is the duration after which a report build is logged, REPORT_SLOW_MS (default 500).
func ReportSlowThreshold() time.Duration {
	ms := intFromEnv("REPORT_SLOW_MS", 500)
	if ms <= 0 {
		ms = 500
	}
	return time.Duration(ms) * time.Millisecond
}
