// Package config assembles a Config struct once at process start from
// environment variables, generalizing the teacher's getEnv(key, fallback)
// helper (database/database.go, ingest/processor.go's getEnvInt) into
// typed getters instead of scattering os.Getenv calls across packages.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every environment-driven setting named in spec.md §6.
type Config struct {
	// Object store credentials (S3-compatible).
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSRegion          string
	S3Endpoint         string // optional, for S3-compatible/local testing
	S3Bucket           string

	// Remote Ledger (Postgres/Supabase) connection.
	RemoteHost     string
	RemotePort     int
	RemoteUser     string
	RemotePassword string
	RemoteDatabase string

	// Analytical store.
	DuckDBPath string

	// Coordination.
	ShutdownFlagPath string
	LogDir           string

	// Timeouts and thresholds (spec.md §5, §4.3).
	ObjectStoreTimeout time.Duration
	RemoteConnTimeout  time.Duration
	StaleClaimAfter    time.Duration
	ShutdownPollEvery  time.Duration

	// Monitoring service.
	MonitorPort int
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// Load reads Config from the environment, applying the defaults named in
// spec.md §6 and §5 (REMOTE_PORT=6543, REMOTE_DATABASE=postgres,
// object-store timeout 60s, remote connection timeout 10s, staleness
// threshold 2h, shutdown poll cadence <=1s).
func Load() Config {
	return Config{
		AWSAccessKeyID:     getEnv("CREDENTIAL_ID", ""),
		AWSSecretAccessKey: getEnv("CREDENTIAL_SECRET", ""),
		AWSRegion:          getEnv("REGION", "us-east-1"),
		S3Endpoint:         getEnv("S3_ENDPOINT_URL", ""),
		S3Bucket:           getEnv("S3_BUCKET", "vendor-data-s3"),

		RemoteHost:     getEnv("REMOTE_HOST", ""),
		RemotePort:     getEnvInt("REMOTE_PORT", 6543),
		RemoteUser:     getEnv("REMOTE_USER", ""),
		RemotePassword: getEnv("REMOTE_PASSWORD", ""),
		RemoteDatabase: getEnv("REMOTE_DATABASE", "postgres"),

		DuckDBPath: getEnv("DUCKDB_PATH", "./multi_exchange_data_lake.duckdb"),

		ShutdownFlagPath: getEnv("SHUTDOWN_FLAG_PATH", "./shutdown_load_january.flag"),
		LogDir:           getEnv("LOG_DIR", "./logs"),

		ObjectStoreTimeout: getEnvDuration("OBJECT_STORE_TIMEOUT", 60*time.Second),
		RemoteConnTimeout:  getEnvDuration("REMOTE_CONN_TIMEOUT", 10*time.Second),
		StaleClaimAfter:    getEnvDuration("STALE_CLAIM_AFTER", 2*time.Hour),
		ShutdownPollEvery:  getEnvDuration("SHUTDOWN_POLL_EVERY", 1*time.Second),

		MonitorPort: getEnvInt("MONITOR_PORT", 12345),
	}
}

// RemoteConfigured reports whether enough Remote Ledger credentials were
// supplied to attempt a connection at all (spec.md §4.4: missing
// credentials degrade gracefully rather than aborting ingestion).
func (c Config) RemoteConfigured() bool {
	return c.RemoteHost != "" && c.RemoteUser != "" && c.RemotePassword != ""
}
