package config

import "time"

type DatabaseConfig struct {
	SQLiteDSN string
	// LogLevel is one of silent, error, warn, info.
	LogLevel           string
	SlowQueryThreshold time.Duration
}

func loadDatabase() DatabaseConfig {
	return DatabaseConfig{
		SQLiteDSN:          getenv("SQLITE_DSN", "./data/wallet.db"),
		LogLevel:           getenv("SQLITE_LOG_LEVEL", "warn"),
		SlowQueryThreshold: durationEnvSeconds("SQLITE_SLOW_QUERY_THRESHOLD", time.Second),
	}
}
