package config

import "time"

type ServerConfig struct {
	HTTPAddr string

	ReadHeaderTimeout time.Duration
	// WriteTimeout must outlast deposit creation, which waits for
	// on-chain inclusion before responding.
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func loadServer() ServerConfig {
	return ServerConfig{
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		ReadHeaderTimeout: durationEnvSeconds("HTTP_READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      durationEnvSeconds("HTTP_WRITE_TIMEOUT", 10*time.Minute),
		IdleTimeout:       durationEnvSeconds("HTTP_IDLE_TIMEOUT", 2*time.Minute),
		ShutdownTimeout:   durationEnvSeconds("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}
