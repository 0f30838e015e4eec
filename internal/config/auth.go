package config

import "time"

type AuthConfig struct {
	JWTSecret     string
	JWTTTL        time.Duration
	NonceTTL      time.Duration
	SIWEDomain    string
	SIWEURI       string
	SIWEStatement string
	SIWEChainID   uint64
	AdminUsername string
	AdminPassword string
}

func loadAuth() AuthConfig {
	return AuthConfig{
		JWTSecret:     mustenv("JWT_SECRET"),
		JWTTTL:        durationEnvHours("JWT_TTL", 24*time.Hour),
		NonceTTL:      durationEnvSeconds("SIWE_NONCE_TTL", 5*time.Minute),
		SIWEDomain:    getenv("SIWE_DOMAIN", ""),
		SIWEURI:       getenv("SIWE_URI", ""),
		SIWEStatement: getenv("SIWE_STATEMENT", ""),
		SIWEChainID:   u64env("SIWE_CHAIN_ID", 0),
		AdminUsername: getenv("ADMIN_USERNAME", "admin"),
		AdminPassword: getenv("ADMIN_PASSWORD", ""),
	}
}
