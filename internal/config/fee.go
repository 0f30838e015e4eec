package config

import "time"

type FeeConfig struct {
	// FlatFeeTokens is the flat platform fee for ECO-denominated operations,
	// in whole tokens. Other tokens are quoted through the price oracle.
	FlatFeeTokens uint64
	FeeRecipient  string
	OracleBaseURL string
	// OracleFallbackURL, when set, is tried after the primary price API
	// fails.
	OracleFallbackURL string
	PollInterval      time.Duration
}

func loadFee() FeeConfig {
	return FeeConfig{
		FlatFeeTokens:     u64env("FLAT_FEE_TOKENS", 5),
		FeeRecipient:      mustenv("FLAT_FEE_RECIPIENT"),
		OracleBaseURL:     getenv("PRICE_ORACLE_URL", "https://api.coingecko.com/api/v3"),
		OracleFallbackURL: getenv("PRICE_ORACLE_FALLBACK_URL", ""),
		PollInterval:      durationEnvSeconds("FEE_POLL_INTERVAL", 20*time.Second),
	}
}
