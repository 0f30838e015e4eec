package config

import "time"

type PaymasterConfig struct {
	Address string
	// SignerPrivateKey enables local paymaster signing for dev and test
	// environments. When empty, SignerURL must point at the remote
	// signing service.
	SignerPrivateKey string
	SignerURL        string
	Validity         time.Duration
	// AllowanceReserve is the minimum paymaster allowance, in whole tokens,
	// below which an approve-max sub-operation is batched in.
	AllowanceReserve uint64
}

func loadPaymaster() PaymasterConfig {
	return PaymasterConfig{
		Address:          mustenv("PAYMASTER_ADDRESS"),
		SignerPrivateKey: getenv("PAYMASTER_SIGNER_PK", ""),
		SignerURL:        getenv("PAYMASTER_SIGNER_URL", ""),
		Validity:         durationEnvSeconds("PAYMASTER_VALIDITY", 10*time.Minute),
		AllowanceReserve: u64env("PAYMASTER_ALLOWANCE_RESERVE", 10_000),
	}
}
