package config

type EscrowConfig struct {
	ContractAddress string
	ContractVersion string
	ClaimURL        string
	LinkBaseURL     string
}

func loadEscrow() EscrowConfig {
	return EscrowConfig{
		ContractAddress: mustenv("ESCROW_ADDRESS"),
		ContractVersion: getenv("ESCROW_CONTRACT_VERSION", "v3"),
		ClaimURL:        mustenv("ESCROW_CLAIM_URL"),
		LinkBaseURL:     getenv("CLAIM_LINK_BASE_URL", "https://wallet.eco.id/claim"),
	}
}
