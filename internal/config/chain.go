package config

type ChainConfig struct {
	RPCURL               string
	BundlerURL           string
	ChainID              uint64
	EntryPoint           string
	SimpleAccountFactory string
	EcoTokenAddress      string
	USDCTokenAddress     string
	// OwnerPrivateKey controls the smart account all operations are sent
	// from. Its EOA never needs gas; it only signs.
	OwnerPrivateKey string
}

func loadChain() ChainConfig {
	return ChainConfig{
		RPCURL:               mustenv("CHAIN_RPC_URL"),
		BundlerURL:           mustenv("BUNDLER_URL"),
		ChainID:              u64env("CHAIN_ID", 10),
		EntryPoint:           mustenv("ENTRY_POINT"),
		SimpleAccountFactory: getenv("FACTORY_ADDRESS", ""),
		EcoTokenAddress:      mustenv("ECO_TOKEN_ADDRESS"),
		USDCTokenAddress:     getenv("USDC_TOKEN_ADDRESS", ""),
		OwnerPrivateKey:      mustenv("ACCOUNT_OWNER_PK"),
	}
}
