package config

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Chain     ChainConfig
	Fee       FeeConfig
	Escrow    EscrowConfig
	Paymaster PaymasterConfig
}

func Load() Config {
	ensureEnvLoaded()
	return Config{
		Server:    loadServer(),
		Database:  loadDatabase(),
		Auth:      loadAuth(),
		Chain:     loadChain(),
		Fee:       loadFee(),
		Escrow:    loadEscrow(),
		Paymaster: loadPaymaster(),
	}
}
