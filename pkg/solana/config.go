package solana

type Environment string

const (
	EnvironmentLocal Environment = "http://localhost:8899"
	EnvironmentDev   Environment = "https://api.devnet.solana.com"
	EnvironmentTest  Environment = "https://api.testnet.solana.com"
	EnvironmentProd  Environment = "https://api.mainnet-beta.solana.com"
)
