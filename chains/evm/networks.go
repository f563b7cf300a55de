package evm

// NetworkConfig is a builtin EVM network definition.
type NetworkConfig struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ChainID      uint64 `json:"chain_id"`
	RPCURL       string `json:"rpc_url"`
	ExplorerURL  string `json:"explorer_url,omitempty"`
	NativeSymbol string `json:"native_symbol"`
	NativeName   string `json:"native_name"`
}

// BuiltinNetworks is the catalogue of networks the wallet knows out of the
// box. User-added networks live next to these in the network registry.
var BuiltinNetworks = []NetworkConfig{
	{
		ID:           "ethereum",
		Name:         "Ethereum Mainnet",
		ChainID:      1,
		RPCURL:       "https://eth.llamarpc.com",
		ExplorerURL:  "https://etherscan.io",
		NativeSymbol: "ETH",
		NativeName:   "Ethereum",
	},
	{
		ID:           "pulsechain",
		Name:         "PulseChain Mainnet",
		ChainID:      369,
		RPCURL:       "https://rpc.pulsechain.com",
		ExplorerURL:  "https://scan.pulsechain.com",
		NativeSymbol: "PLS",
		NativeName:   "Pulse",
	},
	{
		ID:           "pulsechain-testnet-v4",
		Name:         "PulseChain Testnet V4",
		ChainID:      943,
		RPCURL:       "https://rpc.v4.testnet.pulsechain.com",
		ExplorerURL:  "https://scan.v4.testnet.pulsechain.com",
		NativeSymbol: "tPLS",
		NativeName:   "Test Pulse",
	},
	{
		ID:           "polygon",
		Name:         "Polygon Mainnet",
		ChainID:      137,
		RPCURL:       "https://polygon-rpc.com",
		ExplorerURL:  "https://polygonscan.com",
		NativeSymbol: "MATIC",
		NativeName:   "Polygon",
	},
	{
		ID:           "bsc",
		Name:         "BSC Mainnet",
		ChainID:      56,
		RPCURL:       "https://bsc-dataseed.binance.org",
		ExplorerURL:  "https://bscscan.com",
		NativeSymbol: "BNB",
		NativeName:   "Binance Coin",
	},
	{
		ID:           "arbitrum",
		Name:         "Arbitrum One",
		ChainID:      42161,
		RPCURL:       "https://arb1.arbitrum.io/rpc",
		ExplorerURL:  "https://arbiscan.io",
		NativeSymbol: "ETH",
		NativeName:   "Ethereum",
	},
	{
		ID:           "optimism",
		Name:         "Optimism Mainnet",
		ChainID:      10,
		RPCURL:       "https://mainnet.optimism.io",
		ExplorerURL:  "https://optimistic.etherscan.io",
		NativeSymbol: "ETH",
		NativeName:   "Ethereum",
	},
	{
		ID:           "avalanche",
		Name:         "Avalanche C-Chain",
		ChainID:      43114,
		RPCURL:       "https://api.avax.network/ext/bc/C/rpc",
		ExplorerURL:  "https://snowtrace.io",
		NativeSymbol: "AVAX",
		NativeName:   "Avalanche",
	},
	{
		ID:           "base",
		Name:         "Base Mainnet",
		ChainID:      8453,
		RPCURL:       "https://mainnet.base.org",
		ExplorerURL:  "https://basescan.org",
		NativeSymbol: "ETH",
		NativeName:   "Ethereum",
	},
}

// GetNetwork looks a builtin network up by id.
func GetNetwork(id string) (NetworkConfig, bool) {
	for _, n := range BuiltinNetworks {
		if n.ID == id {
			return n, true
		}
	}
	return NetworkConfig{}, false
}

// GetNetworkByChainID looks a builtin network up by chain id.
func GetNetworkByChainID(chainID uint64) (NetworkConfig, bool) {
	for _, n := range BuiltinNetworks {
		if n.ChainID == chainID {
			return n, true
		}
	}
	return NetworkConfig{}, false
}
