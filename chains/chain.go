package chains

import (
	"context"
	"math/big"
)

// Adapter is the capability contract every blockchain integration
// implements. The wallet core only ever talks to a chain through this
// interface; nothing above it branches on chain families directly.
type Adapter interface {
	// GetBalance returns the native token balance for an address.
	GetBalance(ctx context.Context, address string) (*Balance, error)

	// SendTransaction signs (through the configured signer) and
	// broadcasts a transaction, returning its hash.
	SendTransaction(ctx context.Context, tx *ChainTransaction) (TxHash, error)

	// SignMessage signs arbitrary bytes with the key behind address.
	SignMessage(ctx context.Context, address string, message []byte) (*Signature, error)

	// GetTransactions returns up to limit historical transactions for an
	// address. Adapters without an indexer may return an empty list.
	GetTransactions(ctx context.Context, address string, limit int) ([]*TxRecord, error)

	// EstimateFee estimates the cost of a transaction without sending it.
	EstimateFee(ctx context.Context, tx *ChainTransaction) (*Fee, error)

	// ValidateAddress checks the address format for this chain family.
	ValidateAddress(address string) error

	ChainInfo() ChainInfo
	ChainType() ChainType
}

// EVMReader is the extra read surface EVM-family adapters expose for the
// provider passthrough methods (eth_blockNumber, eth_call and friends).
// The gateway discovers it by interface assertion on the Adapter it got
// from the registry, never by constructing an adapter itself.
type EVMReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	NonceAt(ctx context.Context, address string) (uint64, error)
	Call(ctx context.Context, to string, data []byte) ([]byte, error)
	TransactionByHash(ctx context.Context, hash string) (*TxRecord, error)
	TransactionReceipt(ctx context.Context, hash string) ([]byte, error)
}

// Supported reports whether a chain family has an adapter implementation.
func Supported(chainType ChainType) bool {
	return chainType == ChainTypeEVM
}

// SupportedChains lists the chain families with adapter implementations.
func SupportedChains() []ChainType {
	return []ChainType{ChainTypeEVM}
}
