package chains

import (
	"fmt"
)

// ChainType tags a family of chains. It is a closed set used as a map key
// throughout the wallet core; only EVM has an adapter today, the rest are
// placeholders for future families.
type ChainType string

const (
	ChainTypeEVM     ChainType = "evm"
	ChainTypeStellar ChainType = "stellar"
	ChainTypeAptos   ChainType = "aptos"
	ChainTypeSolana  ChainType = "solana"
	ChainTypeBitcoin ChainType = "bitcoin"
)

func (c ChainType) String() string {
	switch c {
	case ChainTypeEVM:
		return "EVM"
	case ChainTypeStellar:
		return "Stellar"
	case ChainTypeAptos:
		return "Aptos"
	case ChainTypeSolana:
		return "Solana"
	case ChainTypeBitcoin:
		return "Bitcoin"
	default:
		return string(c)
	}
}

func (c ChainType) Valid() bool {
	switch c {
	case ChainTypeEVM, ChainTypeStellar, ChainTypeAptos, ChainTypeSolana, ChainTypeBitcoin:
		return true
	}
	return false
}

// TxHash is a chain-agnostic transaction hash.
type TxHash string

func (h TxHash) String() string { return string(h) }

// TokenInfo describes a native or contract token. ContractAddress is empty
// for native tokens.
type TokenInfo struct {
	Symbol          string `json:"symbol"`
	Name            string `json:"name"`
	Decimals        uint8  `json:"decimals"`
	ContractAddress string `json:"contract_address,omitempty"`
	LogoURL         string `json:"logo_url,omitempty"`
}

func NativeToken(symbol, name string, decimals uint8) TokenInfo {
	return TokenInfo{Symbol: symbol, Name: name, Decimals: decimals}
}

// Balance is a chain-agnostic balance: raw amount in the smallest unit
// plus a human-readable rendering.
type Balance struct {
	Token     TokenInfo `json:"token"`
	Raw       string    `json:"raw"`
	Formatted string    `json:"formatted"`
	USDValue  *float64  `json:"usd_value,omitempty"`
}

// Signature carries the hex-encoded signature bytes and, for ECDSA
// families, the recovery id.
type Signature struct {
	Bytes      string `json:"bytes"`
	RecoveryID *uint8 `json:"recovery_id,omitempty"`
}

// Fee is a chain-agnostic fee estimate. Gas fields are only set for EVM.
type Fee struct {
	Amount    string   `json:"amount"`
	Formatted string   `json:"formatted"`
	USDValue  *float64 `json:"usd_value,omitempty"`
	GasLimit  uint64   `json:"gas_limit,omitempty"`
	GasPrice  string   `json:"gas_price,omitempty"`
}

type TxStatus int

const (
	TxStatusPending TxStatus = iota
	TxStatusConfirmed
	TxStatusFailed
)

func (s TxStatus) String() string {
	switch s {
	case TxStatusPending:
		return "Pending"
	case TxStatusConfirmed:
		return "Confirmed"
	case TxStatusFailed:
		return "Failed"
	default:
		return fmt.Sprintf("TxStatus(%d)", int(s))
	}
}

// TxRecord is one historical transaction.
type TxRecord struct {
	Hash        TxHash   `json:"hash"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	Value       string   `json:"value"`
	Status      TxStatus `json:"status"`
	BlockNumber uint64   `json:"block_number,omitempty"`
	Timestamp   uint64   `json:"timestamp,omitempty"`
	GasUsed     uint64   `json:"gas_used,omitempty"`
	Fee         string   `json:"fee,omitempty"`
}

// ChainInfo describes the network an adapter is bound to.
type ChainInfo struct {
	ChainType   ChainType `json:"chain_type"`
	ChainID     uint64    `json:"chain_id"`
	Name        string    `json:"name"`
	NativeToken TokenInfo `json:"native_token"`
	ExplorerURL string    `json:"explorer_url,omitempty"`
}

// ChainTransaction is the chain-tagged transaction union. Exactly one
// variant matching ChainType is set; adapters reject the rest.
type ChainTransaction struct {
	ChainType ChainType       `json:"chain_type"`
	EVM       *EVMTransaction `json:"evm,omitempty"`
}

// NewEVMTransaction wraps an EVM transaction in the tagged union.
func NewEVMTransaction(tx *EVMTransaction) *ChainTransaction {
	return &ChainTransaction{ChainType: ChainTypeEVM, EVM: tx}
}

// EVMTransaction carries EVM transaction parameters. Value and gas prices
// are decimal strings in wei.
type EVMTransaction struct {
	From                 string  `json:"from"`
	To                   string  `json:"to"`
	Value                string  `json:"value"`
	Data                 string  `json:"data,omitempty"`
	GasLimit             uint64  `json:"gas_limit,omitempty"`
	GasPrice             string  `json:"gas_price,omitempty"`
	MaxFeePerGas         string  `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas string  `json:"max_priority_fee_per_gas,omitempty"`
	Nonce                *uint64 `json:"nonce,omitempty"`
	ChainID              uint64  `json:"chain_id"`
}
