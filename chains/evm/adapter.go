package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	logging "github.com/ipfs/go-log/v2"

	"github.com/r4-ndm/vaughan-gateway/chains"
	"github.com/r4-ndm/vaughan-gateway/types"
)

var log = logging.Logger("evm_adapter")

// readRetries bounds retries of idempotent read-only lookups. Writes are
// never retried here.
const readRetries = 2

const defaultTransferGas = 21000

// Signer signs EVM transactions and messages for addresses whose keys it
// custodies. The adapter never sees key material; signing may be delegated
// further to an OS secure store behind this interface.
type Signer interface {
	SignTx(ctx context.Context, from common.Address, tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error)
	SignMessage(ctx context.Context, from common.Address, message []byte) ([]byte, error)
}

// Adapter implements chains.Adapter for EVM-compatible networks on top of
// go-ethereum's ethclient. A nil signer makes the adapter read-only.
type Adapter struct {
	client *ethclient.Client
	signer Signer

	rpcURL       string
	networkID    string
	chainID      uint64
	networkName  string
	nativeSymbol string
	nativeName   string
}

var (
	_ chains.Adapter   = (*Adapter)(nil)
	_ chains.EVMReader = (*Adapter)(nil)
)

// New creates a read-only adapter bound to one endpoint and chain id.
func New(rpcURL, networkID string, chainID uint64) (*Adapter, error) {
	return NewWithSigner(rpcURL, networkID, chainID, nil)
}

// NewWithSigner creates an adapter that can also sign and send.
func NewWithSigner(rpcURL, networkID string, chainID uint64, signer Signer) (*Adapter, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, types.WrapWalletError(types.ErrCodeNetworkUnavailable, err, "invalid RPC endpoint")
	}

	name := fmt.Sprintf("Chain %d", chainID)
	symbol, nativeName := "ETH", "Ethereum"
	if cfg, ok := GetNetworkByChainID(chainID); ok {
		name, symbol, nativeName = cfg.Name, cfg.NativeSymbol, cfg.NativeName
	}

	return &Adapter{
		client:       client,
		signer:       signer,
		rpcURL:       rpcURL,
		networkID:    networkID,
		chainID:      chainID,
		networkName:  name,
		nativeSymbol: symbol,
		nativeName:   nativeName,
	}, nil
}

func (a *Adapter) ChainType() chains.ChainType { return chains.ChainTypeEVM }

func (a *Adapter) ChainID() uint64 { return a.chainID }

func (a *Adapter) RPCURL() string { return a.rpcURL }

func (a *Adapter) ChainInfo() chains.ChainInfo {
	return chains.ChainInfo{
		ChainType:   chains.ChainTypeEVM,
		ChainID:     a.chainID,
		Name:        a.networkName,
		NativeToken: chains.NativeToken(a.nativeSymbol, a.nativeName, 18),
		ExplorerURL: a.explorerURL(),
	}
}

func (a *Adapter) explorerURL() string {
	if cfg, ok := GetNetworkByChainID(a.chainID); ok {
		return cfg.ExplorerURL
	}
	return ""
}

func (a *Adapter) ValidateAddress(address string) error {
	return ValidateAddress(address)
}

func (a *Adapter) GetBalance(ctx context.Context, address string) (*chains.Balance, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}

	var raw *big.Int
	err := a.retryRead(ctx, func() error {
		var err error
		raw, err = a.client.BalanceAt(ctx, common.HexToAddress(address), nil)
		return err
	})
	if err != nil {
		return nil, types.WrapWalletError(types.ErrCodeNetworkUnavailable, err, "balance query failed")
	}

	return &chains.Balance{
		Token:     chains.NativeToken(a.nativeSymbol, a.nativeName, 18),
		Raw:       raw.String(),
		Formatted: fmt.Sprintf("%s %s", FormatUnits(raw, 18), a.nativeSymbol),
	}, nil
}

func (a *Adapter) SendTransaction(ctx context.Context, tx *chains.ChainTransaction) (chains.TxHash, error) {
	evmTx, err := a.evmVariant(tx)
	if err != nil {
		return "", err
	}
	if a.signer == nil {
		return "", types.NewWalletError(types.ErrCodeUnauthorized, "no signer configured for network %s", a.networkID)
	}

	signed, err := a.buildAndSign(ctx, evmTx)
	if err != nil {
		return "", err
	}

	if err := a.client.SendTransaction(ctx, signed); err != nil {
		return "", types.WrapWalletError(types.ErrCodeNetworkUnavailable, err, "transaction broadcast failed")
	}
	log.Infow("transaction sent", "hash", signed.Hash().Hex(), "network", a.networkID)
	return chains.TxHash(signed.Hash().Hex()), nil
}

func (a *Adapter) buildAndSign(ctx context.Context, evmTx *chains.EVMTransaction) (*ethtypes.Transaction, error) {
	if err := ValidateAddress(evmTx.From); err != nil {
		return nil, err
	}
	if err := ValidateAddress(evmTx.To); err != nil {
		return nil, err
	}
	from := common.HexToAddress(evmTx.From)
	to := common.HexToAddress(evmTx.To)

	value, err := ParseAmount(evmTx.Value)
	if err != nil {
		return nil, err
	}
	var data []byte
	if evmTx.Data != "" {
		data = common.FromHex(evmTx.Data)
	}

	nonce := uint64(0)
	if evmTx.Nonce != nil {
		nonce = *evmTx.Nonce
	} else {
		err := a.retryRead(ctx, func() error {
			var err error
			nonce, err = a.client.PendingNonceAt(ctx, from)
			return err
		})
		if err != nil {
			return nil, types.WrapWalletError(types.ErrCodeNetworkUnavailable, err, "nonce query failed")
		}
	}

	gasLimit := evmTx.GasLimit
	if gasLimit == 0 {
		gasLimit, err = a.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
		if err != nil {
			log.Warnf("gas estimation failed, falling back to %d: %v", defaultTransferGas, err)
			gasLimit = defaultTransferGas
		}
	}

	chainID := new(big.Int).SetUint64(a.chainID)

	// EIP-1559 when the dApp supplied fee-cap fields, legacy otherwise.
	if evmTx.MaxFeePerGas != "" {
		feeCap, err := ParseAmount(evmTx.MaxFeePerGas)
		if err != nil {
			return nil, err
		}
		tipCap := big.NewInt(0)
		if evmTx.MaxPriorityFeePerGas != "" {
			if tipCap, err = ParseAmount(evmTx.MaxPriorityFeePerGas); err != nil {
				return nil, err
			}
		}
		unsigned := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tipCap,
			GasFeeCap: feeCap,
			Gas:       gasLimit,
			To:        &to,
			Value:     value,
			Data:      data,
		})
		return a.sign(ctx, from, unsigned, chainID)
	}

	gasPrice, err := a.resolveGasPrice(ctx, evmTx.GasPrice)
	if err != nil {
		return nil, err
	}
	unsigned := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     data,
	})
	return a.sign(ctx, from, unsigned, chainID)
}

func (a *Adapter) sign(ctx context.Context, from common.Address, unsigned *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	signed, err := a.signer.SignTx(ctx, from, unsigned, chainID)
	if err != nil {
		return nil, types.WrapWalletError(types.ErrCodeInternal, err, "signing failed")
	}
	return signed, nil
}

func (a *Adapter) resolveGasPrice(ctx context.Context, supplied string) (*big.Int, error) {
	if supplied != "" {
		return ParseAmount(supplied)
	}
	var price *big.Int
	err := a.retryRead(ctx, func() error {
		var err error
		price, err = a.client.SuggestGasPrice(ctx)
		return err
	})
	if err != nil {
		return nil, types.WrapWalletError(types.ErrCodeNetworkUnavailable, err, "gas price query failed")
	}
	return price, nil
}

func (a *Adapter) SignMessage(ctx context.Context, address string, message []byte) (*chains.Signature, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	if a.signer == nil {
		return nil, types.NewWalletError(types.ErrCodeUnauthorized, "no signer configured for network %s", a.networkID)
	}
	sig, err := a.signer.SignMessage(ctx, common.HexToAddress(address), message)
	if err != nil {
		return nil, types.WrapWalletError(types.ErrCodeInternal, err, "signing failed")
	}
	out := &chains.Signature{Bytes: "0x" + common.Bytes2Hex(sig)}
	if len(sig) == 65 {
		v := sig[64]
		out.RecoveryID = &v
	}
	return out, nil
}

// GetTransactions needs an indexer the bare RPC endpoint does not offer,
// so it reports an empty history rather than scanning blocks.
func (a *Adapter) GetTransactions(ctx context.Context, address string, limit int) ([]*chains.TxRecord, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	return []*chains.TxRecord{}, nil
}

func (a *Adapter) EstimateFee(ctx context.Context, tx *chains.ChainTransaction) (*chains.Fee, error) {
	evmTx, err := a.evmVariant(tx)
	if err != nil {
		return nil, err
	}
	if err := ValidateAddress(evmTx.From); err != nil {
		return nil, err
	}
	if err := ValidateAddress(evmTx.To); err != nil {
		return nil, err
	}
	to := common.HexToAddress(evmTx.To)
	value, err := ParseAmount(evmTx.Value)
	if err != nil {
		return nil, err
	}
	var data []byte
	if evmTx.Data != "" {
		data = common.FromHex(evmTx.Data)
	}

	gasLimit, err := a.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  common.HexToAddress(evmTx.From),
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, types.WrapWalletError(types.ErrCodeNetworkUnavailable, err, "gas estimation failed")
	}
	gasPrice, err := a.resolveGasPrice(ctx, evmTx.GasPrice)
	if err != nil {
		return nil, err
	}

	fee := TxFee(gasLimit, gasPrice)
	return &chains.Fee{
		Amount:    fee.String(),
		Formatted: fmt.Sprintf("%s %s", FormatUnits(fee, 18), a.nativeSymbol),
		GasLimit:  gasLimit,
		GasPrice:  gasPrice.String(),
	}, nil
}

func (a *Adapter) evmVariant(tx *chains.ChainTransaction) (*chains.EVMTransaction, error) {
	if tx == nil || tx.ChainType != chains.ChainTypeEVM || tx.EVM == nil {
		return nil, types.NewWalletError(types.ErrCodeInvalidInput, "adapter for %s cannot handle this transaction", chains.ChainTypeEVM)
	}
	return tx.EVM, nil
}

// ===== chains.EVMReader =====

func (a *Adapter) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := a.retryRead(ctx, func() error {
		var err error
		n, err = a.client.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, types.WrapWalletError(types.ErrCodeNetworkUnavailable, err, "block number query failed")
	}
	return n, nil
}

func (a *Adapter) GasPrice(ctx context.Context) (*big.Int, error) {
	return a.resolveGasPrice(ctx, "")
}

func (a *Adapter) NonceAt(ctx context.Context, address string) (uint64, error) {
	if err := ValidateAddress(address); err != nil {
		return 0, err
	}
	var nonce uint64
	err := a.retryRead(ctx, func() error {
		var err error
		nonce, err = a.client.PendingNonceAt(ctx, common.HexToAddress(address))
		return err
	})
	if err != nil {
		return 0, types.WrapWalletError(types.ErrCodeNetworkUnavailable, err, "nonce query failed")
	}
	return nonce, nil
}

func (a *Adapter) Call(ctx context.Context, to string, data []byte) ([]byte, error) {
	if err := ValidateAddress(to); err != nil {
		return nil, err
	}
	toAddr := common.HexToAddress(to)
	out, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &toAddr, Data: data}, nil)
	if err != nil {
		return nil, types.WrapWalletError(types.ErrCodeNetworkUnavailable, err, "contract call failed")
	}
	return out, nil
}

func (a *Adapter) TransactionByHash(ctx context.Context, hash string) (*chains.TxRecord, error) {
	tx, pending, err := a.client.TransactionByHash(ctx, common.HexToHash(hash))
	if err != nil {
		return nil, types.WrapWalletError(types.ErrCodeNetworkUnavailable, err, "transaction lookup failed")
	}
	record := &chains.TxRecord{
		Hash:   chains.TxHash(tx.Hash().Hex()),
		Value:  tx.Value().String(),
		Status: chains.TxStatusConfirmed,
	}
	if pending {
		record.Status = chains.TxStatusPending
	}
	if to := tx.To(); to != nil {
		record.To = to.Hex()
	}
	return record, nil
}

func (a *Adapter) TransactionReceipt(ctx context.Context, hash string) ([]byte, error) {
	receipt, err := a.client.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		return nil, types.WrapWalletError(types.ErrCodeNetworkUnavailable, err, "receipt lookup failed")
	}
	return receipt.MarshalJSON()
}

func (a *Adapter) retryRead(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < readRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
