package testhelper

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/r4-ndm/vaughan-gateway/chains"
	"github.com/r4-ndm/vaughan-gateway/types"
)

var (
	_ chains.Adapter   = (*FakeAdapter)(nil)
	_ chains.EVMReader = (*FakeAdapter)(nil)
)

// FakeAdapter is an in-memory chain adapter with canned answers. Sent
// transactions are recorded so tests can assert exactly what reached the
// chain.
type FakeAdapter struct {
	lk   sync.Mutex
	fail bool

	Balances map[string]*big.Int
	Sent     []*chains.ChainTransaction

	Block    uint64
	Gas      *big.Int
	Nonces   map[string]uint64
	CallOut  []byte
	Receipts map[string][]byte

	chainID uint64
}

func NewFakeAdapter(chainID uint64) *FakeAdapter {
	return &FakeAdapter{
		Balances: make(map[string]*big.Int),
		Nonces:   make(map[string]uint64),
		Receipts: make(map[string][]byte),
		Block:    100,
		Gas:      big.NewInt(2_000_000_000),
		chainID:  chainID,
	}
}

// SetFail makes every network-touching call return a network error.
func (f *FakeAdapter) SetFail(fail bool) {
	f.lk.Lock()
	defer f.lk.Unlock()
	f.fail = fail
}

func (f *FakeAdapter) failErr() error {
	return types.NewWalletError(types.ErrCodeNetworkUnavailable, "network unavailable")
}

func (f *FakeAdapter) ChainType() chains.ChainType { return chains.ChainTypeEVM }

func (f *FakeAdapter) ChainInfo() chains.ChainInfo {
	return chains.ChainInfo{
		ChainType:   chains.ChainTypeEVM,
		ChainID:     f.chainID,
		Name:        fmt.Sprintf("Fake Chain %d", f.chainID),
		NativeToken: chains.NativeToken("ETH", "Ethereum", 18),
	}
}

func (f *FakeAdapter) ValidateAddress(address string) error {
	if !strings.HasPrefix(address, "0x") || len(address) != 42 {
		return types.NewWalletError(types.ErrCodeInvalidParams, "invalid address %s", address)
	}
	return nil
}

func (f *FakeAdapter) GetBalance(ctx context.Context, address string) (*chains.Balance, error) {
	f.lk.Lock()
	defer f.lk.Unlock()
	if f.fail {
		return nil, f.failErr()
	}
	raw, ok := f.Balances[strings.ToLower(address)]
	if !ok {
		raw = big.NewInt(0)
	}
	return &chains.Balance{
		Token: chains.NativeToken("ETH", "Ethereum", 18),
		Raw:   raw.String(),
	}, nil
}

func (f *FakeAdapter) SendTransaction(ctx context.Context, tx *chains.ChainTransaction) (chains.TxHash, error) {
	f.lk.Lock()
	defer f.lk.Unlock()
	if f.fail {
		return "", f.failErr()
	}
	f.Sent = append(f.Sent, tx)
	return chains.TxHash(fmt.Sprintf("0xfake%064d", len(f.Sent))), nil
}

func (f *FakeAdapter) SignMessage(ctx context.Context, address string, message []byte) (*chains.Signature, error) {
	f.lk.Lock()
	defer f.lk.Unlock()
	if f.fail {
		return nil, f.failErr()
	}
	return &chains.Signature{Bytes: fmt.Sprintf("0xsig-%s-%d", strings.ToLower(address), len(message))}, nil
}

func (f *FakeAdapter) GetTransactions(ctx context.Context, address string, limit int) ([]*chains.TxRecord, error) {
	return []*chains.TxRecord{}, nil
}

func (f *FakeAdapter) EstimateFee(ctx context.Context, tx *chains.ChainTransaction) (*chains.Fee, error) {
	f.lk.Lock()
	defer f.lk.Unlock()
	if f.fail {
		return nil, f.failErr()
	}
	return &chains.Fee{
		Amount:   new(big.Int).Mul(big.NewInt(21000), f.Gas).String(),
		GasLimit: 21000,
		GasPrice: f.Gas.String(),
	}, nil
}

func (f *FakeAdapter) BlockNumber(ctx context.Context) (uint64, error) {
	f.lk.Lock()
	defer f.lk.Unlock()
	if f.fail {
		return 0, f.failErr()
	}
	return f.Block, nil
}

func (f *FakeAdapter) GasPrice(ctx context.Context) (*big.Int, error) {
	f.lk.Lock()
	defer f.lk.Unlock()
	if f.fail {
		return nil, f.failErr()
	}
	return new(big.Int).Set(f.Gas), nil
}

func (f *FakeAdapter) NonceAt(ctx context.Context, address string) (uint64, error) {
	f.lk.Lock()
	defer f.lk.Unlock()
	if f.fail {
		return 0, f.failErr()
	}
	return f.Nonces[strings.ToLower(address)], nil
}

func (f *FakeAdapter) Call(ctx context.Context, to string, data []byte) ([]byte, error) {
	f.lk.Lock()
	defer f.lk.Unlock()
	if f.fail {
		return nil, f.failErr()
	}
	return f.CallOut, nil
}

func (f *FakeAdapter) TransactionByHash(ctx context.Context, hash string) (*chains.TxRecord, error) {
	f.lk.Lock()
	defer f.lk.Unlock()
	if f.fail {
		return nil, f.failErr()
	}
	return &chains.TxRecord{Hash: chains.TxHash(hash), Status: chains.TxStatusConfirmed}, nil
}

func (f *FakeAdapter) TransactionReceipt(ctx context.Context, hash string) ([]byte, error) {
	f.lk.Lock()
	defer f.lk.Unlock()
	if f.fail {
		return nil, f.failErr()
	}
	return f.Receipts[hash], nil
}

// SentCount returns how many transactions reached the fake chain.
func (f *FakeAdapter) SentCount() int {
	f.lk.Lock()
	defer f.lk.Unlock()
	return len(f.Sent)
}
