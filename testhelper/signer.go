package testhelper

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/r4-ndm/vaughan-gateway/chains/evm"
)

var _ evm.Signer = (*MemSigner)(nil)

// MemSigner keeps private keys in process memory. Production deployments
// put an OS secure store behind evm.Signer instead; this one exists for
// tests and local development.
type MemSigner struct {
	lk   sync.Mutex
	keys map[common.Address]*ecdsa.PrivateKey
}

func NewMemSigner() *MemSigner {
	return &MemSigner{keys: make(map[common.Address]*ecdsa.PrivateKey)}
}

// Generate creates a fresh key and returns its address.
func (s *MemSigner) Generate() (common.Address, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, err
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	s.lk.Lock()
	s.keys[addr] = key
	s.lk.Unlock()
	return addr, nil
}

func (s *MemSigner) key(from common.Address) (*ecdsa.PrivateKey, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	key, ok := s.keys[from]
	if !ok {
		return nil, errors.Errorf("no key for %s", from.Hex())
	}
	return key, nil
}

func (s *MemSigner) SignTx(ctx context.Context, from common.Address, tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	key, err := s.key(from)
	if err != nil {
		return nil, err
	}
	return ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), key)
}

func (s *MemSigner) SignMessage(ctx context.Context, from common.Address, message []byte) ([]byte, error) {
	key, err := s.key(from)
	if err != nil {
		return nil, err
	}
	// EIP-191 personal-message envelope.
	hash := crypto.Keccak256(append([]byte("\x19Ethereum Signed Message:\n"+strconv.Itoa(len(message))), message...))
	return crypto.Sign(hash, key)
}
