package wallet

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/r4-ndm/vaughan-gateway/chains"
)

// AccountKind records how an account's key material came to exist.
type AccountKind string

const (
	KindSeedDerived AccountKind = "seed"
	KindImported    AccountKind = "imported"
	KindHardware    AccountKind = "hardware"
)

func (k AccountKind) Valid() bool {
	switch k {
	case KindSeedDerived, KindImported, KindHardware:
		return true
	}
	return false
}

// ChainAddress is one account's address on one chain family.
type ChainAddress struct {
	Address        string `json:"address"`
	DerivationPath string `json:"derivation_path,omitempty"`
}

// Account is a user account. Key material is held elsewhere (behind the
// Signer boundary); the store only tracks addresses.
type Account struct {
	ID        string                             `json:"id"`
	Name      string                             `json:"name"`
	Kind      AccountKind                        `json:"kind"`
	Addresses map[chains.ChainType]ChainAddress `json:"addresses"`
}

func (a *Account) clone() *Account {
	out := &Account{ID: a.ID, Name: a.Name, Kind: a.Kind, Addresses: make(map[chains.ChainType]ChainAddress, len(a.Addresses))}
	for k, v := range a.Addresses {
		out.Addresses[k] = v
	}
	return out
}

// ValidateKeyMaterial checks imported key material structurally: 32 bytes
// of hex, with or without 0x prefix. Cryptographic validity is the
// signer's problem, not the store's.
func ValidateKeyMaterial(material string) error {
	material = strings.TrimPrefix(strings.TrimSpace(material), "0x")
	if len(material) != 64 {
		return fmt.Errorf("invalid key material: want 32 hex bytes, got %d chars", len(material))
	}
	if _, err := hex.DecodeString(material); err != nil {
		return fmt.Errorf("invalid key material: %w", err)
	}
	return nil
}
