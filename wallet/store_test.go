package wallet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r4-ndm/vaughan-gateway/chains"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f"

func TestCreateAndList(t *testing.T) {
	s, err := NewStore(nil)
	require.NoError(t, err)

	a, err := s.CreateAccount("Main", KindSeedDerived)
	require.NoError(t, err)
	b, err := s.CreateAccount("Trading", KindSeedDerived)
	require.NoError(t, err)

	accounts := s.ListAccounts()
	require.Len(t, accounts, 2)
	assert.Equal(t, a.ID, accounts[0].ID)
	assert.Equal(t, b.ID, accounts[1].ID)

	// first account becomes active
	active, err := s.Active()
	require.NoError(t, err)
	assert.Equal(t, a.ID, active.ID)
}

func TestCreateRejectsBadInput(t *testing.T) {
	s, err := NewStore(nil)
	require.NoError(t, err)

	_, err = s.CreateAccount("  ", KindSeedDerived)
	assert.Error(t, err)
	_, err = s.CreateAccount("x", AccountKind("magic"))
	assert.Error(t, err)
}

func TestImportAccount(t *testing.T) {
	s, err := NewStore(nil)
	require.NoError(t, err)

	acct, err := s.ImportAccount("Imported", chains.ChainTypeEVM, "0xAbC0000000000000000000000000000000000001", testKey)
	require.NoError(t, err)
	assert.Equal(t, KindImported, acct.Kind)

	entry, err := s.GetAddress(acct.ID, chains.ChainTypeEVM)
	require.NoError(t, err)
	assert.Equal(t, "0xAbC0000000000000000000000000000000000001", entry.Address)
}

func TestImportRejectsBadKeyMaterial(t *testing.T) {
	s, err := NewStore(nil)
	require.NoError(t, err)

	_, err = s.ImportAccount("Bad", chains.ChainTypeEVM, "0xAbC0000000000000000000000000000000000001", "not-a-key")
	require.Error(t, err)
	assert.Empty(t, s.ListAccounts())
}

func TestAddressUniqueAcrossAccounts(t *testing.T) {
	s, err := NewStore(nil)
	require.NoError(t, err)

	a, err := s.CreateAccount("A", KindSeedDerived)
	require.NoError(t, err)
	b, err := s.CreateAccount("B", KindSeedDerived)
	require.NoError(t, err)

	require.NoError(t, s.AddChainEntry(a.ID, chains.ChainTypeEVM, ChainAddress{Address: "0xAAA0000000000000000000000000000000000001"}))

	// case differences do not make a new address
	err = s.AddChainEntry(b.ID, chains.ChainTypeEVM, ChainAddress{Address: strings.ToUpper("0xAAA0000000000000000000000000000000000001")})
	assert.ErrorIs(t, err, ErrAddressInUse)

	err = s.AddChainEntry(a.ID, chains.ChainTypeEVM, ChainAddress{Address: "0xBBB0000000000000000000000000000000000002"})
	assert.ErrorIs(t, err, ErrChainEntryExists)
}

func TestRemoveAccount(t *testing.T) {
	s, err := NewStore(nil)
	require.NoError(t, err)

	a, err := s.CreateAccount("A", KindSeedDerived)
	require.NoError(t, err)
	b, err := s.CreateAccount("B", KindSeedDerived)
	require.NoError(t, err)

	require.NoError(t, s.RemoveAccount(a.ID))
	assert.ErrorIs(t, s.RemoveAccount(a.ID), ErrAccountNotFound)

	// active falls over to the remaining account
	active, err := s.Active()
	require.NoError(t, err)
	assert.Equal(t, b.ID, active.ID)
}

func TestActiveAddress(t *testing.T) {
	s, err := NewStore(nil)
	require.NoError(t, err)

	_, err = s.ActiveAddress(chains.ChainTypeEVM)
	assert.ErrorIs(t, err, ErrNoActiveAccount)

	a, err := s.CreateAccount("A", KindSeedDerived)
	require.NoError(t, err)

	_, err = s.ActiveAddress(chains.ChainTypeEVM)
	assert.ErrorIs(t, err, ErrChainEntryMissing)

	require.NoError(t, s.AddChainEntry(a.ID, chains.ChainTypeEVM, ChainAddress{Address: "0xAAA0000000000000000000000000000000000001"}))
	addr, err := s.ActiveAddress(chains.ChainTypeEVM)
	require.NoError(t, err)
	assert.Equal(t, "0xAAA0000000000000000000000000000000000001", addr)
}

type failingPersister struct {
	fail bool
}

func (p *failingPersister) SaveAccounts(accounts []*Account, activeID string) error {
	if p.fail {
		return assert.AnError
	}
	return nil
}

func (p *failingPersister) LoadAccounts() ([]*Account, string, error) { return nil, "", nil }

func TestPersistFailureRollsBack(t *testing.T) {
	p := &failingPersister{}
	s, err := NewStore(p)
	require.NoError(t, err)

	a, err := s.CreateAccount("A", KindSeedDerived)
	require.NoError(t, err)

	p.fail = true
	_, err = s.CreateAccount("B", KindSeedDerived)
	require.Error(t, err)
	assert.Len(t, s.ListAccounts(), 1)

	err = s.AddChainEntry(a.ID, chains.ChainTypeEVM, ChainAddress{Address: "0xAAA0000000000000000000000000000000000001"})
	require.Error(t, err)
	_, err = s.GetAddress(a.ID, chains.ChainTypeEVM)
	assert.ErrorIs(t, err, ErrChainEntryMissing)

	p.fail = false
	require.NoError(t, s.AddChainEntry(a.ID, chains.ChainTypeEVM, ChainAddress{Address: "0xAAA0000000000000000000000000000000000001"}))
}
