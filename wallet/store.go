package wallet

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/r4-ndm/vaughan-gateway/chains"
)

var log = logging.Logger("wallet_store")

var (
	ErrAccountNotFound   = fmt.Errorf("account not found")
	ErrChainEntryExists  = fmt.Errorf("chain entry already exists")
	ErrChainEntryMissing = fmt.Errorf("chain entry not found")
	ErrAddressInUse      = fmt.Errorf("address already belongs to another account")
	ErrNoActiveAccount   = fmt.Errorf("no active account selected")
)

// Persister saves the account set across restarts. storage.Store
// implements it; tests pass nil for a volatile store.
type Persister interface {
	SaveAccounts(accounts []*Account, activeID string) error
	LoadAccounts() ([]*Account, string, error)
}

// Store holds user accounts. All mutations go through it; it never
// touches the network.
type Store struct {
	lk        sync.Mutex
	accounts  map[string]*Account
	order     []string // insertion order, for stable listing
	activeID  string
	persister Persister
}

func NewStore(persister Persister) (*Store, error) {
	s := &Store{
		accounts:  make(map[string]*Account),
		persister: persister,
	}
	if persister != nil {
		accounts, activeID, err := persister.LoadAccounts()
		if err != nil {
			return nil, fmt.Errorf("load accounts: %w", err)
		}
		for _, acct := range accounts {
			s.accounts[acct.ID] = acct
			s.order = append(s.order, acct.ID)
		}
		s.activeID = activeID
		log.Infof("loaded %d accounts", len(accounts))
	}
	return s, nil
}

// CreateAccount registers a new account with no chain entries yet.
func (s *Store) CreateAccount(name string, kind AccountKind) (*Account, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("account name must not be empty")
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid account kind %q", kind)
	}

	s.lk.Lock()
	defer s.lk.Unlock()

	acct := &Account{
		ID:        uuid.New().String(),
		Name:      name,
		Kind:      kind,
		Addresses: make(map[chains.ChainType]ChainAddress),
	}
	s.accounts[acct.ID] = acct
	s.order = append(s.order, acct.ID)
	if s.activeID == "" {
		s.activeID = acct.ID
	}
	if err := s.persistLocked(); err != nil {
		delete(s.accounts, acct.ID)
		s.order = s.order[:len(s.order)-1]
		return nil, err
	}
	log.Infow("account created", "id", acct.ID, "name", name, "kind", kind)
	return acct.clone(), nil
}

// ImportAccount registers an account from imported key material and seeds
// it with one chain entry. The key material is only validated
// structurally here; custody belongs to the signer.
func (s *Store) ImportAccount(name string, chainType chains.ChainType, address, keyMaterial string) (*Account, error) {
	if err := ValidateKeyMaterial(keyMaterial); err != nil {
		return nil, err
	}
	acct, err := s.CreateAccount(name, KindImported)
	if err != nil {
		return nil, err
	}
	if err := s.AddChainEntry(acct.ID, chainType, ChainAddress{Address: address}); err != nil {
		_ = s.RemoveAccount(acct.ID)
		return nil, err
	}
	return s.GetAccount(acct.ID)
}

// AddChainEntry adds an address on one chain family to an account. The
// resulting address must be unique across all accounts on that chain.
func (s *Store) AddChainEntry(accountID string, chainType chains.ChainType, entry ChainAddress) error {
	if !chainType.Valid() {
		return fmt.Errorf("invalid chain type %q", chainType)
	}
	if strings.TrimSpace(entry.Address) == "" {
		return fmt.Errorf("address must not be empty")
	}

	s.lk.Lock()
	defer s.lk.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	if _, ok := acct.Addresses[chainType]; ok {
		return ErrChainEntryExists
	}
	for _, other := range s.accounts {
		if existing, ok := other.Addresses[chainType]; ok && strings.EqualFold(existing.Address, entry.Address) {
			return ErrAddressInUse
		}
	}

	acct.Addresses[chainType] = entry
	if err := s.persistLocked(); err != nil {
		delete(acct.Addresses, chainType)
		return err
	}
	return nil
}

// RemoveChainEntry drops an account's address on one chain family.
func (s *Store) RemoveChainEntry(accountID string, chainType chains.ChainType) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	entry, ok := acct.Addresses[chainType]
	if !ok {
		return ErrChainEntryMissing
	}
	delete(acct.Addresses, chainType)
	if err := s.persistLocked(); err != nil {
		acct.Addresses[chainType] = entry
		return err
	}
	return nil
}

// GetAddress returns the account's address record for one chain family.
func (s *Store) GetAddress(accountID string, chainType chains.ChainType) (ChainAddress, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return ChainAddress{}, ErrAccountNotFound
	}
	entry, ok := acct.Addresses[chainType]
	if !ok {
		return ChainAddress{}, ErrChainEntryMissing
	}
	return entry, nil
}

func (s *Store) GetAccount(accountID string) (*Account, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acct.clone(), nil
}

// ListAccounts returns accounts in creation order.
func (s *Store) ListAccounts() []*Account {
	s.lk.Lock()
	defer s.lk.Unlock()

	out := make([]*Account, 0, len(s.order))
	for _, id := range s.order {
		if acct, ok := s.accounts[id]; ok {
			out = append(out, acct.clone())
		}
	}
	return out
}

// RemoveAccount deletes an account. Accounts are never deleted implicitly.
func (s *Store) RemoveAccount(accountID string) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	delete(s.accounts, accountID)
	for i, id := range s.order {
		if id == accountID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.activeID == accountID {
		s.activeID = ""
		if len(s.order) > 0 {
			s.activeID = s.order[0]
		}
	}
	if err := s.persistLocked(); err != nil {
		// re-insert to keep memory and disk consistent
		s.accounts[accountID] = acct
		s.order = append(s.order, accountID)
		return err
	}
	log.Infow("account removed", "id", accountID)
	return nil
}

// SetActive marks the account the wallet UI currently operates as.
func (s *Store) SetActive(accountID string) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return ErrAccountNotFound
	}
	prev := s.activeID
	s.activeID = accountID
	if err := s.persistLocked(); err != nil {
		s.activeID = prev
		return err
	}
	return nil
}

// Active returns the active account.
func (s *Store) Active() (*Account, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	if s.activeID == "" {
		return nil, ErrNoActiveAccount
	}
	acct, ok := s.accounts[s.activeID]
	if !ok {
		return nil, ErrNoActiveAccount
	}
	return acct.clone(), nil
}

// ActiveAddress returns the active account's address on one chain family.
func (s *Store) ActiveAddress(chainType chains.ChainType) (string, error) {
	acct, err := s.Active()
	if err != nil {
		return "", err
	}
	entry, ok := acct.Addresses[chainType]
	if !ok {
		return "", ErrChainEntryMissing
	}
	return entry.Address, nil
}

func (s *Store) persistLocked() error {
	if s.persister == nil {
		return nil
	}
	accounts := make([]*Account, 0, len(s.order))
	for _, id := range s.order {
		if acct, ok := s.accounts[id]; ok {
			accounts = append(accounts, acct.clone())
		}
	}
	if err := s.persister.SaveAccounts(accounts, s.activeID); err != nil {
		return fmt.Errorf("persist accounts: %w", err)
	}
	return nil
}
