package testhelper

import (
	"sync"

	"github.com/r4-ndm/vaughan-gateway/netmgr"
	"github.com/r4-ndm/vaughan-gateway/types"
	"github.com/r4-ndm/vaughan-gateway/wallet"
)

// MemPersister keeps everything the real datastore would persist in
// memory, so tests exercise the persistence paths without touching disk.
type MemPersister struct {
	lk sync.Mutex

	accounts      []*wallet.Account
	activeAccount string

	networks      []*netmgr.NetworkConfig
	activeNetwork string

	grants map[string][]string

	// FailNext makes the next mutation fail, for rollback tests.
	FailNext bool
}

func NewMemPersister() *MemPersister {
	return &MemPersister{grants: make(map[string][]string)}
}

func (m *MemPersister) checkFail() error {
	if m.FailNext {
		m.FailNext = false
		return types.NewWalletError(types.ErrCodeInternal, "persist failed")
	}
	return nil
}

func (m *MemPersister) SaveAccounts(accounts []*wallet.Account, activeID string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	if err := m.checkFail(); err != nil {
		return err
	}
	m.accounts = accounts
	m.activeAccount = activeID
	return nil
}

func (m *MemPersister) LoadAccounts() ([]*wallet.Account, string, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.accounts, m.activeAccount, nil
}

func (m *MemPersister) SaveNetworks(networks []*netmgr.NetworkConfig, activeID string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	if err := m.checkFail(); err != nil {
		return err
	}
	m.networks = networks
	m.activeNetwork = activeID
	return nil
}

func (m *MemPersister) LoadNetworks() ([]*netmgr.NetworkConfig, string, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.networks, m.activeNetwork, nil
}

func (m *MemPersister) SaveGrant(origin string, accounts []string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	if err := m.checkFail(); err != nil {
		return err
	}
	m.grants[origin] = accounts
	return nil
}

func (m *MemPersister) LoadGrants() (map[string][]string, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	out := make(map[string][]string, len(m.grants))
	for k, v := range m.grants {
		out[k] = v
	}
	return out, nil
}

func (m *MemPersister) DeleteGrant(origin string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	delete(m.grants, origin)
	return nil
}

// MemSink records provider events published by the gateway.
type MemSink struct {
	lk sync.Mutex

	// PerWindow maps window id to the events published to it.
	PerWindow map[string][]*types.RPCEvent
	// Broadcasts holds events sent to every window.
	Broadcasts []*types.RPCEvent
}

func NewMemSink() *MemSink {
	return &MemSink{PerWindow: make(map[string][]*types.RPCEvent)}
}

func (m *MemSink) PublishWindow(windowID string, evt *types.RPCEvent) {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.PerWindow[windowID] = append(m.PerWindow[windowID], evt)
}

func (m *MemSink) Broadcast(evt *types.RPCEvent) {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.Broadcasts = append(m.Broadcasts, evt)
}

// BroadcastCount returns how many broadcast events were published.
func (m *MemSink) BroadcastCount() int {
	m.lk.Lock()
	defer m.lk.Unlock()
	return len(m.Broadcasts)
}

// WindowEvents returns the events published to one window.
func (m *MemSink) WindowEvents(windowID string) []*types.RPCEvent {
	m.lk.Lock()
	defer m.lk.Unlock()
	return append([]*types.RPCEvent(nil), m.PerWindow[windowID]...)
}
