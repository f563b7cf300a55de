package netmgr

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/r4-ndm/vaughan-gateway/chains"
	"github.com/r4-ndm/vaughan-gateway/chains/evm"
)

var log = logging.Logger("netmgr")

var (
	ErrNetworkNotFound = fmt.Errorf("network not found")
	ErrNetworkExists   = fmt.Errorf("network already exists")
	ErrNoActiveNetwork = fmt.Errorf("no active network")
)

// NetworkConfig describes one network the wallet can connect to.
type NetworkConfig struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	ChainType    chains.ChainType `json:"chain_type"`
	ChainID      uint64           `json:"chain_id"`
	RPCURL       string           `json:"rpc_url"`
	ExplorerURL  string           `json:"explorer_url,omitempty"`
	NativeSymbol string           `json:"native_symbol"`
	NativeName   string           `json:"native_name"`
}

// AdapterBuilder constructs an adapter for a network. Injected so tests
// can substitute fakes and so the registry stays the single construction
// point without knowing every chain family.
type AdapterBuilder func(cfg *NetworkConfig) (chains.Adapter, error)

// Persister saves the known networks and the active-network pointer.
type Persister interface {
	SaveNetworks(networks []*NetworkConfig, activeID string) error
	LoadNetworks() ([]*NetworkConfig, string, error)
}

// Registry owns the known-network table and one live adapter per active
// network id, created lazily and cached until invalidated. Nothing else in
// the wallet constructs adapters.
type Registry struct {
	lk       sync.Mutex
	networks map[string]*NetworkConfig
	adapters map[string]chains.Adapter
	active   string

	builder   AdapterBuilder
	persister Persister
}

// DefaultBuilder constructs real adapters per chain family.
func DefaultBuilder(signer evm.Signer) AdapterBuilder {
	return func(cfg *NetworkConfig) (chains.Adapter, error) {
		switch cfg.ChainType {
		case chains.ChainTypeEVM:
			return evm.NewWithSigner(cfg.RPCURL, cfg.ID, cfg.ChainID, signer)
		default:
			return nil, fmt.Errorf("chain type %s not supported", cfg.ChainType)
		}
	}
}

func NewRegistry(builder AdapterBuilder, persister Persister) (*Registry, error) {
	r := &Registry{
		networks:  make(map[string]*NetworkConfig),
		adapters:  make(map[string]chains.Adapter),
		builder:   builder,
		persister: persister,
	}

	for _, builtin := range evm.BuiltinNetworks {
		cfg := builtin
		r.networks[cfg.ID] = &NetworkConfig{
			ID:           cfg.ID,
			Name:         cfg.Name,
			ChainType:    chains.ChainTypeEVM,
			ChainID:      cfg.ChainID,
			RPCURL:       cfg.RPCURL,
			ExplorerURL:  cfg.ExplorerURL,
			NativeSymbol: cfg.NativeSymbol,
			NativeName:   cfg.NativeName,
		}
	}

	if persister != nil {
		saved, activeID, err := persister.LoadNetworks()
		if err != nil {
			return nil, fmt.Errorf("load networks: %w", err)
		}
		for _, cfg := range saved {
			r.networks[cfg.ID] = cfg
		}
		if activeID != "" {
			if _, ok := r.networks[activeID]; ok {
				r.active = activeID
			}
		}
	}
	if r.active == "" {
		r.active = "ethereum"
	}
	return r, nil
}

// GetOrCreate returns the cached adapter for a network, constructing it on
// first use. Construction does not dial; adapters connect lazily.
func (r *Registry) GetOrCreate(networkID string) (chains.Adapter, error) {
	r.lk.Lock()
	defer r.lk.Unlock()
	return r.getOrCreateLocked(networkID)
}

func (r *Registry) getOrCreateLocked(networkID string) (chains.Adapter, error) {
	if adapter, ok := r.adapters[networkID]; ok {
		return adapter, nil
	}
	cfg, ok := r.networks[networkID]
	if !ok {
		return nil, ErrNetworkNotFound
	}
	adapter, err := r.builder(cfg)
	if err != nil {
		return nil, fmt.Errorf("build adapter for %s: %w", networkID, err)
	}
	r.adapters[networkID] = adapter
	log.Infow("adapter created", "network", networkID, "chain_id", cfg.ChainID)
	return adapter, nil
}

// Invalidate drops the cached adapter so the next use reconnects. Used
// when endpoint configuration changes and on switch-away.
func (r *Registry) Invalidate(networkID string) {
	r.lk.Lock()
	defer r.lk.Unlock()
	if _, ok := r.adapters[networkID]; ok {
		delete(r.adapters, networkID)
		log.Infof("adapter for %s invalidated", networkID)
	}
}

// ActiveAdapter returns the adapter for the active network.
func (r *Registry) ActiveAdapter() (chains.Adapter, error) {
	r.lk.Lock()
	defer r.lk.Unlock()
	if r.active == "" {
		return nil, ErrNoActiveNetwork
	}
	return r.getOrCreateLocked(r.active)
}

// ActiveNetwork returns the active network's configuration.
func (r *Registry) ActiveNetwork() (*NetworkConfig, error) {
	r.lk.Lock()
	defer r.lk.Unlock()
	cfg, ok := r.networks[r.active]
	if !ok {
		return nil, ErrNoActiveNetwork
	}
	out := *cfg
	return &out, nil
}

// SwitchActive changes the active network and invalidates the previous
// network's cached adapter.
func (r *Registry) SwitchActive(networkID string) error {
	r.lk.Lock()
	defer r.lk.Unlock()

	if _, ok := r.networks[networkID]; !ok {
		return ErrNetworkNotFound
	}
	if networkID == r.active {
		return nil
	}
	prev := r.active
	r.active = networkID
	delete(r.adapters, prev)

	if err := r.persistLocked(); err != nil {
		r.active = prev
		return err
	}
	log.Infow("active network switched", "from", prev, "to", networkID)
	return nil
}

// AddNetwork registers a user-supplied network, deduplicated by id and by
// (chain type, chain id).
func (r *Registry) AddNetwork(cfg *NetworkConfig) error {
	if strings.TrimSpace(cfg.ID) == "" || strings.TrimSpace(cfg.RPCURL) == "" {
		return fmt.Errorf("network id and rpc url are required")
	}
	if !cfg.ChainType.Valid() {
		return fmt.Errorf("invalid chain type %q", cfg.ChainType)
	}

	r.lk.Lock()
	defer r.lk.Unlock()

	if _, ok := r.networks[cfg.ID]; ok {
		return ErrNetworkExists
	}
	for _, existing := range r.networks {
		if existing.ChainType == cfg.ChainType && existing.ChainID == cfg.ChainID {
			return ErrNetworkExists
		}
	}
	saved := *cfg
	r.networks[cfg.ID] = &saved
	if err := r.persistLocked(); err != nil {
		delete(r.networks, cfg.ID)
		return err
	}
	log.Infow("network added", "id", cfg.ID, "chain_id", cfg.ChainID)
	return nil
}

// UpdateEndpoint changes a network's RPC endpoint and invalidates its
// cached adapter.
func (r *Registry) UpdateEndpoint(networkID, rpcURL string) error {
	if strings.TrimSpace(rpcURL) == "" {
		return fmt.Errorf("rpc url must not be empty")
	}

	r.lk.Lock()
	defer r.lk.Unlock()

	cfg, ok := r.networks[networkID]
	if !ok {
		return ErrNetworkNotFound
	}
	prev := cfg.RPCURL
	cfg.RPCURL = rpcURL
	delete(r.adapters, networkID)
	if err := r.persistLocked(); err != nil {
		cfg.RPCURL = prev
		return err
	}
	return nil
}

// GetNetwork returns one network's configuration.
func (r *Registry) GetNetwork(networkID string) (*NetworkConfig, error) {
	r.lk.Lock()
	defer r.lk.Unlock()
	cfg, ok := r.networks[networkID]
	if !ok {
		return nil, ErrNetworkNotFound
	}
	out := *cfg
	return &out, nil
}

// FindByChainID locates a network by chain family and numeric chain id.
func (r *Registry) FindByChainID(chainType chains.ChainType, chainID uint64) (*NetworkConfig, error) {
	r.lk.Lock()
	defer r.lk.Unlock()
	for _, cfg := range r.networks {
		if cfg.ChainType == chainType && cfg.ChainID == chainID {
			out := *cfg
			return &out, nil
		}
	}
	return nil, ErrNetworkNotFound
}

// ListNetworks returns all known networks sorted by id.
func (r *Registry) ListNetworks() []*NetworkConfig {
	r.lk.Lock()
	defer r.lk.Unlock()

	out := make([]*NetworkConfig, 0, len(r.networks))
	for _, cfg := range r.networks {
		c := *cfg
		out = append(out, &c)
	}
	sortNetworks(out)
	return out
}

// HasAdapter reports whether a live adapter is cached for a network.
// Exposed for tests and diagnostics.
func (r *Registry) HasAdapter(networkID string) bool {
	r.lk.Lock()
	defer r.lk.Unlock()
	_, ok := r.adapters[networkID]
	return ok
}

func (r *Registry) persistLocked() error {
	if r.persister == nil {
		return nil
	}
	networks := make([]*NetworkConfig, 0, len(r.networks))
	for _, cfg := range r.networks {
		c := *cfg
		networks = append(networks, &c)
	}
	sortNetworks(networks)
	if err := r.persister.SaveNetworks(networks, r.active); err != nil {
		return fmt.Errorf("persist networks: %w", err)
	}
	return nil
}

func sortNetworks(networks []*NetworkConfig) {
	sort.Slice(networks, func(i, j int) bool {
		return networks[i].ID < networks[j].ID
	})
}
