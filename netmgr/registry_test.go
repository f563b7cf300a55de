package netmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r4-ndm/vaughan-gateway/chains"
	"github.com/r4-ndm/vaughan-gateway/testhelper"
)

func fakeBuilder(built *int) AdapterBuilder {
	return func(cfg *NetworkConfig) (chains.Adapter, error) {
		*built++
		return testhelper.NewFakeAdapter(cfg.ChainID), nil
	}
}

func TestAdapterBuiltLazilyAndCached(t *testing.T) {
	var built int
	r, err := NewRegistry(fakeBuilder(&built), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, built)

	a1, err := r.GetOrCreate("ethereum")
	require.NoError(t, err)
	a2, err := r.GetOrCreate("ethereum")
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.Equal(t, 1, built)
}

func TestInvalidate(t *testing.T) {
	var built int
	r, err := NewRegistry(fakeBuilder(&built), nil)
	require.NoError(t, err)

	_, err = r.GetOrCreate("ethereum")
	require.NoError(t, err)
	r.Invalidate("ethereum")
	assert.False(t, r.HasAdapter("ethereum"))

	_, err = r.GetOrCreate("ethereum")
	require.NoError(t, err)
	assert.Equal(t, 2, built)
}

func TestSwitchInvalidatesPreviousAdapter(t *testing.T) {
	var built int
	r, err := NewRegistry(fakeBuilder(&built), nil)
	require.NoError(t, err)

	// ethereum is the default active network
	_, err = r.ActiveAdapter()
	require.NoError(t, err)
	require.True(t, r.HasAdapter("ethereum"))

	require.NoError(t, r.SwitchActive("polygon"))
	assert.False(t, r.HasAdapter("ethereum"))

	cfg, err := r.ActiveNetwork()
	require.NoError(t, err)
	assert.Equal(t, "polygon", cfg.ID)
	assert.Equal(t, uint64(137), cfg.ChainID)
}

func TestSwitchUnknownNetwork(t *testing.T) {
	var built int
	r, err := NewRegistry(fakeBuilder(&built), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, r.SwitchActive("narnia"), ErrNetworkNotFound)
}

func TestAddNetworkDedupe(t *testing.T) {
	var built int
	r, err := NewRegistry(fakeBuilder(&built), nil)
	require.NoError(t, err)

	err = r.AddNetwork(&NetworkConfig{
		ID: "ethereum", ChainType: chains.ChainTypeEVM, ChainID: 99999, RPCURL: "https://x.example",
	})
	assert.ErrorIs(t, err, ErrNetworkExists)

	// same chain id under a different name is still a duplicate
	err = r.AddNetwork(&NetworkConfig{
		ID: "also-mainnet", ChainType: chains.ChainTypeEVM, ChainID: 1, RPCURL: "https://x.example",
	})
	assert.ErrorIs(t, err, ErrNetworkExists)

	require.NoError(t, r.AddNetwork(&NetworkConfig{
		ID: "localnet", ChainType: chains.ChainTypeEVM, ChainID: 31337, RPCURL: "https://localhost.example",
		NativeSymbol: "ETH", NativeName: "Ethereum",
	}))
}

func TestUpdateEndpointInvalidates(t *testing.T) {
	var built int
	r, err := NewRegistry(fakeBuilder(&built), nil)
	require.NoError(t, err)

	_, err = r.GetOrCreate("ethereum")
	require.NoError(t, err)

	require.NoError(t, r.UpdateEndpoint("ethereum", "https://new-rpc.example"))
	assert.False(t, r.HasAdapter("ethereum"))

	cfg, err := r.GetNetwork("ethereum")
	require.NoError(t, err)
	assert.Equal(t, "https://new-rpc.example", cfg.RPCURL)
}

func TestFindByChainID(t *testing.T) {
	var built int
	r, err := NewRegistry(fakeBuilder(&built), nil)
	require.NoError(t, err)

	cfg, err := r.FindByChainID(chains.ChainTypeEVM, 369)
	require.NoError(t, err)
	assert.Equal(t, "pulsechain", cfg.ID)

	_, err = r.FindByChainID(chains.ChainTypeEVM, 424242)
	assert.ErrorIs(t, err, ErrNetworkNotFound)
}

func TestPersistenceRoundtrip(t *testing.T) {
	var built int
	p := testhelper.NewMemPersister()

	r, err := NewRegistry(fakeBuilder(&built), p)
	require.NoError(t, err)
	require.NoError(t, r.AddNetwork(&NetworkConfig{
		ID: "localnet", ChainType: chains.ChainTypeEVM, ChainID: 31337, RPCURL: "https://localhost.example",
		NativeSymbol: "ETH", NativeName: "Ethereum",
	}))
	require.NoError(t, r.SwitchActive("localnet"))

	reloaded, err := NewRegistry(fakeBuilder(&built), p)
	require.NoError(t, err)

	cfg, err := reloaded.ActiveNetwork()
	require.NoError(t, err)
	assert.Equal(t, "localnet", cfg.ID)

	_, err = reloaded.GetNetwork("localnet")
	assert.NoError(t, err)
}
