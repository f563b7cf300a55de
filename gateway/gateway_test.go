package gateway_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opencensus.io/stats/view"

	"github.com/r4-ndm/vaughan-gateway/approval"
	"github.com/r4-ndm/vaughan-gateway/chains"
	"github.com/r4-ndm/vaughan-gateway/gateway"
	"github.com/r4-ndm/vaughan-gateway/netmgr"
	"github.com/r4-ndm/vaughan-gateway/ratelimit"
	"github.com/r4-ndm/vaughan-gateway/session"
	"github.com/r4-ndm/vaughan-gateway/testhelper"
	"github.com/r4-ndm/vaughan-gateway/types"
	"github.com/r4-ndm/vaughan-gateway/wallet"
)

const (
	walletAddr = "0xAAA0000000000000000000000000000000000001"
	dexOrigin  = "https://dex.example"
)

type fixture struct {
	gw        *gateway.Gateway
	clk       *clock.TestClock
	approvals *approval.Queue
	sessions  *session.Registry
	networks  *netmgr.Registry
	accounts  *wallet.Store
	sink      *testhelper.MemSink
	persister *testhelper.MemPersister
	adapters  map[uint64]*testhelper.FakeAdapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clk:       clock.NewTestClock(time.Unix(1_700_000_000, 0)),
		sink:      testhelper.NewMemSink(),
		persister: testhelper.NewMemPersister(),
		adapters:  make(map[uint64]*testhelper.FakeAdapter),
	}

	var err error
	f.networks, err = netmgr.NewRegistry(func(cfg *netmgr.NetworkConfig) (chains.Adapter, error) {
		adapter, ok := f.adapters[cfg.ChainID]
		if !ok {
			adapter = testhelper.NewFakeAdapter(cfg.ChainID)
			f.adapters[cfg.ChainID] = adapter
		}
		return adapter, nil
	}, nil)
	require.NoError(t, err)

	f.accounts, err = wallet.NewStore(nil)
	require.NoError(t, err)
	acct, err := f.accounts.CreateAccount("Main", wallet.KindSeedDerived)
	require.NoError(t, err)
	require.NoError(t, f.accounts.AddChainEntry(acct.ID, chains.ChainTypeEVM, wallet.ChainAddress{Address: walletAddr}))

	f.sessions = session.NewRegistry(24*time.Hour, f.clk)
	f.approvals = approval.NewQueue(types.DefaultRequestConfig(), f.clk)

	f.gw, err = gateway.New(f.sessions, f.approvals, ratelimit.NewLimiter(f.clk),
		f.networks, f.accounts, f.sink, f.persister)
	require.NoError(t, err)
	return f
}

// do advances the clock past the throttle windows and issues one request.
func (f *fixture) do(windowID, origin, method string, params ...interface{}) *types.RPCResponse {
	f.clk.SetTime(f.clk.Now().Add(2 * time.Second))
	return f.doNow(windowID, origin, method, params...)
}

// doNow issues a request without advancing the clock.
func (f *fixture) doNow(windowID, origin, method string, params ...interface{}) *types.RPCResponse {
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		data, err := json.Marshal(p)
		if err != nil {
			panic(err)
		}
		raw = append(raw, data)
	}
	return f.gw.HandleRequest(context.Background(), windowID, origin,
		&types.RPCRequest{ID: json.RawMessage(`1`), Method: method, Params: raw})
}

// doAsync issues a request that will suspend on the approval queue.
func (f *fixture) doAsync(windowID, origin, method string, params ...interface{}) <-chan *types.RPCResponse {
	f.clk.SetTime(f.clk.Now().Add(2 * time.Second))
	out := make(chan *types.RPCResponse, 1)
	go func() {
		out <- f.doNow(windowID, origin, method, params...)
	}()
	return out
}

func (f *fixture) nextPending(t *testing.T) *approval.Request {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if pending := f.approvals.Pending(); len(pending) > 0 {
			return pending[0]
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("no approval request arrived")
	return nil
}

func (f *fixture) resolveNext(t *testing.T, approved bool) {
	t.Helper()
	req := f.nextPending(t)
	require.NoError(t, f.approvals.Resolve(req.ID, approved, nil))
}

func resultJSON(t *testing.T, resp *types.RPCResponse, out interface{}) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	require.NoError(t, json.Unmarshal(resp.Result, out))
}

func errCode(t *testing.T, resp *types.RPCResponse) int {
	t.Helper()
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func connect(t *testing.T, f *fixture, windowID string) []string {
	t.Helper()
	respCh := f.doAsync(windowID, dexOrigin, "eth_requestAccounts")
	f.resolveNext(t, true)
	var accounts []string
	resultJSON(t, <-respCh, &accounts)
	return accounts
}

func TestConnectFlow(t *testing.T) {
	f := newFixture(t)

	accounts := connect(t, f, "w1")
	assert.Equal(t, []string{walletAddr}, accounts)

	// no second prompt once connected
	var again []string
	resultJSON(t, f.do("w1", dexOrigin, "eth_accounts"), &again)
	assert.Equal(t, []string{walletAddr}, again)
	assert.Equal(t, 0, f.approvals.Len())
}

func TestConnectRejected(t *testing.T) {
	f := newFixture(t)

	respCh := f.doAsync("w1", dexOrigin, "eth_requestAccounts")
	f.resolveNext(t, false)
	assert.Equal(t, int(types.ErrCodeUserRejected), errCode(t, <-respCh))

	var accounts []string
	resultJSON(t, f.do("w1", dexOrigin, "eth_accounts"), &accounts)
	assert.Empty(t, accounts)
}

func TestNoCrossWindowAuthorization(t *testing.T) {
	f := newFixture(t)

	connect(t, f, "w1")

	// same origin, different window: empty until its own approval
	var accounts []string
	resultJSON(t, f.do("w2", dexOrigin, "eth_accounts"), &accounts)
	assert.Empty(t, accounts)
}

func TestGrantReconnectsWithoutPrompt(t *testing.T) {
	f := newFixture(t)

	connect(t, f, "w1")
	f.gw.WindowClosed("w1")

	// the origin was granted before; a new window reconnects silently
	var accounts []string
	resultJSON(t, f.do("w2", dexOrigin, "eth_requestAccounts"), &accounts)
	assert.Equal(t, []string{walletAddr}, accounts)
	assert.Equal(t, 0, f.approvals.Len())
}

func TestUnauthorizedSendNeverReachesQueue(t *testing.T) {
	f := newFixture(t)

	resp := f.do("w1", dexOrigin, "eth_sendTransaction", map[string]interface{}{
		"from":  walletAddr,
		"to":    "0xBBB0000000000000000000000000000000000002",
		"value": "0x38d7ea4c68000",
	})
	assert.Equal(t, int(types.ErrCodeUnauthorized), errCode(t, resp))
	assert.Equal(t, 0, f.approvals.Len())
	assert.Equal(t, 0, f.adapters[1].SentCount())
}

func TestSendTransactionApproved(t *testing.T) {
	f := newFixture(t)

	connect(t, f, "w1")
	respCh := f.doAsync("w1", dexOrigin, "eth_sendTransaction", map[string]interface{}{
		"from":  walletAddr,
		"to":    "0xBBB0000000000000000000000000000000000002",
		"value": "0x38d7ea4c68000",
		"gas":   "0x5208",
	})

	req := f.nextPending(t)
	assert.Equal(t, approval.KindTransaction, req.Kind)
	require.NoError(t, f.approvals.Resolve(req.ID, true, nil))

	var hash string
	resultJSON(t, <-respCh, &hash)
	assert.NotEmpty(t, hash)
	require.Equal(t, 1, f.adapters[1].SentCount())

	sent := f.adapters[1].Sent[0]
	require.NotNil(t, sent.EVM)
	assert.Equal(t, walletAddr, sent.EVM.From)
	assert.Equal(t, uint64(21000), sent.EVM.GasLimit)
	assert.Equal(t, uint64(1), sent.EVM.ChainID)
}

func TestSendTransactionRejected(t *testing.T) {
	f := newFixture(t)

	connect(t, f, "w1")
	respCh := f.doAsync("w1", dexOrigin, "eth_sendTransaction", map[string]interface{}{
		"from": walletAddr,
		"to":   "0xBBB0000000000000000000000000000000000002",
	})
	f.resolveNext(t, false)

	assert.Equal(t, int(types.ErrCodeUserRejected), errCode(t, <-respCh))
	assert.Equal(t, 0, f.adapters[1].SentCount())
}

func TestApprovalExpiry(t *testing.T) {
	f := newFixture(t)

	connect(t, f, "w1")
	respCh := f.doAsync("w1", dexOrigin, "eth_sendTransaction", map[string]interface{}{
		"from": walletAddr,
		"to":   "0xBBB0000000000000000000000000000000000002",
	})
	f.nextPending(t)

	f.clk.SetTime(f.clk.Now().Add(6 * time.Minute))
	require.Equal(t, 1, f.approvals.ExpireStale())

	// a timeout is distinguishable from a deliberate rejection
	assert.Equal(t, int(types.ErrCodeApprovalExpired), errCode(t, <-respCh))
	assert.Equal(t, 0, f.adapters[1].SentCount())
}

func TestPersonalSign(t *testing.T) {
	f := newFixture(t)

	connect(t, f, "w1")
	respCh := f.doAsync("w1", dexOrigin, "personal_sign", "0x68656c6c6f", walletAddr)

	req := f.nextPending(t)
	assert.Equal(t, approval.KindSignature, req.Kind)
	require.NoError(t, f.approvals.Resolve(req.ID, true, nil))

	var sig string
	resultJSON(t, <-respCh, &sig)
	assert.NotEmpty(t, sig)
}

func TestSignRequiresAuthorization(t *testing.T) {
	f := newFixture(t)

	resp := f.do("w1", dexOrigin, "personal_sign", "0x68656c6c6f", walletAddr)
	assert.Equal(t, int(types.ErrCodeUnauthorized), errCode(t, resp))
}

func TestChainIdentity(t *testing.T) {
	f := newFixture(t)

	var chainID string
	resultJSON(t, f.do("w1", dexOrigin, "eth_chainId"), &chainID)
	assert.Equal(t, "0x1", chainID)

	var netVersion string
	resultJSON(t, f.do("w1", dexOrigin, "net_version"), &netVersion)
	assert.Equal(t, "1", netVersion)
}

func TestReadPassthrough(t *testing.T) {
	f := newFixture(t)

	var block string
	resultJSON(t, f.do("w1", dexOrigin, "eth_blockNumber"), &block)
	assert.Equal(t, "0x64", block)

	var gas string
	resultJSON(t, f.do("w1", dexOrigin, "eth_gasPrice"), &gas)
	assert.Equal(t, "0x77359400", gas)
}

func TestSwitchChainUnknown(t *testing.T) {
	f := newFixture(t)

	resp := f.do("w1", dexOrigin, "wallet_switchEthereumChain", map[string]interface{}{"chainId": "0x5"})
	assert.Equal(t, int(types.ErrCodeUnknownChain), errCode(t, resp))
}

func TestSwitchChain(t *testing.T) {
	f := newFixture(t)

	connect(t, f, "w1")
	require.NotNil(t, f.adapters[1])

	respCh := f.doAsync("w1", dexOrigin, "wallet_switchEthereumChain", map[string]interface{}{"chainId": "0x89"})
	req := f.nextPending(t)
	assert.Equal(t, approval.KindNetworkChange, req.Kind)
	require.NoError(t, f.approvals.Resolve(req.ID, true, nil))

	resp := <-respCh
	require.Nil(t, resp.Error)

	// switching away drops the old network's cached adapter but keeps
	// the window's authorization
	assert.False(t, f.networks.HasAdapter("ethereum"))
	var accounts []string
	resultJSON(t, f.do("w1", dexOrigin, "eth_accounts"), &accounts)
	assert.Equal(t, []string{walletAddr}, accounts)

	require.Equal(t, 1, f.sink.BroadcastCount())
	assert.Equal(t, "chainChanged", f.sink.Broadcasts[0].Method)
	assert.Equal(t, "0x89", f.sink.Broadcasts[0].Params)
}

func TestWatchAssetAutoApproved(t *testing.T) {
	f := newFixture(t)

	var ok bool
	resultJSON(t, f.do("w1", dexOrigin, "wallet_watchAsset", map[string]interface{}{
		"type": "ERC20",
		"options": map[string]interface{}{
			"address":  "0xCCC0000000000000000000000000000000000003",
			"symbol":   "HEX",
			"decimals": 8,
		},
	}), &ok)
	assert.True(t, ok)
	assert.Equal(t, 0, f.approvals.Len())

	tokens := f.gw.TrackedTokens(dexOrigin)
	require.Len(t, tokens, 1)
	assert.Equal(t, "HEX", tokens[0].Symbol)
}

func TestUnsupportedMethod(t *testing.T) {
	f := newFixture(t)

	resp := f.do("w1", dexOrigin, "eth_newFilter")
	assert.Equal(t, int(types.ErrCodeUnsupportedMethod), errCode(t, resp))
}

func TestRateLimiting(t *testing.T) {
	f := newFixture(t)

	// connection-class methods allow one call per second per origin
	f.do("w1", dexOrigin, "wallet_revokePermissions")
	resp := f.doNow("w1", dexOrigin, "wallet_revokePermissions")
	assert.Equal(t, int(types.ErrCodeRateLimited), errCode(t, resp))
}

func TestPermissions(t *testing.T) {
	f := newFixture(t)

	var perms []map[string]interface{}
	resultJSON(t, f.do("w1", dexOrigin, "wallet_getPermissions"), &perms)
	assert.Empty(t, perms)

	connect(t, f, "w1")
	resultJSON(t, f.do("w1", dexOrigin, "wallet_getPermissions"), &perms)
	require.Len(t, perms, 1)
	assert.Equal(t, "eth_accounts", perms[0]["parentCapability"])

	resp := f.do("w1", dexOrigin, "wallet_revokePermissions")
	require.Nil(t, resp.Error)

	var accounts []string
	resultJSON(t, f.do("w1", dexOrigin, "eth_accounts"), &accounts)
	assert.Empty(t, accounts)
}

func TestOriginChangeCancelsPendingWork(t *testing.T) {
	f := newFixture(t)

	connect(t, f, "w1")
	respCh := f.doAsync("w1", dexOrigin, "eth_sendTransaction", map[string]interface{}{
		"from": walletAddr,
		"to":   "0xBBB0000000000000000000000000000000000002",
	})
	f.nextPending(t)

	f.gw.OriginChanged("w1", dexOrigin)

	assert.Equal(t, int(types.ErrCodeApprovalCancelled), errCode(t, <-respCh))
	var accounts []string
	resultJSON(t, f.do("w1", dexOrigin, "eth_accounts"), &accounts)
	assert.Empty(t, accounts)
}

func TestMalformedParams(t *testing.T) {
	f := newFixture(t)

	resp := f.do("w1", dexOrigin, "eth_getBalance")
	assert.Equal(t, int(types.ErrCodeInvalidParams), errCode(t, resp))

	resp = f.do("w1", dexOrigin, "eth_getBalance", "not-an-address")
	assert.Equal(t, int(types.ErrCodeInvalidParams), errCode(t, resp))
}

func TestGrantPersistFailureRollsBack(t *testing.T) {
	f := newFixture(t)

	f.persister.FailNext = true
	respCh := f.doAsync("w1", dexOrigin, "eth_requestAccounts")
	f.resolveNext(t, true)

	// the grant never reached disk, so the whole connection fails
	assert.Equal(t, int(types.ErrCodeInternal), errCode(t, <-respCh))

	var accounts []string
	resultJSON(t, f.do("w1", dexOrigin, "eth_accounts"), &accounts)
	assert.Empty(t, accounts)

	grants, err := f.persister.LoadGrants()
	require.NoError(t, err)
	assert.Empty(t, grants)

	// a retry prompts again and succeeds once persistence recovers
	accounts = connect(t, f, "w1")
	assert.Equal(t, []string{walletAddr}, accounts)

	grants, err = f.persister.LoadGrants()
	require.NoError(t, err)
	assert.Equal(t, []string{walletAddr}, grants[dexOrigin])
}

func TestAdapterCallsAreMeasured(t *testing.T) {
	f := newFixture(t)

	resultJSON(t, f.do("w1", dexOrigin, "eth_blockNumber"), new(string))
	rows, err := view.RetrieveData("adapter_call")
	require.NoError(t, err)
	assert.NotEmpty(t, rows)

	f.adapters[1].SetFail(true)
	f.do("w1", dexOrigin, "eth_gasPrice")
	rows, err = view.RetrieveData("adapter_failure")
	require.NoError(t, err)
	assert.NotEmpty(t, rows)
}

func TestAdapterFailureIsSanitized(t *testing.T) {
	f := newFixture(t)

	// force the adapter to exist, then fail
	resultJSON(t, f.do("w1", dexOrigin, "eth_blockNumber"), new(string))
	f.adapters[1].SetFail(true)

	resp := f.do("w1", dexOrigin, "eth_blockNumber")
	assert.Equal(t, int(types.ErrCodeNetworkUnavailable), errCode(t, resp))
}
