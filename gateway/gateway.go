package gateway

import (
	"context"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/r4-ndm/vaughan-gateway/approval"
	"github.com/r4-ndm/vaughan-gateway/chains"
	"github.com/r4-ndm/vaughan-gateway/metrics"
	"github.com/r4-ndm/vaughan-gateway/netmgr"
	"github.com/r4-ndm/vaughan-gateway/ratelimit"
	"github.com/r4-ndm/vaughan-gateway/session"
	"github.com/r4-ndm/vaughan-gateway/types"
	"github.com/r4-ndm/vaughan-gateway/wallet"
)

var log = logging.Logger("gateway")

// EventSink delivers provider events (accountsChanged, chainChanged,
// disconnect) back to dApp windows. The transport implements it.
type EventSink interface {
	PublishWindow(windowID string, evt *types.RPCEvent)
	Broadcast(evt *types.RPCEvent)
}

// GrantStore persists per-origin account grants so a dApp the user
// already connected reconnects without a fresh prompt.
type GrantStore interface {
	SaveGrant(origin string, accounts []string) error
	LoadGrants() (map[string][]string, error)
	DeleteGrant(origin string) error
}

// methodClass buckets provider methods by how dangerous they are. The
// class picks the rate-limit preset and decides whether the per-window
// serialization lock is taken.
type methodClass int

const (
	classReadOnly methodClass = iota
	classConnection
	classSensitive
	classUnsupported
)

func classify(method string) methodClass {
	switch method {
	case "eth_accounts", "eth_chainId", "net_version",
		"eth_getBalance", "eth_blockNumber", "eth_gasPrice",
		"eth_getTransactionCount", "eth_call", "eth_estimateGas",
		"eth_getTransactionByHash", "eth_getTransactionReceipt",
		"wallet_getPermissions", "wallet_watchAsset":
		return classReadOnly
	case "eth_requestAccounts", "wallet_requestPermissions",
		"wallet_revokePermissions":
		return classConnection
	case "eth_sendTransaction", "personal_sign", "eth_signTypedData_v4",
		"wallet_switchEthereumChain", "wallet_addEthereumChain":
		return classSensitive
	default:
		return classUnsupported
	}
}

func (c methodClass) limit() ratelimit.Limit {
	switch c {
	case classSensitive:
		return ratelimit.SensitiveLimit
	case classConnection:
		return ratelimit.ConnectionLimit
	default:
		return ratelimit.ReadOnlyLimit
	}
}

func (c methodClass) String() string {
	switch c {
	case classReadOnly:
		return "read_only"
	case classConnection:
		return "connection"
	case classSensitive:
		return "sensitive"
	default:
		return "unsupported"
	}
}

// Gateway is the single entry point for requests arriving from untrusted
// dApp windows. Every request is validated, rate limited, authorized and,
// when it spends or signs, suspended on the approval queue before any
// adapter is touched.
type Gateway struct {
	sessions  *session.Registry
	approvals *approval.Queue
	limiter   *ratelimit.Limiter
	networks  *netmgr.Registry
	accounts  *wallet.Store

	events EventSink
	grants GrantStore

	// grantsByOrigin caches the persisted grants.
	grantsLk       sync.Mutex
	grantsByOrigin map[string][]string

	// tracked tokens per origin, from wallet_watchAsset.
	tokensLk sync.Mutex
	tokens   map[string][]chains.TokenInfo

	// windowLks guard state-mutating requests per window. Arrival order
	// is preserved upstream by the transport's ordered dispatch; the lock
	// only enforces mutual exclusion for callers that bypass it.
	windowLksLk sync.Mutex
	windowLks   map[string]*sync.Mutex
}

func New(sessions *session.Registry, approvals *approval.Queue, limiter *ratelimit.Limiter,
	networks *netmgr.Registry, accounts *wallet.Store, events EventSink, grants GrantStore) (*Gateway, error) {
	g := &Gateway{
		sessions:       sessions,
		approvals:      approvals,
		limiter:        limiter,
		networks:       networks,
		accounts:       accounts,
		events:         events,
		grants:         grants,
		grantsByOrigin: make(map[string][]string),
		tokens:         make(map[string][]chains.TokenInfo),
		windowLks:      make(map[string]*sync.Mutex),
	}
	if grants != nil {
		saved, err := grants.LoadGrants()
		if err != nil {
			return nil, err
		}
		for origin, accts := range saved {
			g.grantsByOrigin[origin] = accts
		}
	}
	return g, nil
}

// HandleRequest processes one request from a dApp window and always
// returns a response; failures come back as structured provider errors,
// never as internal detail.
func (g *Gateway) HandleRequest(ctx context.Context, windowID, origin string, req *types.RPCRequest) *types.RPCResponse {
	start := time.Now()
	class := classify(req.Method)

	stats := metrics.NewRequestStats(ctx, origin, req.Method)
	defer func() { stats.Done(start) }()

	if class == classUnsupported {
		log.Warnf("unsupported method %q from %s", req.Method, origin)
		return types.NewRPCError(req.ID, types.NewWalletError(types.ErrCodeUnsupportedMethod,
			"method %s is not supported", req.Method))
	}

	if err := g.limiter.Check(origin, class.String(), class.limit()); err != nil {
		stats.RateLimited()
		return types.NewRPCError(req.ID, types.AsWalletError(err))
	}

	g.sessions.RegisterOrGet(windowID, origin, g.activeNetworkID(), chains.ChainTypeEVM)

	if class == classSensitive {
		lk := g.windowLock(windowID)
		lk.Lock()
		defer lk.Unlock()
	}

	result, err := g.dispatch(ctx, windowID, origin, req)
	if err != nil {
		werr := types.AsWalletError(err)
		if werr.Unwrap() != nil {
			log.Warnw("request failed", "method", req.Method, "origin", origin, "code", werr.Code, "err", werr.Unwrap())
		}
		stats.Failed(int(werr.Code))
		return types.NewRPCError(req.ID, werr)
	}
	g.sessions.Touch(windowID)
	return types.NewRPCResult(req.ID, result)
}

func (g *Gateway) dispatch(ctx context.Context, windowID, origin string, req *types.RPCRequest) (interface{}, error) {
	switch req.Method {
	case "eth_requestAccounts":
		return g.requestAccounts(ctx, windowID, origin)
	case "eth_accounts":
		return g.authorizedAccounts(windowID), nil
	case "eth_chainId":
		return g.chainIDHex()
	case "net_version":
		return g.netVersion()
	case "eth_getBalance":
		return g.getBalance(ctx, windowID, req.Params)
	case "eth_blockNumber":
		return g.blockNumber(ctx)
	case "eth_gasPrice":
		return g.gasPrice(ctx)
	case "eth_getTransactionCount":
		return g.transactionCount(ctx, req.Params)
	case "eth_call":
		return g.call(ctx, req.Params)
	case "eth_estimateGas":
		return g.estimateGas(ctx, req.Params)
	case "eth_getTransactionByHash":
		return g.transactionByHash(ctx, req.Params)
	case "eth_getTransactionReceipt":
		return g.transactionReceipt(ctx, req.Params)
	case "eth_sendTransaction":
		return g.sendTransaction(ctx, windowID, origin, req.Params)
	case "personal_sign":
		return g.personalSign(ctx, windowID, origin, req.Params)
	case "eth_signTypedData_v4":
		return g.signTypedData(ctx, windowID, origin, req.Params)
	case "wallet_switchEthereumChain":
		return g.switchChain(ctx, windowID, origin, req.Params)
	case "wallet_addEthereumChain":
		return g.addChain(ctx, windowID, origin, req.Params)
	case "wallet_watchAsset":
		return g.watchAsset(origin, req.Params)
	case "wallet_getPermissions":
		return g.getPermissions(windowID, origin), nil
	case "wallet_requestPermissions":
		return g.requestPermissions(ctx, windowID, origin, req.Params)
	case "wallet_revokePermissions":
		return g.revokePermissions(windowID, origin)
	default:
		return nil, types.NewWalletError(types.ErrCodeUnsupportedMethod, "method %s is not supported", req.Method)
	}
}

// Mutating reports whether a method changes wallet state. The transport
// dispatches such requests from one window in arrival order.
func (g *Gateway) Mutating(method string) bool {
	return classify(method) == classSensitive
}

// SessionCount feeds the metrics sampling loop.
func (g *Gateway) SessionCount() int { return g.sessions.Count() }

// PendingApprovalCount feeds the metrics sampling loop.
func (g *Gateway) PendingApprovalCount() int { return g.approvals.Len() }

// Approvals exposes the queue to the wallet-side control API.
func (g *Gateway) Approvals() *approval.Queue { return g.approvals }

// Sessions exposes the session registry to the wallet-side control API.
func (g *Gateway) Sessions() *session.Registry { return g.sessions }

// WindowClosed tears down everything a departed window owned: its
// pending approvals are cancelled, its session removed.
func (g *Gateway) WindowClosed(windowID string) {
	cancelled := g.approvals.CancelForWindow(windowID)
	if cancelled > 0 {
		log.Infof("cancelled %d pending approvals for closed window %s", cancelled, windowID)
	}
	g.sessions.Revoke(windowID)
}

// OriginChanged handles a window navigating to a different origin. The
// old origin's sessions and pending approvals must not survive into the
// new page.
func (g *Gateway) OriginChanged(windowID, oldOrigin string) {
	g.approvals.CancelForWindow(windowID)
	g.sessions.Revoke(windowID)
	g.limiter.Reset(oldOrigin)
	if g.events != nil {
		g.events.PublishWindow(windowID, &types.RPCEvent{Method: "disconnect", Params: map[string]interface{}{
			"code":    int(types.ErrCodeDisconnected),
			"message": "origin changed",
		}})
	}
}

func (g *Gateway) windowLock(windowID string) *sync.Mutex {
	g.windowLksLk.Lock()
	defer g.windowLksLk.Unlock()
	lk, ok := g.windowLks[windowID]
	if !ok {
		lk = &sync.Mutex{}
		g.windowLks[windowID] = lk
	}
	return lk
}

func (g *Gateway) activeNetworkID() string {
	cfg, err := g.networks.ActiveNetwork()
	if err != nil {
		return ""
	}
	return cfg.ID
}
