package main

import (
	"context"
	"fmt"

	"github.com/r4-ndm/vaughan-gateway/api"
	"github.com/r4-ndm/vaughan-gateway/approval"
	"github.com/r4-ndm/vaughan-gateway/chains"
	"github.com/r4-ndm/vaughan-gateway/gateway"
	"github.com/r4-ndm/vaughan-gateway/metrics"
	"github.com/r4-ndm/vaughan-gateway/netmgr"
	"github.com/r4-ndm/vaughan-gateway/session"
	"github.com/r4-ndm/vaughan-gateway/transport"
	"github.com/r4-ndm/vaughan-gateway/types"
	"github.com/r4-ndm/vaughan-gateway/version"
	"github.com/r4-ndm/vaughan-gateway/wallet"
)

var _ api.IWalletAPI = (*WalletAPI)(nil)

// WalletAPI is the trusted control-plane implementation. It drives the
// same components the dApp gateway does, but without origin scoping or
// approval gating: the caller is the wallet's own UI.
type WalletAPI struct {
	gw        *gateway.Gateway
	accounts  *wallet.Store
	networks  *netmgr.Registry
	transport *transport.Server
}

func NewWalletAPI(gw *gateway.Gateway, accounts *wallet.Store, networks *netmgr.Registry, ts *transport.Server) *WalletAPI {
	return &WalletAPI{gw: gw, accounts: accounts, networks: networks, transport: ts}
}

func (w *WalletAPI) Version(ctx context.Context) (string, error) {
	return version.UserVersion, nil
}

func (w *WalletAPI) ListPendingApprovals(ctx context.Context) ([]*approval.Request, error) {
	return w.gw.Approvals().Pending(), nil
}

// ResolveApproval settles a pending approval. An id that is no longer
// pending is a no-op: the queue already guarantees the first resolution
// wins, so a double click in the UI must not surface an error.
func (w *WalletAPI) ResolveApproval(ctx context.Context, id string, approved bool) error {
	req, ok := w.gw.Approvals().Get(id)
	if !ok {
		return nil
	}
	if err := w.gw.Approvals().Resolve(id, approved, nil); err != nil {
		// lost the race with a concurrent resolver
		return nil
	}
	outcome := "rejected"
	if approved {
		outcome = "approved"
	}
	metrics.RecordApprovalOutcome(ctx, string(req.Kind), outcome)
	return nil
}

func (w *WalletAPI) ListSessions(ctx context.Context) ([]*session.Session, error) {
	return w.gw.Sessions().List(), nil
}

func (w *WalletAPI) RevokeSession(ctx context.Context, windowID string) error {
	s, err := w.gw.Sessions().Get(windowID)
	if err != nil {
		return err
	}
	w.gw.WindowClosed(windowID)
	metrics.RecordSessionRevoked(ctx, s.Origin)
	w.transport.PublishWindow(windowID, &types.RPCEvent{Method: "disconnect", Params: map[string]interface{}{
		"code":    int(types.ErrCodeDisconnected),
		"message": "session revoked by user",
	}})
	return nil
}

func (w *WalletAPI) ListAccounts(ctx context.Context) ([]*wallet.Account, error) {
	return w.accounts.ListAccounts(), nil
}

func (w *WalletAPI) CreateAccount(ctx context.Context, name string, kind wallet.AccountKind) (*wallet.Account, error) {
	return w.accounts.CreateAccount(name, kind)
}

func (w *WalletAPI) ImportAccount(ctx context.Context, name string, chainType chains.ChainType, address, keyMaterial string) (*wallet.Account, error) {
	return w.accounts.ImportAccount(name, chainType, address, keyMaterial)
}

func (w *WalletAPI) RemoveAccount(ctx context.Context, accountID string) error {
	return w.accounts.RemoveAccount(accountID)
}

func (w *WalletAPI) SetActiveAccount(ctx context.Context, accountID string) error {
	return w.accounts.SetActive(accountID)
}

func (w *WalletAPI) ActiveAccount(ctx context.Context) (*wallet.Account, error) {
	return w.accounts.Active()
}

func (w *WalletAPI) ListNetworks(ctx context.Context) ([]*netmgr.NetworkConfig, error) {
	return w.networks.ListNetworks(), nil
}

func (w *WalletAPI) AddNetwork(ctx context.Context, cfg *netmgr.NetworkConfig) error {
	return w.networks.AddNetwork(cfg)
}

func (w *WalletAPI) SwitchNetwork(ctx context.Context, networkID string) error {
	if err := w.networks.SwitchActive(networkID); err != nil {
		return err
	}
	cfg, err := w.networks.ActiveNetwork()
	if err != nil {
		return err
	}
	// dApps learn about wallet-side switches the same way they learn
	// about their own.
	w.transport.Broadcast(&types.RPCEvent{Method: "chainChanged", Params: chainIDHex(cfg.ChainID)})
	return nil
}

func (w *WalletAPI) ActiveNetwork(ctx context.Context) (*netmgr.NetworkConfig, error) {
	return w.networks.ActiveNetwork()
}

func (w *WalletAPI) DAppPort(ctx context.Context) (int, error) {
	return w.transport.Port(), nil
}

func (w *WalletAPI) BootstrapScript(ctx context.Context, windowID string) (string, error) {
	return transport.BootstrapScript(windowID, w.transport.Port())
}

func chainIDHex(chainID uint64) string {
	return fmt.Sprintf("0x%x", chainID)
}
