package api

import (
	"context"

	"github.com/r4-ndm/vaughan-gateway/approval"
	"github.com/r4-ndm/vaughan-gateway/chains"
	"github.com/r4-ndm/vaughan-gateway/netmgr"
	"github.com/r4-ndm/vaughan-gateway/session"
	"github.com/r4-ndm/vaughan-gateway/wallet"
)

// IWalletAPI is the trusted control surface the wallet UI and the CLI
// talk to. It is never reachable from dApp windows; those go through the
// dApp transport and the request gateway.
type IWalletAPI interface {
	Version(ctx context.Context) (string, error)

	// approvals
	ListPendingApprovals(ctx context.Context) ([]*approval.Request, error)
	ResolveApproval(ctx context.Context, id string, approved bool) error

	// sessions
	ListSessions(ctx context.Context) ([]*session.Session, error)
	RevokeSession(ctx context.Context, windowID string) error

	// accounts
	ListAccounts(ctx context.Context) ([]*wallet.Account, error)
	CreateAccount(ctx context.Context, name string, kind wallet.AccountKind) (*wallet.Account, error)
	ImportAccount(ctx context.Context, name string, chainType chains.ChainType, address, keyMaterial string) (*wallet.Account, error)
	RemoveAccount(ctx context.Context, accountID string) error
	SetActiveAccount(ctx context.Context, accountID string) error
	ActiveAccount(ctx context.Context) (*wallet.Account, error)

	// networks
	ListNetworks(ctx context.Context) ([]*netmgr.NetworkConfig, error)
	AddNetwork(ctx context.Context, cfg *netmgr.NetworkConfig) error
	SwitchNetwork(ctx context.Context, networkID string) error
	ActiveNetwork(ctx context.Context) (*netmgr.NetworkConfig, error)

	// transport
	DAppPort(ctx context.Context) (int, error)
	BootstrapScript(ctx context.Context, windowID string) (string, error)
}
