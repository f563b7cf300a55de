package api

import (
	"context"
	"net/url"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/r4-ndm/vaughan-gateway/approval"
	"github.com/r4-ndm/vaughan-gateway/chains"
	"github.com/r4-ndm/vaughan-gateway/netmgr"
	"github.com/r4-ndm/vaughan-gateway/session"
	"github.com/r4-ndm/vaughan-gateway/wallet"
)

// WalletAPIStruct is the client-side stub; go-jsonrpc fills the func
// fields at dial time.
type WalletAPIStruct struct {
	Version func(ctx context.Context) (string, error)

	ListPendingApprovals func(ctx context.Context) ([]*approval.Request, error)
	ResolveApproval      func(ctx context.Context, id string, approved bool) error

	ListSessions  func(ctx context.Context) ([]*session.Session, error)
	RevokeSession func(ctx context.Context, windowID string) error

	ListAccounts     func(ctx context.Context) ([]*wallet.Account, error)
	CreateAccount    func(ctx context.Context, name string, kind wallet.AccountKind) (*wallet.Account, error)
	ImportAccount    func(ctx context.Context, name string, chainType chains.ChainType, address, keyMaterial string) (*wallet.Account, error)
	RemoveAccount    func(ctx context.Context, accountID string) error
	SetActiveAccount func(ctx context.Context, accountID string) error
	ActiveAccount    func(ctx context.Context) (*wallet.Account, error)

	ListNetworks  func(ctx context.Context) ([]*netmgr.NetworkConfig, error)
	AddNetwork    func(ctx context.Context, cfg *netmgr.NetworkConfig) error
	SwitchNetwork func(ctx context.Context, networkID string) error
	ActiveNetwork func(ctx context.Context) (*netmgr.NetworkConfig, error)

	DAppPort        func(ctx context.Context) (int, error)
	BootstrapScript func(ctx context.Context, windowID string) (string, error)
}

// NewWalletClient dials the control endpoint and returns the API stub.
func NewWalletClient(ctx context.Context, listen string) (*WalletAPIStruct, jsonrpc.ClientCloser, error) {
	addr, err := DialArgs(listen)
	if err != nil {
		return nil, nil, err
	}
	var stub WalletAPIStruct
	closer, err := jsonrpc.NewMergeClient(ctx, addr, "Wallet", []interface{}{&stub}, nil)
	if err != nil {
		return nil, nil, err
	}
	return &stub, closer, nil
}

// DialArgs turns a multiaddr or plain URL into the websocket RPC address.
func DialArgs(addr string) (string, error) {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err == nil {
		_, addr, err := manet.DialArgs(ma)
		if err != nil {
			return "", err
		}

		return "ws://" + addr + "/rpc/v0", nil
	}

	_, err = url.Parse(addr)
	if err != nil {
		return "", err
	}
	return addr + "/rpc/v0", nil
}
