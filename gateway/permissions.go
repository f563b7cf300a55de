package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/r4-ndm/vaughan-gateway/chains"
	"github.com/r4-ndm/vaughan-gateway/types"
)

// Permission is the EIP-2255 view of an account grant.
type Permission struct {
	ParentCapability string   `json:"parentCapability"`
	Invoker          string   `json:"invoker"`
	Caveats          []Caveat `json:"caveats"`
	Date             int64    `json:"date,omitempty"`
}

type Caveat struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

func (g *Gateway) getPermissions(windowID, origin string) []Permission {
	accounts := g.sessions.AuthorizedAccounts(windowID)
	if len(accounts) == 0 {
		return []Permission{}
	}
	return []Permission{{
		ParentCapability: "eth_accounts",
		Invoker:          origin,
		Caveats:          []Caveat{{Type: "restrictReturnedAccounts", Value: accounts}},
		Date:             time.Now().UnixMilli(),
	}}
}

// requestPermissions only understands the eth_accounts capability; it
// runs the connection flow and reports the resulting grant.
func (g *Gateway) requestPermissions(ctx context.Context, windowID, origin string, params []json.RawMessage) (interface{}, error) {
	var caps map[string]json.RawMessage
	if err := paramObject(params, 0, &caps); err != nil {
		return nil, err
	}
	if _, ok := caps["eth_accounts"]; !ok {
		return nil, types.NewWalletError(types.ErrCodeInvalidParams,
			"only the eth_accounts permission is supported")
	}
	if _, err := g.requestAccounts(ctx, windowID, origin); err != nil {
		return nil, err
	}
	return g.getPermissions(windowID, origin), nil
}

func (g *Gateway) revokePermissions(windowID, origin string) (interface{}, error) {
	g.sessions.Revoke(windowID)
	g.approvals.CancelForWindow(windowID)
	g.deleteGrant(origin)
	g.publishWindow(windowID, "accountsChanged", []string{})
	log.Infow("permissions revoked", "origin", origin, "window", windowID)
	return nil, nil
}

// watchAsset is auto-approved: tracking a token changes what the wallet
// displays, it spends nothing.
func (g *Gateway) watchAsset(origin string, params []json.RawMessage) (interface{}, error) {
	var arg struct {
		Type    string `json:"type"`
		Options struct {
			Address  string `json:"address"`
			Symbol   string `json:"symbol"`
			Decimals uint8  `json:"decimals"`
			Image    string `json:"image"`
		} `json:"options"`
	}
	if err := paramObject(params, 0, &arg); err != nil {
		return nil, err
	}
	if !strings.EqualFold(arg.Type, "ERC20") {
		return nil, types.NewWalletError(types.ErrCodeInvalidParams, "asset type %q is not supported", arg.Type)
	}
	if arg.Options.Address == "" || arg.Options.Symbol == "" {
		return nil, types.NewWalletError(types.ErrCodeInvalidParams, "token address and symbol are required")
	}

	token := chains.TokenInfo{
		Symbol:          arg.Options.Symbol,
		Name:            arg.Options.Symbol,
		Decimals:        arg.Options.Decimals,
		ContractAddress: arg.Options.Address,
		LogoURL:         arg.Options.Image,
	}

	g.tokensLk.Lock()
	defer g.tokensLk.Unlock()
	for _, existing := range g.tokens[origin] {
		if strings.EqualFold(existing.ContractAddress, token.ContractAddress) {
			return true, nil
		}
	}
	g.tokens[origin] = append(g.tokens[origin], token)
	log.Infow("token tracked", "origin", origin, "symbol", token.Symbol, "contract", token.ContractAddress)
	return true, nil
}

// TrackedTokens lists the tokens an origin asked the wallet to watch.
func (g *Gateway) TrackedTokens(origin string) []chains.TokenInfo {
	g.tokensLk.Lock()
	defer g.tokensLk.Unlock()
	return append([]chains.TokenInfo(nil), g.tokens[origin]...)
}

func (g *Gateway) grantFor(origin string) []string {
	g.grantsLk.Lock()
	defer g.grantsLk.Unlock()
	return append([]string(nil), g.grantsByOrigin[origin]...)
}

// saveGrant rolls the in-memory grant back when the persist step fails,
// so memory and disk never disagree about which origins hold a grant.
func (g *Gateway) saveGrant(origin string, accounts []string) error {
	g.grantsLk.Lock()
	g.grantsByOrigin[origin] = append([]string(nil), accounts...)
	g.grantsLk.Unlock()
	if g.grants != nil {
		if err := g.grants.SaveGrant(origin, accounts); err != nil {
			g.grantsLk.Lock()
			delete(g.grantsByOrigin, origin)
			g.grantsLk.Unlock()
			return err
		}
	}
	return nil
}

func (g *Gateway) deleteGrant(origin string) {
	g.grantsLk.Lock()
	delete(g.grantsByOrigin, origin)
	g.grantsLk.Unlock()
	if g.grants != nil {
		if err := g.grants.DeleteGrant(origin); err != nil {
			log.Warnf("delete grant for %s: %s", origin, err)
		}
	}
}
