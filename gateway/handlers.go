package gateway

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/r4-ndm/vaughan-gateway/approval"
	"github.com/r4-ndm/vaughan-gateway/chains"
	"github.com/r4-ndm/vaughan-gateway/metrics"
	"github.com/r4-ndm/vaughan-gateway/netmgr"
	"github.com/r4-ndm/vaughan-gateway/types"
)

// txParams is the provider-side transaction object. All quantities are
// hex strings per EIP-1474.
type txParams struct {
	From                 string `json:"from"`
	To                   string `json:"to"`
	Value                string `json:"value"`
	Data                 string `json:"data"`
	Input                string `json:"input"`
	Gas                  string `json:"gas"`
	GasPrice             string `json:"gasPrice"`
	MaxFeePerGas         string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	Nonce                string `json:"nonce"`
}

func (g *Gateway) requestAccounts(ctx context.Context, windowID, origin string) (interface{}, error) {
	if accounts := g.sessions.AuthorizedAccounts(windowID); len(accounts) > 0 {
		return accounts, nil
	}

	// A persisted grant reconnects without a prompt.
	if accounts := g.grantFor(origin); len(accounts) > 0 {
		if err := g.sessions.Authorize(windowID, accounts); err != nil {
			return nil, err
		}
		g.publishWindow(windowID, "accountsChanged", accounts)
		return accounts, nil
	}

	address, err := g.accounts.ActiveAddress(chains.ChainTypeEVM)
	if err != nil {
		return nil, types.WrapWalletError(types.ErrCodeInternal, err, "no account available")
	}

	id, ch, err := g.approvals.Submit(windowID, origin, approval.KindConnection, approval.Payload{
		Connection: &approval.ConnectionPayload{Origin: origin},
	})
	if err != nil {
		return nil, err
	}
	if _, err := g.waitApproval(ctx, id, ch); err != nil {
		return nil, err
	}

	accounts := []string{address}
	if err := g.sessions.Authorize(windowID, accounts); err != nil {
		return nil, err
	}
	if err := g.saveGrant(origin, accounts); err != nil {
		// The grant could not be persisted, so the authorization it backs
		// must not stand either.
		g.sessions.Revoke(windowID)
		return nil, types.WrapWalletError(types.ErrCodeInternal, err, "could not persist connection")
	}
	g.publishWindow(windowID, "accountsChanged", accounts)
	log.Infow("dapp connected", "origin", origin, "window", windowID)
	return accounts, nil
}

// authorizedAccounts never errors: the empty list is the correct answer
// for an unconnected window.
func (g *Gateway) authorizedAccounts(windowID string) []string {
	accounts := g.sessions.AuthorizedAccounts(windowID)
	if accounts == nil {
		return []string{}
	}
	return accounts
}

func (g *Gateway) chainIDHex() (interface{}, error) {
	cfg, err := g.networks.ActiveNetwork()
	if err != nil {
		return nil, types.WrapWalletError(types.ErrCodeChainDisconnected, err, "no active network")
	}
	return hexUint(cfg.ChainID), nil
}

func (g *Gateway) netVersion() (interface{}, error) {
	cfg, err := g.networks.ActiveNetwork()
	if err != nil {
		return nil, types.WrapWalletError(types.ErrCodeChainDisconnected, err, "no active network")
	}
	return strconv.FormatUint(cfg.ChainID, 10), nil
}

func (g *Gateway) getBalance(ctx context.Context, windowID string, params []json.RawMessage) (interface{}, error) {
	address, err := paramString(params, 0)
	if err != nil {
		return nil, err
	}
	adapter, err := g.activeAdapter()
	if err != nil {
		return nil, err
	}
	if err := adapter.ValidateAddress(address); err != nil {
		return nil, types.WrapWalletError(types.ErrCodeInvalidParams, err, "invalid address")
	}
	start := time.Now()
	balance, err := adapter.GetBalance(ctx, address)
	g.recordAdapterCall(ctx, "get_balance", start, err)
	if err != nil {
		return nil, err
	}
	raw, ok := new(big.Int).SetString(balance.Raw, 10)
	if !ok {
		return nil, types.NewWalletError(types.ErrCodeInternal, "internal error, try again")
	}
	return "0x" + raw.Text(16), nil
}

func (g *Gateway) blockNumber(ctx context.Context) (interface{}, error) {
	reader, err := g.evmReader()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	n, err := reader.BlockNumber(ctx)
	g.recordAdapterCall(ctx, "block_number", start, err)
	if err != nil {
		return nil, err
	}
	return hexUint(n), nil
}

func (g *Gateway) gasPrice(ctx context.Context) (interface{}, error) {
	reader, err := g.evmReader()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	price, err := reader.GasPrice(ctx)
	g.recordAdapterCall(ctx, "gas_price", start, err)
	if err != nil {
		return nil, err
	}
	return "0x" + price.Text(16), nil
}

func (g *Gateway) transactionCount(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	address, err := paramString(params, 0)
	if err != nil {
		return nil, err
	}
	reader, err := g.evmReader()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	nonce, err := reader.NonceAt(ctx, address)
	g.recordAdapterCall(ctx, "nonce_at", start, err)
	if err != nil {
		return nil, err
	}
	return hexUint(nonce), nil
}

func (g *Gateway) call(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	tx, err := paramTx(params, 0)
	if err != nil {
		return nil, err
	}
	data, err := decodeHexData(tx.callData())
	if err != nil {
		return nil, err
	}
	reader, err := g.evmReader()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := reader.Call(ctx, tx.To, data)
	g.recordAdapterCall(ctx, "call", start, err)
	if err != nil {
		return nil, err
	}
	return "0x" + hex.EncodeToString(out), nil
}

func (g *Gateway) estimateGas(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	tx, err := paramTx(params, 0)
	if err != nil {
		return nil, err
	}
	adapter, err := g.activeAdapter()
	if err != nil {
		return nil, err
	}
	chainTx, err := g.toChainTransaction(tx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	fee, err := adapter.EstimateFee(ctx, chainTx)
	g.recordAdapterCall(ctx, "estimate_fee", start, err)
	if err != nil {
		return nil, err
	}
	return hexUint(fee.GasLimit), nil
}

func (g *Gateway) transactionByHash(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	hash, err := paramString(params, 0)
	if err != nil {
		return nil, err
	}
	reader, err := g.evmReader()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	record, err := reader.TransactionByHash(ctx, hash)
	g.recordAdapterCall(ctx, "transaction_by_hash", start, err)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (g *Gateway) transactionReceipt(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	hash, err := paramString(params, 0)
	if err != nil {
		return nil, err
	}
	reader, err := g.evmReader()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	receipt, err := reader.TransactionReceipt(ctx, hash)
	g.recordAdapterCall(ctx, "transaction_receipt", start, err)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, nil
	}
	return json.RawMessage(receipt), nil
}

func (g *Gateway) sendTransaction(ctx context.Context, windowID, origin string, params []json.RawMessage) (interface{}, error) {
	tx, err := paramTx(params, 0)
	if err != nil {
		return nil, err
	}
	// Authorization is checked before anything reaches the approval
	// queue; an unconnected dApp never prompts the user.
	if err := g.requireAuthorized(windowID, tx.From); err != nil {
		return nil, err
	}
	chainTx, err := g.toChainTransaction(tx)
	if err != nil {
		return nil, err
	}

	id, ch, err := g.approvals.Submit(windowID, origin, approval.KindTransaction, approval.Payload{
		Transaction: &approval.TransactionPayload{Tx: chainTx},
	})
	if err != nil {
		return nil, err
	}
	if _, err := g.waitApproval(ctx, id, ch); err != nil {
		return nil, err
	}

	adapter, err := g.activeAdapter()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	hash, err := adapter.SendTransaction(ctx, chainTx)
	g.recordAdapterCall(ctx, "send_transaction", start, err)
	if err != nil {
		return nil, err
	}
	log.Infow("transaction sent", "origin", origin, "hash", hash)
	return hash.String(), nil
}

func (g *Gateway) personalSign(ctx context.Context, windowID, origin string, params []json.RawMessage) (interface{}, error) {
	// personal_sign params are [message, address].
	rawMessage, err := paramString(params, 0)
	if err != nil {
		return nil, err
	}
	address, err := paramString(params, 1)
	if err != nil {
		return nil, err
	}
	if err := g.requireAuthorized(windowID, address); err != nil {
		return nil, err
	}
	message, err := decodeHexData(rawMessage)
	if err != nil {
		// Providers may also send plain text.
		message = []byte(rawMessage)
	}

	id, ch, err := g.approvals.Submit(windowID, origin, approval.KindSignature, approval.Payload{
		Signature: &approval.SignaturePayload{Address: address, Message: message},
	})
	if err != nil {
		return nil, err
	}
	if _, err := g.waitApproval(ctx, id, ch); err != nil {
		return nil, err
	}

	adapter, err := g.activeAdapter()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	sig, err := adapter.SignMessage(ctx, address, message)
	g.recordAdapterCall(ctx, "sign_message", start, err)
	if err != nil {
		return nil, err
	}
	return sig.Bytes, nil
}

func (g *Gateway) signTypedData(ctx context.Context, windowID, origin string, params []json.RawMessage) (interface{}, error) {
	// eth_signTypedData_v4 params are [address, typedData].
	address, err := paramString(params, 0)
	if err != nil {
		return nil, err
	}
	typedData, err := paramString(params, 1)
	if err != nil {
		return nil, err
	}
	if err := g.requireAuthorized(windowID, address); err != nil {
		return nil, err
	}
	if !json.Valid([]byte(typedData)) {
		return nil, types.NewWalletError(types.ErrCodeInvalidParams, "typed data is not valid JSON")
	}

	id, ch, err := g.approvals.Submit(windowID, origin, approval.KindSignature, approval.Payload{
		Signature: &approval.SignaturePayload{Address: address, TypedData: []byte(typedData)},
	})
	if err != nil {
		return nil, err
	}
	if _, err := g.waitApproval(ctx, id, ch); err != nil {
		return nil, err
	}

	adapter, err := g.activeAdapter()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	sig, err := adapter.SignMessage(ctx, address, []byte(typedData))
	g.recordAdapterCall(ctx, "sign_typed_data", start, err)
	if err != nil {
		return nil, err
	}
	return sig.Bytes, nil
}

func (g *Gateway) switchChain(ctx context.Context, windowID, origin string, params []json.RawMessage) (interface{}, error) {
	var arg struct {
		ChainID string `json:"chainId"`
	}
	if err := paramObject(params, 0, &arg); err != nil {
		return nil, err
	}
	chainID, err := parseHexUint(arg.ChainID)
	if err != nil {
		return nil, err
	}

	target, err := g.networks.FindByChainID(chains.ChainTypeEVM, chainID)
	if err != nil {
		return nil, types.NewWalletError(types.ErrCodeUnknownChain,
			"chain 0x%x has not been added to the wallet", chainID)
	}

	active, err := g.networks.ActiveNetwork()
	if err == nil && active.ID == target.ID {
		return nil, nil
	}

	id, ch, err := g.approvals.Submit(windowID, origin, approval.KindNetworkChange, approval.Payload{
		NetworkChange: &approval.NetworkChangePayload{NetworkID: target.ID, ChainID: chainID},
	})
	if err != nil {
		return nil, err
	}
	if _, err := g.waitApproval(ctx, id, ch); err != nil {
		return nil, err
	}

	if err := g.networks.SwitchActive(target.ID); err != nil {
		return nil, types.WrapWalletError(types.ErrCodeInternal, err, "network switch failed")
	}
	_ = g.sessions.SetNetwork(windowID, target.ID, target.ChainType)
	g.broadcast("chainChanged", hexUint(chainID))
	return nil, nil
}

func (g *Gateway) addChain(ctx context.Context, windowID, origin string, params []json.RawMessage) (interface{}, error) {
	var arg struct {
		ChainID        string   `json:"chainId"`
		ChainName      string   `json:"chainName"`
		RPCURLs        []string `json:"rpcUrls"`
		BlockExplorers []string `json:"blockExplorerUrls"`
		NativeCurrency struct {
			Name     string `json:"name"`
			Symbol   string `json:"symbol"`
			Decimals uint8  `json:"decimals"`
		} `json:"nativeCurrency"`
	}
	if err := paramObject(params, 0, &arg); err != nil {
		return nil, err
	}
	chainID, err := parseHexUint(arg.ChainID)
	if err != nil {
		return nil, err
	}

	// A chain the wallet already knows degrades to a switch request.
	if _, err := g.networks.FindByChainID(chains.ChainTypeEVM, chainID); err == nil {
		return g.switchChain(ctx, windowID, origin, params)
	}

	if len(arg.RPCURLs) == 0 || arg.ChainName == "" {
		return nil, types.NewWalletError(types.ErrCodeInvalidParams, "chainName and rpcUrls are required")
	}
	rpcURL := arg.RPCURLs[0]
	if !strings.HasPrefix(rpcURL, "https://") && !strings.HasPrefix(rpcURL, "wss://") {
		return nil, types.NewWalletError(types.ErrCodeInvalidParams, "rpc url must use https or wss")
	}

	networkID := slug(arg.ChainName)
	id, ch, err := g.approvals.Submit(windowID, origin, approval.KindNetworkChange, approval.Payload{
		NetworkChange: &approval.NetworkChangePayload{NetworkID: networkID, ChainID: chainID, Add: true},
	})
	if err != nil {
		return nil, err
	}
	if _, err := g.waitApproval(ctx, id, ch); err != nil {
		return nil, err
	}

	cfg := &netmgr.NetworkConfig{
		ID:           networkID,
		Name:         arg.ChainName,
		ChainType:    chains.ChainTypeEVM,
		ChainID:      chainID,
		RPCURL:       rpcURL,
		NativeSymbol: arg.NativeCurrency.Symbol,
		NativeName:   arg.NativeCurrency.Name,
	}
	if len(arg.BlockExplorers) > 0 {
		cfg.ExplorerURL = arg.BlockExplorers[0]
	}
	if err := g.networks.AddNetwork(cfg); err != nil {
		return nil, types.WrapWalletError(types.ErrCodeInternal, err, "could not add network")
	}
	if err := g.networks.SwitchActive(networkID); err != nil {
		return nil, types.WrapWalletError(types.ErrCodeInternal, err, "network switch failed")
	}
	_ = g.sessions.SetNetwork(windowID, networkID, chains.ChainTypeEVM)
	g.broadcast("chainChanged", hexUint(chainID))
	log.Infow("network added by dapp", "origin", origin, "network", networkID, "chain_id", chainID)
	return nil, nil
}

// requireAuthorized rejects before anything reaches the approval queue
// when the window holds no grant for the address.
func (g *Gateway) requireAuthorized(windowID, address string) error {
	for _, granted := range g.sessions.AuthorizedAccounts(windowID) {
		if strings.EqualFold(granted, address) {
			return nil
		}
	}
	return types.ErrNotConnected
}

func (g *Gateway) waitApproval(ctx context.Context, id string, ch <-chan *approval.Result) (*approval.Result, error) {
	select {
	case <-ctx.Done():
		_ = g.approvals.Cancel(id)
		return nil, types.WrapWalletError(types.ErrCodeDisconnected, ctx.Err(), "request abandoned")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if !res.Approved {
			return nil, types.ErrUserRejected
		}
		return res, nil
	}
}

func (g *Gateway) recordAdapterCall(ctx context.Context, op string, start time.Time, err error) {
	metrics.RecordAdapterCall(ctx, g.activeNetworkID(), op, start, err)
}

func (g *Gateway) activeAdapter() (chains.Adapter, error) {
	adapter, err := g.networks.ActiveAdapter()
	if err != nil {
		return nil, types.WrapWalletError(types.ErrCodeChainDisconnected, err, "no active network")
	}
	return adapter, nil
}

func (g *Gateway) evmReader() (chains.EVMReader, error) {
	adapter, err := g.activeAdapter()
	if err != nil {
		return nil, err
	}
	reader, ok := adapter.(chains.EVMReader)
	if !ok {
		return nil, types.NewWalletError(types.ErrCodeUnsupportedMethod,
			"method not supported on %s networks", adapter.ChainType())
	}
	return reader, nil
}

func (g *Gateway) toChainTransaction(tx *txParams) (*chains.ChainTransaction, error) {
	cfg, err := g.networks.ActiveNetwork()
	if err != nil {
		return nil, types.WrapWalletError(types.ErrCodeChainDisconnected, err, "no active network")
	}
	evmTx := &chains.EVMTransaction{
		From:                 tx.From,
		To:                   tx.To,
		Value:                tx.Value,
		Data:                 tx.callData(),
		GasPrice:             tx.GasPrice,
		MaxFeePerGas:         tx.MaxFeePerGas,
		MaxPriorityFeePerGas: tx.MaxPriorityFeePerGas,
		ChainID:              cfg.ChainID,
	}
	if evmTx.Value == "" {
		evmTx.Value = "0x0"
	}
	if tx.Gas != "" {
		gas, err := parseHexUint(tx.Gas)
		if err != nil {
			return nil, err
		}
		evmTx.GasLimit = gas
	}
	if tx.Nonce != "" {
		nonce, err := parseHexUint(tx.Nonce)
		if err != nil {
			return nil, err
		}
		evmTx.Nonce = &nonce
	}
	return chains.NewEVMTransaction(evmTx), nil
}

func (tx *txParams) callData() string {
	if tx.Data != "" {
		return tx.Data
	}
	return tx.Input
}

func (g *Gateway) publishWindow(windowID, method string, params interface{}) {
	if g.events != nil {
		g.events.PublishWindow(windowID, &types.RPCEvent{Method: method, Params: params})
	}
}

func (g *Gateway) broadcast(method string, params interface{}) {
	if g.events != nil {
		g.events.Broadcast(&types.RPCEvent{Method: method, Params: params})
	}
}

func paramString(params []json.RawMessage, i int) (string, error) {
	if i >= len(params) {
		return "", types.NewWalletError(types.ErrCodeInvalidParams, "missing param %d", i)
	}
	var s string
	if err := json.Unmarshal(params[i], &s); err != nil {
		return "", types.WrapWalletError(types.ErrCodeInvalidParams, err, "param %d must be a string", i)
	}
	return s, nil
}

func paramObject(params []json.RawMessage, i int, out interface{}) error {
	if i >= len(params) {
		return types.NewWalletError(types.ErrCodeInvalidParams, "missing param %d", i)
	}
	if err := json.Unmarshal(params[i], out); err != nil {
		return types.WrapWalletError(types.ErrCodeInvalidParams, err, "param %d has the wrong shape", i)
	}
	return nil
}

func paramTx(params []json.RawMessage, i int) (*txParams, error) {
	var tx txParams
	if err := paramObject(params, i, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func hexUint(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}

func parseHexUint(s string) (uint64, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" || trimmed == s {
		return 0, types.NewWalletError(types.ErrCodeInvalidParams, "quantity %q must be 0x-prefixed hex", s)
	}
	v, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, types.WrapWalletError(types.ErrCodeInvalidParams, err, "invalid hex quantity %q", s)
	}
	return v, nil
}

func decodeHexData(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == s {
		return nil, types.NewWalletError(types.ErrCodeInvalidParams, "data must be 0x-prefixed hex")
	}
	data, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, types.WrapWalletError(types.ErrCodeInvalidParams, err, "invalid hex data")
	}
	return data, nil
}

func slug(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r == ' ' || r == '-' || r == '_':
			out = append(out, '-')
		}
	}
	return strings.Trim(string(out), "-")
}
