package types

import (
	"encoding/json"
)

// RPCRequest is the wire envelope dApp windows send through the transport.
// Params stay raw; each method handler parses its own shape.
type RPCRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params,omitempty"`
}

// RPCResponse answers one RPCRequest. Exactly one of Result and Error is set.
type RPCResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCEvent is a gateway-initiated push notification (accountsChanged,
// chainChanged, disconnect). It carries no id so providers can tell it
// apart from responses.
type RPCEvent struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

func NewRPCResult(id json.RawMessage, result interface{}) *RPCResponse {
	data, err := json.Marshal(result)
	if err != nil {
		return NewRPCError(id, AsWalletError(err))
	}
	return &RPCResponse{ID: id, Result: data}
}

func NewRPCError(id json.RawMessage, werr *WalletError) *RPCResponse {
	return &RPCResponse{ID: id, Error: &RPCError{Code: int(werr.Code), Message: werr.Message}}
}
