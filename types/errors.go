package types

import (
	"errors"
	"fmt"
)

// ErrorCode is the numeric code carried in a dApp-facing JSON-RPC error.
// Provider codes follow EIP-1193, RPC codes follow EIP-1474; the 49xx
// range extends the provider set with user-decision outcomes so callers
// can distinguish "ask again" from "don't ask again".
type ErrorCode int

const (
	// EIP-1193 provider errors
	ErrCodeUserRejected      ErrorCode = 4001
	ErrCodeUnauthorized      ErrorCode = 4100
	ErrCodeUnsupportedMethod ErrorCode = 4200
	ErrCodeDisconnected      ErrorCode = 4900
	ErrCodeChainDisconnected ErrorCode = 4901
	ErrCodeUnknownChain      ErrorCode = 4902

	// user-decision outcomes beyond plain rejection
	ErrCodeApprovalExpired   ErrorCode = 4903
	ErrCodeApprovalCancelled ErrorCode = 4904

	// EIP-1474 / JSON-RPC errors
	ErrCodeInvalidInput  ErrorCode = -32000
	ErrCodeInvalidParams ErrorCode = -32602
	ErrCodeInternal      ErrorCode = -32603

	// MetaMask-compatible extensions
	ErrCodeNetworkUnavailable ErrorCode = -32002
	ErrCodeRateLimited        ErrorCode = -32005
)

// WalletError is the structured error surfaced across the dApp boundary.
// The message is what the dApp sees; internal detail stays in the wrapped
// cause and never crosses the transport.
type WalletError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	cause   error
}

func (e *WalletError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (code %d): %s", e.Message, e.Code, e.cause)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

func (e *WalletError) Unwrap() error { return e.cause }

func NewWalletError(code ErrorCode, format string, args ...interface{}) *WalletError {
	return &WalletError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapWalletError attaches an internal cause to a dApp-facing error. The
// cause is logged by callers but not serialized.
func WrapWalletError(code ErrorCode, cause error, format string, args ...interface{}) *WalletError {
	return &WalletError{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

var (
	ErrUserRejected      = &WalletError{Code: ErrCodeUserRejected, Message: "user rejected the request"}
	ErrApprovalExpired   = &WalletError{Code: ErrCodeApprovalExpired, Message: "approval request expired"}
	ErrApprovalCancelled = &WalletError{Code: ErrCodeApprovalCancelled, Message: "approval request cancelled"}
	ErrNotConnected      = &WalletError{Code: ErrCodeUnauthorized, Message: "not connected"}
	ErrInvalidParams     = &WalletError{Code: ErrCodeInvalidParams, Message: "invalid params"}
	ErrRateLimited       = &WalletError{Code: ErrCodeRateLimited, Message: "rate limit exceeded"}
)

// AsWalletError maps any error to the structured form. Unknown errors
// become a generic internal error so internal detail never leaks to dApps.
func AsWalletError(err error) *WalletError {
	if err == nil {
		return nil
	}
	var we *WalletError
	if errors.As(err, &we) {
		return we
	}
	return &WalletError{Code: ErrCodeInternal, Message: "internal error, try again", cause: err}
}
