package types

import (
	"time"
)

// RequestConfig tunes the approval queue and the registries' sweeps.
type RequestConfig struct {
	// MaxPendingPerSession bounds how many unresolved approvals one
	// window may accumulate before submissions are rejected.
	MaxPendingPerSession int

	// MinSubmitInterval is the minimum spacing between two approval
	// submissions from the same window for the same kind.
	MinSubmitInterval time.Duration

	// ApprovalTimeout bounds how long a pending approval may wait for
	// a human decision before it is expired.
	ApprovalTimeout time.Duration

	// ClearInterval is how often the expiry sweep runs.
	ClearInterval time.Duration

	// SessionIdleTimeout is how long a session may sit without activity
	// before the idle sweep removes it.
	SessionIdleTimeout time.Duration
}

func DefaultRequestConfig() *RequestConfig {
	return &RequestConfig{
		MaxPendingPerSession: 10,
		MinSubmitInterval:    time.Second,
		ApprovalTimeout:      time.Minute * 5,
		ClearInterval:        time.Second * 30,
		SessionIdleTimeout:   time.Hour * 24,
	}
}
