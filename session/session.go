package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/r4-ndm/vaughan-gateway/chains"
)

var log = logging.Logger("session")

var ErrSessionNotFound = fmt.Errorf("session not found")

// Session is the connection state for one dApp window. The origin is
// pinned when the window first contacts the wallet and never changes for
// the lifetime of the session; a navigation to a new origin tears the
// session down instead of mutating it.
type Session struct {
	WindowID     string           `json:"window_id"`
	Origin       string           `json:"origin"`
	Accounts     []string         `json:"accounts"`
	NetworkID    string           `json:"network_id"`
	Chain        chains.ChainType `json:"chain"`
	ConnectedAt  time.Time        `json:"connected_at"`
	LastActivity time.Time        `json:"last_activity"`
}

// Authorized reports whether the session has granted account access.
func (s *Session) Authorized() bool {
	return len(s.Accounts) > 0
}

func (s *Session) clone() *Session {
	out := *s
	out.Accounts = append([]string(nil), s.Accounts...)
	return &out
}

// Registry tracks one session per dApp window.
type Registry struct {
	lk       sync.Mutex
	sessions map[string]*Session

	idleTimeout time.Duration
	clock       clock.Clock
}

func NewRegistry(idleTimeout time.Duration, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
		clock:       clk,
	}
}

// RegisterOrGet returns the session for a window, creating it on first
// contact. The origin supplied on later calls is ignored; the session
// keeps the origin it was created with.
func (r *Registry) RegisterOrGet(windowID, origin string, networkID string, chainType chains.ChainType) *Session {
	r.lk.Lock()
	defer r.lk.Unlock()

	if s, ok := r.sessions[windowID]; ok {
		s.LastActivity = r.clock.Now()
		return s.clone()
	}
	now := r.clock.Now()
	s := &Session{
		WindowID:     windowID,
		Origin:       origin,
		NetworkID:    networkID,
		Chain:        chainType,
		ConnectedAt:  now,
		LastActivity: now,
	}
	r.sessions[windowID] = s
	log.Infow("session created", "window", windowID, "origin", origin)
	return s.clone()
}

// Get returns a copy of the window's session.
func (r *Registry) Get(windowID string) (*Session, error) {
	r.lk.Lock()
	defer r.lk.Unlock()
	s, ok := r.sessions[windowID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.clone(), nil
}

// Authorize records the accounts a window has been granted access to.
func (r *Registry) Authorize(windowID string, accounts []string) error {
	r.lk.Lock()
	defer r.lk.Unlock()
	s, ok := r.sessions[windowID]
	if !ok {
		return ErrSessionNotFound
	}
	s.Accounts = append([]string(nil), accounts...)
	s.LastActivity = r.clock.Now()
	log.Infow("session authorized", "window", windowID, "origin", s.Origin, "accounts", len(accounts))
	return nil
}

// AuthorizedAccounts returns the granted accounts, empty when the window
// has no session or no grant. Never an error: the empty answer is the
// correct response for an unknown window.
func (r *Registry) AuthorizedAccounts(windowID string) []string {
	r.lk.Lock()
	defer r.lk.Unlock()
	s, ok := r.sessions[windowID]
	if !ok {
		return nil
	}
	return append([]string(nil), s.Accounts...)
}

// SetNetwork updates the session's active network after a chain switch.
func (r *Registry) SetNetwork(windowID, networkID string, chainType chains.ChainType) error {
	r.lk.Lock()
	defer r.lk.Unlock()
	s, ok := r.sessions[windowID]
	if !ok {
		return ErrSessionNotFound
	}
	s.NetworkID = networkID
	s.Chain = chainType
	s.LastActivity = r.clock.Now()
	return nil
}

// Touch refreshes the idle timer.
func (r *Registry) Touch(windowID string) {
	r.lk.Lock()
	defer r.lk.Unlock()
	if s, ok := r.sessions[windowID]; ok {
		s.LastActivity = r.clock.Now()
	}
}

// Revoke removes a window's session. Idempotent.
func (r *Registry) Revoke(windowID string) {
	r.lk.Lock()
	defer r.lk.Unlock()
	if s, ok := r.sessions[windowID]; ok {
		delete(r.sessions, windowID)
		log.Infow("session revoked", "window", windowID, "origin", s.Origin)
	}
}

// RevokeByOrigin removes every session for an origin and returns the
// affected window ids.
func (r *Registry) RevokeByOrigin(origin string) []string {
	r.lk.Lock()
	defer r.lk.Unlock()
	var windows []string
	for id, s := range r.sessions {
		if strings.EqualFold(s.Origin, origin) {
			windows = append(windows, id)
			delete(r.sessions, id)
		}
	}
	if len(windows) > 0 {
		log.Infow("sessions revoked by origin", "origin", origin, "count", len(windows))
	}
	return windows
}

// List returns copies of all sessions sorted by window id.
func (r *Registry) List() []*Session {
	r.lk.Lock()
	defer r.lk.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WindowID < out[j].WindowID })
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.lk.Lock()
	defer r.lk.Unlock()
	return len(r.sessions)
}

// ExpireIdle removes sessions idle past the timeout and returns the
// affected window ids.
func (r *Registry) ExpireIdle() []string {
	r.lk.Lock()
	defer r.lk.Unlock()
	if r.idleTimeout <= 0 {
		return nil
	}
	now := r.clock.Now()
	var windows []string
	for id, s := range r.sessions {
		if now.Sub(s.LastActivity) > r.idleTimeout {
			windows = append(windows, id)
			delete(r.sessions, id)
			log.Infow("session expired", "window", id, "origin", s.Origin, "idle", now.Sub(s.LastActivity))
		}
	}
	return windows
}

// Start runs the idle sweep until the context is cancelled.
func (r *Registry) Start(ctx context.Context, interval time.Duration) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.clock.TickAfter(interval):
				r.ExpireIdle()
			}
		}
	}()
}
