package approval

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/r4-ndm/vaughan-gateway/chains"
	"github.com/r4-ndm/vaughan-gateway/types"
)

var log = logging.Logger("approval")

// Kind identifies what a pending request asks the user to approve.
type Kind string

const (
	KindConnection    Kind = "connection"
	KindTransaction   Kind = "transaction"
	KindSignature     Kind = "signature"
	KindNetworkChange Kind = "network_change"
)

// State is the lifecycle of one approval request. Pending is the only
// state a request can leave; every other state is terminal.
type State string

const (
	StatePending   State = "pending"
	StateApproved  State = "approved"
	StateRejected  State = "rejected"
	StateExpired   State = "expired"
	StateCancelled State = "cancelled"
)

// ConnectionPayload asks the user to connect a dApp to an account.
type ConnectionPayload struct {
	Origin string `json:"origin"`
}

// TransactionPayload carries the transaction awaiting approval.
type TransactionPayload struct {
	Tx *chains.ChainTransaction `json:"tx"`
}

// SignaturePayload carries a message signing request. TypedData holds the
// raw EIP-712 document when the method is typed-data signing.
type SignaturePayload struct {
	Address   string `json:"address"`
	Message   []byte `json:"message"`
	TypedData []byte `json:"typed_data,omitempty"`
}

// NetworkChangePayload asks the user to switch or add a network.
type NetworkChangePayload struct {
	NetworkID string `json:"network_id"`
	ChainID   uint64 `json:"chain_id"`
	Add       bool   `json:"add"`
}

// Payload is the tagged union for the kinds above. Exactly one field is
// set, matching Kind.
type Payload struct {
	Connection    *ConnectionPayload    `json:"connection,omitempty"`
	Transaction   *TransactionPayload   `json:"transaction,omitempty"`
	Signature     *SignaturePayload     `json:"signature,omitempty"`
	NetworkChange *NetworkChangePayload `json:"network_change,omitempty"`
}

// Request is one item in the approval queue.
type Request struct {
	ID        string    `json:"id"`
	WindowID  string    `json:"window_id"`
	Origin    string    `json:"origin"`
	Kind      Kind      `json:"kind"`
	Payload   Payload   `json:"payload"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	seq uint64
}

// Result is delivered to the waiting dApp handler when a request leaves
// the pending state.
type Result struct {
	Approved bool
	// AuthProof is the wallet-side authorization material released on
	// approval, opaque to the queue.
	AuthProof []byte
	// Err is set when the request was not plainly approved or rejected:
	// expiry, cancellation.
	Err *types.WalletError
}

type pending struct {
	req    *Request
	result chan *Result
}

// Queue is the single ordered approval queue. Submitting suspends the
// caller on the returned channel until the user resolves the request or
// the sweeper expires it. Resolution is idempotent: the first Resolve
// wins, later ones report not-found.
type Queue struct {
	lk      sync.Mutex
	pending map[string]*pending
	// lastSubmit throttles back-to-back submissions, keyed per window
	// and kind so a signature request does not delay a network switch.
	lastSubmit map[string]time.Time
	seq        uint64

	cfg   *types.RequestConfig
	clock clock.Clock
}

func NewQueue(cfg *types.RequestConfig, clk clock.Clock) *Queue {
	if cfg == nil {
		cfg = types.DefaultRequestConfig()
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &Queue{
		pending:    make(map[string]*pending),
		lastSubmit: make(map[string]time.Time),
		cfg:        cfg,
		clock:      clk,
	}
}

// Start runs the expiry sweeper until the context is cancelled.
func (q *Queue) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.clock.TickAfter(q.cfg.ClearInterval):
				q.ExpireStale()
			}
		}
	}()
}

// Submit enqueues a request and returns the channel its result will be
// delivered on. The channel is buffered so resolution never blocks on a
// departed caller.
func (q *Queue) Submit(windowID, origin string, kind Kind, payload Payload) (string, <-chan *Result, error) {
	q.lk.Lock()
	defer q.lk.Unlock()

	now := q.clock.Now()

	count := 0
	for _, p := range q.pending {
		if p.req.WindowID == windowID {
			count++
		}
	}
	if count >= q.cfg.MaxPendingPerSession {
		return "", nil, types.NewWalletError(types.ErrCodeRateLimited, "too many pending approval requests")
	}
	throttleKey := windowID + "|" + string(kind)
	if last, ok := q.lastSubmit[throttleKey]; ok && now.Sub(last) < q.cfg.MinSubmitInterval {
		return "", nil, types.NewWalletError(types.ErrCodeRateLimited, "approval requests submitted too quickly")
	}

	q.seq++
	id := uuid.NewString()
	req := &Request{
		ID:        id,
		WindowID:  windowID,
		Origin:    origin,
		Kind:      kind,
		Payload:   payload,
		State:     StatePending,
		CreatedAt: now,
		ExpiresAt: now.Add(q.cfg.ApprovalTimeout),
		seq:       q.seq,
	}
	result := make(chan *Result, 1)
	q.pending[id] = &pending{req: req, result: result}
	q.lastSubmit[throttleKey] = now

	log.Infow("approval queued", "id", id, "kind", kind, "origin", origin, "window", windowID)
	return id, result, nil
}

// Resolve settles a pending request. The second resolution of the same id
// returns ErrNotFound so double-clicks in the UI cannot double-spend an
// approval.
func (q *Queue) Resolve(id string, approved bool, authProof []byte) error {
	q.lk.Lock()
	p, ok := q.pending[id]
	if ok {
		delete(q.pending, id)
	}
	q.lk.Unlock()
	if !ok {
		return types.NewWalletError(types.ErrCodeInvalidParams, "no pending approval with that id")
	}

	res := &Result{Approved: approved, AuthProof: authProof}
	if approved {
		p.req.State = StateApproved
	} else {
		p.req.State = StateRejected
		res.Err = types.ErrUserRejected
	}
	p.result <- res
	log.Infow("approval resolved", "id", id, "approved", approved, "kind", p.req.Kind)
	return nil
}

// Cancel settles a pending request as cancelled, used when the requesting
// window disconnects or navigates away.
func (q *Queue) Cancel(id string) error {
	q.lk.Lock()
	p, ok := q.pending[id]
	if ok {
		delete(q.pending, id)
	}
	q.lk.Unlock()
	if !ok {
		return types.NewWalletError(types.ErrCodeInvalidParams, "no pending approval with that id")
	}
	q.settleCancelled(p)
	return nil
}

// CancelForWindow cancels every pending request a window owns and returns
// how many were cancelled.
func (q *Queue) CancelForWindow(windowID string) int {
	q.lk.Lock()
	var victims []*pending
	for id, p := range q.pending {
		if p.req.WindowID == windowID {
			victims = append(victims, p)
			delete(q.pending, id)
		}
	}
	for key := range q.lastSubmit {
		if strings.HasPrefix(key, windowID+"|") {
			delete(q.lastSubmit, key)
		}
	}
	q.lk.Unlock()

	for _, p := range victims {
		q.settleCancelled(p)
	}
	return len(victims)
}

func (q *Queue) settleCancelled(p *pending) {
	p.req.State = StateCancelled
	p.result <- &Result{Err: types.ErrApprovalCancelled}
	log.Infow("approval cancelled", "id", p.req.ID, "kind", p.req.Kind)
}

// ExpireStale settles every request past its deadline and returns how
// many expired. The waiting caller receives a distinct expiry error so a
// timeout is distinguishable from a deliberate rejection.
func (q *Queue) ExpireStale() int {
	now := q.clock.Now()

	q.lk.Lock()
	var victims []*pending
	for id, p := range q.pending {
		if now.After(p.req.ExpiresAt) {
			victims = append(victims, p)
			delete(q.pending, id)
		}
	}
	q.lk.Unlock()

	for _, p := range victims {
		p.req.State = StateExpired
		p.result <- &Result{Err: types.ErrApprovalExpired}
		log.Warnf("approval %s expired after %s", p.req.ID, now.Sub(p.req.CreatedAt))
	}
	return len(victims)
}

// Pending returns copies of the queue contents in submission order.
func (q *Queue) Pending() []*Request {
	q.lk.Lock()
	defer q.lk.Unlock()
	out := make([]*Request, 0, len(q.pending))
	for _, p := range q.pending {
		req := *p.req
		out = append(out, &req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Get returns a copy of one pending request.
func (q *Queue) Get(id string) (*Request, bool) {
	q.lk.Lock()
	defer q.lk.Unlock()
	p, ok := q.pending[id]
	if !ok {
		return nil, false
	}
	req := *p.req
	return &req, true
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	q.lk.Lock()
	defer q.lk.Unlock()
	return len(q.pending)
}
