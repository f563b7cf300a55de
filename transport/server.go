package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	"github.com/r4-ndm/vaughan-gateway/types"
)

var log = logging.Logger("transport")

const (
	// PortRangeStart and PortRangeEnd bound the loopback port scan. The
	// injected provider script tries the same range when connecting.
	PortRangeStart = 8766
	PortRangeEnd   = 8800

	maxMessageSize = 1 << 20
)

// Handler is the request surface the transport drives. The gateway
// implements it.
type Handler interface {
	HandleRequest(ctx context.Context, windowID, origin string, req *types.RPCRequest) *types.RPCResponse
	// Mutating reports whether a method changes wallet state. Such
	// requests from one window are dispatched in arrival order.
	Mutating(method string) bool
	WindowClosed(windowID string)
	OriginChanged(windowID, oldOrigin string)
}

type conn struct {
	ws       *websocket.Conn
	windowID string
	origin   string

	// writeLk serializes writes; gorilla conns allow one writer at a time.
	writeLk sync.Mutex
}

func (c *conn) writeJSON(v interface{}) error {
	c.writeLk.Lock()
	defer c.writeLk.Unlock()
	return c.ws.WriteJSON(v)
}

// Server accepts dApp window connections on a loopback websocket and
// feeds their requests to the gateway. It also implements the gateway's
// event sink: provider events flow back through the same connections.
type Server struct {
	handler Handler

	lk    sync.Mutex
	conns map[string]*conn

	upgrader  websocket.Upgrader
	srv       *http.Server
	ctx       context.Context
	portStart int
	portEnd   int
	port      int
}

func NewServer(portStart, portEnd int) *Server {
	if portStart == 0 {
		portStart = PortRangeStart
	}
	if portEnd == 0 {
		portEnd = PortRangeEnd
	}
	return &Server{
		conns:     make(map[string]*conn),
		portStart: portStart,
		portEnd:   portEnd,
		upgrader: websocket.Upgrader{
			// Only loopback pages can reach this listener; the origin is
			// recorded for session scoping, not used as an allow list.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// SetHandler wires the request gateway in. The gateway and the server
// reference each other, so the server is built first and completed here
// before Listen.
func (s *Server) SetHandler(handler Handler) {
	s.handler = handler
}

// Listen binds the first free port in the provider range on loopback and
// starts serving. It returns the bound port.
func (s *Server) Listen(ctx context.Context) (int, error) {
	if s.handler == nil {
		return 0, errors.New("transport handler not set")
	}
	s.ctx = ctx

	var listener net.Listener
	var err error
	for port := s.portStart; port <= s.portEnd; port++ {
		listener, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			s.port = port
			break
		}
	}
	if listener == nil {
		return 0, errors.Wrapf(err, "no free port in %d-%d", s.portStart, s.portEnd)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.srv = &http.Server{Handler: mux, BaseContext: func(net.Listener) context.Context { return ctx }}

	go func() {
		if err := s.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Errorf("dapp transport server: %s", err)
		}
	}()
	log.Infof("dapp transport listening on 127.0.0.1:%d", s.port)
	return s.port, nil
}

// Port returns the bound port, zero before Listen.
func (s *Server) Port() int { return s.port }

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.lk.Lock()
	for _, c := range s.conns {
		_ = c.ws.Close()
	}
	s.conns = make(map[string]*conn)
	s.lk.Unlock()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	windowID := r.URL.Query().Get("window_id")
	if windowID == "" {
		windowID = uuid.NewString()
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "null"
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("upgrade from %s failed: %s", r.RemoteAddr, err)
		return
	}
	ws.SetReadLimit(maxMessageSize)

	c := &conn{ws: ws, windowID: windowID, origin: origin}

	s.lk.Lock()
	old, existed := s.conns[windowID]
	s.conns[windowID] = c
	s.lk.Unlock()

	if existed {
		// A reconnecting window replaces its old channel. A different
		// origin on the same window means the page navigated; the old
		// origin's authorization must not carry over.
		_ = old.ws.Close()
		if old.origin != origin {
			log.Infow("window navigated", "window", windowID, "from", old.origin, "to", origin)
			s.handler.OriginChanged(windowID, old.origin)
		}
	}

	log.Infow("window connected", "window", windowID, "origin", origin)
	// The request context dies when this handler returns, so the read
	// loop runs under the server's own context instead.
	go s.readLoop(s.ctx, c)
}

func (s *Server) readLoop(ctx context.Context, c *conn) {
	defer s.dropConn(c)

	// prevDone chains this connection's mutating requests: each one waits
	// for its predecessor to finish before it is handled, so two
	// back-to-back sends from one window resolve in arrival order. The
	// chain is built here, in the single read goroutine, because goroutine
	// scheduling alone does not preserve order.
	var prevDone chan struct{}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("window %s read: %s", c.windowID, err)
			}
			return
		}

		var req types.RPCRequest
		if err := json.Unmarshal(data, &req); err != nil {
			_ = c.writeJSON(types.NewRPCError(nil, types.NewWalletError(types.ErrCodeInvalidParams, "malformed request")))
			continue
		}
		if req.Method == "" {
			_ = c.writeJSON(types.NewRPCError(req.ID, types.NewWalletError(types.ErrCodeInvalidParams, "method is required")))
			continue
		}

		if s.handler.Mutating(req.Method) {
			wait := prevDone
			done := make(chan struct{})
			prevDone = done
			go func(req types.RPCRequest) {
				defer close(done)
				if wait != nil {
					<-wait
				}
				s.dispatch(ctx, c, &req)
			}(req)
			continue
		}

		// Read-only requests run freely so a request suspended on the
		// approval queue does not block the window's reads.
		go func(req types.RPCRequest) {
			s.dispatch(ctx, c, &req)
		}(req)
	}
}

func (s *Server) dispatch(ctx context.Context, c *conn, req *types.RPCRequest) {
	resp := s.handler.HandleRequest(ctx, c.windowID, c.origin, req)
	if err := c.writeJSON(resp); err != nil {
		log.Warnf("write response to window %s: %s", c.windowID, err)
	}
}

func (s *Server) dropConn(c *conn) {
	_ = c.ws.Close()

	s.lk.Lock()
	current, ok := s.conns[c.windowID]
	if ok && current == c {
		delete(s.conns, c.windowID)
	}
	s.lk.Unlock()

	// Only the window's live channel tears the session down; a replaced
	// connection dying must not revoke the replacement.
	if ok && current == c {
		log.Infow("window disconnected", "window", c.windowID, "origin", c.origin)
		s.handler.WindowClosed(c.windowID)
	}
}

// PublishWindow sends a provider event to one window.
func (s *Server) PublishWindow(windowID string, evt *types.RPCEvent) {
	s.lk.Lock()
	c, ok := s.conns[windowID]
	s.lk.Unlock()
	if !ok {
		return
	}
	if err := c.writeJSON(evt); err != nil {
		log.Warnf("publish %s to window %s: %s", evt.Method, windowID, err)
	}
}

// Broadcast sends a provider event to every connected window.
func (s *Server) Broadcast(evt *types.RPCEvent) {
	s.lk.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.lk.Unlock()

	for _, c := range conns {
		if err := c.writeJSON(evt); err != nil {
			log.Warnf("broadcast %s to window %s: %s", evt.Method, c.windowID, err)
		}
	}
}

// ConnectedWindows lists the window ids with a live channel.
func (s *Server) ConnectedWindows() []string {
	s.lk.Lock()
	defer s.lk.Unlock()
	out := make([]string, 0, len(s.conns))
	for id := range s.conns {
		out = append(out, id)
	}
	return out
}
