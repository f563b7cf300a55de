package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r4-ndm/vaughan-gateway/types"
)

type stubHandler struct {
	lk             sync.Mutex
	closedWindows  []string
	changedOrigins []string
	handledIDs     []string
}

func (h *stubHandler) HandleRequest(ctx context.Context, windowID, origin string, req *types.RPCRequest) *types.RPCResponse {
	if req.Method == "wallet_stubSend" {
		// earlier requests sleep longer, so any dispatch that relies on
		// goroutine scheduling alone would record them out of order
		var i int
		_, _ = fmt.Sscanf(string(req.ID), `"%d"`, &i)
		time.Sleep(time.Duration((40-i)%5) * time.Millisecond)
		h.lk.Lock()
		h.handledIDs = append(h.handledIDs, string(req.ID))
		h.lk.Unlock()
		return types.NewRPCResult(req.ID, true)
	}
	if req.Method == "test_echoOrigin" {
		return types.NewRPCResult(req.ID, origin)
	}
	return types.NewRPCResult(req.ID, req.Method)
}

func (h *stubHandler) Mutating(method string) bool {
	return method == "wallet_stubSend"
}

func (h *stubHandler) WindowClosed(windowID string) {
	h.lk.Lock()
	defer h.lk.Unlock()
	h.closedWindows = append(h.closedWindows, windowID)
}

func (h *stubHandler) OriginChanged(windowID, oldOrigin string) {
	h.lk.Lock()
	defer h.lk.Unlock()
	h.changedOrigins = append(h.changedOrigins, oldOrigin)
}

func startServer(t *testing.T) (*Server, *stubHandler, int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := NewServer(18766, 18800)
	h := &stubHandler{}
	srv.SetHandler(h)

	port, err := srv.Listen(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, h, port
}

func dialWindow(t *testing.T, port int, windowID, origin string) *websocket.Conn {
	t.Helper()
	hdr := http.Header{}
	if origin != "" {
		hdr.Set("Origin", origin)
	}
	url := fmt.Sprintf("ws://127.0.0.1:%d/?window_id=%s", port, windowID)
	ws, _, err := websocket.DefaultDialer.Dial(url, hdr)
	require.NoError(t, err)
	return ws
}

func readResponse(t *testing.T, ws *websocket.Conn) *types.RPCResponse {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var resp types.RPCResponse
	require.NoError(t, ws.ReadJSON(&resp))
	return &resp
}

func TestRequestRoundtrip(t *testing.T) {
	_, _, port := startServer(t)

	ws := dialWindow(t, port, "win-1", "https://dex.example")
	defer ws.Close() //nolint:errcheck

	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"id":     "1",
		"method": "test_echoOrigin",
		"params": []interface{}{},
	}))

	resp := readResponse(t, ws)
	assert.Equal(t, json.RawMessage(`"1"`), resp.ID)
	require.Nil(t, resp.Error)

	var origin string
	require.NoError(t, json.Unmarshal(resp.Result, &origin))
	assert.Equal(t, "https://dex.example", origin)
}

func TestMalformedRequest(t *testing.T) {
	_, _, port := startServer(t)

	ws := dialWindow(t, port, "win-1", "https://dex.example")
	defer ws.Close() //nolint:errcheck

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))

	resp := readResponse(t, ws)
	require.NotNil(t, resp.Error)
	assert.Equal(t, types.ErrCodeInvalidParams, resp.Error.Code)
}

func TestMissingMethod(t *testing.T) {
	_, _, port := startServer(t)

	ws := dialWindow(t, port, "win-1", "https://dex.example")
	defer ws.Close() //nolint:errcheck

	require.NoError(t, ws.WriteJSON(map[string]interface{}{"id": "7"}))

	resp := readResponse(t, ws)
	require.NotNil(t, resp.Error)
	assert.Equal(t, types.ErrCodeInvalidParams, resp.Error.Code)
}

func TestPublishWindow(t *testing.T) {
	srv, _, port := startServer(t)

	ws := dialWindow(t, port, "win-1", "https://dex.example")
	defer ws.Close() //nolint:errcheck

	require.Eventually(t, func() bool {
		return len(srv.ConnectedWindows()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	srv.PublishWindow("win-1", &types.RPCEvent{Method: "chainChanged", Params: "0x89"})

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var evt types.RPCEvent
	require.NoError(t, ws.ReadJSON(&evt))
	assert.Equal(t, "chainChanged", evt.Method)
}

func TestOriginChangeOnReconnect(t *testing.T) {
	srv, h, port := startServer(t)

	first := dialWindow(t, port, "win-1", "https://dex.example")
	defer first.Close() //nolint:errcheck
	require.Eventually(t, func() bool {
		return len(srv.ConnectedWindows()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	second := dialWindow(t, port, "win-1", "https://evil.example")
	defer second.Close() //nolint:errcheck

	require.Eventually(t, func() bool {
		h.lk.Lock()
		defer h.lk.Unlock()
		return len(h.changedOrigins) == 1
	}, 5*time.Second, 10*time.Millisecond)

	h.lk.Lock()
	assert.Equal(t, "https://dex.example", h.changedOrigins[0])
	// replacing a window's channel is not a close of the window
	assert.Empty(t, h.closedWindows)
	h.lk.Unlock()
}

func TestWindowClosedOnDisconnect(t *testing.T) {
	srv, h, port := startServer(t)

	ws := dialWindow(t, port, "win-1", "https://dex.example")
	require.Eventually(t, func() bool {
		return len(srv.ConnectedWindows()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, ws.Close())

	require.Eventually(t, func() bool {
		h.lk.Lock()
		defer h.lk.Unlock()
		return len(h.closedWindows) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, srv.ConnectedWindows())
}

func TestMutatingRequestsKeepArrivalOrder(t *testing.T) {
	_, h, port := startServer(t)

	ws := dialWindow(t, port, "win-1", "https://dex.example")
	defer ws.Close() //nolint:errcheck

	const n = 20
	var want []string
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%d", i)
		want = append(want, `"`+id+`"`)
		require.NoError(t, ws.WriteJSON(map[string]interface{}{
			"id":     id,
			"method": "wallet_stubSend",
			"params": []interface{}{},
		}))
	}

	for i := 0; i < n; i++ {
		resp := readResponse(t, ws)
		require.Nil(t, resp.Error)
	}

	h.lk.Lock()
	defer h.lk.Unlock()
	assert.Equal(t, want, h.handledIDs)
}

func TestBootstrapScript(t *testing.T) {
	script, err := BootstrapScript("win-abc", 8770)
	require.NoError(t, err)

	assert.True(t, strings.Contains(script, `"win-abc"`))
	assert.True(t, strings.Contains(script, "var PORT = 8770"))
	assert.True(t, strings.Contains(script, "isVaughan: true"))
	assert.True(t, strings.Contains(script, "window.ethereum"))
}
