package chain

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/gorilla/websocket"
	"github.com/pocketsuite/pocketwallet/wallet"
	"github.com/stretchr/testify/require"
)

// testServer is a minimal in-process websocket RPC server scripted with
// canned per-method responses.
type testServer struct {
	t  *testing.T
	s  *httptest.Server
	up websocket.Upgrader

	mtx        sync.Mutex
	unspent    []unspentResult
	broadcasts []string
	conns      []*websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	ts := &testServer{t: t}
	ts.s = httptest.NewServer(http.HandlerFunc(ts.handle))
	t.Cleanup(ts.s.Close)
	return ts
}

func (ts *testServer) host() string {
	return strings.TrimPrefix(ts.s.URL, "http://")
}

// closeClientConns closes the server side of every upgraded websocket
// connection.  httptest's CloseClientConnections cannot reach these because
// the test server stops tracking connections once they are hijacked.
func (ts *testServer) closeClientConns() {
	ts.mtx.Lock()
	defer ts.mtx.Unlock()
	for _, c := range ts.conns {
		c.Close()
	}
	ts.conns = nil
}

func (ts *testServer) handle(w http.ResponseWriter, r *http.Request) {
	if user, pass, ok := r.BasicAuth(); !ok || user != "user" || pass != "pass" {
		http.Error(w, "401 Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := ts.up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	ts.mtx.Lock()
	ts.conns = append(ts.conns, conn)
	ts.mtx.Unlock()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req btcjson.Request
		if err := json.Unmarshal(msg, &req); err != nil {
			return
		}

		var (
			result interface{}
			rpcErr *btcjson.RPCError
		)
		switch req.Method {
		case "getunspent":
			ts.mtx.Lock()
			result = ts.unspent
			ts.mtx.Unlock()
		case "broadcastpayment":
			var payment string
			err := json.Unmarshal(req.Params[1], &payment)
			if err != nil {
				return
			}
			ts.mtx.Lock()
			ts.broadcasts = append(ts.broadcasts, payment)
			ts.mtx.Unlock()
			result = true
		default:
			rpcErr = btcjson.NewRPCError(
				btcjson.ErrRPCMethodNotFound.Code, "no such method")
		}

		resp, err := btcjson.MarshalResponse(
			btcjson.RpcVersion1, req.ID, result, rpcErr)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, resp); err != nil {
			return
		}
	}
}

func testClient(t *testing.T, ts *testServer) *RPCClient {
	t.Helper()

	client, err := NewRPCClient(&ConnConfig{
		Host:       ts.host(),
		Endpoint:   "ws",
		User:       "user",
		Pass:       "pass",
		DisableTLS: true,
	})
	require.NoError(t, err)
	require.NoError(t, client.Start())
	t.Cleanup(func() {
		client.Stop()
		client.WaitForShutdown()
	})
	return client
}

func TestClientFetchUnspent(t *testing.T) {
	ts := newTestServer(t)
	ts.mtx.Lock()
	ts.unspent = []unspentResult{
		{Address: "addr1", Amount: 1000},
		{Address: "addr2", Amount: 250},
	}
	ts.mtx.Unlock()

	client := testClient(t, ts)

	unspent, err := client.FetchUnspent(0, []string{"addr1", "addr2"})
	require.NoError(t, err)
	require.Equal(t, []wallet.Unspent{
		{Address: "addr1", Amount: 1000},
		{Address: "addr2", Amount: 250},
	}, unspent)
}

func TestClientBroadcast(t *testing.T) {
	ts := newTestServer(t)
	client := testClient(t, ts)

	payment := []byte{0x01, 0x02, 0x03}
	require.NoError(t, client.Broadcast(0, payment))

	ts.mtx.Lock()
	defer ts.mtx.Unlock()
	require.Equal(t, []string{hex.EncodeToString(payment)}, ts.broadcasts)
}

func TestClientRPCError(t *testing.T) {
	ts := newTestServer(t)
	client := testClient(t, ts)

	_, err := client.call("bogusmethod", nil)
	require.Error(t, err)
	var rpcErr *btcjson.RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, btcjson.ErrRPCMethodNotFound.Code, rpcErr.Code)
}

func TestClientBadCredentials(t *testing.T) {
	ts := newTestServer(t)

	client, err := NewRPCClient(&ConnConfig{
		Host:       ts.host(),
		Endpoint:   "ws",
		User:       "user",
		Pass:       "hunter2",
		DisableTLS: true,
	})
	require.NoError(t, err)
	require.Error(t, client.Start())
}

func TestClientNotifications(t *testing.T) {
	ts := newTestServer(t)
	client := testClient(t, ts)

	select {
	case n := <-client.Notifications():
		require.IsType(t, ClientConnected{}, n)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for connect notification")
	}

	// Killing the server side surfaces a disconnect notification.
	ts.closeClientConns()
	select {
	case n := <-client.Notifications():
		require.IsType(t, ClientDisconnected{}, n)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for disconnect notification")
	}
}

func TestClientNotificationsCloseOnShutdown(t *testing.T) {
	ts := newTestServer(t)
	client := testClient(t, ts)

	client.Stop()
	client.WaitForShutdown()

	// Once the read handler has exited, draining the channel must end
	// with closure so consumers ranging over it terminate.
	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-client.Notifications():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("notification channel not closed after shutdown")
		}
	}
}

func TestClientCallsAfterStop(t *testing.T) {
	ts := newTestServer(t)
	client := testClient(t, ts)

	client.Stop()
	client.WaitForShutdown()

	_, err := client.FetchUnspent(0, nil)
	require.ErrorIs(t, err, ErrClientShutdown)
}
