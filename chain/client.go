package chain

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/go-socks/socks"
	"github.com/gorilla/websocket"
	"github.com/pocketsuite/pocketwallet/wallet"
)

var (
	// ErrClientShutdown is returned when a call is made on a client that
	// has been shut down.
	ErrClientShutdown = errors.New("chain client is shut down")

	// ErrNotStarted is returned when a call is made on a client that has
	// not been started yet.
	ErrNotStarted = errors.New("chain client is not started")
)

// ConnConfig describes the connection configuration parameters for the
// websocket client.
type ConnConfig struct {
	// Host is the IP address and port of the RPC server to connect to.
	Host string

	// Endpoint is the websocket endpoint on the RPC server, typically "ws".
	Endpoint string

	// User and Pass are the credentials to authenticate to the RPC server
	// with.
	User string
	Pass string

	// Certificates are the bytes of a PEM-encoded certificate chain used
	// for the TLS connection.  It is ignored when DisableTLS is set.
	Certificates []byte

	// Proxy specifies a SOCKS5 proxy to connect through, if any.
	Proxy     string
	ProxyUser string
	ProxyPass string

	// DisableTLS connects over plain websockets.  Only allowed when the
	// server is on localhost or a trusted network.
	DisableTLS bool
}

// rawResponse is the channel payload for a completed JSON-RPC call.
type rawResponse struct {
	result json.RawMessage
	err    error
}

// RPCClient represents a persistent websocket client connection to a pocketd
// RPC server for fetching unspent outputs and broadcasting payments on
// behalf of the wallet.
type RPCClient struct {
	cfg ConnConfig

	wsConn  *websocket.Conn
	sendMtx sync.Mutex // serializes websocket writes

	requestMtx sync.Mutex
	pending    map[uint64]chan rawResponse
	nextID     uint64 // atomic

	notifications chan interface{}

	start    sync.Once
	stop     sync.Once
	quit     chan struct{}
	wg       sync.WaitGroup
	shutdown int32 // atomic
}

// A compile-time check to force RPCClient to satisfy the Interface contract,
// and with it wallet.BlockchainConnection.
var _ Interface = (*RPCClient)(nil)

// NewRPCClient creates a client connection to the server described by the
// passed config.  The connection is not attempted until Start is called.
func NewRPCClient(cfg *ConnConfig) (*RPCClient, error) {
	if cfg.Host == "" {
		return nil, errors.New("no RPC server host configured")
	}
	client := &RPCClient{
		cfg:           *cfg,
		pending:       make(map[uint64]chan rawResponse),
		notifications: make(chan interface{}, 16),
		quit:          make(chan struct{}),
	}
	return client, nil
}

// BackEnd returns the name of the driver.
func (c *RPCClient) BackEnd() string {
	return "pocketd"
}

// Notifications returns a channel of parsed notifications sent by the remote
// RPC server.  This channel must be continually read or the client may be
// blocked from further work.  The channel is closed once the connection is
// lost or the client is stopped.
func (c *RPCClient) Notifications() <-chan interface{} {
	return c.notifications
}

// dial opens a websocket connection using the connection configuration,
// attaching the HTTP basic authentication header.
func (c *RPCClient) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{}

	scheme := "ws"
	if !c.cfg.DisableTLS {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if len(c.cfg.Certificates) > 0 {
			pool := x509.NewCertPool()
			pool.AppendCertsFromPEM(c.cfg.Certificates)
			tlsConfig.RootCAs = pool
		}
		dialer.TLSClientConfig = tlsConfig
		scheme = "wss"
	}

	if c.cfg.Proxy != "" {
		proxy := &socks.Proxy{
			Addr:     c.cfg.Proxy,
			Username: c.cfg.ProxyUser,
			Password: c.cfg.ProxyPass,
		}
		dialer.NetDial = proxy.Dial
	}

	login := c.cfg.User + ":" + c.cfg.Pass
	auth := "Basic " + base64.StdEncoding.EncodeToString([]byte(login))
	requestHeader := make(http.Header)
	requestHeader.Add("Authorization", auth)

	url := fmt.Sprintf("%s://%s/%s", scheme, c.cfg.Host, c.cfg.Endpoint)
	wsConn, resp, err := dialer.Dial(url, requestHeader)
	if err != nil {
		if err == websocket.ErrBadHandshake && resp != nil {
			return nil, fmt.Errorf("authentication failure: %s",
				resp.Status)
		}
		return nil, err
	}
	return wsConn, nil
}

// Start attempts to establish the client connection and begins processing
// responses.  A ClientConnected notification is delivered once the
// connection is up.
func (c *RPCClient) Start() error {
	err := ErrClientShutdown
	c.start.Do(func() {
		var wsConn *websocket.Conn
		wsConn, err = c.dial()
		if err != nil {
			return
		}
		c.wsConn = wsConn

		// Queue the connected notification before the read handler can
		// run, so the handler remains the only sender afterwards and
		// may close the channel when it exits.
		c.deliverNotification(ClientConnected{})

		c.wg.Add(1)
		go c.inHandler()

		log.Infof("Established connection to RPC server %s", c.cfg.Host)
	})
	return err
}

// Stop disconnects the client and signals the shutdown of all goroutines.
func (c *RPCClient) Stop() {
	c.stop.Do(func() {
		atomic.StoreInt32(&c.shutdown, 1)
		close(c.quit)
		if c.wsConn != nil {
			c.wsConn.Close()
		}
		c.failAllPending(ErrClientShutdown)
	})
}

// WaitForShutdown blocks until the client goroutines have finished.
func (c *RPCClient) WaitForShutdown() {
	c.wg.Wait()
}

// deliverNotification queues a notification, dropping it when the consumer
// has fallen too far behind.
func (c *RPCClient) deliverNotification(n interface{}) {
	select {
	case c.notifications <- n:
	case <-c.quit:
	default:
		log.Warnf("Dropping %T notification: consumer not keeping up", n)
	}
}

// inHandler reads messages from the websocket connection, routing responses
// to their waiting callers.  On a read error the connection is considered
// lost and a ClientDisconnected notification is delivered.  The notification
// channel is closed when the handler exits so consumers ranging over it
// terminate with the client.
func (c *RPCClient) inHandler() {
	defer c.wg.Done()
	defer close(c.notifications)

	for {
		_, msg, err := c.wsConn.ReadMessage()
		if err != nil {
			if atomic.LoadInt32(&c.shutdown) == 0 {
				log.Errorf("Lost connection to RPC server: %v", err)
				c.failAllPending(ErrClientShutdown)
				c.deliverNotification(ClientDisconnected{})
			}
			return
		}

		var resp btcjson.Response
		if err := json.Unmarshal(msg, &resp); err != nil {
			log.Warnf("Unparsable message from RPC server: %v", err)
			continue
		}
		if resp.ID == nil {
			// Unsolicited notification; nothing registered yet.
			continue
		}
		id, ok := (*resp.ID).(float64)
		if !ok {
			log.Warnf("Non-numeric response id from RPC server")
			continue
		}

		var result rawResponse
		if resp.Error != nil {
			result.err = resp.Error
		} else {
			result.result = resp.Result
		}
		c.dispatch(uint64(id), result)
	}
}

// dispatch hands a completed response to the caller registered for its id.
func (c *RPCClient) dispatch(id uint64, result rawResponse) {
	c.requestMtx.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.requestMtx.Unlock()

	if ok {
		ch <- result
	}
}

// failAllPending unblocks every outstanding call with the passed error.
func (c *RPCClient) failAllPending(err error) {
	c.requestMtx.Lock()
	pending := c.pending
	c.pending = make(map[uint64]chan rawResponse)
	c.requestMtx.Unlock()

	for _, ch := range pending {
		ch <- rawResponse{err: err}
	}
}

// call performs a synchronous JSON-RPC call over the websocket connection.
func (c *RPCClient) call(method string, params []interface{}) (json.RawMessage, error) {
	if c.wsConn == nil {
		return nil, ErrNotStarted
	}
	if atomic.LoadInt32(&c.shutdown) == 1 {
		return nil, ErrClientShutdown
	}

	id := atomic.AddUint64(&c.nextID, 1)
	req, err := btcjson.NewRequest(btcjson.RpcVersion1, id, method, params)
	if err != nil {
		return nil, err
	}
	msg, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan rawResponse, 1)
	c.requestMtx.Lock()
	c.pending[id] = ch
	c.requestMtx.Unlock()

	c.sendMtx.Lock()
	err = c.wsConn.WriteMessage(websocket.TextMessage, msg)
	c.sendMtx.Unlock()
	if err != nil {
		c.requestMtx.Lock()
		delete(c.pending, id)
		c.requestMtx.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp.result, resp.err
	case <-c.quit:
		return nil, ErrClientShutdown
	}
}

// unspentResult is the wire form of one spendable output as reported by the
// getunspent RPC.
type unspentResult struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

// FetchUnspent returns the spendable outputs credited to the passed
// addresses of the given coin type.
//
// This method is part of the wallet.BlockchainConnection interface.
func (c *RPCClient) FetchUnspent(coinType uint32, addrs []string) ([]wallet.Unspent, error) {
	if addrs == nil {
		addrs = []string{}
	}
	raw, err := c.call("getunspent", []interface{}{coinType, addrs})
	if err != nil {
		return nil, err
	}

	var results []unspentResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("malformed getunspent reply: %v", err)
	}
	unspent := make([]wallet.Unspent, len(results))
	for i, r := range results {
		unspent[i] = wallet.Unspent{
			Address: r.Address,
			Amount:  wallet.Amount(r.Amount),
		}
	}
	return unspent, nil
}

// Broadcast submits an encoded payment for the given coin type to the
// network through the RPC server.
//
// This method is part of the wallet.BlockchainConnection interface.
func (c *RPCClient) Broadcast(coinType uint32, payment []byte) error {
	_, err := c.call("broadcastpayment",
		[]interface{}{coinType, hex.EncodeToString(payment)})
	return err
}
