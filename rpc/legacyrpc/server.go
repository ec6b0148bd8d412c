package legacyrpc

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/pocketsuite/pocketwallet/chain"
	"github.com/pocketsuite/pocketwallet/wallet"
)

// maxRequestSize is the maximum accepted size of a JSON-RPC request body.
const maxRequestSize = 1 << 20

// Options contains the required options for running the legacy RPC server.
type Options struct {
	Username string
	Password string
}

// Server holds the items the RPC server may need to access (auth,
// config, shutdown, etc.)
type Server struct {
	httpServer  http.Server
	wallet      *wallet.Wallet
	chainClient chain.Interface
	handlerMu   sync.Mutex

	listeners []net.Listener
	authsha   [sha256.Size]byte

	wg      sync.WaitGroup
	quit    chan struct{}
	quitMtx sync.Mutex

	requestShutdownChan chan struct{}
}

// NewServer creates a new server for serving legacy RPC client connections
// over HTTP POST.
func NewServer(opts *Options, listeners []net.Listener, w *wallet.Wallet,
	chainClient chain.Interface) *Server {

	serveMux := http.NewServeMux()
	server := &Server{
		httpServer: http.Server{
			Handler: serveMux,

			// Timeout connections which don't complete the initial
			// handshake within the allowed timeframe.
			ReadTimeout: time.Second * 5,
		},
		wallet:              w,
		chainClient:         chainClient,
		listeners:           listeners,
		quit:                make(chan struct{}),
		requestShutdownChan: make(chan struct{}, 1),
	}

	login := opts.Username + ":" + opts.Password
	auth := "Basic " + base64.StdEncoding.EncodeToString([]byte(login))
	server.authsha = sha256.Sum256([]byte(auth))

	serveMux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		w.Header().Set("Content-Type", "application/json")
		r.Close = true

		if err := server.checkAuthHeader(r); err != nil {
			log.Warnf("Unauthorized client connection attempt from %s",
				r.RemoteAddr)
			jsonAuthFail(w)
			return
		}
		server.wg.Add(1)
		server.postClientRPC(w, r)
		server.wg.Done()
	}))

	for _, lis := range listeners {
		server.serve(lis)
	}

	return server
}

// serve serves HTTP POST requests from the listener.
func (s *Server) serve(lis net.Listener) {
	s.wg.Add(1)
	go func() {
		log.Infof("RPC server listening on %s", lis.Addr())
		err := s.httpServer.Serve(lis)
		log.Tracef("Finished serving RPC: %v", err)
		s.wg.Done()
	}()
}

// RegisterWallet associates the legacy RPC server with the wallet.  This
// function must be called before any wallet RPCs can be called by clients.
func (s *Server) RegisterWallet(w *wallet.Wallet) {
	s.handlerMu.Lock()
	s.wallet = w
	s.handlerMu.Unlock()
}

// SetChainServer sets the chain server client component needed to run a fully
// functional wallet RPC server.  It may be called to enable and disable the
// chain-backed RPCs as the backend connection comes and goes.
func (s *Server) SetChainServer(chainClient chain.Interface) {
	s.handlerMu.Lock()
	s.chainClient = chainClient
	s.handlerMu.Unlock()
}

// Stop gracefully shuts down the rpc server by stopping and disconnecting all
// clients.  This blocks until shutdown completes.
func (s *Server) Stop() {
	s.quitMtx.Lock()
	select {
	case <-s.quit:
		s.quitMtx.Unlock()
		return
	default:
	}
	close(s.quit)
	s.quitMtx.Unlock()

	for _, listener := range s.listeners {
		if err := listener.Close(); err != nil {
			log.Errorf("Cannot close listener %s: %v",
				listener.Addr(), err)
		}
	}
	s.wg.Wait()
}

// RequestProcessShutdown returns a channel that is sent to when an
// authorized client requests remote shutdown.
func (s *Server) RequestProcessShutdown() <-chan struct{} {
	return s.requestShutdownChan
}

// checkAuthHeader checks the HTTP Basic authentication supplied by a client
// in the HTTP request r.
//
// The authentication comparison is time constant.
func (s *Server) checkAuthHeader(r *http.Request) error {
	authhdr := r.Header["Authorization"]
	if len(authhdr) == 0 {
		return errors.New("no auth header")
	}

	authsha := sha256.Sum256([]byte(authhdr[0]))
	cmp := subtle.ConstantTimeCompare(authsha[:], s.authsha[:])
	if cmp != 1 {
		return errors.New("bad auth")
	}
	return nil
}

// jsonAuthFail sends a message back to the client if the http auth is
// rejected.
func jsonAuthFail(w http.ResponseWriter) {
	w.Header().Add("WWW-Authenticate", `Basic realm="pocketwallet RPC"`)
	http.Error(w, "401 Unauthorized.", http.StatusUnauthorized)
}

// postClientRPC processes and replies to a JSON-RPC client request.
func (s *Server) postClientRPC(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxRequestSize)
	rpcRequest, err := io.ReadAll(body)
	if err != nil {
		http.Error(w, "413 Request Too Large.",
			http.StatusRequestEntityTooLarge)
		return
	}

	var req btcjson.Request
	err = json.Unmarshal(rpcRequest, &req)
	if err != nil {
		resp, err := json.Marshal(makeResponse(req.ID, nil,
			btcjson.ErrRPCInvalidRequest))
		if err == nil {
			_, err = w.Write(resp)
		}
		if err != nil {
			log.Warnf("Cannot write invalid request response: %v", err)
		}
		return
	}

	// Create the response and error from the request.  Two special cases
	// are handled for the stop method, as the handlers package cannot
	// trigger a process shutdown itself.
	var res interface{}
	var jsonErr *btcjson.RPCError
	switch req.Method {
	case "stop":
		s.requestProcessShutdown()
		res = "pocketwallet stopping"
	default:
		s.handlerMu.Lock()
		wlt, chainClient := s.wallet, s.chainClient
		s.handlerMu.Unlock()
		res, jsonErr = lazyApplyHandler(&req, wlt, chainClient)()
	}

	// Marshal and send.
	var mresp btcjson.Response
	if jsonErr != nil {
		mresp = makeResponse(req.ID, nil, jsonErr)
	} else {
		mresp = makeResponse(req.ID, res, nil)
	}
	resp, err := json.Marshal(mresp)
	if err != nil {
		log.Errorf("Unable to marshal response: %v", err)
		http.Error(w, "500 Internal Server Error",
			http.StatusInternalServerError)
		return
	}
	if _, err := w.Write(resp); err != nil {
		log.Warnf("Unable to respond to client: %v", err)
	}
}

// requestProcessShutdown sends a signal to the shutdown channel without
// blocking when one is already pending.
func (s *Server) requestProcessShutdown() {
	select {
	case s.requestShutdownChan <- struct{}{}:
	default:
	}
}
