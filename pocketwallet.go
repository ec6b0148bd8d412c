package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pocketsuite/pocketwallet/chain"
	"github.com/pocketsuite/pocketwallet/internal/cfgutil"
	"github.com/pocketsuite/pocketwallet/rpc/legacyrpc"
	"github.com/pocketsuite/pocketwallet/wallet"
)

var cfg *config

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Work around defer not working after os.Exit.
	if err := walletMain(); err != nil {
		os.Exit(1)
	}
}

// walletMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the program
// can be exited with an error exit status.
func walletMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Show version at startup.
	log.Infof("Version %s", version())

	walletPath := filepath.Join(cfg.AppDataDir.Value, defaultWalletFilename)
	walletExists, err := cfgutil.FileExists(walletPath)
	if err != nil {
		log.Errorf("Cannot check wallet file: %v", err)
		return err
	}

	// Create and exit when running with the create flag.
	if cfg.Create {
		if walletExists {
			err := fmt.Errorf("the wallet file %s already exists",
				walletPath)
			fmt.Fprintln(os.Stderr, err)
			return err
		}
		if err := createWallet(cfg, walletPath); err != nil {
			log.Errorf("Unable to create wallet: %v", err)
			return err
		}
		return nil
	}

	if !walletExists {
		err := errors.New("the wallet does not exist, run with the " +
			"--create option to initialize and create it")
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	w, err := wallet.LoadFromFile(walletPath)
	if err != nil {
		log.Errorf("Unable to open wallet: %v", err)
		return err
	}

	// Attach the autosave manager before anything can mutate the wallet,
	// so no change is lost.
	_, err = w.AutosaveToFile(walletPath, cfg.AutosaveDelay, nil,
		func(err error) {
			log.Errorf("Wallet autosave failed: %v", err)
		})
	if err != nil {
		log.Errorf("Unable to start wallet autosave: %v", err)
		return err
	}

	// Derive pockets configured at the command line and make sure every
	// pocket has its initial addresses.
	currencies, err := startupCurrencies(cfg)
	if err != nil {
		log.Errorf("Invalid pocket configuration: %v", err)
		return err
	}
	if !w.IsEncrypted() {
		if err := w.CreatePockets(currencies, true); err != nil {
			log.Errorf("Unable to create configured pockets: %v", err)
			return err
		}
	}
	if err := w.InitializeAllPockets(); err != nil {
		log.Errorf("Unable to initialize pockets: %v", err)
		return err
	}

	interrupt := interruptListener()

	// Start the legacy JSON-RPC server when listeners and credentials are
	// configured.
	var legacyServer *legacyrpc.Server
	if len(cfg.RPCListeners) > 0 {
		if cfg.Username == "" || cfg.Password == "" {
			err := errors.New("legacy RPC server requires both " +
				"--username and --password")
			log.Error(err)
			return err
		}
		listeners := makeListeners(cfg.RPCListeners)
		if len(listeners) == 0 {
			err := errors.New("failed to listen on any RPC interface")
			log.Error(err)
			return err
		}
		opts := legacyrpc.Options{
			Username: cfg.Username,
			Password: cfg.Password,
		}
		legacyServer = legacyrpc.NewServer(&opts, listeners, w, nil)

		// Forward remote shutdown requests into the common shutdown
		// path.
		go func() {
			<-legacyServer.RequestProcessShutdown()
			shutdownRequestChannel <- struct{}{}
		}()
	}

	// Connect to the pocketd backend when configured and hand the
	// connection to the wallet.
	var chainClient *chain.RPCClient
	if cfg.RPCConnect != "" {
		chainClient, err = startChainClient(w, legacyServer)
		if err != nil {
			log.Errorf("Unable to connect to %s: %v", cfg.RPCConnect, err)
			return err
		}
	} else {
		log.Info("No pocketd RPC server configured, running offline")
	}

	<-interrupt

	if legacyServer != nil {
		log.Info("Stopping legacy RPC server...")
		legacyServer.Stop()
	}
	if chainClient != nil {
		log.Info("Disconnecting chain client...")
		chainClient.Stop()
		chainClient.WaitForShutdown()
	}
	if err := w.ShutdownAutosaveAndWait(); err != nil {
		log.Errorf("Final wallet save failed: %v", err)
	}
	log.Info("Shutdown complete")
	return nil
}

// makeListeners opens TCP listeners for every normalized listen address,
// skipping the ones which cannot be bound.
func makeListeners(addrs []string) []net.Listener {
	listeners := make([]net.Listener, 0, len(addrs))
	for _, addr := range addrs {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			log.Warnf("Can't listen on %s: %v", addr, err)
			continue
		}
		listeners = append(listeners, listener)
	}
	return listeners
}

// startChainClient connects to the configured pocketd server and wires its
// connection lifecycle to the wallet and the legacy RPC server.
func startChainClient(w *wallet.Wallet, legacyServer *legacyrpc.Server) (*chain.RPCClient, error) {
	var certs []byte
	if !cfg.DisableClientTLS {
		var err error
		certs, err = os.ReadFile(cfg.CAFile.Value)
		if err != nil {
			log.Warnf("Cannot open CA file: %v", err)
			// If there's an error reading the CA file, continue
			// with nil certs and without the client connection.
			certs = nil
		}
	}

	chainClient, err := chain.NewRPCClient(&chain.ConnConfig{
		Host:         cfg.RPCConnect,
		Endpoint:     "ws",
		User:         cfg.PocketdUsername,
		Pass:         cfg.PocketdPassword,
		Certificates: certs,
		Proxy:        cfg.Proxy,
		ProxyUser:    cfg.ProxyUser,
		ProxyPass:    cfg.ProxyPass,
		DisableTLS:   cfg.DisableClientTLS,
	})
	if err != nil {
		return nil, err
	}
	if err := chainClient.Start(); err != nil {
		return nil, err
	}
	if legacyServer != nil {
		legacyServer.SetChainServer(chainClient)
	}

	go handleChainNotifications(w, chainClient)
	return chainClient, nil
}

// handleChainNotifications forwards connection lifecycle events from the
// chain client to the wallet.
func handleChainNotifications(w *wallet.Wallet, chainClient *chain.RPCClient) {
	for n := range chainClient.Notifications() {
		switch n.(type) {
		case chain.ClientConnected:
			w.OnConnection(chainClient)
			if err := w.RefreshAll(); err != nil {
				log.Errorf("Unable to refresh pockets: %v", err)
			}

		case chain.ClientDisconnected:
			w.OnDisconnect()
		}
	}
}
