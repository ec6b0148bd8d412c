package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"
)

const (
	// unusableFlags are the command usage flags which this utility are not
	// able to use.  In particular it doesn't support websockets and
	// consequently notifications.
	unusableFlags = btcjson.UFWebsocketOnly | btcjson.UFNotification
)

var (
	pocketctlHomeDir    = btcutil.AppDataDir("pocketctl", false)
	pocketwalletHomeDir = btcutil.AppDataDir("pocketwallet", false)
	defaultConfigFile   = filepath.Join(pocketctlHomeDir, "pocketctl.conf")
	defaultRPCServer    = "localhost"
	defaultRPCPort      = "9332"
)

// listCommands categorizes and lists all of the usable commands along with
// their one-line usage.
func listCommands() {
	methods := btcjson.RegisteredCmdMethods()
	var usable []string
	for _, method := range methods {
		flags, err := btcjson.MethodUsageFlags(method)
		if err != nil {
			// This should never happen since the method was just
			// returned from the package, but be safe.
			continue
		}
		if flags&unusableFlags != 0 {
			continue
		}
		usage, err := btcjson.MethodUsageText(method)
		if err != nil {
			continue
		}
		usable = append(usable, usage)
	}

	for _, usage := range usable {
		fmt.Println(usage)
	}
}

// config defines the configuration options for pocketctl.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ConfigFile    string `short:"C" long:"configfile" description:"Path to configuration file"`
	ListCommands  bool   `short:"l" long:"listcommands" description:"List all of the supported commands and exit"`
	NoTLS         bool   `long:"notls" description:"Disable TLS"`
	Proxy         string `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyPass     string `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	ProxyUser     string `long:"proxyuser" description:"Username for proxy server"`
	RPCCert       string `short:"c" long:"rpccert" description:"RPC server certificate chain for validation"`
	RPCPassword   string `short:"P" long:"rpcpass" default-mask:"-" description:"RPC password"`
	RPCServer     string `short:"s" long:"rpcserver" description:"RPC server to connect to"`
	RPCUser       string `short:"u" long:"rpcuser" description:"RPC username"`
	ShowVersion   bool   `short:"V" long:"version" description:"Display version information and exit"`
	TLSSkipVerify bool   `long:"skipverify" description:"Do not verify tls certificates (not recommended!)"`
}

// normalizeAddress returns addr with the passed default port appended if
// there is not already a port specified.
func normalizeAddress(addr, defaultPort string) string {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return net.JoinHostPort(addr, defaultPort)
	}
	return addr
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(pocketctlHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		ConfigFile: defaultConfigFile,
		RPCServer:  defaultRPCServer,
	}

	// Pre-parse the command line options to see if an alternative config
	// file, the version flag, or the list commands flag was specified.  Any
	// errors aside from the help message error can be ignored here since
	// they will be caught by the final parse below.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, "")
			fmt.Fprintln(os.Stderr, "The special parameter `-` "+
				"indicates that a parameter should be read "+
				"from the\nnext unread line from standard "+
				"input.")
			os.Exit(0)
		}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, version())
		os.Exit(0)
	}

	// Show the available commands and exit if the associated flag was
	// specified.
	if preCfg.ListCommands {
		listCommands()
		os.Exit(0)
	}

	if _, err := os.Stat(preCfg.ConfigFile); os.IsNotExist(err) {
		// Use config file for RPC server to create default pocketctl
		// config file in the pocketctl home directory if it does not
		// exist.
		err := createDefaultConfigFile(preCfg.ConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating a default "+
				"config file: %v\n", err)
		}
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintf(os.Stderr, "Error parsing config file: %v\n",
				err)
			fmt.Fprintln(os.Stderr, "")
			parser.WriteHelp(os.Stderr)
			return nil, nil, err
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Handle environment variable expansion in the RPC certificate path.
	cfg.RPCCert = cleanAndExpandPath(cfg.RPCCert)

	// Add default port to RPC server based on --notls flag.
	cfg.RPCServer = normalizeAddress(cfg.RPCServer, defaultRPCPort)

	return &cfg, remainingArgs, nil
}

// createDefaultConfigFile copies the sample pocketwallet credentials into a
// fresh pocketctl config file so both sides agree on the RPC login.
func createDefaultConfigFile(destinationPath string) error {
	// Read the sample wallet config, if any, to extract the credentials.
	walletConfigPath := filepath.Join(pocketwalletHomeDir, "pocketwallet.conf")
	content, err := os.ReadFile(walletConfigPath)
	if err != nil {
		// Without a wallet config there is nothing to seed from.
		return nil
	}

	userRE := regexp.MustCompile(`(?m)^\s*username=([^\s]+)`)
	passRE := regexp.MustCompile(`(?m)^\s*password=([^\s]+)`)
	userSubmatches := userRE.FindSubmatch(content)
	passSubmatches := passRE.FindSubmatch(content)
	if userSubmatches == nil || passSubmatches == nil {
		return nil
	}

	// Create the destination directory if it does not exist.
	err = os.MkdirAll(filepath.Dir(destinationPath), 0700)
	if err != nil {
		return err
	}

	dest, err := os.OpenFile(destinationPath,
		os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer dest.Close()

	_, err = fmt.Fprintf(dest, "rpcuser=%s\nrpcpass=%s\n",
		userSubmatches[1], passSubmatches[1])
	return err
}
