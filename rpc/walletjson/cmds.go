// Package walletjson defines the extension JSON-RPC commands understood by
// the pocketwallet RPC server beyond the standard wallet method set.  The
// types here are registered with btcjson so both the server and command-line
// clients marshal them the same way.
package walletjson

import "github.com/btcsuite/btcd/btcjson"

// ListPocketsCmd defines the listpockets JSON-RPC command.
type ListPocketsCmd struct{}

// NewListPocketsCmd returns a new instance which can be used to issue a
// listpockets JSON-RPC command.
func NewListPocketsCmd() *ListPocketsCmd {
	return &ListPocketsCmd{}
}

// CreatePocketCmd defines the createpocket JSON-RPC command.
type CreatePocketCmd struct {
	Symbol string
}

// NewCreatePocketCmd returns a new instance which can be used to issue a
// createpocket JSON-RPC command.
func NewCreatePocketCmd(symbol string) *CreatePocketCmd {
	return &CreatePocketCmd{Symbol: symbol}
}

// DecryptWalletCmd defines the decryptwallet JSON-RPC command.
type DecryptWalletCmd struct {
	Passphrase string
}

// NewDecryptWalletCmd returns a new instance which can be used to issue a
// decryptwallet JSON-RPC command.
func NewDecryptWalletCmd(passphrase string) *DecryptWalletCmd {
	return &DecryptWalletCmd{Passphrase: passphrase}
}

// GetMnemonicCmd defines the getmnemonic JSON-RPC command.
type GetMnemonicCmd struct{}

// NewGetMnemonicCmd returns a new instance which can be used to issue a
// getmnemonic JSON-RPC command.
func NewGetMnemonicCmd() *GetMnemonicCmd {
	return &GetMnemonicCmd{}
}

// RefreshAllCmd defines the refreshall JSON-RPC command.
type RefreshAllCmd struct{}

// NewRefreshAllCmd returns a new instance which can be used to issue a
// refreshall JSON-RPC command.
func NewRefreshAllCmd() *RefreshAllCmd {
	return &RefreshAllCmd{}
}

func init() {
	// No special flags for these commands.
	flags := btcjson.UsageFlag(0)

	btcjson.MustRegisterCmd("listpockets", (*ListPocketsCmd)(nil), flags)
	btcjson.MustRegisterCmd("createpocket", (*CreatePocketCmd)(nil), flags)
	btcjson.MustRegisterCmd("decryptwallet", (*DecryptWalletCmd)(nil), flags)
	btcjson.MustRegisterCmd("getmnemonic", (*GetMnemonicCmd)(nil), flags)
	btcjson.MustRegisterCmd("refreshall", (*RefreshAllCmd)(nil), flags)
}
