package legacyrpc

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/pocketsuite/pocketwallet/chain"
	"github.com/pocketsuite/pocketwallet/rpc/walletjson"
	"github.com/pocketsuite/pocketwallet/wallet"
)

// requestHandler is a handler function to handle an unmarshaled and parsed
// request into a marshalable response.  If the error is a *btcjson.RPCError
// or any of the above special error classes, the server will respond with
// the JSON-RPC appropiate error code.  All other errors use the wallet
// catch-all error code, btcjson.ErrRPCWallet.
type requestHandler func(interface{}, *wallet.Wallet) (interface{}, error)

// requestHandlerChainRequired is a requestHandler that also takes the chain
// client as a parameter.
type requestHandlerChainRequired func(interface{}, *wallet.Wallet, *chain.RPCClient) (interface{}, error)

var rpcHandlers = map[string]struct {
	handler          requestHandler
	handlerWithChain requestHandlerChainRequired
}{
	// Reference implementation wallet methods (implemented)
	"encryptwallet":  {handler: encryptWallet},
	"getbalance":     {handler: getBalance},
	"getinfo":        {handlerWithChain: getInfo},
	"getnewaddress":  {handler: getNewAddress},
	"sendtoaddress":  {handler: sendToAddress},
	"walletislocked": {handler: walletIsLocked},

	// Extensions to the reference client JSON-RPC API
	"createpocket":  {handler: createPocket},
	"decryptwallet": {handler: decryptWallet},
	"getmnemonic":   {handler: getMnemonic},
	"listpockets":   {handler: listPockets},
	"refreshall":    {handler: refreshAll},

	// Reference implementation methods (still unimplemented)
	"backupwallet":  {handler: unimplemented},
	"dumpwallet":    {handler: unimplemented},
	"getwalletinfo": {handler: unimplemented},
	"importwallet":  {handler: unimplemented},

	// Reference methods which can't be implemented by pocketwallet due to
	// design decision differences
	"move":       {handler: unsupported},
	"setaccount": {handler: unsupported},
}

// init registers the help handler separately to avoid an initialization
// cycle, since help iterates over rpcHandlers.
func init() {
	rpcHandlers["help"] = struct {
		handler          requestHandler
		handlerWithChain requestHandlerChainRequired
	}{handler: help}
}

// unimplemented handles an unimplemented RPC request with the
// appropiate error.
func unimplemented(interface{}, *wallet.Wallet) (interface{}, error) {
	return nil, &btcjson.RPCError{
		Code:    btcjson.ErrRPCUnimplemented,
		Message: "Method unimplemented",
	}
}

// unsupported handles a standard bitcoind RPC request which is
// unsupported by pocketwallet due to design differences.
func unsupported(interface{}, *wallet.Wallet) (interface{}, error) {
	return nil, &btcjson.RPCError{
		Code:    -1,
		Message: "Request unsupported by pocketwallet",
	}
}

// lazyHandler is a closure over a requestHandler or passthrough request with
// the RPC server's wallet and chain server variables as part of the closure
// context.
type lazyHandler func() (interface{}, *btcjson.RPCError)

// lazyApplyHandler looks up the best request handler func for the method,
// returning a closure that will execute it with the (required) wallet and
// (optional) consensus RPC server.  If no handlers are found and the
// chainClient is not nil, the returned handler performs RPC passthrough.
func lazyApplyHandler(request *btcjson.Request, w *wallet.Wallet, chainClient chain.Interface) lazyHandler {
	handlerData, ok := rpcHandlers[request.Method]
	if ok && handlerData.handlerWithChain != nil && w != nil && chainClient != nil {
		return func() (interface{}, *btcjson.RPCError) {
			cmd, err := btcjson.UnmarshalCmd(request)
			if err != nil {
				return nil, btcjson.ErrRPCInvalidRequest
			}
			switch client := chainClient.(type) {
			case *chain.RPCClient:
				resp, err := handlerData.handlerWithChain(cmd,
					w, client)
				if err != nil {
					return nil, jsonError(err)
				}
				return resp, nil
			default:
				return nil, &btcjson.RPCError{
					Code:    -1,
					Message: "Chain RPC is inactive",
				}
			}
		}
	}
	if ok && handlerData.handler != nil && w != nil {
		return func() (interface{}, *btcjson.RPCError) {
			cmd, err := btcjson.UnmarshalCmd(request)
			if err != nil {
				return nil, btcjson.ErrRPCInvalidRequest
			}
			resp, err := handlerData.handler(cmd, w)
			if err != nil {
				return nil, jsonError(err)
			}
			return resp, nil
		}
	}

	return func() (interface{}, *btcjson.RPCError) {
		if w == nil {
			return nil, &ErrUnloadedWallet
		}
		return nil, btcjson.ErrRPCMethodNotFound
	}
}

// makeResponse makes the JSON-RPC response struct for the result and error
// returned by a requestHandler.  The returned response is not ready for
// marshaling and sending off to a client, but must be marshaled with
// encoding/json first.
func makeResponse(id, result interface{}, err error) btcjson.Response {
	idPtr := idPointer(id)
	if err != nil {
		return btcjson.Response{
			Jsonrpc: btcjson.RpcVersion1,
			ID:      idPtr,
			Error:   jsonError(err),
		}
	}
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return btcjson.Response{
			Jsonrpc: btcjson.RpcVersion1,
			ID:      idPtr,
			Error: &btcjson.RPCError{
				Code:    btcjson.ErrRPCInternal.Code,
				Message: "Unexpected error marshalling result",
			},
		}
	}
	return btcjson.Response{
		Jsonrpc: btcjson.RpcVersion1,
		ID:      idPtr,
		Result:  json.RawMessage(resultBytes),
	}
}

// idPointer returns a pointer to the passed ID, or nil if the interface is
// nil.  Go lacks pointers to interfaces and this is a workaround necessary
// for the response ID field.
func idPointer(id interface{}) (p *interface{}) {
	if id != nil {
		p = &id
	}
	return
}

// amountFromFloat converts a coin-denominated JSON-RPC amount to base units.
func amountFromFloat(f float64) (wallet.Amount, error) {
	if f <= 0 {
		return 0, ErrNeedPositiveAmount
	}
	amt, err := btcutil.NewAmount(f)
	if err != nil {
		return 0, InvalidParameterError{err}
	}
	return wallet.Amount(amt), nil
}

// pocketForAccount resolves the btcjson "account" parameter, which
// pocketwallet reinterprets as a currency symbol, to the matching pocket.
func pocketForAccount(w *wallet.Wallet, account *string) (*wallet.Pocket, error) {
	symbol := "BTC"
	if account != nil && *account != "" && *account != "*" {
		symbol = strings.ToUpper(*account)
	}
	params, err := wallet.CurrencyBySymbol(symbol)
	if err != nil {
		return nil, err
	}
	return w.GetOrCreatePocket(params.ID)
}

// getBalance handles a getbalance request.  The account parameter selects a
// currency symbol; the default and the wildcard "*" report the sum over all
// pockets.  Balances are reported in base units.
func getBalance(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.GetBalanceCmd)

	if cmd.Account == nil || *cmd.Account == "*" {
		var total wallet.Amount
		for _, pocket := range w.Pockets() {
			total += pocket.Balance()
		}
		return int64(total), nil
	}

	pocket, err := pocketForAccount(w, cmd.Account)
	if err != nil {
		return nil, err
	}
	return int64(pocket.Balance()), nil
}

// getInfo handles a getinfo request by returning a summary of the wallet and
// its backing chain connection.
func getInfo(icmd interface{}, w *wallet.Wallet, chainClient *chain.RPCClient) (interface{}, error) {
	return &walletjson.WalletInfoResult{
		Version:     int32(w.Version()),
		PocketCount: int32(len(w.CurrencyIDs())),
		Encrypted:   w.IsEncrypted(),
		Backend:     chainClient.BackEnd(),
	}, nil
}

// getNewAddress handles a getnewaddress request, returning the receive
// address of the pocket selected by the account parameter.
func getNewAddress(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.GetNewAddressCmd)

	pocket, err := pocketForAccount(w, cmd.Account)
	if err != nil {
		return nil, err
	}
	return pocket.ReceiveAddress()
}

// help handles a help request by listing the supported methods.
func help(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	methods := make([]string, 0, len(rpcHandlers))
	for method := range rpcHandlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return strings.Join(methods, "\n"), nil
}

// sendToAddress handles a sendtoaddress request, routing the payment to the
// pocket owning the destination address's currency.
func sendToAddress(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.SendToAddressCmd)

	amount, err := amountFromFloat(cmd.Amount)
	if err != nil {
		return nil, err
	}
	if err := w.SendFunds(cmd.Address, amount); err != nil {
		return nil, err
	}
	return "sent", nil
}

// walletIsLocked handles a walletislocked request, reporting whether the
// wallet's key material is currently encrypted.
func walletIsLocked(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	return w.IsEncrypted(), nil
}

// encryptWallet handles an encryptwallet request by encrypting the whole
// wallet, every pocket included, under the passed passphrase.
func encryptWallet(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*btcjson.EncryptWalletCmd)

	err := w.EncryptWithPassphrase([]byte(cmd.Passphrase), nil)
	if err != nil {
		return nil, err
	}
	if err := w.SaveNow(); err != nil {
		return nil, err
	}
	return "wallet encrypted", nil
}

// decryptWallet handles a decryptwallet request, restoring plaintext key
// material for the whole wallet.
func decryptWallet(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*walletjson.DecryptWalletCmd)

	err := w.DecryptWithPassphrase([]byte(cmd.Passphrase))
	if err != nil {
		return nil, err
	}
	if err := w.SaveNow(); err != nil {
		return nil, err
	}
	return "wallet decrypted", nil
}

// getMnemonic handles a getmnemonic request.  The wallet must hold a
// plaintext seed.
func getMnemonic(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	words, err := w.MnemonicCode()
	if err != nil {
		return nil, err
	}
	if words == nil {
		return nil, &ErrNoMnemonic
	}
	return &walletjson.GetMnemonicResult{
		Mnemonic: strings.Join(words, " "),
	}, nil
}

// listPockets handles a listpockets request, returning one entry per
// registered pocket in creation order.
func listPockets(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	pockets := w.Pockets()
	results := make([]walletjson.PocketResult, 0, len(pockets))
	for _, pocket := range pockets {
		addr, err := pocket.ReceiveAddress()
		if err != nil {
			return nil, err
		}
		params := pocket.Params()
		results = append(results, walletjson.PocketResult{
			CoinType:       uint32(params.ID),
			Name:           params.Name,
			Symbol:         params.Symbol,
			Balance:        int64(pocket.Balance()),
			ReceiveAddress: addr,
			Encrypted:      pocket.IsEncrypted(),
		})
	}
	return results, nil
}

// createPocket handles a createpocket request by deriving a pocket for the
// passed currency symbol.
func createPocket(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	cmd := icmd.(*walletjson.CreatePocketCmd)

	params, err := wallet.CurrencyBySymbol(strings.ToUpper(cmd.Symbol))
	if err != nil {
		return nil, err
	}
	pocket, err := w.GetOrCreatePocket(params.ID)
	if err != nil {
		return nil, err
	}
	if err := pocket.InitializeAllKeys(); err != nil {
		return nil, err
	}
	addr, err := pocket.ReceiveAddress()
	if err != nil {
		return nil, err
	}
	return &walletjson.CreatePocketResult{
		CoinType:       uint32(params.ID),
		ReceiveAddress: addr,
	}, nil
}

// refreshAll handles a refreshall request by reloading every pocket's
// unspent output view and saving the result.
func refreshAll(icmd interface{}, w *wallet.Wallet) (interface{}, error) {
	if err := w.RefreshAll(); err != nil {
		return nil, err
	}
	return true, nil
}
