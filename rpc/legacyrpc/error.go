package legacyrpc

import (
	"errors"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/pocketsuite/pocketwallet/wallet"
)

// Error types to simplify the reporting of specific categories of
// errors, and their *btcjson.RPCError creation.
type (
	// DeserializationError describes a failed deserializaion due to bad
	// user input.  It corresponds to btcjson.ErrRPCDeserialization.
	DeserializationError struct {
		error
	}

	// InvalidParameterError describes an invalid parameter passed by
	// the user.  It corresponds to btcjson.ErrRPCInvalidParameter.
	InvalidParameterError struct {
		error
	}

	// ParseError describes a failed parse due to bad user input.  It
	// corresponds to btcjson.ErrRPCParse.
	ParseError struct {
		error
	}
)

// Errors variables that are defined once here to avoid duplication below.
var (
	ErrNeedPositiveAmount = InvalidParameterError{
		errors.New("amount must be positive"),
	}

	ErrUnloadedWallet = btcjson.RPCError{
		Code:    btcjson.ErrRPCWallet,
		Message: "Request requires a wallet but wallet has not loaded yet",
	}

	ErrWalletEncrypted = btcjson.RPCError{
		Code:    btcjson.ErrRPCWalletUnlockNeeded,
		Message: "Decrypt the wallet with decryptwallet first",
	}

	ErrWalletNotEncrypted = btcjson.RPCError{
		Code:    btcjson.ErrRPCWallet,
		Message: "Wallet is not encrypted",
	}

	ErrUnknownCurrency = btcjson.RPCError{
		Code:    btcjson.ErrRPCInvalidParameter,
		Message: "No registered currency matches the request",
	}

	ErrNoMnemonic = btcjson.RPCError{
		Code:    btcjson.ErrRPCWallet,
		Message: "Wallet was not created from a mnemonic",
	}
)

// jsonError creates a JSON-RPC error from the Go error passed.  Wallet
// errors are translated by their code; the remaining special error classes
// map to their corresponding btcjson codes, and anything else uses the
// catch-all wallet error code.
func jsonError(err error) *btcjson.RPCError {
	if err == nil {
		return nil
	}

	code := btcjson.ErrRPCWallet
	switch e := err.(type) {
	case *btcjson.RPCError:
		return e
	case DeserializationError:
		code = btcjson.ErrRPCDeserialization
	case InvalidParameterError:
		code = btcjson.ErrRPCInvalidParameter
	case ParseError:
		code = btcjson.ErrRPCParse.Code
	case wallet.WalletError:
		switch e.ErrorCode {
		case wallet.ErrLocked:
			return &ErrWalletEncrypted
		case wallet.ErrNotEncrypted:
			return &ErrWalletNotEncrypted
		case wallet.ErrUnknownCurrency:
			return &ErrUnknownCurrency
		case wallet.ErrWrongPassphrase:
			code = btcjson.ErrRPCWalletPassphraseIncorrect
		case wallet.ErrAlreadyEncrypted:
			code = btcjson.ErrRPCWalletWrongEncState
		case wallet.ErrInsufficientFunds:
			code = btcjson.ErrRPCWalletInsufficientFunds
		case wallet.ErrInvalidArgument, wallet.ErrInvalidMnemonic:
			code = btcjson.ErrRPCInvalidParameter
		}
	}
	return &btcjson.RPCError{
		Code:    code,
		Message: err.Error(),
	}
}
