package wallet

import "fmt"

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific WalletError.
const (
	// ErrInvalidMnemonic indicates a mnemonic sentence failed BIP-39
	// validation, either because of an unknown word or a bad checksum.
	ErrInvalidMnemonic ErrorCode = iota

	// ErrInvalidArgument indicates a caller supplied an argument which is
	// missing or out of range, such as a nil crypto key.
	ErrInvalidArgument

	// ErrDuplicateCurrency indicates an attempt to register a pocket or a
	// currency for an identifier which is already taken.
	ErrDuplicateCurrency

	// ErrUnknownCurrency indicates a currency identifier or address which
	// does not match any registered currency.
	ErrUnknownCurrency

	// ErrLocked indicates an operation which needs plaintext key material
	// was invoked while the wallet is encrypted.
	ErrLocked

	// ErrAlreadyEncrypted indicates an attempt to encrypt a wallet which
	// is already encrypted.
	ErrAlreadyEncrypted

	// ErrNotEncrypted indicates an attempt to decrypt a wallet which is
	// not encrypted.
	ErrNotEncrypted

	// ErrWrongPassphrase indicates a decryption key derived from an
	// incorrect passphrase.
	ErrWrongPassphrase

	// ErrInconsistentState indicates the seed and the master key disagree
	// about their encryption state.  This should never happen and points
	// at corrupted or tampered wallet data.
	ErrInconsistentState

	// ErrUnreadableSeed indicates decrypted seed bytes which do not decode
	// to a valid mnemonic sentence.
	ErrUnreadableSeed

	// ErrUnreadableWallet indicates a persisted wallet which cannot be
	// deserialized.
	ErrUnreadableWallet

	// ErrCrypto indicates a generic failure in the underlying crypto
	// primitives.
	ErrCrypto

	// ErrInsufficientFunds indicates a send for more than the owning
	// pocket's spendable balance.
	ErrInsufficientFunds

	// ErrNoConnection indicates an operation which needs an active
	// blockchain connection was invoked while disconnected.
	ErrNoConnection

	// ErrAlreadyAutosaving indicates an attempt to attach a second
	// autosave manager to a wallet.
	ErrAlreadyAutosaving

	// ErrNotAutosaving indicates an attempt to shut down autosaving when
	// no manager is attached.
	ErrNotAutosaving

	// ErrIO indicates a failure while writing or reading the persisted
	// wallet file.
	ErrIO
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrInvalidMnemonic:   "ErrInvalidMnemonic",
	ErrInvalidArgument:   "ErrInvalidArgument",
	ErrDuplicateCurrency: "ErrDuplicateCurrency",
	ErrUnknownCurrency:   "ErrUnknownCurrency",
	ErrLocked:            "ErrLocked",
	ErrAlreadyEncrypted:  "ErrAlreadyEncrypted",
	ErrNotEncrypted:      "ErrNotEncrypted",
	ErrWrongPassphrase:   "ErrWrongPassphrase",
	ErrInconsistentState: "ErrInconsistentState",
	ErrUnreadableSeed:    "ErrUnreadableSeed",
	ErrUnreadableWallet:  "ErrUnreadableWallet",
	ErrCrypto:            "ErrCrypto",
	ErrInsufficientFunds: "ErrInsufficientFunds",
	ErrNoConnection:      "ErrNoConnection",
	ErrAlreadyAutosaving: "ErrAlreadyAutosaving",
	ErrNotAutosaving:     "ErrNotAutosaving",
	ErrIO:                "ErrIO",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// WalletError provides a single type for errors that can happen during wallet
// operation.
type WalletError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e WalletError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e WalletError) Unwrap() error {
	return e.Err
}

// walletError creates a WalletError given a set of arguments.
func walletError(c ErrorCode, desc string, err error) WalletError {
	return WalletError{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether the error is a WalletError with a matching error
// code.
func IsError(err error, code ErrorCode) bool {
	e, ok := err.(WalletError)
	return ok && e.ErrorCode == code
}
