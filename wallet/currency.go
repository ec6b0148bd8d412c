package wallet

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
)

// CurrencyID is the stable identifier for a supported coin.  The value is the
// currency's registered BIP-44 coin type, which also fixes its derivation
// path.
type CurrencyID uint32

// Coin types of the currencies registered by default.
const (
	Bitcoin  CurrencyID = 0
	Litecoin CurrencyID = 2
	Dogecoin CurrencyID = 3
)

// Amount represents a quantity of currency in its smallest indivisible unit.
type Amount int64

// CurrencyParams defines a supported currency: its BIP-44 coin type, display
// names and the base58 version byte of its pay-to-pubkey-hash addresses.  The
// version byte is what ties an address back to its owning pocket, so it must
// be unique among registered currencies.
type CurrencyParams struct {
	ID               CurrencyID
	Name             string
	Symbol           string
	PubKeyHashAddrID byte
}

// Parameters for the currencies every wallet supports out of the box.
var (
	BitcoinParams = CurrencyParams{
		ID:               Bitcoin,
		Name:             "bitcoin",
		Symbol:           "BTC",
		PubKeyHashAddrID: 0x00,
	}

	LitecoinParams = CurrencyParams{
		ID:               Litecoin,
		Name:             "litecoin",
		Symbol:           "LTC",
		PubKeyHashAddrID: 0x30,
	}

	DogecoinParams = CurrencyParams{
		ID:               Dogecoin,
		Name:             "dogecoin",
		Symbol:           "DOGE",
		PubKeyHashAddrID: 0x1e,
	}
)

var (
	currencyMtx        sync.RWMutex
	registeredCurrency = make(map[CurrencyID]*CurrencyParams)
	pubKeyHashAddrIDs  = make(map[byte]*CurrencyParams)
	symbols            = make(map[string]*CurrencyParams)
)

// RegisterCurrency registers the parameters for a currency so pockets can be
// derived for it and its addresses resolved.  Registering a duplicate coin
// type, symbol or address version byte fails with ErrDuplicateCurrency.
func RegisterCurrency(params *CurrencyParams) error {
	currencyMtx.Lock()
	defer currencyMtx.Unlock()

	if _, ok := registeredCurrency[params.ID]; ok {
		str := fmt.Sprintf("currency with coin type %d is already "+
			"registered", params.ID)
		return walletError(ErrDuplicateCurrency, str, nil)
	}
	if _, ok := pubKeyHashAddrIDs[params.PubKeyHashAddrID]; ok {
		str := fmt.Sprintf("currency with address version byte %#02x "+
			"is already registered", params.PubKeyHashAddrID)
		return walletError(ErrDuplicateCurrency, str, nil)
	}
	if _, ok := symbols[params.Symbol]; ok {
		str := fmt.Sprintf("currency with symbol %q is already "+
			"registered", params.Symbol)
		return walletError(ErrDuplicateCurrency, str, nil)
	}

	registeredCurrency[params.ID] = params
	pubKeyHashAddrIDs[params.PubKeyHashAddrID] = params
	symbols[params.Symbol] = params
	return nil
}

// mustRegisterCurrency performs the same function as RegisterCurrency except
// it panics on failure.  It is only usable by init functions.
func mustRegisterCurrency(params *CurrencyParams) {
	if err := RegisterCurrency(params); err != nil {
		panic("failed to register currency: " + err.Error())
	}
}

// CurrencyByID returns the registered parameters for a coin type.
func CurrencyByID(id CurrencyID) (*CurrencyParams, error) {
	currencyMtx.RLock()
	defer currencyMtx.RUnlock()

	params, ok := registeredCurrency[id]
	if !ok {
		str := fmt.Sprintf("no currency registered for coin type %d", id)
		return nil, walletError(ErrUnknownCurrency, str, nil)
	}
	return params, nil
}

// CurrencyBySymbol returns the registered parameters for a currency symbol,
// such as "BTC".
func CurrencyBySymbol(symbol string) (*CurrencyParams, error) {
	currencyMtx.RLock()
	defer currencyMtx.RUnlock()

	params, ok := symbols[symbol]
	if !ok {
		str := fmt.Sprintf("no currency registered for symbol %q", symbol)
		return nil, walletError(ErrUnknownCurrency, str, nil)
	}
	return params, nil
}

// CurrencyOfAddress resolves the currency an address belongs to from the
// address's base58check version byte.
func CurrencyOfAddress(addr string) (*CurrencyParams, error) {
	_, version, err := base58.CheckDecode(addr)
	if err != nil {
		str := fmt.Sprintf("malformed address %q", addr)
		return nil, walletError(ErrUnknownCurrency, str, err)
	}

	currencyMtx.RLock()
	defer currencyMtx.RUnlock()

	params, ok := pubKeyHashAddrIDs[version]
	if !ok {
		str := fmt.Sprintf("no currency registered for address "+
			"version byte %#02x", version)
		return nil, walletError(ErrUnknownCurrency, str, nil)
	}
	return params, nil
}

// AddressForPubKey encodes a pay-to-pubkey-hash address for the passed
// serialized public key under this currency's version byte.
func (p *CurrencyParams) AddressForPubKey(serializedPubKey []byte) string {
	return base58.CheckEncode(btcutil.Hash160(serializedPubKey),
		p.PubKeyHashAddrID)
}

func init() {
	// Register all default currencies when the package is initialized.
	mustRegisterCurrency(&BitcoinParams)
	mustRegisterCurrency(&LitecoinParams)
	mustRegisterCurrency(&DogecoinParams)
}
