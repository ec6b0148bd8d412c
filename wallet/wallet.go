// Package wallet implements the coordinating core of a multi-currency
// hierarchical deterministic wallet.  A single master key fans out into one
// pocket per currency, every pocket sharing the master key's encryption
// state, with the aggregate persisted to a single file through a debounced
// autosave manager.
package wallet

import (
	"fmt"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/pocketsuite/pocketwallet/internal/zero"
	"github.com/pocketsuite/pocketwallet/snacl"
	"github.com/tyler-smith/go-bip39"
)

const (
	// bip44Purpose is the BIP-43 purpose field for BIP-44 derivation.
	bip44Purpose = 44

	// accountZero is the only account the wallet derives pockets for.
	// Multi-account derivation is intentionally unsupported.
	accountZero = 0
)

// ScryptOptions is used to hold the scrypt parameters needed when deriving
// new passphrase keys.
type ScryptOptions struct {
	N, R, P int
}

// DefaultScryptOptions is the default options used with scrypt.
var DefaultScryptOptions = ScryptOptions{
	N: 262144, // 2^18
	R: 8,
	P: 1,
}

// FastScryptOptions are the scrypt options that should be used for testing
// purposes only where speed is more important than security.
var FastScryptOptions = ScryptOptions{
	N: 16,
	R: 8,
	P: 1,
}

// newSecretKey is a function var so tests can provide a failing generator.
var newSecretKey = func(passphrase *[]byte, config *ScryptOptions) (*snacl.SecretKey, error) {
	return snacl.NewSecretKey(passphrase, config.N, config.R, config.P)
}

// Wallet is the single point of truth for the aggregate multi-currency
// wallet: the master key and optional seed, the ordered registry of pockets,
// the persistence manager handle and the current blockchain connection.
//
// All mutable state is guarded by one mutex.  Exported methods acquire it and
// delegate to lowercase helpers that require it held; bulk operations
// snapshot what they need and call out only after releasing, so no method
// ever re-enters the lock.
type Wallet struct {
	mtx sync.Mutex

	pockets map[CurrencyID]*Pocket
	order   []CurrencyID // registry insertion order

	seed *Seed // nil for wallets restored from a bare master key

	masterKey    *hdkeychain.ExtendedKey // nil when encrypted
	encMasterKey []byte                  // nil when plaintext
	cryptoParams []byte                  // marshaled secret key params while encrypted

	version int

	fileManager *FileManager
	conn        BlockchainConnection
}

// NewFromMnemonic validates the mnemonic sentence against its BIP-39
// checksum and derives the wallet's master key from the resulting seed.  The
// optional passphrase salts the seed derivation, it is not the wallet
// encryption passphrase.
func NewFromMnemonic(mnemonic []string, passphrase string) (*Wallet, error) {
	sentence := strings.Join(mnemonic, mnemonicSeparator)
	seedBytes, err := bip39.NewSeedWithErrorChecking(sentence, passphrase)
	if err != nil {
		return nil, walletError(ErrInvalidMnemonic,
			"mnemonic failed checksum validation", err)
	}

	masterKey, err := hdkeychain.NewMaster(seedBytes, &chaincfg.MainNetParams)
	zero.Bytes(seedBytes)
	if err != nil {
		return nil, walletError(ErrCrypto,
			"failed to derive master key from seed", err)
	}

	return &Wallet{
		pockets:   make(map[CurrencyID]*Pocket),
		seed:      NewSeed(mnemonic),
		masterKey: masterKey,
	}, nil
}

// NewFromMasterKey builds a wallet around an already-derived master key, such
// as a watching-only wallet or state restored from elsewhere.  The seed may
// be nil.  No validation is performed beyond accepting the key material.
func NewFromMasterKey(masterKey *hdkeychain.ExtendedKey, seed *Seed) *Wallet {
	return &Wallet{
		pockets:   make(map[CurrencyID]*Pocket),
		seed:      seed,
		masterKey: masterKey,
	}
}

// MasterKey returns the wallet's master extended key, or nil while the wallet
// is encrypted.
func (w *Wallet) MasterKey() *hdkeychain.ExtendedKey {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return w.masterKey
}

// Seed returns the wallet's seed or nil for wallets without one.
func (w *Wallet) Seed() *Seed {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return w.seed
}

// MnemonicCode returns the mnemonic words backing the wallet's seed.  It
// returns nil for wallets without a seed and ErrLocked while the wallet is
// encrypted.
func (w *Wallet) MnemonicCode() ([]string, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	if w.seed == nil {
		return nil, nil
	}
	if w.seed.IsEncrypted() {
		return nil, walletError(ErrLocked, "seed is encrypted", nil)
	}
	return w.seed.Mnemonic(), nil
}

// Version returns the on-disk format version recorded for this wallet.  The
// value is set externally and carries no semantics inside the wallet.
func (w *Wallet) Version() int {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return w.version
}

// SetVersion records the on-disk format version for this wallet.
func (w *Wallet) SetVersion(version int) {
	w.mtx.Lock()
	w.version = version
	w.mtx.Unlock()
}

// IsEncrypted returns whether the wallet's key material is currently
// ciphertext.  The master key's state is authoritative for the aggregate.
func (w *Wallet) IsEncrypted() bool {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return w.encMasterKey != nil
}

// deriveAccountKey derives the BIP-44 account-zero extended key for the
// passed coin type: m/44'/<coin type>'/0'.  The derivation is a pure function
// of the master key and the coin type.
func deriveAccountKey(masterKey *hdkeychain.ExtendedKey, coinType CurrencyID) (*hdkeychain.ExtendedKey, error) {
	purposeKey, err := masterKey.Derive(hdkeychain.HardenedKeyStart + bip44Purpose)
	if err != nil {
		return nil, walletError(ErrCrypto,
			"failed to derive purpose key", err)
	}
	coinKey, err := purposeKey.Derive(hdkeychain.HardenedKeyStart + uint32(coinType))
	if err != nil {
		return nil, walletError(ErrCrypto,
			"failed to derive coin type key", err)
	}
	acctKey, err := coinKey.Derive(hdkeychain.HardenedKeyStart + accountZero)
	if err != nil {
		return nil, walletError(ErrCrypto,
			"failed to derive account key", err)
	}
	return acctKey, nil
}

// GetOrCreatePocket returns the pocket registered for the currency, deriving
// and registering a fresh one when none exists yet.  Creation is idempotent:
// concurrent callers for the same currency observe the same pocket instance.
// Deriving a new pocket needs the plaintext master key, so this fails with
// ErrLocked while the wallet is encrypted.
func (w *Wallet) GetOrCreatePocket(currency CurrencyID) (*Pocket, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	if pocket, ok := w.pockets[currency]; ok {
		return pocket, nil
	}
	return w.createPocket(currency)
}

// Pocket returns the registered pocket for the currency, or nil when none
// has been created.
func (w *Wallet) Pocket(currency CurrencyID) *Pocket {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return w.pockets[currency]
}

// createPocket derives a pocket for the currency and registers it.
//
// This function MUST be called with the wallet lock held.
func (w *Wallet) createPocket(currency CurrencyID) (*Pocket, error) {
	params, err := CurrencyByID(currency)
	if err != nil {
		return nil, err
	}
	if w.encMasterKey != nil {
		return nil, walletError(ErrLocked, "cannot derive a new pocket "+
			"while the wallet is encrypted", nil)
	}

	acctKey, err := deriveAccountKey(w.masterKey, currency)
	if err != nil {
		return nil, err
	}
	pocket, err := newPocket(acctKey, params)
	if err != nil {
		return nil, err
	}
	if w.conn != nil {
		pocket.OnConnection(w.conn)
	}
	if err := w.addPocket(pocket); err != nil {
		return nil, err
	}

	log.Infof("Created %s pocket", params.Name)
	return pocket, nil
}

// AddPocket registers an externally constructed pocket.  It fails with
// ErrDuplicateCurrency when a pocket for the same currency already exists.
func (w *Wallet) AddPocket(pocket *Pocket) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return w.addPocket(pocket)
}

// addPocket registers the pocket and binds it back to the wallet.
//
// This function MUST be called with the wallet lock held.
func (w *Wallet) addPocket(pocket *Pocket) error {
	currency := pocket.CurrencyID()
	if _, ok := w.pockets[currency]; ok {
		str := fmt.Sprintf("cannot replace existing %s pocket",
			pocket.Params().Name)
		return walletError(ErrDuplicateCurrency, str, nil)
	}
	w.pockets[currency] = pocket
	w.order = append(w.order, currency)
	pocket.setWallet(w)
	return nil
}

// Pockets returns a snapshot of all registered pockets in registry insertion
// order.  The slice is safe to iterate without holding any wallet lock.
func (w *Wallet) Pockets() []*Pocket {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	pockets := make([]*Pocket, 0, len(w.order))
	for _, currency := range w.order {
		pockets = append(pockets, w.pockets[currency])
	}
	return pockets
}

// CurrencyIDs returns a snapshot of the registered currency identifiers in
// registry insertion order.
func (w *Wallet) CurrencyIDs() []CurrencyID {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	ids := make([]CurrencyID, len(w.order))
	copy(ids, w.order)
	return ids
}

// CreatePockets derives pockets for all of the passed currencies, optionally
// initializing their address windows.
func (w *Wallet) CreatePockets(currencies []CurrencyID, initializeKeys bool) error {
	for _, currency := range currencies {
		log.Infof("Creating pocket for coin type %d", currency)
		pocket, err := w.GetOrCreatePocket(currency)
		if err != nil {
			return err
		}
		if initializeKeys {
			if err := pocket.InitializeAllKeys(); err != nil {
				return err
			}
		}
	}
	return nil
}

// InitializeAllPockets makes every registered pocket derive its initial
// address window if needed.
func (w *Wallet) InitializeAllPockets() error {
	for _, pocket := range w.Pockets() {
		if err := pocket.InitializeAllKeys(); err != nil {
			return err
		}
	}
	return nil
}

// SendFunds resolves the pocket owning the destination address's currency and
// delegates the send to it.  Pocket errors such as ErrInsufficientFunds are
// surfaced unchanged.
func (w *Wallet) SendFunds(addr string, amount Amount) error {
	params, err := CurrencyOfAddress(addr)
	if err != nil {
		return err
	}
	pocket, err := w.GetOrCreatePocket(params.ID)
	if err != nil {
		return err
	}
	return pocket.SendFunds(addr, amount)
}

// OnConnection records the blockchain connection and forwards it to every
// registered pocket.
func (w *Wallet) OnConnection(conn BlockchainConnection) {
	w.mtx.Lock()
	w.conn = conn
	pockets := make([]*Pocket, 0, len(w.order))
	for _, currency := range w.order {
		pockets = append(pockets, w.pockets[currency])
	}
	w.mtx.Unlock()

	for _, pocket := range pockets {
		pocket.OnConnection(conn)
	}
}

// OnDisconnect clears the recorded blockchain connection and notifies every
// registered pocket.
func (w *Wallet) OnDisconnect() {
	w.mtx.Lock()
	w.conn = nil
	pockets := make([]*Pocket, 0, len(w.order))
	for _, currency := range w.order {
		pockets = append(pockets, w.pockets[currency])
	}
	w.mtx.Unlock()

	for _, pocket := range pockets {
		pocket.OnDisconnect()
	}
}

// RefreshAll refreshes every pocket from the network and then persists the
// wallet with an immediate synchronous save.  The first refresh error is
// returned, but remaining pockets are still refreshed and the save still
// runs: a partial refresh is better captured on disk than not at all.
func (w *Wallet) RefreshAll() error {
	var firstErr error
	for _, pocket := range w.Pockets() {
		if err := pocket.Refresh(); err != nil {
			log.Errorf("Failed to refresh %s pocket: %v",
				pocket.Params().Name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := w.SaveNow(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// EncryptWithPassphrase derives a fresh secret key from the passphrase using
// the passed scrypt options (DefaultScryptOptions when nil) and encrypts the
// wallet with it.
func (w *Wallet) EncryptWithPassphrase(passphrase []byte, config *ScryptOptions) error {
	if len(passphrase) == 0 {
		return walletError(ErrInvalidArgument,
			"passphrase must not be empty", nil)
	}
	if config == nil {
		config = &DefaultScryptOptions
	}

	secretKey, err := newSecretKey(&passphrase, config)
	if err != nil {
		return walletError(ErrCrypto,
			"failed to derive key from passphrase", err)
	}
	defer secretKey.Zero()

	return w.Encrypt(secretKey)
}

// Encrypt converts the seed, the master key and every pocket to ciphertext
// under the passed secret key as one logical operation.  Every piece is
// staged first and nothing is committed unless all of them succeeded, so a
// mid-sequence failure leaves the wallet fully plaintext.
func (w *Wallet) Encrypt(secretKey *snacl.SecretKey) error {
	if secretKey == nil {
		return walletError(ErrInvalidArgument, "nil secret key", nil)
	}

	w.mtx.Lock()
	defer w.mtx.Unlock()

	if w.encMasterKey != nil {
		return walletError(ErrAlreadyEncrypted,
			"wallet is already encrypted", nil)
	}

	// Stage everything before touching any state.
	var stagedSeed *Seed
	if w.seed != nil {
		var err error
		stagedSeed, err = w.seed.encrypt(secretKey)
		if err != nil {
			return err
		}
	}

	encMasterKey, err := secretKey.Encrypt([]byte(w.masterKey.String()))
	if err != nil {
		return walletError(ErrCrypto,
			"failed to encrypt master key", err)
	}

	stagedPockets := make([][]byte, len(w.order))
	for i, currency := range w.order {
		blob, err := w.pockets[currency].stageEncrypt(secretKey)
		if err != nil {
			return err
		}
		stagedPockets[i] = blob
	}

	// Commit.
	if stagedSeed != nil {
		w.seed = stagedSeed
	}
	w.masterKey.Zero()
	w.masterKey = nil
	w.encMasterKey = encMasterKey
	w.cryptoParams = secretKey.Marshal()
	for i, currency := range w.order {
		w.pockets[currency].commitEncrypt(stagedPockets[i])
	}

	log.Info("Wallet encrypted")
	return nil
}

// DecryptWithPassphrase re-derives the secret key from the passphrase using
// the scrypt parameters recorded at encryption time and decrypts the wallet
// with it.  An incorrect passphrase fails with ErrWrongPassphrase and leaves
// the wallet encrypted.
func (w *Wallet) DecryptWithPassphrase(passphrase []byte) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	if w.encMasterKey == nil {
		return walletError(ErrNotEncrypted,
			"wallet is not encrypted", nil)
	}

	var secretKey snacl.SecretKey
	if err := secretKey.Unmarshal(w.cryptoParams); err != nil {
		return walletError(ErrUnreadableWallet,
			"malformed stored crypto parameters", err)
	}
	if err := secretKey.DeriveKey(&passphrase); err != nil {
		if err == snacl.ErrInvalidPassword {
			return walletError(ErrWrongPassphrase,
				"invalid wallet passphrase", err)
		}
		return walletError(ErrCrypto,
			"failed to derive key from passphrase", err)
	}
	defer secretKey.Zero()

	return w.decrypt(&secretKey)
}

// Decrypt restores the plaintext seed, master key and pockets using the
// passed secret key.  Like Encrypt it is all-or-nothing: an incorrect key or
// a mid-sequence failure leaves the wallet fully encrypted.
func (w *Wallet) Decrypt(secretKey *snacl.SecretKey) error {
	if secretKey == nil {
		return walletError(ErrInvalidArgument, "nil secret key", nil)
	}

	w.mtx.Lock()
	defer w.mtx.Unlock()

	if w.encMasterKey == nil {
		return walletError(ErrNotEncrypted,
			"wallet is not encrypted", nil)
	}
	return w.decrypt(secretKey)
}

// decrypt stages the decryption of the seed, master key and every pocket and
// commits only when all of them succeeded.
//
// This function MUST be called with the wallet lock held and the wallet in
// the encrypted state.
func (w *Wallet) decrypt(secretKey *snacl.SecretKey) error {
	var stagedSeed *Seed
	if w.seed != nil {
		if !w.seed.IsEncrypted() {
			return walletError(ErrInconsistentState, "seed is "+
				"plaintext while the master key is encrypted", nil)
		}
		var err error
		stagedSeed, err = w.seed.decrypt(secretKey)
		if err != nil {
			return err
		}
	}

	masterBytes, err := secretKey.Decrypt(w.encMasterKey)
	if err != nil {
		if err == snacl.ErrDecryptFailed {
			return walletError(ErrWrongPassphrase,
				"invalid passphrase for master key", err)
		}
		return walletError(ErrCrypto,
			"failed to decrypt master key", err)
	}
	masterKey, err := hdkeychain.NewKeyFromString(string(masterBytes))
	zero.Bytes(masterBytes)
	if err != nil {
		return walletError(ErrCrypto,
			"decrypted master key is unreadable", err)
	}

	stagedPockets := make([]*hdkeychain.ExtendedKey, len(w.order))
	for i, currency := range w.order {
		key, err := w.pockets[currency].stageDecrypt(secretKey)
		if err != nil {
			return err
		}
		stagedPockets[i] = key
	}

	// Commit.
	if stagedSeed != nil {
		w.seed = stagedSeed
	}
	w.masterKey = masterKey
	zero.Bytes(w.encMasterKey)
	w.encMasterKey = nil
	w.cryptoParams = nil
	for i, currency := range w.order {
		w.pockets[currency].commitDecrypt(stagedPockets[i])
	}

	log.Info("Wallet decrypted")
	return nil
}
