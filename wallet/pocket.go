package wallet

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/pocketsuite/pocketwallet/internal/zero"
	"github.com/pocketsuite/pocketwallet/snacl"
)

// The hierarchy described by BIP0043 is:
//  m/<purpose>'/*
// This is further extended by BIP0044 to:
//  m/44'/<coin type>'/<account>'/<branch>/<address index>
//
// The branch is 0 for external addresses and 1 for internal addresses.
const (
	// ExternalBranch is the child number to use when performing BIP0044
	// style hierarchical deterministic key derivation for the external
	// branch.
	ExternalBranch uint32 = 0

	// InternalBranch is the child number to use when performing BIP0044
	// style hierarchical deterministic key derivation for the internal
	// branch.
	InternalBranch uint32 = 1

	// defaultLookahead is the number of external addresses a pocket derives
	// up front when its keys are initialized.
	defaultLookahead = 10
)

// Unspent describes a spendable output credited to one of a pocket's
// addresses, as reported by the blockchain connection.
type Unspent struct {
	Address string
	Amount  Amount
}

// BlockchainConnection is the contract the wallet consumes from the network
// layer.  The wallet treats the connection as an opaque handle beyond these
// two calls: reconnection and retry policy live with the implementation.
type BlockchainConnection interface {
	// FetchUnspent returns the spendable outputs for the passed addresses
	// of the given coin type.
	FetchUnspent(coinType uint32, addrs []string) ([]Unspent, error)

	// Broadcast submits an encoded payment for the given coin type to the
	// network.
	Broadcast(coinType uint32, payment []byte) error
}

// ConnectionListener is implemented by types wishing to receive connection
// up/down events from the network layer.  Both the Wallet and each Pocket
// implement it.
type ConnectionListener interface {
	OnConnection(BlockchainConnection)
	OnDisconnect()
}

// Pocket is a single-currency sub-wallet.  Its account keys sit at the fixed
// BIP-44 path m/44'/<coin type>'/0' under the owning wallet's master key, so
// a pocket can always be re-derived from the master key and its currency
// alone.  The account public key is kept in the clear at all times; the
// account private key is either plaintext or ciphertext, in lockstep with the
// owning wallet's encryption state.
type Pocket struct {
	mtx sync.Mutex

	params *CurrencyParams

	acctPub     *hdkeychain.ExtendedKey
	acctPriv    *hdkeychain.ExtendedKey // nil when encrypted or watch-only
	encAcctPriv []byte                  // nil when plaintext

	externalAddrs []string
	unspent       []Unspent

	conn   BlockchainConnection
	wallet *Wallet // non-owning back-reference, set when registered
}

// newPocket wraps a derived account extended key for the passed currency.
// The key may be private or, for watching-only wallets, public.
func newPocket(acctKey *hdkeychain.ExtendedKey, params *CurrencyParams) (*Pocket, error) {
	p := &Pocket{params: params}
	if acctKey.IsPrivate() {
		pub, err := acctKey.Neuter()
		if err != nil {
			return nil, walletError(ErrCrypto,
				"failed to neuter pocket account key", err)
		}
		// Neuter returns a key aliasing the private key's backing
		// arrays, which zeroing the private key would wipe.  Re-decode
		// the serialized form for an independent copy.
		pub, err = hdkeychain.NewKeyFromString(pub.String())
		if err != nil {
			return nil, walletError(ErrCrypto,
				"failed to copy pocket account public key", err)
		}
		p.acctPriv = acctKey
		p.acctPub = pub
	} else {
		p.acctPub = acctKey
	}
	return p, nil
}

// CurrencyID returns the identifier of the currency this pocket serves.
func (p *Pocket) CurrencyID() CurrencyID {
	return p.params.ID
}

// Params returns the currency parameters this pocket was created with.
func (p *Pocket) Params() *CurrencyParams {
	return p.params
}

// setWallet records the owning wallet so mutations can request a save.  The
// reference is non-owning: it never extends the pocket's lifetime.
func (p *Pocket) setWallet(w *Wallet) {
	p.mtx.Lock()
	p.wallet = w
	p.mtx.Unlock()
}

// markDirty requests a debounced save through the owning wallet, if any.
func (p *Pocket) markDirty() {
	p.mtx.Lock()
	w := p.wallet
	p.mtx.Unlock()

	if w != nil {
		if err := w.SaveLater(); err != nil {
			log.Errorf("Failed to save %s pocket: %v", p.params.Name, err)
		}
	}
}

// InitializeAllKeys derives the pocket's initial window of external addresses
// if it has not been done yet.  Address derivation only needs the account
// public key, so this works on encrypted pockets too.
func (p *Pocket) InitializeAllKeys() error {
	p.mtx.Lock()
	grown, err := p.growAddrs(defaultLookahead)
	p.mtx.Unlock()
	if err != nil {
		return err
	}

	if grown {
		p.markDirty()
	}
	return nil
}

// growAddrs extends the derived external address window to the target size.
// The returned bool reports whether any address was actually derived.
//
// This function MUST be called with the pocket lock held.
func (p *Pocket) growAddrs(target int) (bool, error) {
	if len(p.externalAddrs) >= target {
		return false, nil
	}

	branchKey, err := p.acctPub.Derive(ExternalBranch)
	if err != nil {
		return false, walletError(ErrCrypto,
			"failed to derive external branch", err)
	}

	for i := uint32(len(p.externalAddrs)); int(i) < target; i++ {
		childKey, err := branchKey.Derive(i)
		if err != nil {
			// A derivation miss is astronomically unlikely but
			// permitted by BIP-32; skip the index like any other
			// deterministic wallet would.
			if err == hdkeychain.ErrInvalidChild {
				continue
			}
			return false, walletError(ErrCrypto,
				"failed to derive external address", err)
		}
		pubKey, err := childKey.ECPubKey()
		if err != nil {
			return false, walletError(ErrCrypto,
				"failed to extract address public key", err)
		}
		addr := p.params.AddressForPubKey(pubKey.SerializeCompressed())
		p.externalAddrs = append(p.externalAddrs, addr)
	}

	return true, nil
}

// Addresses returns a snapshot of the pocket's derived external addresses.
func (p *Pocket) Addresses() []string {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	addrs := make([]string, len(p.externalAddrs))
	copy(addrs, p.externalAddrs)
	return addrs
}

// ReceiveAddress returns the pocket's first external address, deriving the
// initial window on demand.
func (p *Pocket) ReceiveAddress() (string, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if _, err := p.growAddrs(1); err != nil {
		return "", err
	}
	return p.externalAddrs[0], nil
}

// Balance returns the sum of the pocket's known spendable outputs.
func (p *Pocket) Balance() Amount {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	return p.balance()
}

// balance sums the known unspent outputs.
//
// This function MUST be called with the pocket lock held.
func (p *Pocket) balance() Amount {
	var total Amount
	for _, u := range p.unspent {
		total += u.Amount
	}
	return total
}

// Refresh reloads the pocket's unspent output view from the blockchain
// connection.  Without a connection it is a no-op.
func (p *Pocket) Refresh() error {
	p.mtx.Lock()
	conn := p.conn
	addrs := make([]string, len(p.externalAddrs))
	copy(addrs, p.externalAddrs)
	p.mtx.Unlock()

	if conn == nil {
		return nil
	}

	unspent, err := conn.FetchUnspent(uint32(p.params.ID), addrs)
	if err != nil {
		return walletError(ErrIO, fmt.Sprintf("failed to refresh %s "+
			"pocket", p.params.Name), err)
	}

	p.mtx.Lock()
	p.unspent = unspent
	p.mtx.Unlock()

	log.Debugf("Refreshed %s pocket: %d unspent outputs",
		p.params.Name, len(unspent))
	return nil
}

// SendFunds broadcasts a payment of the passed amount to the address.  The
// amount must be covered by the pocket's spendable balance and the pocket
// must hold its plaintext private key.
func (p *Pocket) SendFunds(addr string, amount Amount) error {
	if amount <= 0 {
		return walletError(ErrInvalidArgument,
			"send amount must be positive", nil)
	}

	p.mtx.Lock()
	conn := p.conn
	if conn == nil {
		p.mtx.Unlock()
		return walletError(ErrNoConnection,
			"pocket has no blockchain connection", nil)
	}
	if p.acctPriv == nil {
		p.mtx.Unlock()
		return walletError(ErrLocked, fmt.Sprintf("%s pocket keys are "+
			"encrypted", p.params.Name), nil)
	}
	if total := p.balance(); amount > total {
		p.mtx.Unlock()
		str := fmt.Sprintf("%s pocket balance %d is less than "+
			"requested amount %d", p.params.Name, total, amount)
		return walletError(ErrInsufficientFunds, str, nil)
	}
	payment := encodePayment(uint32(p.params.ID), addr, amount)
	p.mtx.Unlock()

	if err := conn.Broadcast(uint32(p.params.ID), payment); err != nil {
		return walletError(ErrIO, "failed to broadcast payment", err)
	}

	p.mtx.Lock()
	p.spend(amount)
	p.mtx.Unlock()

	log.Infof("Sent %d to %s", amount, addr)
	p.markDirty()
	return nil
}

// spend consumes unspent outputs to cover the passed amount, oldest first.
// The next Refresh replaces this local view with the network's.
//
// This function MUST be called with the pocket lock held.
func (p *Pocket) spend(amount Amount) {
	remaining := amount
	kept := p.unspent[:0]
	for _, u := range p.unspent {
		if remaining <= 0 {
			kept = append(kept, u)
			continue
		}
		if u.Amount <= remaining {
			remaining -= u.Amount
			continue
		}
		u.Amount -= remaining
		remaining = 0
		kept = append(kept, u)
	}
	p.unspent = kept
}

// OnConnection attaches the blockchain connection to the pocket.
func (p *Pocket) OnConnection(conn BlockchainConnection) {
	p.mtx.Lock()
	p.conn = conn
	p.mtx.Unlock()
}

// OnDisconnect clears the pocket's blockchain connection.
func (p *Pocket) OnDisconnect() {
	p.mtx.Lock()
	p.conn = nil
	p.mtx.Unlock()
}

// IsEncrypted returns whether the pocket's private key material is currently
// ciphertext.
func (p *Pocket) IsEncrypted() bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	return p.encAcctPriv != nil
}

// Encrypt converts the pocket's private key material to ciphertext under the
// passed secret key.  This is normally driven for all pockets at once by the
// owning wallet so the aggregate state stays consistent.
func (p *Pocket) Encrypt(secretKey *snacl.SecretKey) error {
	blob, err := p.stageEncrypt(secretKey)
	if err != nil {
		return err
	}
	p.commitEncrypt(blob)
	return nil
}

// Decrypt restores the pocket's plaintext private key material using the
// passed secret key.
func (p *Pocket) Decrypt(secretKey *snacl.SecretKey) error {
	key, err := p.stageDecrypt(secretKey)
	if err != nil {
		return err
	}
	p.commitDecrypt(key)
	return nil
}

// stageEncrypt produces the ciphertext of the pocket's account private key
// without mutating the pocket, so a multi-pocket encryption can be made
// all-or-nothing.  Watching-only pockets stage a nil blob.
func (p *Pocket) stageEncrypt(secretKey *snacl.SecretKey) ([]byte, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.encAcctPriv != nil {
		str := fmt.Sprintf("%s pocket is already encrypted",
			p.params.Name)
		return nil, walletError(ErrAlreadyEncrypted, str, nil)
	}
	if p.acctPriv == nil {
		return nil, nil
	}

	ciphertext, err := secretKey.Encrypt([]byte(p.acctPriv.String()))
	if err != nil {
		str := fmt.Sprintf("failed to encrypt %s pocket key",
			p.params.Name)
		return nil, walletError(ErrCrypto, str, err)
	}
	return ciphertext, nil
}

// commitEncrypt installs a previously staged ciphertext and clears the
// plaintext key from memory.
func (p *Pocket) commitEncrypt(blob []byte) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if blob == nil {
		return
	}
	p.encAcctPriv = blob
	p.acctPriv.Zero()
	p.acctPriv = nil
}

// stageDecrypt recovers the plaintext account private key without mutating
// the pocket.  Watching-only pockets stage a nil key.
func (p *Pocket) stageDecrypt(secretKey *snacl.SecretKey) (*hdkeychain.ExtendedKey, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.encAcctPriv == nil {
		if p.acctPriv == nil {
			return nil, nil
		}
		str := fmt.Sprintf("%s pocket is not encrypted", p.params.Name)
		return nil, walletError(ErrNotEncrypted, str, nil)
	}

	plaintext, err := secretKey.Decrypt(p.encAcctPriv)
	if err != nil {
		if err == snacl.ErrDecryptFailed {
			str := fmt.Sprintf("invalid passphrase for %s pocket",
				p.params.Name)
			return nil, walletError(ErrWrongPassphrase, str, err)
		}
		str := fmt.Sprintf("failed to decrypt %s pocket key",
			p.params.Name)
		return nil, walletError(ErrCrypto, str, err)
	}

	key, err := hdkeychain.NewKeyFromString(string(plaintext))
	zero.Bytes(plaintext)
	if err != nil {
		str := fmt.Sprintf("decrypted %s pocket key is unreadable",
			p.params.Name)
		return nil, walletError(ErrCrypto, str, err)
	}
	return key, nil
}

// commitDecrypt installs a previously staged plaintext key and clears the
// ciphertext.
func (p *Pocket) commitDecrypt(key *hdkeychain.ExtendedKey) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if key == nil {
		return
	}
	p.acctPriv = key
	zero.Bytes(p.encAcctPriv)
	p.encAcctPriv = nil
}

// pocketState is the serializable snapshot of a pocket.
type pocketState struct {
	coinType    uint32
	acctPub     string
	acctPriv    string // empty for watch-only and encrypted pockets
	encAcctPriv []byte // nil unless encrypted
	addrCount   uint32
}

// state snapshots the fields the serializer persists.
func (p *Pocket) state() pocketState {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	s := pocketState{
		coinType:    uint32(p.params.ID),
		acctPub:     p.acctPub.String(),
		encAcctPriv: append([]byte(nil), p.encAcctPriv...),
		addrCount:   uint32(len(p.externalAddrs)),
	}
	if p.acctPriv != nil {
		s.acctPriv = p.acctPriv.String()
	}
	return s
}

// pocketFromState rebuilds a pocket from its serialized snapshot.  The
// external address window is re-derived rather than stored: the keys are the
// single source of truth for addresses.
func pocketFromState(s pocketState) (*Pocket, error) {
	params, err := CurrencyByID(CurrencyID(s.coinType))
	if err != nil {
		return nil, err
	}

	p := &Pocket{params: params}
	p.acctPub, err = hdkeychain.NewKeyFromString(s.acctPub)
	if err != nil {
		return nil, walletError(ErrUnreadableWallet,
			"malformed pocket account public key", err)
	}
	if s.acctPriv != "" {
		p.acctPriv, err = hdkeychain.NewKeyFromString(s.acctPriv)
		if err != nil {
			return nil, walletError(ErrUnreadableWallet,
				"malformed pocket account private key", err)
		}
	}
	p.encAcctPriv = s.encAcctPriv

	if _, err := p.growAddrs(int(s.addrCount)); err != nil {
		return nil, err
	}
	return p, nil
}
