package wallet

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// testMnemonic is the well-known BIP-39 test vector sentence.
var testMnemonic = strings.Split("abandon abandon abandon abandon abandon "+
	"abandon abandon abandon abandon abandon abandon about", " ")

func testWallet(t *testing.T) *Wallet {
	t.Helper()

	w, err := NewFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	return w
}

func TestNewFromMnemonic(t *testing.T) {
	w := testWallet(t)

	require.NotNil(t, w.MasterKey())
	require.True(t, w.MasterKey().IsPrivate())
	require.False(t, w.IsEncrypted())

	words, err := w.MnemonicCode()
	require.NoError(t, err)
	require.Equal(t, testMnemonic, words)
}

func TestNewFromMnemonicInvalid(t *testing.T) {
	tests := []struct {
		name     string
		mnemonic []string
	}{{
		name:     "empty",
		mnemonic: nil,
	}, {
		name:     "bad checksum",
		mnemonic: strings.Split("abandon abandon abandon abandon abandon "+
			"abandon abandon abandon abandon abandon abandon abandon", " "),
	}, {
		name:     "unknown word",
		mnemonic: []string{"definitely", "not", "a", "mnemonic"},
	}}

	for _, test := range tests {
		_, err := NewFromMnemonic(test.mnemonic, "")
		require.Truef(t, IsError(err, ErrInvalidMnemonic),
			"%s: got %v, want ErrInvalidMnemonic", test.name, err)
	}
}

func TestGenerateMnemonic(t *testing.T) {
	words, err := GenerateMnemonic(128)
	require.NoError(t, err)
	require.Len(t, words, 12)

	// A generated mnemonic must round-trip through wallet creation.
	_, err = NewFromMnemonic(words, "")
	require.NoError(t, err)

	_, err = GenerateMnemonic(100)
	require.True(t, IsError(err, ErrInvalidArgument))
}

func TestGetOrCreatePocket(t *testing.T) {
	w := testWallet(t)

	btc, err := w.GetOrCreatePocket(Bitcoin)
	require.NoError(t, err)
	require.Equal(t, Bitcoin, btc.CurrencyID())

	// Repeated calls return the identical pocket.
	again, err := w.GetOrCreatePocket(Bitcoin)
	require.NoError(t, err)
	require.Same(t, btc, again)

	ltc, err := w.GetOrCreatePocket(Litecoin)
	require.NoError(t, err)
	require.NotSame(t, btc, ltc)

	require.Equal(t, []CurrencyID{Bitcoin, Litecoin}, w.CurrencyIDs())
	require.Len(t, w.Pockets(), 2)
}

func TestGetOrCreatePocketUnknownCurrency(t *testing.T) {
	w := testWallet(t)

	_, err := w.GetOrCreatePocket(CurrencyID(999))
	require.True(t, IsError(err, ErrUnknownCurrency))
}

func TestGetOrCreatePocketConcurrent(t *testing.T) {
	w := testWallet(t)

	const workers = 16
	pockets := make([]*Pocket, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pockets[i], errs[i] = w.GetOrCreatePocket(Dogecoin)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
	}
	for i := 1; i < workers; i++ {
		require.Same(t, pockets[0], pockets[i])
	}
	require.Len(t, w.Pockets(), 1)
}

func TestPocketDerivationDeterministic(t *testing.T) {
	w1 := testWallet(t)
	w2 := testWallet(t)

	for _, currency := range []CurrencyID{Bitcoin, Litecoin, Dogecoin} {
		p1, err := w1.GetOrCreatePocket(currency)
		require.NoError(t, err)
		p2, err := w2.GetOrCreatePocket(currency)
		require.NoError(t, err)

		addr1, err := p1.ReceiveAddress()
		require.NoError(t, err)
		addr2, err := p2.ReceiveAddress()
		require.NoError(t, err)
		require.Equal(t, addr1, addr2)
	}

	// Different currencies must never share addresses.
	btcAddr, err := w1.Pocket(Bitcoin).ReceiveAddress()
	require.NoError(t, err)
	ltcAddr, err := w1.Pocket(Litecoin).ReceiveAddress()
	require.NoError(t, err)
	require.NotEqual(t, btcAddr, ltcAddr)
}

func TestAddPocketDuplicate(t *testing.T) {
	w := testWallet(t)

	_, err := w.GetOrCreatePocket(Bitcoin)
	require.NoError(t, err)

	acctKey, err := deriveAccountKey(w.MasterKey(), Bitcoin)
	require.NoError(t, err)
	dup, err := newPocket(acctKey, &BitcoinParams)
	require.NoError(t, err)

	err = w.AddPocket(dup)
	require.True(t, IsError(err, ErrDuplicateCurrency))
	require.Len(t, w.Pockets(), 1)
}

func TestCurrencyOfAddress(t *testing.T) {
	w := testWallet(t)

	for _, currency := range []CurrencyID{Bitcoin, Litecoin, Dogecoin} {
		pocket, err := w.GetOrCreatePocket(currency)
		require.NoError(t, err)
		addr, err := pocket.ReceiveAddress()
		require.NoError(t, err)

		params, err := CurrencyOfAddress(addr)
		require.NoError(t, err)
		require.Equal(t, currency, params.ID)
	}

	_, err := CurrencyOfAddress("not an address")
	require.True(t, IsError(err, ErrUnknownCurrency))
}

func TestEncryptDecrypt(t *testing.T) {
	w := testWallet(t)
	require.NoError(t, w.CreatePockets(
		[]CurrencyID{Bitcoin, Litecoin}, true))

	btcAddrs := w.Pocket(Bitcoin).Addresses()
	passphrase := []byte("test passphrase")

	require.NoError(t, w.EncryptWithPassphrase(passphrase, &FastScryptOptions))
	require.True(t, w.IsEncrypted())
	require.Nil(t, w.MasterKey())
	for _, pocket := range w.Pockets() {
		require.True(t, pocket.IsEncrypted())
	}

	// Encrypting twice must fail.
	err := w.EncryptWithPassphrase(passphrase, &FastScryptOptions)
	require.True(t, IsError(err, ErrAlreadyEncrypted))

	// The seed is ciphertext, so the mnemonic is unavailable.
	_, err = w.MnemonicCode()
	require.True(t, IsError(err, ErrLocked))

	// Existing addresses stay usable while encrypted, but new pockets
	// cannot be derived.
	require.Equal(t, btcAddrs, w.Pocket(Bitcoin).Addresses())
	_, err = w.GetOrCreatePocket(Dogecoin)
	require.True(t, IsError(err, ErrLocked))

	// A wrong passphrase must be rejected and leave everything encrypted.
	err = w.DecryptWithPassphrase([]byte("wrong passphrase"))
	require.True(t, IsError(err, ErrWrongPassphrase))
	require.True(t, w.IsEncrypted())
	for _, pocket := range w.Pockets() {
		require.True(t, pocket.IsEncrypted())
	}

	require.NoError(t, w.DecryptWithPassphrase(passphrase))
	require.False(t, w.IsEncrypted())
	require.NotNil(t, w.MasterKey())
	for _, pocket := range w.Pockets() {
		require.False(t, pocket.IsEncrypted())
	}

	words, err := w.MnemonicCode()
	require.NoError(t, err)
	require.Equal(t, testMnemonic, words)

	// Decrypting a plaintext wallet must fail.
	err = w.DecryptWithPassphrase(passphrase)
	require.True(t, IsError(err, ErrNotEncrypted))
}

func TestEncryptedPocketDerivesAddresses(t *testing.T) {
	w := testWallet(t)
	_, err := w.GetOrCreatePocket(Bitcoin)
	require.NoError(t, err)

	require.NoError(t, w.EncryptWithPassphrase([]byte("derive while locked"),
		&FastScryptOptions))

	// Address derivation needs only the account public key, which must
	// remain intact after the private material is zeroed by encryption.
	got, err := w.Pocket(Bitcoin).ReceiveAddress()
	require.NoError(t, err)

	reference := testWallet(t)
	refPocket, err := reference.GetOrCreatePocket(Bitcoin)
	require.NoError(t, err)
	want, err := refPocket.ReceiveAddress()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestEncryptEmptyPassphrase(t *testing.T) {
	w := testWallet(t)

	err := w.EncryptWithPassphrase(nil, &FastScryptOptions)
	require.True(t, IsError(err, ErrInvalidArgument))
	require.False(t, w.IsEncrypted())
}

func TestWatchingOnlyWallet(t *testing.T) {
	seeded := testWallet(t)
	pubMaster, err := seeded.MasterKey().Neuter()
	require.NoError(t, err)

	w := NewFromMasterKey(pubMaster, nil)

	words, err := w.MnemonicCode()
	require.NoError(t, err)
	require.Nil(t, words)

	// Address derivation needs only public keys.
	pocket, err := w.GetOrCreatePocket(Bitcoin)
	require.NoError(t, err)
	addr, err := pocket.ReceiveAddress()
	require.NoError(t, err)

	seededPocket, err := seeded.GetOrCreatePocket(Bitcoin)
	require.NoError(t, err)
	seededAddr, err := seededPocket.ReceiveAddress()
	require.NoError(t, err)
	require.Equal(t, seededAddr, addr)
}

func TestVersionRoundTrip(t *testing.T) {
	w := testWallet(t)
	require.Equal(t, 0, w.Version())
	w.SetVersion(3)
	require.Equal(t, 3, w.Version())
}
