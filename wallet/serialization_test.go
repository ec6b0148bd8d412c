package wallet

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSerializeRoundTrip(t *testing.T) {
	w := testWallet(t)
	w.SetVersion(2)
	require.NoError(t, w.CreatePockets(
		[]CurrencyID{Litecoin, Bitcoin, Dogecoin}, true))

	b, err := w.serialize()
	require.NoError(t, err)

	loaded, err := ReadWallet(b)
	require.NoError(t, err)

	require.Equal(t, 2, loaded.Version())
	require.False(t, loaded.IsEncrypted())
	require.Equal(t, w.MasterKey().String(), loaded.MasterKey().String())

	words, err := loaded.MnemonicCode()
	require.NoError(t, err)
	require.Equal(t, testMnemonic, words)

	// Registry order survives the round trip.
	require.Equal(t, []CurrencyID{Litecoin, Bitcoin, Dogecoin},
		loaded.CurrencyIDs())

	// Addresses are re-derived, not stored, and must come back identical.
	for _, currency := range loaded.CurrencyIDs() {
		require.Equal(t, w.Pocket(currency).Addresses(),
			loaded.Pocket(currency).Addresses())
	}
}

func TestSerializeRoundTripEncrypted(t *testing.T) {
	w := testWallet(t)
	require.NoError(t, w.CreatePockets([]CurrencyID{Bitcoin}, true))

	passphrase := []byte("round trip passphrase")
	require.NoError(t, w.EncryptWithPassphrase(passphrase, &FastScryptOptions))

	b, err := w.serialize()
	require.NoError(t, err)

	loaded, err := ReadWallet(b)
	require.NoError(t, err)
	require.True(t, loaded.IsEncrypted())
	require.True(t, loaded.Pocket(Bitcoin).IsEncrypted())

	// The loaded wallet decrypts with the original passphrase.
	require.NoError(t, loaded.DecryptWithPassphrase(passphrase))
	words, err := loaded.MnemonicCode()
	require.NoError(t, err)
	require.Equal(t, testMnemonic, words)
	require.False(t, loaded.Pocket(Bitcoin).IsEncrypted())
}

func TestSerializeByteIdentity(t *testing.T) {
	w := testWallet(t)
	require.NoError(t, w.CreatePockets([]CurrencyID{Bitcoin, Litecoin}, true))

	// Decoding and re-encoding a plaintext wallet reproduces the exact
	// input bytes.
	b, err := w.serialize()
	require.NoError(t, err)
	loaded, err := ReadWallet(b)
	require.NoError(t, err)
	reencoded, err := loaded.serialize()
	require.NoError(t, err)
	require.Equal(t, b, reencoded)

	// The same must hold after encryption: the pockets' account public
	// keys survive the private material being zeroed, so the wallet's own
	// output stays readable and stable.
	passphrase := []byte("byte identity passphrase")
	require.NoError(t, w.EncryptWithPassphrase(passphrase, &FastScryptOptions))

	eb, err := w.serialize()
	require.NoError(t, err)
	loaded, err = ReadWallet(eb)
	require.NoError(t, err)
	reencoded, err = loaded.serialize()
	require.NoError(t, err)
	require.Equal(t, eb, reencoded)
}

func TestSerializeRoundTripWatchingOnly(t *testing.T) {
	seeded := testWallet(t)
	pubMaster, err := seeded.MasterKey().Neuter()
	require.NoError(t, err)

	w := NewFromMasterKey(pubMaster, nil)
	require.NoError(t, w.CreatePockets([]CurrencyID{Bitcoin}, true))

	b, err := w.serialize()
	require.NoError(t, err)

	loaded, err := ReadWallet(b)
	require.NoError(t, err)
	require.Nil(t, loaded.Seed())
	require.False(t, loaded.MasterKey().IsPrivate())
	require.Equal(t, w.Pocket(Bitcoin).Addresses(),
		loaded.Pocket(Bitcoin).Addresses())
}

func TestReadWalletInvalid(t *testing.T) {
	w := testWallet(t)
	require.NoError(t, w.CreatePockets([]CurrencyID{Bitcoin}, true))
	good, err := w.serialize()
	require.NoError(t, err)

	tests := []struct {
		name  string
		input []byte
	}{{
		name:  "empty",
		input: nil,
	}, {
		name:  "bad magic",
		input: []byte{0xde, 0xad, 0xbe, 0xef},
	}, {
		name:  "truncated",
		input: good[:len(good)/2],
	}, {
		name:  "trailing garbage",
		input: append(append([]byte(nil), good...), 0x00),
	}}

	for _, test := range tests {
		_, err := ReadWallet(test.input)
		require.Truef(t, IsError(err, ErrUnreadableWallet),
			"%s: got %v, want ErrUnreadableWallet", test.name, err)
	}
}

func TestSaveAndLoadFile(t *testing.T) {
	w := testWallet(t)
	require.NoError(t, w.CreatePockets([]CurrencyID{Bitcoin, Litecoin}, true))

	path := filepath.Join(t.TempDir(), "wallet.dat")
	require.NoError(t, w.saveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, w.CurrencyIDs(), loaded.CurrencyIDs())
	require.Equal(t, w.MasterKey().String(), loaded.MasterKey().String())
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.dat"))
	require.True(t, IsError(err, ErrIO))
}
