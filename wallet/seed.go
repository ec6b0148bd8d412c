package wallet

import (
	"strings"
	"unicode/utf8"

	"github.com/pocketsuite/pocketwallet/snacl"
	"github.com/tyler-smith/go-bip39"
)

// mnemonicSeparator joins a mnemonic word list into the canonical sentence
// form used for seed derivation and for the encrypted seed payload.
const mnemonicSeparator = " "

// Seed holds the mnemonic-backed entropy a wallet's master key was derived
// from.  Exactly one of the mnemonic word list or its ciphertext is set at
// any time, matching the encryption state of the owning wallet's master key.
type Seed struct {
	mnemonic  []string
	encrypted []byte
}

// NewSeed returns a plaintext seed for the passed mnemonic word list.  The
// words are copied, not retained.
func NewSeed(mnemonic []string) *Seed {
	words := make([]string, len(mnemonic))
	copy(words, mnemonic)
	return &Seed{mnemonic: words}
}

// IsEncrypted returns whether the seed currently holds ciphertext instead of
// the mnemonic words.
func (s *Seed) IsEncrypted() bool {
	return s.encrypted != nil
}

// Mnemonic returns a copy of the seed's mnemonic word list, or nil when the
// seed is encrypted.
func (s *Seed) Mnemonic() []string {
	if s.mnemonic == nil {
		return nil
	}
	words := make([]string, len(s.mnemonic))
	copy(words, s.mnemonic)
	return words
}

// encrypt returns a new encrypted seed holding the ciphertext of the joined
// mnemonic sentence.  The receiver is left untouched so a failed aggregate
// encryption can be rolled back by simply discarding the result.
func (s *Seed) encrypt(secretKey *snacl.SecretKey) (*Seed, error) {
	plaintext := []byte(strings.Join(s.mnemonic, mnemonicSeparator))
	ciphertext, err := secretKey.Encrypt(plaintext)
	if err != nil {
		return nil, walletError(ErrCrypto, "failed to encrypt seed", err)
	}
	return &Seed{encrypted: ciphertext}, nil
}

// decrypt returns a new plaintext seed recovered from the ciphertext.  A key
// derived from the wrong passphrase fails with ErrWrongPassphrase, while
// recovered bytes which do not form a valid mnemonic sentence fail with
// ErrUnreadableSeed.
func (s *Seed) decrypt(secretKey *snacl.SecretKey) (*Seed, error) {
	plaintext, err := secretKey.Decrypt(s.encrypted)
	if err != nil {
		if err == snacl.ErrDecryptFailed {
			return nil, walletError(ErrWrongPassphrase,
				"invalid passphrase for seed", err)
		}
		return nil, walletError(ErrCrypto, "failed to decrypt seed", err)
	}

	mnemonic, err := decodeMnemonic(plaintext)
	if err != nil {
		return nil, err
	}
	return &Seed{mnemonic: mnemonic}, nil
}

// decodeMnemonic splits decrypted seed bytes back into the mnemonic word
// list.
func decodeMnemonic(b []byte) ([]string, error) {
	if len(b) == 0 || !utf8.Valid(b) {
		return nil, walletError(ErrUnreadableSeed,
			"decrypted seed is not a valid mnemonic sentence", nil)
	}
	return strings.Split(string(b), mnemonicSeparator), nil
}

// GenerateMnemonic returns a fresh random mnemonic word list for the passed
// entropy size in bits.  Valid sizes are multiples of 32 between 128 and 256.
func GenerateMnemonic(entropyBits int) ([]string, error) {
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return nil, walletError(ErrInvalidArgument,
			"invalid entropy size", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, walletError(ErrCrypto,
			"failed to generate mnemonic", err)
	}
	return strings.Split(mnemonic, mnemonicSeparator), nil
}
