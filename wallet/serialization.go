package wallet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// The wallet file is a single self-contained snapshot:
//
//   <magic><format version><wallet version><flags>
//   [crypto params]  (only when the encrypted flag is set)
//   <master key>     (serialized extended key, or its ciphertext)
//   [seed]           (joined mnemonic sentence, or its ciphertext)
//   <pocket count>
//   <pockets...>     (coin type, account pub key, key state, address count)
//
// Variable-length fields carry a little-endian uint32 length prefix.
// Pocket addresses are not stored; they are re-derived on load from the
// account public key, which is the single source of truth for them.
const (
	// fileMagic identifies a wallet snapshot file.
	fileMagic uint32 = 0x706b7774 // "pkwt"

	// serializationVersion is the version of the snapshot format itself,
	// independent of the wallet version recorded inside it.
	serializationVersion uint32 = 1

	// maxFieldLen caps any single variable-length field so a corrupt
	// length prefix cannot trigger a huge allocation.
	maxFieldLen = 1 << 20
)

// Snapshot flag bits.
const (
	flagEncrypted byte = 1 << 0
	flagHasSeed   byte = 1 << 1
)

// Per-pocket key state discriminators.
const (
	pocketKeyNone      byte = 0 // watching-only
	pocketKeyPlaintext byte = 1
	pocketKeyEncrypted byte = 2
)

// renameFile is a function var so tests can simulate a crash between writing
// the temporary file and moving it into place.
var renameFile = os.Rename

var byteOrder = binary.LittleEndian

func writeUint32(w io.Writer, n uint32) error {
	var buf [4]byte
	byteOrder.PutUint32(buf[:], n)
	_, err := w.Write(buf[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return byteOrder.Uint32(buf[:]), nil
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func readByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func writeVarBytes(w io.Writer, b []byte) error {
	if err := writeUint32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readVarBytes(r io.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n > maxFieldLen {
		return nil, fmt.Errorf("field length %d exceeds maximum %d",
			n, maxFieldLen)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// encodePayment encodes a payment request for broadcast: the destination
// currency, the recipient address and the amount in base units.
func encodePayment(coinType uint32, addr string, amount Amount) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, coinType)
	writeVarBytes(&buf, []byte(addr))
	var amt [8]byte
	byteOrder.PutUint64(amt[:], uint64(amount))
	buf.Write(amt[:])
	return buf.Bytes()
}

// serialize encodes the full wallet snapshot.
func (w *Wallet) serialize() ([]byte, error) {
	w.mtx.Lock()

	var flags byte
	if w.encMasterKey != nil {
		flags |= flagEncrypted
	}
	if w.seed != nil {
		flags |= flagHasSeed
	}

	cryptoParams := append([]byte(nil), w.cryptoParams...)

	var masterBytes []byte
	if w.encMasterKey != nil {
		masterBytes = append([]byte(nil), w.encMasterKey...)
	} else {
		masterBytes = []byte(w.masterKey.String())
	}

	var seedBytes []byte
	if w.seed != nil {
		if w.seed.IsEncrypted() {
			seedBytes = append([]byte(nil), w.seed.encrypted...)
		} else {
			seedBytes = []byte(strings.Join(w.seed.mnemonic, mnemonicSeparator))
		}
	}

	version := uint32(w.version)
	states := make([]pocketState, 0, len(w.order))
	pockets := make([]*Pocket, 0, len(w.order))
	for _, currency := range w.order {
		pockets = append(pockets, w.pockets[currency])
	}
	w.mtx.Unlock()

	// Pocket snapshots take each pocket's own lock, so gather them after
	// releasing the wallet lock.
	for _, pocket := range pockets {
		states = append(states, pocket.state())
	}

	var buf bytes.Buffer
	writeUint32(&buf, fileMagic)
	writeUint32(&buf, serializationVersion)
	writeUint32(&buf, version)
	writeByte(&buf, flags)
	if flags&flagEncrypted != 0 {
		writeVarBytes(&buf, cryptoParams)
	}
	writeVarBytes(&buf, masterBytes)
	if flags&flagHasSeed != 0 {
		writeVarBytes(&buf, seedBytes)
	}

	writeUint32(&buf, uint32(len(states)))
	for _, s := range states {
		writeUint32(&buf, s.coinType)
		writeVarBytes(&buf, []byte(s.acctPub))
		switch {
		case s.encAcctPriv != nil:
			writeByte(&buf, pocketKeyEncrypted)
			writeVarBytes(&buf, s.encAcctPriv)
		case s.acctPriv != "":
			writeByte(&buf, pocketKeyPlaintext)
			writeVarBytes(&buf, []byte(s.acctPriv))
		default:
			writeByte(&buf, pocketKeyNone)
		}
		writeUint32(&buf, s.addrCount)
	}

	return buf.Bytes(), nil
}

// ReadWallet decodes a wallet from its serialized snapshot form.  Any
// structural problem with the input fails with ErrUnreadableWallet.
func ReadWallet(b []byte) (*Wallet, error) {
	r := bytes.NewReader(b)

	magic, err := readUint32(r)
	if err != nil {
		return nil, walletError(ErrUnreadableWallet,
			"truncated wallet snapshot", err)
	}
	if magic != fileMagic {
		str := fmt.Sprintf("bad wallet snapshot magic %#08x", magic)
		return nil, walletError(ErrUnreadableWallet, str, nil)
	}
	formatVersion, err := readUint32(r)
	if err != nil {
		return nil, walletError(ErrUnreadableWallet,
			"truncated wallet snapshot", err)
	}
	if formatVersion != serializationVersion {
		str := fmt.Sprintf("unsupported wallet snapshot version %d",
			formatVersion)
		return nil, walletError(ErrUnreadableWallet, str, nil)
	}

	version, err := readUint32(r)
	if err != nil {
		return nil, walletError(ErrUnreadableWallet,
			"truncated wallet snapshot", err)
	}
	flags, err := readByte(r)
	if err != nil {
		return nil, walletError(ErrUnreadableWallet,
			"truncated wallet snapshot", err)
	}

	w := &Wallet{
		pockets: make(map[CurrencyID]*Pocket),
		version: int(version),
	}

	if flags&flagEncrypted != 0 {
		w.cryptoParams, err = readVarBytes(r)
		if err != nil {
			return nil, walletError(ErrUnreadableWallet,
				"malformed crypto parameters", err)
		}
	}

	masterBytes, err := readVarBytes(r)
	if err != nil {
		return nil, walletError(ErrUnreadableWallet,
			"malformed master key", err)
	}
	if flags&flagEncrypted != 0 {
		w.encMasterKey = masterBytes
	} else {
		w.masterKey, err = hdkeychain.NewKeyFromString(string(masterBytes))
		if err != nil {
			return nil, walletError(ErrUnreadableWallet,
				"malformed master key", err)
		}
	}

	if flags&flagHasSeed != 0 {
		seedBytes, err := readVarBytes(r)
		if err != nil {
			return nil, walletError(ErrUnreadableWallet,
				"malformed seed", err)
		}
		if flags&flagEncrypted != 0 {
			w.seed = &Seed{encrypted: seedBytes}
		} else {
			mnemonic, err := decodeMnemonic(seedBytes)
			if err != nil {
				return nil, err
			}
			w.seed = &Seed{mnemonic: mnemonic}
		}
	}

	pocketCount, err := readUint32(r)
	if err != nil {
		return nil, walletError(ErrUnreadableWallet,
			"truncated wallet snapshot", err)
	}
	for i := uint32(0); i < pocketCount; i++ {
		var s pocketState
		s.coinType, err = readUint32(r)
		if err != nil {
			return nil, walletError(ErrUnreadableWallet,
				"truncated pocket entry", err)
		}
		acctPub, err := readVarBytes(r)
		if err != nil {
			return nil, walletError(ErrUnreadableWallet,
				"malformed pocket public key", err)
		}
		s.acctPub = string(acctPub)

		keyState, err := readByte(r)
		if err != nil {
			return nil, walletError(ErrUnreadableWallet,
				"truncated pocket entry", err)
		}
		switch keyState {
		case pocketKeyNone:
		case pocketKeyPlaintext:
			acctPriv, err := readVarBytes(r)
			if err != nil {
				return nil, walletError(ErrUnreadableWallet,
					"malformed pocket private key", err)
			}
			s.acctPriv = string(acctPriv)
		case pocketKeyEncrypted:
			s.encAcctPriv, err = readVarBytes(r)
			if err != nil {
				return nil, walletError(ErrUnreadableWallet,
					"malformed pocket private key", err)
			}
		default:
			str := fmt.Sprintf("unknown pocket key state %d", keyState)
			return nil, walletError(ErrUnreadableWallet, str, nil)
		}
		s.addrCount, err = readUint32(r)
		if err != nil {
			return nil, walletError(ErrUnreadableWallet,
				"truncated pocket entry", err)
		}

		pocket, err := pocketFromState(s)
		if err != nil {
			return nil, err
		}
		if err := w.addPocket(pocket); err != nil {
			return nil, err
		}
	}

	if r.Len() != 0 {
		str := fmt.Sprintf("%d trailing bytes after wallet snapshot",
			r.Len())
		return nil, walletError(ErrUnreadableWallet, str, nil)
	}

	return w, nil
}

// LoadFromFile reads a wallet snapshot from disk.
func LoadFromFile(path string) (*Wallet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, walletError(ErrIO,
			fmt.Sprintf("failed to read wallet file %s", path), err)
	}
	w, err := ReadWallet(b)
	if err != nil {
		return nil, err
	}
	log.Infof("Loaded wallet from %s: %d pockets", path, len(w.order))
	return w, nil
}

// saveToFile atomically replaces the wallet file at path with the current
// snapshot.  The snapshot is written and synced to a temporary file in the
// same directory first and then renamed into place, so a crash at any point
// leaves either the old file or the new one, never a torn write.
func (w *Wallet) saveToFile(path string) error {
	b, err := w.serialize()
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return walletError(ErrIO,
			fmt.Sprintf("failed to create %s", tmpPath), err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return walletError(ErrIO,
			fmt.Sprintf("failed to write %s", tmpPath), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return walletError(ErrIO,
			fmt.Sprintf("failed to sync %s", tmpPath), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return walletError(ErrIO,
			fmt.Sprintf("failed to close %s", tmpPath), err)
	}

	if err := renameFile(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return walletError(ErrIO,
			fmt.Sprintf("failed to move %s into place", tmpPath), err)
	}

	log.Debugf("Saved wallet to %s (%d bytes)", path, len(b))
	return nil
}
