package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/cockroachdb/errors"
	"github.com/poybro/soknode/common/errs"
)

// AddressVersion is the base58check version byte of SOK addresses.
const AddressVersion byte = 0x3f

// Wallet is a signing identity backed by a secp256k1 private key.
type Wallet struct {
	privateKey *btcec.PrivateKey
	address    string
}

func New(privateKeyHex string) (*Wallet, error) {
	privateKeyBytes, err := hex.DecodeString(strings.TrimSpace(privateKeyHex))
	if err != nil {
		return nil, errors.Wrap(err, "decode private key")
	}
	if len(privateKeyBytes) != btcec.PrivKeyBytesLen {
		return nil, errors.Wrapf(errs.InvalidArgument, "private key must be %d bytes, got %d", btcec.PrivKeyBytesLen, len(privateKeyBytes))
	}
	privateKey, _ := btcec.PrivKeyFromBytes(privateKeyBytes)
	return newWallet(privateKey), nil
}

// Generate creates a wallet with a fresh random key.
func Generate() (*Wallet, error) {
	privateKeyBytes := make([]byte, btcec.PrivKeyBytesLen)
	if _, err := rand.Read(privateKeyBytes); err != nil {
		return nil, errors.Wrap(err, "random bytes")
	}
	privateKey, _ := btcec.PrivKeyFromBytes(privateKeyBytes)
	return newWallet(privateKey), nil
}

// LoadOrCreate reads a hex private key file, creating it with a new key when it does not exist.
func LoadOrCreate(path string) (*Wallet, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		w, err := New(string(raw))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid key file %q", path)
		}
		return w, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(err, "read key file %q", path)
	}

	w, err := Generate()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.Wrapf(err, "create key directory %q", dir)
		}
	}
	if err := os.WriteFile(path, []byte(w.PrivateKeyHex()), 0o600); err != nil {
		return nil, errors.Wrapf(err, "write key file %q", path)
	}
	return w, nil
}

func newWallet(privateKey *btcec.PrivateKey) *Wallet {
	return &Wallet{
		privateKey: privateKey,
		address:    addressFromPubKey(privateKey.PubKey()),
	}
}

func (w *Wallet) Address() string {
	return w.address
}

// PublicKey returns the hex encoded compressed public key.
func (w *Wallet) PublicKey() string {
	return hex.EncodeToString(w.privateKey.PubKey().SerializeCompressed())
}

func (w *Wallet) PrivateKeyHex() string {
	return hex.EncodeToString(w.privateKey.Serialize())
}

// Sign returns the hex DER ECDSA signature over the double SHA-256 of message.
func (w *Wallet) Sign(message string) string {
	messageHash := chainhash.DoubleHashB([]byte(message))
	signature := ecdsa.Sign(w.privateKey, messageHash)
	return hex.EncodeToString(signature.Serialize())
}

// HashHex returns the hex double SHA-256 of data.
func HashHex(data []byte) string {
	return hex.EncodeToString(chainhash.DoubleHashB(data))
}

func addressFromPubKey(pubKey *btcec.PublicKey) string {
	return base58.CheckEncode(btcutil.Hash160(pubKey.SerializeCompressed()), AddressVersion)
}
