package crypto

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/cockroachdb/errors"
	"github.com/poybro/soknode/common/errs"
)

// Verifier checks signatures and derives addresses from public keys.
type Verifier struct{}

func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify reports whether sigHex is a valid signature of message under pubKeyHex.
// Malformed inputs are returned as InvalidArgument errors.
func (Verifier) Verify(pubKeyHex, message, sigHex string) (bool, error) {
	pubKey, err := parsePubKey(pubKeyHex)
	if err != nil {
		return false, errors.WithStack(err)
	}

	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, errors.Wrap(errs.InvalidArgument, "signature decode")
	}
	signature, err := ecdsa.ParseSignature(sigBytes)
	if err != nil {
		return false, errors.Wrap(errs.InvalidArgument, "signature parse")
	}

	messageHash := chainhash.DoubleHashB([]byte(message))
	return signature.Verify(messageHash, pubKey), nil
}

// AddressFromPublicKey derives the address owning pubKeyHex.
func (Verifier) AddressFromPublicKey(pubKeyHex string) (string, error) {
	pubKey, err := parsePubKey(pubKeyHex)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return addressFromPubKey(pubKey), nil
}

func parsePubKey(pubKeyHex string) (*btcec.PublicKey, error) {
	pubBytes, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return nil, errors.Wrap(errs.InvalidArgument, "pubkey decode")
	}
	pubKey, err := btcec.ParsePubKey(pubBytes)
	if err != nil {
		return nil, errors.Wrap(errs.InvalidArgument, "pubkey parse")
	}
	return pubKey, nil
}
