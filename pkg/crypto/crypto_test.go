package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/poybro/soknode/common/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	privateKeyStr = "ce9c2fd75623e82a83ed743518ec7749f6f355f7301dd432400b087717fed2f2"
	pubKeyStr     = "0251e2dfcdeea17cc9726e4be0855cd0bae19e64f3e247b10760cd76851e7df47e"
)

func TestSignVerify(t *testing.T) {
	plaintext := "confirm_p2p_1234"

	w, err := New(privateKeyStr)
	require.NoError(t, err)
	assert.Equal(t, pubKeyStr, w.PublicKey())

	v := NewVerifier()
	signature := w.Sign(plaintext)

	verified, err := v.Verify(pubKeyStr, plaintext, signature)
	assert.NoError(t, err)
	assert.True(t, verified)

	verified, err = v.Verify(pubKeyStr, "confirm_p2p_other", signature)
	assert.NoError(t, err)
	assert.False(t, verified)

	other, err := Generate()
	require.NoError(t, err)
	verified, err = v.Verify(other.PublicKey(), plaintext, signature)
	assert.NoError(t, err)
	assert.False(t, verified)
}

func TestVerifyMalformed(t *testing.T) {
	v := NewVerifier()

	_, err := v.Verify("zz", "m", "00")
	assert.ErrorIs(t, err, errs.InvalidArgument)

	_, err = v.Verify(pubKeyStr, "m", "not-hex")
	assert.ErrorIs(t, err, errs.InvalidArgument)

	_, err = v.Verify(pubKeyStr, "m", "3006020101020101ff")
	assert.ErrorIs(t, err, errs.InvalidArgument)
}

func TestAddress(t *testing.T) {
	w, err := New(privateKeyStr)
	require.NoError(t, err)

	addr, err := NewVerifier().AddressFromPublicKey(w.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, w.Address(), addr)

	payload, version, err := base58.CheckDecode(addr)
	require.NoError(t, err)
	assert.Equal(t, AddressVersion, version)
	assert.Len(t, payload, 20)
}

func TestNewInvalidKey(t *testing.T) {
	_, err := New("abcd")
	assert.ErrorIs(t, err, errs.InvalidArgument)

	_, err = New("xyz")
	assert.Error(t, err)
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "agent.key")

	created, err := LoadOrCreate(path)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, created.PrivateKeyHex(), string(raw))

	loaded, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, created.Address(), loaded.Address())

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))
	_, err = LoadOrCreate(path)
	assert.Error(t, err)
}

func TestHashHex(t *testing.T) {
	// double sha256 of the empty string
	assert.Equal(t, "5df6e0e2761359d30a8275058e299fcc0381534545f55cf43e41983f5d4c9456", HashHex(nil))
}
