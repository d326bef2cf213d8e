package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignSHA256HexShape(t *testing.T) {
	sig := SignSHA256Hex([]byte("key"), "1700000000GET/api/v3/brokerage/accounts")
	assert.Len(t, sig, 64)
	_, err := hex.DecodeString(sig)
	assert.NoError(t, err)

	// Same inputs, same signature; different key, different signature.
	assert.Equal(t, sig, SignSHA256Hex([]byte("key"), "1700000000GET/api/v3/brokerage/accounts"))
	assert.NotEqual(t, sig, SignSHA256Hex([]byte("other"), "1700000000GET/api/v3/brokerage/accounts"))
}

func TestSignSHA512Base64Shape(t *testing.T) {
	sig := SignSHA512Base64([]byte("key"), []byte("/0/private/Balance"))
	raw, err := base64.StdEncoding.DecodeString(sig)
	require.NoError(t, err)
	assert.Len(t, raw, 64)
}

func TestDecodeBase64Secret(t *testing.T) {
	raw, err := DecodeBase64Secret(base64.StdEncoding.EncodeToString([]byte("hmac key bytes")))
	require.NoError(t, err)
	assert.Equal(t, []byte("hmac key bytes"), raw)

	_, err = DecodeBase64Secret("not-base64!!")
	assert.Error(t, err)
}

func TestRedactSecret(t *testing.T) {
	assert.Equal(t, "abcd****", RedactSecret("abcdefgh"))
	assert.Equal(t, "****", RedactSecret("abc"))
	assert.Equal(t, "****", RedactSecret(""))
}
