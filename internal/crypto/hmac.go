// Package crypto provides API-secret management and the HMAC primitives the
// broker adapters use for request signing.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// SignSHA256Hex computes HMAC-SHA256 of message using key and returns the
// result as a lowercase hex string. Used by the Coinbase-style adapter:
// message is timestamp + method + path + body.
func SignSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignSHA512Base64 computes HMAC-SHA512 of message using key and returns the
// result as a base64 standard-encoded string. Used by the Kraken-style
// adapter: message is the URI path concatenated with SHA256(nonce + POST
// data), and key is the base64-decoded API secret.
func SignSHA512Base64(key, message []byte) string {
	mac := hmac.New(sha512.New, key)
	mac.Write(message)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// DigestSHA256 returns SHA256(data) as raw bytes.
func DigestSHA256(data string) []byte {
	sum := sha256.Sum256([]byte(data))
	return sum[:]
}

// RedactSecret returns a representation of a credential that is safe for
// logging: the first four characters followed by "****".
func RedactSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}

// DecodeBase64Secret decodes a base64-encoded API secret into the raw bytes
// used as an HMAC key. Brokers that issue base64 secrets (Kraken) reject
// signatures computed over the undecoded string, so a decode failure is a
// configuration error rather than something to fall back from.
func DecodeBase64Secret(secret string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("crypto: api secret is not valid base64: %w", err)
	}
	return raw, nil
}
