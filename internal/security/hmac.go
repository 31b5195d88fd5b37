// Package security verifies webhook payload authenticity.
//
// Providers sign the raw request body with an HMAC over a shared secret
// and deliver the digest in a provider-specific header. Verification runs
// against the unparsed bytes, before any JSON decoding, and uses a
// constant-time digest comparison.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// MaxPayloadBytes bounds how much of an inbound request body is read.
// Oversized bodies are rejected before parsing.
const MaxPayloadBytes = 10 << 20 // 10 MiB

// VerifyHMAC checks an HMAC-SHA256 signature over body.
//
// A provider that explicitly opts out of signing (empty secret) always
// passes. Otherwise verification fails closed: a missing header, a header
// without the expected prefix, or a digest mismatch all reject.
func VerifyHMAC(secret []byte, body []byte, sigHeader, prefix string) bool {
	if len(secret) == 0 {
		return true
	}
	if sigHeader == "" || !strings.HasPrefix(sigHeader, prefix) {
		return false
	}
	got, err := hex.DecodeString(sigHeader[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign computes the signature header value for body, prefix included.
// Used by provider setup tooling and tests.
func Sign(secret []byte, body []byte, prefix string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return prefix + hex.EncodeToString(mac.Sum(nil))
}
