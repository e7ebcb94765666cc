// Package signature verifies HMAC signatures on inbound webhook bodies.
package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"strings"
)

// Header is the request header carrying the signature.
const Header = "X-Hub-Signature"

var (
	// ErrMissing is returned when there is no signature or no secret to check against.
	ErrMissing = errors.New("signature missing")
	// ErrMismatch is returned when the signature does not match the body.
	ErrMismatch = errors.New("signature mismatch")
)

// Verify checks header against the HMAC of body under secret. header is
// "sha1=<hex>", "sha256=<hex>", or bare hex (sha1).
func Verify(body []byte, header, secret string) error {
	header = strings.TrimSpace(header)
	if header == "" || secret == "" {
		return ErrMissing
	}

	newHash := sha1.New
	sig := header
	if algo, hexsum, ok := strings.Cut(header, "="); ok {
		switch strings.ToLower(algo) {
		case "sha1":
		case "sha256":
			newHash = sha256.New
		default:
			return ErrMismatch
		}
		sig = hexsum
	}

	want, err := hex.DecodeString(sig)
	if err != nil {
		return ErrMismatch
	}
	if !hmac.Equal(Sign(newHash, body, secret), want) {
		return ErrMismatch
	}
	return nil
}

// Sign returns the raw HMAC of body.
func Sign(newHash func() hash.Hash, body []byte, secret string) []byte {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// SignHeader returns a "sha256=<hex>" header value for body.
func SignHeader(body []byte, secret string) string {
	return "sha256=" + hex.EncodeToString(Sign(sha256.New, body, secret))
}
