// Package ipn authenticates and parses the payment processor's instant
// payment notifications.
package ipn

import (
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/go-faster/errors"
)

// SignatureHeader carries the hex HMAC of the canonical body.
const SignatureHeader = "x-nowpayments-sig"

// Verifier checks notification signatures against the pre-shared IPN secret.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier for secret. An empty secret rejects every
// notification.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign returns the lowercase hex HMAC-SHA512 of the canonical form of body.
func (v *Verifier) Sign(body []byte) (string, error) {
	canonical, err := Canonicalize(body)
	if err != nil {
		return "", errors.Wrap(err, "canonicalize body")
	}
	return hex.EncodeToString(v.mac(canonical)), nil
}

// Verify reports whether signature matches body. It never panics and returns
// false for an absent secret, an absent or malformed signature, or a body
// that is not valid JSON. The comparison always runs in constant time over
// the fixed-length expected digest.
func (v *Verifier) Verify(body []byte, signature string) bool {
	canonical, err := Canonicalize(body)
	valid := err == nil
	if !valid {
		canonical = body
	}

	expected := make([]byte, hex.EncodedLen(sha512.Size))
	hex.Encode(expected, v.mac(canonical))

	provided := []byte(strings.TrimSpace(signature))
	match := subtle.ConstantTimeCompare(expected, provided) == 1

	return match && valid && len(v.secret) > 0
}

func (v *Verifier) mac(b []byte) []byte {
	h := hmac.New(sha512.New, v.secret)
	h.Write(b)
	return h.Sum(nil)
}
