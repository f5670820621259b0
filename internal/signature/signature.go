// Package signature signs and verifies tracking link payloads.
//
// A link binds a recipient id and a payload (a target URL or the unsubscribe
// marker) with an HMAC-SHA256 keyed by the server secret. Payloads travel in
// the URL as unpadded base64url tokens.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"unicode/utf8"
)

// Length is the number of hex characters in a signature.
const Length = 32

var (
	ErrEmptySecret  = errors.New("signing secret is empty")
	ErrInvalidToken = errors.New("invalid payload token")
)

var encoding = base64.RawURLEncoding.Strict()

// Signer holds the process-wide secret. It is safe for concurrent use.
type Signer struct {
	key []byte
}

// New creates a signer for the given secret.
func New(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Signer{key: []byte(secret)}, nil
}

// Sign returns the truncated hex HMAC over "recipientID|payload".
func (s *Signer) Sign(recipientID, payload string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(recipientID + "|" + payload))
	return hex.EncodeToString(mac.Sum(nil))[:Length]
}

// Verify reports whether signature matches the recipient and payload.
func (s *Signer) Verify(recipientID, payload, signature string) bool {
	expected := s.Sign(recipientID, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Encode turns an arbitrary string into a URL-safe token.
func Encode(payload string) string {
	return encoding.EncodeToString([]byte(payload))
}

// Decode reverses Encode. Trailing padding is tolerated, anything else that
// is not canonical base64url or does not decode to UTF-8 is rejected.
func Decode(token string) (string, error) {
	raw, err := encoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return "", ErrInvalidToken
	}
	if !utf8.Valid(raw) {
		return "", ErrInvalidToken
	}
	return string(raw), nil
}
