// Package signer computes and checks HMAC-SHA256 signatures of code payloads.
//
// The HMAC key is derived from the configured root secret with HKDF, so the
// root secret may key other primitives without sharing raw key material.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/nkiryanov/parcelguard/internal/apperrors"
)

const (
	// Minimal accepted length of the root secret in bytes
	MinSecretLen = 32

	// Length of a full signature: base64url (no padding) of 32 bytes
	FullLen = 43

	// Length of the signature embedded into printed codes (132 bits)
	TruncatedLen = 22

	codeSigningInfo = "parcelguard/code-signing/v1"
)

var encoding = base64.RawURLEncoding

type Signer struct {
	key []byte
}

func New(secret string) (*Signer, error) {
	key, err := DeriveKey(secret, codeSigningInfo)
	if err != nil {
		return nil, err
	}

	return &Signer{key: key}, nil
}

// DeriveKey returns 32 bytes of key material bound to 'info'
func DeriveKey(secret string, info string) ([]byte, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("%w: must be at least %d bytes", apperrors.ErrSecretKeyTooWeak, MinSecretLen)
	}

	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))

	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("error while deriving key. Err: %w", err)
	}

	return key, nil
}

// Sign returns full signature of data
func (s *Signer) Sign(data string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(data))
	return encoding.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature and compares it in constant time.
// Both full and truncated signatures are accepted.
func (s *Signer) Verify(data string, signature string) bool {
	expected := s.Sign(data)
	if len(signature) == TruncatedLen {
		expected = Truncate(expected)
	}

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// Truncate shortens full signature to the length embedded in printed codes
func Truncate(full string) string {
	if len(full) <= TruncatedLen {
		return full
	}
	return full[:TruncatedLen]
}

// Equal compares two signatures in constant time
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
