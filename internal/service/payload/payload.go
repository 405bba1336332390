// Package payload encodes and decodes the compact string printed into codes.
//
// Format: V<version>|<type>|<token>|<ref>|<issued at, epoch seconds>|<truncated signature>
package payload

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/nkiryanov/parcelguard/internal/apperrors"
	"github.com/nkiryanov/parcelguard/internal/models"
	"github.com/nkiryanov/parcelguard/internal/service/signer"
)

const (
	Version = 1

	TypePermanent = "P"
	TypeTemporary = "T"

	// Token length: base64url (no padding) of 32 random bytes
	TokenLen = 43

	// Upper bound of an encoded payload, longer input is rejected without parsing
	MaxLen = 512

	separator   = "|"
	fieldsCount = 6
)

type Payload struct {
	Version   int
	Type      string
	Token     string
	Ref       string
	IssuedAt  int64
	Signature string
}

// SignableString is the part of payload covered by signature
func (p Payload) SignableString() string {
	return fmt.Sprintf("V%d|%s|%s|%s|%d", p.Version, p.Type, p.Token, p.Ref, p.IssuedAt)
}

// TokenType maps payload type to the stored token type
func (p Payload) TokenType() string {
	if p.Type == TypeTemporary {
		return models.TokenTypeTemporary
	}
	return models.TokenTypePermanent
}

func Encode(p Payload) string {
	return p.SignableString() + separator + p.Signature
}

// Build payload for stored token, signature is left empty
func FromToken(t models.VerificationToken) Payload {
	typ := TypePermanent
	if t.Type == models.TokenTypeTemporary {
		typ = TypeTemporary
	}

	return Payload{
		Version:  Version,
		Type:     typ,
		Token:    t.Token,
		Ref:      t.Ref(),
		IssuedAt: t.CreatedAt.Unix(),
	}
}

// Decode parses and validates the payload string.
// Every failure wraps apperrors.ErrInvalidFormat.
func Decode(s string) (Payload, error) {
	var p Payload

	if s == "" {
		return p, invalid("empty payload")
	}
	if len(s) > MaxLen {
		return p, invalid("payload too long")
	}

	parts := strings.Split(s, separator)
	if len(parts) != fieldsCount {
		return p, invalid("expected %d fields, got %d", fieldsCount, len(parts))
	}

	version, err := parseVersion(parts[0])
	if err != nil {
		return p, err
	}

	typ := parts[1]
	if typ != TypePermanent && typ != TypeTemporary {
		return p, invalid("unknown type %q", typ)
	}

	token := parts[2]
	if len(token) != TokenLen || !isBase64URL(token) {
		return p, invalid("malformed token")
	}

	ref := parts[3]
	if err := ValidateRef(typ, ref); err != nil {
		return p, err
	}

	issuedAt, err := parsePositiveInt(parts[4])
	if err != nil {
		return p, err
	}

	sig := parts[5]
	if len(sig) != signer.TruncatedLen || !isBase64URL(sig) {
		return p, invalid("malformed signature")
	}

	return Payload{
		Version:   version,
		Type:      typ,
		Token:     token,
		Ref:       ref,
		IssuedAt:  issuedAt,
		Signature: sig,
	}, nil
}

func parseVersion(field string) (int, error) {
	digits, ok := strings.CutPrefix(field, "V")
	if !ok {
		return 0, invalid("malformed version %q", field)
	}

	v, err := strconv.Atoi(digits)
	if err != nil || strconv.Itoa(v) != digits {
		return 0, invalid("malformed version %q", field)
	}

	if v != Version {
		return 0, invalid("unsupported version %d", v)
	}

	return v, nil
}

// ValidateRef checks reference charset and its agreement with the payload type
func ValidateRef(typ string, ref string) error {
	if ref == "" {
		return invalid("empty reference")
	}

	for _, c := range ref {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return invalid("reference contains forbidden character %q", c)
		}
	}

	hasPrefix := strings.HasPrefix(ref, models.TemporaryRefPrefix)
	switch {
	case typ == TypeTemporary && !hasPrefix:
		return invalid("temporary reference must start with %q", models.TemporaryRefPrefix)
	case typ == TypePermanent && hasPrefix:
		return invalid("permanent reference must not start with %q", models.TemporaryRefPrefix)
	case typ == TypeTemporary && ref == models.TemporaryRefPrefix:
		return invalid("empty temporary reference")
	}

	return nil
}

func parsePositiveInt(field string) (int64, error) {
	n, err := strconv.ParseInt(field, 10, 64)
	if err != nil || n <= 0 || strconv.FormatInt(n, 10) != field {
		return 0, invalid("malformed timestamp %q", field)
	}
	return n, nil
}

func isBase64URL(s string) bool {
	_, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperrors.ErrInvalidFormat, fmt.Sprintf(format, args...))
}
