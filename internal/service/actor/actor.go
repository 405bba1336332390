// Package actor reads platform access tokens (JWT) into an explicit actor.
package actor

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/parcelguard/internal/apperrors"
	"github.com/nkiryanov/parcelguard/internal/models"
)

const (
	defaultAccessTokenTTL = 15 * time.Minute
	defaultSigningMethod  = "HS256"
	bearerPrefix          = "Bearer "
)

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID `json:"uid"`
	Role   string    `json:"role"`
}

// Token manager with sensible default
type Config struct {
	// Secret key shared with the platform that issues access tokens
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Lifetime of tokens issued with Issue
	// If not set than default is used
	AccessTTL time.Duration
}

type TokenManager struct {
	key       string
	alg       jwt.SigningMethod
	accessTTL time.Duration
}

func New(cfg Config) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg := jwt.GetSigningMethod(cfg.Alg)
	if alg == nil {
		return nil, fmt.Errorf("unknown signing method %q", cfg.Alg)
	}

	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = defaultAccessTokenTTL
	}

	return &TokenManager{
		key:       cfg.SecretKey,
		alg:       alg,
		accessTTL: cfg.AccessTTL,
	}, nil
}

// Issue signs access token for the actor.
// The platform issues tokens in production, here it serves tooling and tests.
func (m *TokenManager) Issue(a models.Actor) (string, error) {
	now := time.Now().Truncate(time.Second)

	token := jwt.NewWithClaims(m.alg, AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
		},
		UserID: a.ID,
		Role:   a.Role,
	})

	access, err := token.SignedString([]byte(m.key))
	if err != nil {
		return "", fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return access, nil
}

// Parse and validate access token
func (m *TokenManager) Parse(access string) (models.Actor, error) {
	claims := &AccessTokenClaims{}

	_, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) {
			return []byte(m.key), nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: error while parsing or validating token. Err: %v", apperrors.ErrUnauthorized, err)
	}

	if claims.UserID == uuid.Nil {
		return models.Actor{}, fmt.Errorf("%w: token has no user id", apperrors.ErrUnauthorized)
	}

	return models.Actor{ID: claims.UserID, Role: claims.Role}, nil
}

// FromRequest reads actor from 'Authorization: Bearer ...' header.
// Return apperrors.ErrUnauthorized if header is missing or token is not valid.
func (m *TokenManager) FromRequest(r *http.Request) (models.Actor, error) {
	header := r.Header.Get("Authorization")
	access, ok := strings.CutPrefix(header, bearerPrefix)
	if !ok || access == "" {
		return models.Actor{}, fmt.Errorf("%w: bearer token not found", apperrors.ErrUnauthorized)
	}

	return m.Parse(access)
}
