// Package issuer creates signed codes for parcels and pickup requests.
//
// Issuance for a subject invalidates its previous tokens and inserts the new
// one in a single transaction locked on the subject, so at most one token per
// subject is valid at any time.
package issuer

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/parcelguard/internal/apperrors"
	"github.com/nkiryanov/parcelguard/internal/logger"
	"github.com/nkiryanov/parcelguard/internal/metrics"
	"github.com/nkiryanov/parcelguard/internal/models"
	"github.com/nkiryanov/parcelguard/internal/repository"
	"github.com/nkiryanov/parcelguard/internal/service/payload"
	"github.com/nkiryanov/parcelguard/internal/service/signer"
)

const (
	// Longer references would not fit printed payload
	maxTrackingRefLen = 64

	defaultTemporaryValidity = 48 * time.Hour
	defaultMaxValidity       = 7 * 24 * time.Hour

	// Random bytes of token before encoding
	tokenBytesLen = 32
)

type tokenSigner interface {
	Sign(data string) string
}

type Config struct {
	// Validity of temporary codes when caller does not set it
	DefaultValidity time.Duration

	// Upper bound of temporary code validity
	MaxValidity time.Duration

	// Time source, time.Now if not set
	Now func() time.Time

	// Source of token randomness, crypto/rand if not set
	Random io.Reader
}

type Issuer struct {
	cfg     Config
	storage repository.Storage
	signer  tokenSigner
	metrics *metrics.Metrics
	logger  logger.Logger
}

func New(cfg Config, storage repository.Storage, s tokenSigner, m *metrics.Metrics, l logger.Logger) *Issuer {
	if cfg.DefaultValidity == 0 {
		cfg.DefaultValidity = defaultTemporaryValidity
	}
	if cfg.MaxValidity == 0 {
		cfg.MaxValidity = defaultMaxValidity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Random == nil {
		cfg.Random = rand.Reader
	}

	return &Issuer{
		cfg:     cfg,
		storage: storage,
		signer:  s,
		metrics: m,
		logger:  l.WithGroup("issuer"),
	}
}

// IssuePermanent supersedes every valid token of the parcel and issues new permanent one
func (i *Issuer) IssuePermanent(ctx context.Context, parcel models.Parcel) (models.IssuedCode, error) {
	if err := validateParcel(parcel.ID, parcel.TrackingRef); err != nil {
		return models.IssuedCode{}, err
	}

	var code models.IssuedCode
	var revoked int64
	err := i.storage.InTx(ctx, func(s repository.Storage) error {
		var err error
		code, revoked, err = i.issuePermanent(ctx, s, parcel.ID, parcel.TrackingRef)
		return err
	})

	return code, i.finish(code, revoked, err, "parcel_id", parcel.ID)
}

// IssueTemporary supersedes valid token of the pickup and issues new temporary one.
// Zero validityHours means default validity.
func (i *Issuer) IssueTemporary(ctx context.Context, pickup models.Pickup, validityHours int) (models.IssuedCode, error) {
	if pickup.ID == uuid.Nil {
		return models.IssuedCode{}, fmt.Errorf("%w: empty pickup id", apperrors.ErrInvalidSubject)
	}
	if err := validateParcel(pickup.ParcelID, pickup.TrackingRef); err != nil {
		return models.IssuedCode{}, err
	}

	validity, err := i.validity(validityHours)
	if err != nil {
		return models.IssuedCode{}, err
	}

	var code models.IssuedCode
	var revoked int64
	err = i.storage.InTx(ctx, func(s repository.Storage) error {
		if err := s.Token().LockSubject(ctx, repository.PickupLockKey(pickup.ID)); err != nil {
			return err
		}

		now := i.now()
		var err error
		revoked, err = s.Token().RevokeForPickup(ctx, pickup.ID, models.RevocationSuperseded, now)
		if err != nil {
			return err
		}

		expiresAt := now.Add(validity)
		code, err = i.create(ctx, s, models.VerificationToken{
			Type:        models.TokenTypeTemporary,
			ParcelID:    pickup.ParcelID,
			TrackingRef: pickup.TrackingRef,
			PickupID:    &pickup.ID,
			CreatedAt:   now,
			ExpiresAt:   &expiresAt,
		})
		return err
	})

	return code, i.finish(code, revoked, err, "pickup_id", pickup.ID)
}

// ConvertTemporaryToPermanent invalidates temporary tokens of the confirmed pickup
// and issues permanent token for its parcel
func (i *Issuer) ConvertTemporaryToPermanent(ctx context.Context, pickup models.Pickup) (models.IssuedCode, error) {
	if pickup.ID == uuid.Nil {
		return models.IssuedCode{}, fmt.Errorf("%w: empty pickup id", apperrors.ErrInvalidSubject)
	}
	if err := validateParcel(pickup.ParcelID, pickup.TrackingRef); err != nil {
		return models.IssuedCode{}, err
	}

	var code models.IssuedCode
	var revoked int64
	err := i.storage.InTx(ctx, func(s repository.Storage) error {
		// Pickup lock first, issuePermanent takes the parcel lock
		if err := s.Token().LockSubject(ctx, repository.PickupLockKey(pickup.ID)); err != nil {
			return err
		}

		converted, err := s.Token().RevokeForPickup(ctx, pickup.ID, models.RevocationConverted, i.now())
		if err != nil {
			return err
		}

		var superseded int64
		code, superseded, err = i.issuePermanent(ctx, s, pickup.ParcelID, pickup.TrackingRef)
		revoked = converted + superseded
		return err
	})

	return code, i.finish(code, revoked, err, "pickup_id", pickup.ID)
}

// CurrentForParcel returns code of the valid permanent token of the parcel
// without reissuing it, so the printed label stays valid.
// Returns apperrors.ErrTokenNotFound if parcel has no usable code.
func (i *Issuer) CurrentForParcel(ctx context.Context, parcelID uuid.UUID) (models.IssuedCode, error) {
	t, err := i.storage.Token().GetValidForParcel(ctx, parcelID)
	return i.current(t, err)
}

// CurrentForPickup is CurrentForParcel for the temporary code of the pickup.
// Expired code is not returned.
func (i *Issuer) CurrentForPickup(ctx context.Context, pickupID uuid.UUID) (models.IssuedCode, error) {
	t, err := i.storage.Token().GetValidForPickup(ctx, pickupID)
	return i.current(t, err)
}

func (i *Issuer) current(t models.VerificationToken, err error) (models.IssuedCode, error) {
	if err != nil {
		return models.IssuedCode{}, err
	}
	if !t.Usable(i.cfg.Now().UTC()) {
		return models.IssuedCode{}, fmt.Errorf("%w: code expired", apperrors.ErrTokenNotFound)
	}

	// Stored row has everything signed at issuance
	p := payload.FromToken(t)
	p.Signature = signer.Truncate(t.Signature)
	return models.IssuedCode{Token: t, Payload: payload.Encode(p)}, nil
}

// issuePermanent returns issued code and count of superseded tokens
func (i *Issuer) issuePermanent(ctx context.Context, s repository.Storage, parcelID uuid.UUID, trackingRef string) (models.IssuedCode, int64, error) {
	if err := s.Token().LockSubject(ctx, repository.ParcelLockKey(parcelID)); err != nil {
		return models.IssuedCode{}, 0, err
	}

	now := i.now()
	revoked, err := s.Token().RevokeForParcel(ctx, parcelID, models.RevocationSuperseded, now)
	if err != nil {
		return models.IssuedCode{}, 0, err
	}

	code, err := i.create(ctx, s, models.VerificationToken{
		Type:        models.TokenTypePermanent,
		ParcelID:    parcelID,
		TrackingRef: trackingRef,
		CreatedAt:   now,
	})
	return code, revoked, err
}

// create fills token value and signature, stores the token and encodes its payload
func (i *Issuer) create(ctx context.Context, s repository.Storage, t models.VerificationToken) (models.IssuedCode, error) {
	value, err := i.randomToken()
	if err != nil {
		return models.IssuedCode{}, err
	}

	t.ID = uuid.New()
	t.Token = value

	p := payload.FromToken(t)
	t.Signature = i.signer.Sign(p.SignableString())
	p.Signature = signer.Truncate(t.Signature)

	stored, err := s.Token().Create(ctx, t)
	if err != nil {
		return models.IssuedCode{}, err
	}

	return models.IssuedCode{Token: stored, Payload: payload.Encode(p)}, nil
}

func (i *Issuer) randomToken() (string, error) {
	b := make([]byte, tokenBytesLen)
	if _, err := io.ReadFull(i.cfg.Random, b); err != nil {
		return "", fmt.Errorf("error while generating token. Err: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (i *Issuer) validity(hours int) (time.Duration, error) {
	if hours == 0 {
		return i.cfg.DefaultValidity, nil
	}

	validity := time.Duration(hours) * time.Hour
	if hours < 0 || validity > i.cfg.MaxValidity {
		return 0, fmt.Errorf("%w: %d hours, max is %s", apperrors.ErrInvalidValidity, hours, i.cfg.MaxValidity)
	}
	return validity, nil
}

// Payload carries epoch seconds, so stored time is truncated the same way
func (i *Issuer) now() time.Time {
	return i.cfg.Now().UTC().Truncate(time.Second)
}

func (i *Issuer) finish(code models.IssuedCode, revoked int64, err error, subjectKey string, subjectID uuid.UUID) error {
	if err != nil {
		i.logger.Error("Code issuance failed", "error", err, subjectKey, subjectID)
		i.metrics.SystemError(metrics.OperationIssue)
		return fmt.Errorf("%w: %w", apperrors.ErrIssuance, err)
	}

	i.logger.Info("Code issued",
		"token_id", code.Token.ID,
		"token_type", code.Token.Type,
		"superseded", revoked,
		subjectKey, subjectID,
	)
	i.metrics.Issued(code.Token.Type)
	i.metrics.Revoked(revoked)
	return nil
}

func validateParcel(parcelID uuid.UUID, trackingRef string) error {
	if parcelID == uuid.Nil {
		return fmt.Errorf("%w: empty parcel id", apperrors.ErrInvalidSubject)
	}

	if len(trackingRef) > maxTrackingRefLen {
		return fmt.Errorf("%w: tracking reference is too long", apperrors.ErrInvalidSubject)
	}

	err := payload.ValidateRef(payload.TypePermanent, trackingRef)
	if errors.Is(err, apperrors.ErrInvalidFormat) {
		return fmt.Errorf("%w: tracking reference %q", apperrors.ErrInvalidSubject, trackingRef)
	}
	return err
}
