// Package verifier checks scanned codes against stored tokens.
//
// Each attempt walks the same chain of checks: format, lookup, revocation,
// expiry and signature. The first failing check defines the status. Only a
// valid code updates verification stats, done under the row lock together
// with the checks.
package verifier

import (
	"context"
	"errors"
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

type tokenSigner interface {
	Sign(data string) string
}

// SubjectLookup fetches parcel and pickup details for the summary of a valid code
type SubjectLookup interface {
	GetParcel(ctx context.Context, id uuid.UUID) (models.Parcel, error)
	GetPickup(ctx context.Context, id uuid.UUID) (models.Pickup, error)
}

type RiskScorer interface {
	Observe(ctx context.Context, tokenID uuid.UUID, at time.Time) (string, error)
}

type AuditQueue interface {
	Enqueue(event models.VerificationEvent) bool
}

type Config struct {
	// Time source, time.Now if not set
	Now func() time.Time

	// Optional collaborators, summary falls back to token fields
	// and risk to LOW when not set
	Subjects SubjectLookup
	Risk     RiskScorer
	Audit    AuditQueue
}

type Verifier struct {
	cfg     Config
	storage repository.Storage
	signer  tokenSigner
	metrics *metrics.Metrics
	logger  logger.Logger
}

func New(cfg Config, storage repository.Storage, s tokenSigner, m *metrics.Metrics, l logger.Logger) *Verifier {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Verifier{
		cfg:     cfg,
		storage: storage,
		signer:  s,
		metrics: m,
		logger:  l.WithGroup("verifier"),
	}
}

// VerifyCode decodes scanned code and verifies it
func (v *Verifier) VerifyCode(ctx context.Context, code string, meta models.VerificationMeta) models.VerificationResult {
	p, err := payload.Decode(code)
	if err != nil {
		v.logger.Debug("Code decoding failed", "error", err)
		return v.reject(meta, models.StatusFormatInvalid, nil, v.now())
	}

	return v.verify(ctx, p, meta)
}

// VerifyPayload verifies already decoded payload fields
func (v *Verifier) VerifyPayload(ctx context.Context, p payload.Payload, meta models.VerificationMeta) models.VerificationResult {
	// Fields built by caller pass the same checks as scanned strings
	if _, err := payload.Decode(payload.Encode(p)); err != nil {
		v.logger.Debug("Payload validation failed", "error", err)
		return v.reject(meta, models.StatusFormatInvalid, nil, v.now())
	}

	return v.verify(ctx, p, meta)
}

// IsUsable reports whether token exists, is not revoked and not expired.
// Nothing is recorded.
func (v *Verifier) IsUsable(ctx context.Context, token string) (bool, error) {
	t, err := v.storage.Token().GetByToken(ctx, token)
	if errors.Is(err, apperrors.ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return t.Usable(v.now()), nil
}

func (v *Verifier) verify(ctx context.Context, p payload.Payload, meta models.VerificationMeta) models.VerificationResult {
	now := v.now()

	var (
		status string
		token  models.VerificationToken
		found  bool
	)

	err := v.storage.InTx(ctx, func(s repository.Storage) error {
		t, err := s.Token().GetByTokenForUpdate(ctx, p.Token)
		switch {
		case errors.Is(err, apperrors.ErrTokenNotFound):
			status = models.StatusTokenNotFound
			return nil
		case err != nil:
			return err
		}

		token, found = t, true
		status = v.check(t, p, now)
		if status != models.StatusValid {
			return nil
		}

		token, err = s.Token().RecordVerification(ctx, t.ID, models.VerificationRecord{
			VerifiedAt: now,
			VerifiedBy: meta.ActorID,
			IP:         meta.IP,
			UserAgent:  meta.UserAgent,
		})
		return err
	})

	if err != nil {
		v.logger.Error("Verification failed", "error", err, "ip", meta.IP)
		v.metrics.Verification(models.StatusVerificationError)
		return models.VerificationResult{
			Status:     models.StatusVerificationError,
			Message:    Message(meta.Language, models.StatusVerificationError, ""),
			VerifiedAt: now,
		}
	}

	if status != models.StatusValid {
		var t *models.VerificationToken
		if found {
			t = &token
		}
		return v.reject(meta, status, t, now)
	}

	return v.accept(ctx, meta, token, now)
}

// check runs revocation, expiry and signature checks in this order
func (v *Verifier) check(t models.VerificationToken, p payload.Payload, now time.Time) string {
	switch {
	case !t.Valid:
		return models.StatusTokenRevoked
	case t.Expired(now):
		return models.StatusTokenExpired
	case !v.signatureValid(t, p):
		return models.StatusSignatureInvalid
	default:
		return models.StatusValid
	}
}

// signatureValid recomputes the payload from the stored row.
// The stored full signature, the submitted fields and the submitted truncated
// signature must all agree with it.
func (v *Verifier) signatureValid(t models.VerificationToken, submitted payload.Payload) bool {
	expected := payload.FromToken(t)
	full := v.signer.Sign(expected.SignableString())

	storedOK := signer.Equal(full, t.Signature)
	fieldsOK := submitted.Version == expected.Version &&
		submitted.Type == expected.Type &&
		submitted.Token == expected.Token &&
		submitted.Ref == expected.Ref &&
		submitted.IssuedAt == expected.IssuedAt
	signatureOK := signer.Equal(signer.Truncate(full), submitted.Signature)

	return storedOK && fieldsOK && signatureOK
}

func (v *Verifier) accept(ctx context.Context, meta models.VerificationMeta, t models.VerificationToken, now time.Time) models.VerificationResult {
	riskLevel := v.riskLevel(ctx, t.ID, now)
	parcel, pickup := v.summary(ctx, t)

	if v.cfg.Audit != nil {
		v.cfg.Audit.Enqueue(models.VerificationEvent{
			TokenID:     t.ID,
			TokenType:   t.Type,
			ParcelID:    t.ParcelID,
			PickupID:    t.PickupID,
			TrackingRef: t.TrackingRef,
			VerifiedAt:  now,
			VerifiedBy:  meta.ActorID,
			IP:          meta.IP,
			UserAgent:   meta.UserAgent,
			RiskLevel:   riskLevel,
		})
	}

	v.logger.Info("Code verified",
		"token_id", t.ID,
		"token_type", t.Type,
		"verification_count", t.VerificationCount,
		"risk", riskLevel,
		"ip", meta.IP,
	)
	v.metrics.Verification(models.StatusValid)

	return models.VerificationResult{
		Valid:             true,
		Status:            models.StatusValid,
		Message:           Message(meta.Language, models.StatusValid, ""),
		TokenID:           &t.ID,
		TokenType:         t.Type,
		CreatedAt:         &t.CreatedAt,
		ExpiresAt:         t.ExpiresAt,
		VerificationCount: t.VerificationCount,
		VerifiedAt:        now,
		RiskLevel:         riskLevel,
		Parcel:            parcel,
		Pickup:            pickup,
	}
}

// reject builds result for negative outcome. Token is known for revoked,
// expired and badly signed codes only.
func (v *Verifier) reject(meta models.VerificationMeta, status string, t *models.VerificationToken, now time.Time) models.VerificationResult {
	args := []any{"status", status, "ip", meta.IP, "user_agent", meta.UserAgent}
	if meta.ActorID != nil {
		args = append(args, "actor_id", *meta.ActorID)
	}
	if t != nil {
		args = append(args, "token_id", t.ID)
	}
	v.logger.Warn("forgery or tampering candidate", args...)
	v.metrics.Verification(status)

	result := models.VerificationResult{
		Status:            status,
		VerifiedAt:        now,
		TamperingDetected: status == models.StatusSignatureInvalid || status == models.StatusTokenNotFound,
		RiskLevel:         models.RiskMedium,
	}
	if status == models.StatusSignatureInvalid {
		result.RiskLevel = models.RiskHigh
	}

	var reason string
	// Badly signed code discloses nothing about the token it points to
	if t != nil && status != models.StatusSignatureInvalid {
		result.TokenID = &t.ID
		result.TokenType = t.Type
		result.CreatedAt = &t.CreatedAt
		result.ExpiresAt = t.ExpiresAt
		if t.RevocationReason != nil {
			reason = *t.RevocationReason
		}
	}
	result.Message = Message(meta.Language, status, reason)

	return result
}

func (v *Verifier) riskLevel(ctx context.Context, tokenID uuid.UUID, at time.Time) string {
	if v.cfg.Risk == nil {
		return models.RiskLow
	}

	level, err := v.cfg.Risk.Observe(ctx, tokenID, at)
	if err != nil {
		v.logger.Warn("Risk scoring failed, fallback to low", "error", err, "token_id", tokenID)
		return models.RiskLow
	}
	return level
}

// summary never fails: registry errors degrade it to fields stored on the token
func (v *Verifier) summary(ctx context.Context, t models.VerificationToken) (*models.ParcelSummary, *models.PickupSummary) {
	parcel := &models.ParcelSummary{TrackingRef: t.TrackingRef}

	var pickup *models.PickupSummary
	if t.PickupID != nil {
		pickup = &models.PickupSummary{ID: *t.PickupID}
	}

	if v.cfg.Subjects == nil {
		return parcel, pickup
	}

	p, err := v.cfg.Subjects.GetParcel(ctx, t.ParcelID)
	if err != nil {
		v.logger.Warn("Parcel lookup failed, summary degraded", "error", err, "parcel_id", t.ParcelID)
	} else {
		parcel = &models.ParcelSummary{
			TrackingRef:       t.TrackingRef,
			Status:            p.Status,
			ServiceType:       p.ServiceType,
			Weight:            p.Weight,
			Dimensions:        p.Dimensions,
			Fragile:           p.Fragile,
			OriginAgency:      p.OriginAgency,
			DestinationAgency: p.DestinationAgency,
		}
	}

	if pickup == nil {
		return parcel, nil
	}

	pk, err := v.cfg.Subjects.GetPickup(ctx, pickup.ID)
	if err != nil {
		v.logger.Warn("Pickup lookup failed, summary degraded", "error", err, "pickup_id", pickup.ID)
		return parcel, pickup
	}

	pickup.State = pk.State
	pickup.RequestedDate = pk.RequestedDate
	pickup.TimeWindow = pk.TimeWindow
	return parcel, pickup
}

func (v *Verifier) now() time.Time {
	return v.cfg.Now().UTC()
}
