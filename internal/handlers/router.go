package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/parcelguard/internal/handlers/middleware"
	"github.com/nkiryanov/parcelguard/internal/logger"
	"github.com/nkiryanov/parcelguard/internal/models"
	"github.com/nkiryanov/parcelguard/internal/service/payload"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type Services struct {
	Issuer   codeIssuer
	Verifier codeVerifier
	Revoker  codeRevoker
	Subjects subjectLookup
	Renderer codeRenderer
	Actors   actorParser
}

type Config struct {
	// Deadline of every API request, zero disables it
	StoreTimeout time.Duration

	// Deadline of the expiry sweep request, zero disables it
	SweepTimeout time.Duration

	// Prometheus exposition handler, /metrics is not served if nil
	Metrics http.Handler
}

func NewRouter(cfg Config, s Services, logger logger.Logger) http.Handler {
	auth := middleware.NewAuth(s.Actors)
	staff := auth.Require(middleware.Staff)
	admin := auth.Require(middleware.Admin)

	codes := http.NewServeMux()

	codes.Handle("POST /parcels/{parcelID}/permanent", staff(handleIssuePermanent(s.Issuer, s.Subjects, s.Renderer, logger)))
	codes.Handle("POST /pickups/{pickupID}/temporary", staff(handleIssueTemporary(s.Issuer, s.Subjects, s.Renderer, logger)))
	codes.Handle("POST /pickups/{pickupID}/convert", staff(handleConvert(s.Issuer, s.Subjects, s.Renderer, logger)))

	codes.Handle("GET /parcels/{parcelID}", staff(handleCurrentParcelCode(s.Issuer, s.Renderer, logger)))
	codes.Handle("GET /pickups/{pickupID}", staff(handleCurrentPickupCode(s.Issuer, s.Renderer, logger)))

	codes.Handle("POST /verify", staff(handleVerify(s.Verifier)))
	codes.Handle("POST /verify/fields", staff(handleVerifyFields(s.Verifier)))
	codes.Handle("GET /tokens/{token}/usable", staff(handleUsable(s.Verifier, logger)))

	codes.Handle("POST /revoke", admin(handleRevoke(s.Revoker, logger)))
	codes.Handle("POST /parcels/{parcelID}/revoke", admin(handleRevokeParcel(s.Revoker, logger)))
	codes.Handle("POST /pickups/{pickupID}/revoke", admin(handleRevokePickup(s.Revoker, logger)))

	public := http.NewServeMux()
	public.Handle("POST /verify", auth.Optional(handlePublicVerify(s.Verifier)))

	api := http.NewServeMux()
	api.Handle("/codes/", http.StripPrefix("/codes", codes))
	api.Handle("/public/codes/", http.StripPrefix("/public/codes", public))

	root := http.NewServeMux()
	root.Handle("/api/", chain(http.StripPrefix("/api", api),
		middleware.TimeoutMiddleware(cfg.StoreTimeout),
	))
	// Sweep may outlive the store deadline of regular requests
	root.Handle("POST /api/codes/sweep", chain(admin(handleSweep(s.Revoker, logger)),
		middleware.TimeoutMiddleware(cfg.SweepTimeout),
	))
	if cfg.Metrics != nil {
		root.Handle("GET /metrics", cfg.Metrics)
	}

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type codeIssuer interface {
	// Has to return apperrors.ErrInvalidSubject for unusable parcel,
	// apperrors.ErrIssuance wrapping the cause for everything else
	IssuePermanent(ctx context.Context, parcel models.Parcel) (models.IssuedCode, error)

	// Zero validityHours means default validity
	// Has to return apperrors.ErrInvalidValidity for out of range validity
	IssueTemporary(ctx context.Context, pickup models.Pickup, validityHours int) (models.IssuedCode, error)

	ConvertTemporaryToPermanent(ctx context.Context, pickup models.Pickup) (models.IssuedCode, error)

	// Has to return apperrors.ErrTokenNotFound if subject has no usable code
	CurrentForParcel(ctx context.Context, parcelID uuid.UUID) (models.IssuedCode, error)
	CurrentForPickup(ctx context.Context, pickupID uuid.UUID) (models.IssuedCode, error)
}

type codeVerifier interface {
	VerifyCode(ctx context.Context, code string, meta models.VerificationMeta) models.VerificationResult
	VerifyPayload(ctx context.Context, p payload.Payload, meta models.VerificationMeta) models.VerificationResult
	IsUsable(ctx context.Context, token string) (bool, error)
}

type codeRevoker interface {
	// Has to return apperrors.ErrTokenNotFound for unknown token
	// and apperrors.ErrRevocationReasonRequired for empty reason
	Revoke(ctx context.Context, token string, reason string) (models.VerificationToken, error)
	RevokeAllForParcel(ctx context.Context, parcelID uuid.UUID, reason string) (int64, error)
	RevokeAllForPickup(ctx context.Context, pickupID uuid.UUID, reason string) (int64, error)
	SweepExpired(ctx context.Context) (int64, error)
}

type subjectLookup interface {
	// Has to return apperrors.ErrParcelNotFound or apperrors.ErrPickupNotFound
	GetParcel(ctx context.Context, id uuid.UUID) (models.Parcel, error)
	GetPickup(ctx context.Context, id uuid.UUID) (models.Pickup, error)
}

type codeRenderer interface {
	Render(code string) ([]byte, error)
}

type actorParser interface {
	FromRequest(r *http.Request) (models.Actor, error)
}
