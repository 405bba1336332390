package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/parcelguard/internal/handlers/actorctx"
	"github.com/nkiryanov/parcelguard/internal/handlers/middleware"
	"github.com/nkiryanov/parcelguard/internal/handlers/render"
	"github.com/nkiryanov/parcelguard/internal/logger"
	"github.com/nkiryanov/parcelguard/internal/models"
	"github.com/nkiryanov/parcelguard/internal/service/payload"
	"github.com/nkiryanov/parcelguard/internal/service/verifier"
)

// Public scans learn nothing about the reason of rejection
const publicRejectedMessage = "invalid code"

type verifyRequest struct {
	Code string `json:"code"`
}

type verificationResponse struct {
	Valid             bool                  `json:"valid"`
	Status            string                `json:"status"`
	Message           string                `json:"message"`
	TokenID           *uuid.UUID            `json:"token_id,omitempty"`
	TokenType         string                `json:"token_type,omitempty"`
	CreatedAt         *time.Time            `json:"created_at,omitempty"`
	ExpiresAt         *time.Time            `json:"expires_at,omitempty"`
	VerificationCount int64                 `json:"verification_count"`
	VerifiedAt        time.Time             `json:"verified_at"`
	TamperingDetected bool                  `json:"tampering_detected"`
	RiskLevel         string                `json:"risk_level,omitempty"`
	Parcel            *models.ParcelSummary `json:"parcel,omitempty"`
	Pickup            *models.PickupSummary `json:"pickup,omitempty"`
}

func handleVerify(v codeVerifier) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[verifyRequest](w, r)
		if err != nil {
			return
		}

		renderVerification(w, v.VerifyCode(r.Context(), data.Code, verificationMeta(r)))
	})
}

// handleVerifyFields verifies code already split into fields by the scanner app
func handleVerifyFields(v codeVerifier) http.Handler {
	type request struct {
		Version   int    `json:"version"`
		Type      string `json:"type"`
		Token     string `json:"token"`
		Ref       string `json:"ref"`
		IssuedAt  int64  `json:"issued_at"`
		Signature string `json:"signature"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		p := payload.Payload{
			Version:   data.Version,
			Type:      data.Type,
			Token:     data.Token,
			Ref:       data.Ref,
			IssuedAt:  data.IssuedAt,
			Signature: data.Signature,
		}
		renderVerification(w, v.VerifyPayload(r.Context(), p, verificationMeta(r)))
	})
}

// handleUsable tells whether token may still be scanned. Nothing is recorded.
func handleUsable(v codeVerifier, logger logger.Logger) http.Handler {
	type response struct {
		Usable bool `json:"usable"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		usable, err := v.IsUsable(r.Context(), r.PathValue("token"))
		if err != nil {
			logger.Error("Token usability check failed", "error", err)
			render.ServiceError(w, "Verification is unavailable", http.StatusServiceUnavailable)
			return
		}

		render.JSON(w, response{Usable: usable})
	})
}

func renderVerification(w http.ResponseWriter, res models.VerificationResult) {
	code := http.StatusOK
	if res.Status == models.StatusVerificationError {
		code = http.StatusServiceUnavailable
	}

	render.JSONWithStatus(w, verificationResponse{
		Valid:             res.Valid,
		Status:            res.Status,
		Message:           res.Message,
		TokenID:           res.TokenID,
		TokenType:         res.TokenType,
		CreatedAt:         res.CreatedAt,
		ExpiresAt:         res.ExpiresAt,
		VerificationCount: res.VerificationCount,
		VerifiedAt:        res.VerifiedAt,
		TamperingDetected: res.TamperingDetected,
		RiskLevel:         res.RiskLevel,
		Parcel:            res.Parcel,
		Pickup:            res.Pickup,
	}, code)
}

func handlePublicVerify(v codeVerifier) http.Handler {
	type response struct {
		Valid   bool   `json:"valid"`
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[verifyRequest](w, r)
		if err != nil {
			return
		}

		res := v.VerifyCode(r.Context(), data.Code, verificationMeta(r))

		switch {
		case res.Valid:
			render.JSON(w, response{Valid: true, Message: res.Message})
		case res.Status == models.StatusVerificationError:
			render.ServiceError(w, "Verification is unavailable", http.StatusServiceUnavailable)
		default:
			render.JSON(w, response{Valid: false, Message: publicRejectedMessage})
		}
	})
}

func verificationMeta(r *http.Request) models.VerificationMeta {
	meta := models.VerificationMeta{
		IP:        middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
		Language:  verifier.ParseLanguage(r.Header.Get("Accept-Language")),
	}
	if actor, ok := actorctx.FromContext(r.Context()); ok {
		meta.ActorID = &actor.ID
	}
	return meta
}
