package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/parcelguard/internal/apperrors"
	"github.com/nkiryanov/parcelguard/internal/handlers/render"
	"github.com/nkiryanov/parcelguard/internal/logger"
	"github.com/nkiryanov/parcelguard/internal/models"
)

type issuedCodeResponse struct {
	TokenID   uuid.UUID  `json:"token_id"`
	TokenType string     `json:"token_type"`
	Payload   string     `json:"payload"`
	ImagePNG  string     `json:"image_png,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func handleIssuePermanent(issuer codeIssuer, subjects subjectLookup, renderer codeRenderer, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parcelID, ok := pathUUID(w, r, "parcelID")
		if !ok {
			return
		}

		parcel, err := subjects.GetParcel(r.Context(), parcelID)
		if err != nil {
			subjectError(w, err, logger)
			return
		}

		code, err := issuer.IssuePermanent(r.Context(), parcel)
		renderIssued(w, code, err, renderer, logger)
	})
}

func handleIssueTemporary(issuer codeIssuer, subjects subjectLookup, renderer codeRenderer, logger logger.Logger) http.Handler {
	type request struct {
		ValidityHours int `json:"validity_hours" validate:"min=0,max=168"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pickupID, ok := pathUUID(w, r, "pickupID")
		if !ok {
			return
		}

		// Empty body means default validity
		data, err := render.BindAndValidateOptional[request](w, r)
		if err != nil {
			return
		}

		pickup, err := subjects.GetPickup(r.Context(), pickupID)
		if err != nil {
			subjectError(w, err, logger)
			return
		}

		code, err := issuer.IssueTemporary(r.Context(), pickup, data.ValidityHours)
		renderIssued(w, code, err, renderer, logger)
	})
}

func handleConvert(issuer codeIssuer, subjects subjectLookup, renderer codeRenderer, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pickupID, ok := pathUUID(w, r, "pickupID")
		if !ok {
			return
		}

		pickup, err := subjects.GetPickup(r.Context(), pickupID)
		if err != nil {
			subjectError(w, err, logger)
			return
		}

		code, err := issuer.ConvertTemporaryToPermanent(r.Context(), pickup)
		renderIssued(w, code, err, renderer, logger)
	})
}

// handleCurrentParcelCode shows valid permanent code of the parcel again without reissuing it
func handleCurrentParcelCode(issuer codeIssuer, renderer codeRenderer, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parcelID, ok := pathUUID(w, r, "parcelID")
		if !ok {
			return
		}

		code, err := issuer.CurrentForParcel(r.Context(), parcelID)
		renderCurrent(w, code, err, renderer, logger)
	})
}

func handleCurrentPickupCode(issuer codeIssuer, renderer codeRenderer, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pickupID, ok := pathUUID(w, r, "pickupID")
		if !ok {
			return
		}

		code, err := issuer.CurrentForPickup(r.Context(), pickupID)
		renderCurrent(w, code, err, renderer, logger)
	})
}

func renderIssued(w http.ResponseWriter, code models.IssuedCode, err error, renderer codeRenderer, logger logger.Logger) {
	switch {
	case err == nil:
		renderCode(w, code, renderer, logger)
	case errors.Is(err, apperrors.ErrInvalidSubject), errors.Is(err, apperrors.ErrInvalidValidity):
		render.ServiceError(w, err.Error(), http.StatusBadRequest)
	default:
		render.ServiceError(w, "Code issuance failed", http.StatusServiceUnavailable)
	}
}

func renderCurrent(w http.ResponseWriter, code models.IssuedCode, err error, renderer codeRenderer, logger logger.Logger) {
	switch {
	case err == nil:
		renderCode(w, code, renderer, logger)
	case errors.Is(err, apperrors.ErrTokenNotFound):
		render.ServiceError(w, "No valid code", http.StatusNotFound)
	default:
		logger.Error("Current code lookup failed", "error", err)
		render.ServiceError(w, "Code lookup failed", http.StatusServiceUnavailable)
	}
}

func renderCode(w http.ResponseWriter, code models.IssuedCode, renderer codeRenderer, logger logger.Logger) {
	res := issuedCodeResponse{
		TokenID:   code.Token.ID,
		TokenType: code.Token.Type,
		Payload:   code.Payload,
		CreatedAt: code.Token.CreatedAt,
		ExpiresAt: code.Token.ExpiresAt,
	}

	// Code is already issued, so missing image does not fail the request
	png, err := renderer.Render(code.Payload)
	if err != nil {
		logger.Error("Failed to render code image", "error", err, "token_id", code.Token.ID)
	} else {
		res.ImagePNG = base64.StdEncoding.EncodeToString(png)
	}

	render.JSON(w, res)
}

func subjectError(w http.ResponseWriter, err error, logger logger.Logger) {
	switch {
	case errors.Is(err, apperrors.ErrParcelNotFound):
		render.ServiceError(w, "Parcel not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrPickupNotFound):
		render.ServiceError(w, "Pickup not found", http.StatusNotFound)
	default:
		logger.Error("Parcel registry lookup failed", "error", err)
		render.ServiceError(w, "Parcel registry is unavailable", http.StatusServiceUnavailable)
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		render.ServiceError(w, "Invalid "+name, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
