package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/parcelguard/internal/apperrors"
	"github.com/nkiryanov/parcelguard/internal/handlers/render"
	"github.com/nkiryanov/parcelguard/internal/logger"
)

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=200"`
}

type revokedResponse struct {
	Revoked int64 `json:"revoked"`
}

func handleRevoke(revoker codeRevoker, logger logger.Logger) http.Handler {
	type request struct {
		Token  string `json:"token" validate:"required"`
		Reason string `json:"reason" validate:"required,max=200"`
	}
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		_, err = revoker.Revoke(r.Context(), data.Token, data.Reason)
		if err != nil {
			revocationError(w, err, logger)
			return
		}

		render.JSON(w, response{Message: "Token revoked"})
	})
}

func handleRevokeParcel(revoker codeRevoker, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parcelID, ok := pathUUID(w, r, "parcelID")
		if !ok {
			return
		}

		data, err := render.BindAndValidate[reasonRequest](w, r)
		if err != nil {
			return
		}

		n, err := revoker.RevokeAllForParcel(r.Context(), parcelID, data.Reason)
		if err != nil {
			revocationError(w, err, logger)
			return
		}

		render.JSON(w, revokedResponse{Revoked: n})
	})
}

func handleRevokePickup(revoker codeRevoker, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pickupID, ok := pathUUID(w, r, "pickupID")
		if !ok {
			return
		}

		data, err := render.BindAndValidate[reasonRequest](w, r)
		if err != nil {
			return
		}

		n, err := revoker.RevokeAllForPickup(r.Context(), pickupID, data.Reason)
		if err != nil {
			revocationError(w, err, logger)
			return
		}

		render.JSON(w, revokedResponse{Revoked: n})
	})
}

func handleSweep(revoker codeRevoker, logger logger.Logger) http.Handler {
	type response struct {
		Deleted int64 `json:"deleted"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, err := revoker.SweepExpired(r.Context())
		if err != nil {
			logger.Error("Sweep failed", "error", err)
			render.ServiceError(w, "Sweep failed", http.StatusServiceUnavailable)
			return
		}

		render.JSON(w, response{Deleted: n})
	})
}

func revocationError(w http.ResponseWriter, err error, logger logger.Logger) {
	switch {
	case errors.Is(err, apperrors.ErrTokenNotFound):
		render.ServiceError(w, "Token not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrRevocationReasonRequired):
		render.ServiceError(w, "Revocation reason is required", http.StatusBadRequest)
	default:
		logger.Error("Revocation failed", "error", err)
		render.ServiceError(w, "Revocation failed", http.StatusServiceUnavailable)
	}
}
