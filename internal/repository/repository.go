package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/parcelguard/internal/models"
)

// Verification token repository interface
type TokenRepo interface {
	// Create token
	// If token value already exists has to return apperrors.ErrTokenExists
	// If subject already has a valid token of the same type has to return apperrors.ErrConcurrentIssuance
	Create(ctx context.Context, token models.VerificationToken) (models.VerificationToken, error)

	// Get token by its value, whatever its state
	// If token not found must return apperrors.ErrTokenNotFound
	GetByToken(ctx context.Context, token string) (models.VerificationToken, error)

	// Same as GetByToken but the row stays locked until the transaction ends
	GetByTokenForUpdate(ctx context.Context, token string) (models.VerificationToken, error)

	// Increment verification count and overwrite last verification metadata
	RecordVerification(ctx context.Context, id uuid.UUID, rec models.VerificationRecord) (models.VerificationToken, error)

	// Valid permanent token of the parcel and valid temporary token of the pickup
	// If subject has no valid token must return apperrors.ErrTokenNotFound
	GetValidForParcel(ctx context.Context, parcelID uuid.UUID) (models.VerificationToken, error)
	GetValidForPickup(ctx context.Context, pickupID uuid.UUID) (models.VerificationToken, error)

	// Mark token invalid, 'revoked' is false if token was invalid already
	// Must not overwrite reason and time of the first revocation
	// If token not found must return apperrors.ErrTokenNotFound
	Revoke(ctx context.Context, token string, reason string, at time.Time) (t models.VerificationToken, revoked bool, err error)

	// Mark invalid every valid token bound to the parcel or the pickup
	// Return count of revoked tokens
	RevokeForParcel(ctx context.Context, parcelID uuid.UUID, reason string, at time.Time) (int64, error)
	RevokeForPickup(ctx context.Context, pickupID uuid.UUID, reason string, at time.Time) (int64, error)

	// Delete temporary tokens expired before the time
	DeleteExpiredTemporary(ctx context.Context, before time.Time) (int64, error)

	// Serialize concurrent transactions on the same key until the transaction ends
	LockSubject(ctx context.Context, key string) error
}

type Storage interface {
	Token() TokenRepo

	// Run fn in transaction: commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}

// Lock keys of the issuance subjects
func ParcelLockKey(id uuid.UUID) string { return "parcel:" + id.String() }
func PickupLockKey(id uuid.UUID) string { return "pickup:" + id.String() }
