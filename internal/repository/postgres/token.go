package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/parcelguard/internal/apperrors"
	"github.com/nkiryanov/parcelguard/internal/models"
)

type TokenRepo struct {
	DB DBTX
}

const tokenUniqueConstraint = "verification_tokens_token_key"

const createToken = `-- name: CreateToken
INSERT INTO verification_tokens (
	id, token, signature, token_type, parcel_id, tracking_ref, pickup_id, created_at, expires_at, is_valid
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)
RETURNING *
`

func (r *TokenRepo) Create(ctx context.Context, t models.VerificationToken) (models.VerificationToken, error) {
	rows, _ := r.DB.Query(ctx, createToken,
		t.ID, t.Token, t.Signature, t.Type, t.ParcelID, t.TrackingRef, t.PickupID, t.CreatedAt, t.ExpiresAt,
	)
	token, err := pgx.CollectOneRow(rows, rowToToken)

	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return token, nil
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == tokenUniqueConstraint:
		return token, fmt.Errorf("repo error: %w", apperrors.ErrTokenExists)
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation:
		return token, fmt.Errorf("repo error: %w", apperrors.ErrConcurrentIssuance)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const getTokenByToken = `-- name: GetTokenByToken
SELECT * FROM verification_tokens
WHERE token = $1
`

func (r *TokenRepo) GetByToken(ctx context.Context, token string) (models.VerificationToken, error) {
	return r.get(ctx, getTokenByToken, token)
}

const getTokenByTokenForUpdate = `-- name: GetTokenByTokenForUpdate
SELECT * FROM verification_tokens
WHERE token = $1
FOR UPDATE
`

func (r *TokenRepo) GetByTokenForUpdate(ctx context.Context, token string) (models.VerificationToken, error) {
	return r.get(ctx, getTokenByTokenForUpdate, token)
}

func (r *TokenRepo) get(ctx context.Context, query string, token string) (models.VerificationToken, error) {
	rows, _ := r.DB.Query(ctx, query, token)
	t, err := pgx.CollectOneRow(rows, rowToToken)

	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		return t, fmt.Errorf("repo error: %w", apperrors.ErrTokenNotFound)
	default:
		return t, fmt.Errorf("db error: %w", err)
	}
}

const recordVerification = `-- name: RecordVerification
UPDATE verification_tokens
SET verification_count = verification_count + 1,
	last_verified_at = $2,
	last_verified_by = $3,
	last_verification_ip = NULLIF($4, ''),
	last_verification_user_agent = NULLIF($5, '')
WHERE id = $1
RETURNING *
`

func (r *TokenRepo) RecordVerification(ctx context.Context, id uuid.UUID, rec models.VerificationRecord) (models.VerificationToken, error) {
	rows, _ := r.DB.Query(ctx, recordVerification, id, rec.VerifiedAt, rec.VerifiedBy, rec.IP, rec.UserAgent)
	t, err := pgx.CollectOneRow(rows, rowToToken)

	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		return t, fmt.Errorf("repo error: %w", apperrors.ErrTokenNotFound)
	default:
		return t, fmt.Errorf("db error: %w", err)
	}
}

const getValidForParcel = `-- name: GetValidForParcel
SELECT * FROM verification_tokens
WHERE parcel_id = $1 AND token_type = 'PERMANENT' AND is_valid
`

func (r *TokenRepo) GetValidForParcel(ctx context.Context, parcelID uuid.UUID) (models.VerificationToken, error) {
	return r.getValid(ctx, getValidForParcel, parcelID)
}

const getValidForPickup = `-- name: GetValidForPickup
SELECT * FROM verification_tokens
WHERE pickup_id = $1 AND token_type = 'TEMPORARY' AND is_valid
`

func (r *TokenRepo) GetValidForPickup(ctx context.Context, pickupID uuid.UUID) (models.VerificationToken, error) {
	return r.getValid(ctx, getValidForPickup, pickupID)
}

// Partial unique indexes keep at most one row per subject
func (r *TokenRepo) getValid(ctx context.Context, query string, subjectID uuid.UUID) (models.VerificationToken, error) {
	rows, _ := r.DB.Query(ctx, query, subjectID)
	t, err := pgx.CollectOneRow(rows, rowToToken)

	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		return t, fmt.Errorf("repo error: %w", apperrors.ErrTokenNotFound)
	default:
		return t, fmt.Errorf("db error: %w", err)
	}
}

// Reason and time of the first revocation are kept as is.
// The last column tells whether the row was valid before the update.
const revokeToken = `-- name: RevokeToken
WITH target AS (
	SELECT id, is_valid FROM verification_tokens
	WHERE token = $1
	FOR UPDATE
)
UPDATE verification_tokens v
SET revocation_reason = CASE WHEN target.is_valid THEN $2 ELSE v.revocation_reason END,
	revoked_at = CASE WHEN target.is_valid THEN $3 ELSE v.revoked_at END,
	is_valid = FALSE
FROM target
WHERE v.id = target.id
RETURNING v.*, target.is_valid
`

func (r *TokenRepo) Revoke(ctx context.Context, token string, reason string, at time.Time) (models.VerificationToken, bool, error) {
	var revoked bool
	rows, _ := r.DB.Query(ctx, revokeToken, token, reason, at)
	t, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (models.VerificationToken, error) {
		return scanToken(row, &revoked)
	})

	switch {
	case err == nil:
		return t, revoked, nil
	case errors.Is(err, pgx.ErrNoRows):
		return t, false, fmt.Errorf("repo error: %w", apperrors.ErrTokenNotFound)
	default:
		return t, false, fmt.Errorf("db error: %w", err)
	}
}

const revokeForParcel = `-- name: RevokeForParcel
UPDATE verification_tokens
SET is_valid = FALSE, revocation_reason = $2, revoked_at = $3
WHERE parcel_id = $1 AND is_valid
`

func (r *TokenRepo) RevokeForParcel(ctx context.Context, parcelID uuid.UUID, reason string, at time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeForParcel, parcelID, reason, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const revokeForPickup = `-- name: RevokeForPickup
UPDATE verification_tokens
SET is_valid = FALSE, revocation_reason = $2, revoked_at = $3
WHERE pickup_id = $1 AND is_valid
`

func (r *TokenRepo) RevokeForPickup(ctx context.Context, pickupID uuid.UUID, reason string, at time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeForPickup, pickupID, reason, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const deleteExpiredTemporary = `-- name: DeleteExpiredTemporary
DELETE FROM verification_tokens
WHERE token_type = 'TEMPORARY' AND expires_at < $1
`

func (r *TokenRepo) DeleteExpiredTemporary(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredTemporary, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Transaction scoped advisory lock, released on commit or rollback
const lockSubject = `-- name: LockSubject
SELECT pg_advisory_xact_lock(hashtext($1))
`

func (r *TokenRepo) LockSubject(ctx context.Context, key string) error {
	_, err := r.DB.Exec(ctx, lockSubject, key)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Columns order follows the table definition, queries select them with '*'
func rowToToken(row pgx.CollectableRow) (models.VerificationToken, error) {
	return scanToken(row)
}

// scanToken reads token columns followed by 'extra' ones
func scanToken(row pgx.CollectableRow, extra ...any) (models.VerificationToken, error) {
	var t models.VerificationToken
	dest := []any{
		&t.ID,
		&t.Token,
		&t.Signature,
		&t.Type,
		&t.ParcelID,
		&t.TrackingRef,
		&t.PickupID,
		&t.CreatedAt,
		&t.ExpiresAt,
		&t.Valid,
		&t.RevocationReason,
		&t.RevokedAt,
		&t.VerificationCount,
		&t.LastVerifiedAt,
		&t.LastVerifiedBy,
		&t.LastVerificationIP,
		&t.LastVerificationUserAgent,
	}
	err := row.Scan(append(dest, extra...)...)
	return t, err
}
