package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/parcelguard/internal/apperrors"
	"github.com/nkiryanov/parcelguard/internal/models"
	"github.com/nkiryanov/parcelguard/internal/repository"
)

// Rows deleted under one table lock by the sweep
const sweepBatch = 256

type TokenRepo struct {
	storage *Storage
}

func (r *TokenRepo) Create(ctx context.Context, t models.VerificationToken) (models.VerificationToken, error) {
	err := r.write(ctx, func(tx *txn) error {
		if _, ok := tx.getByToken(t.Token); ok {
			return fmt.Errorf("repo error: %w", apperrors.ErrTokenExists)
		}

		var current []models.VerificationToken
		switch {
		case t.Type == models.TokenTypePermanent:
			current = tx.parcelRows(t.ParcelID)
		case t.PickupID != nil:
			current = tx.pickupRows(*t.PickupID)
		}
		for _, existing := range current {
			if existing.Valid && existing.Type == t.Type {
				return fmt.Errorf("repo error: %w", apperrors.ErrConcurrentIssuance)
			}
		}

		t.Valid = true
		t.RevocationReason = nil
		t.RevokedAt = nil
		t.VerificationCount = 0
		tx.put(t, true)
		return nil
	})

	return t, err
}

func (r *TokenRepo) GetByToken(ctx context.Context, token string) (models.VerificationToken, error) {
	if err := ctx.Err(); err != nil {
		return models.VerificationToken{}, err
	}

	t, ok := r.read().getByToken(token)
	if !ok {
		return t, fmt.Errorf("repo error: %w", apperrors.ErrTokenNotFound)
	}
	return t, nil
}

// Writing transactions run one at a time, so reading inside one is enough
func (r *TokenRepo) GetByTokenForUpdate(ctx context.Context, token string) (models.VerificationToken, error) {
	return r.GetByToken(ctx, token)
}

func (r *TokenRepo) GetValidForParcel(ctx context.Context, parcelID uuid.UUID) (models.VerificationToken, error) {
	if err := ctx.Err(); err != nil {
		return models.VerificationToken{}, err
	}
	return validOf(r.read().parcelRows(parcelID), models.TokenTypePermanent)
}

func (r *TokenRepo) GetValidForPickup(ctx context.Context, pickupID uuid.UUID) (models.VerificationToken, error) {
	if err := ctx.Err(); err != nil {
		return models.VerificationToken{}, err
	}
	return validOf(r.read().pickupRows(pickupID), models.TokenTypeTemporary)
}

func (r *TokenRepo) RecordVerification(ctx context.Context, id uuid.UUID, rec models.VerificationRecord) (models.VerificationToken, error) {
	var t models.VerificationToken
	err := r.write(ctx, func(tx *txn) error {
		var ok bool
		t, ok = tx.get(id)
		if !ok {
			return fmt.Errorf("repo error: %w", apperrors.ErrTokenNotFound)
		}

		t.VerificationCount++
		t.LastVerifiedAt = &rec.VerifiedAt
		t.LastVerifiedBy = rec.VerifiedBy
		t.LastVerificationIP = nonEmpty(rec.IP)
		t.LastVerificationUserAgent = nonEmpty(rec.UserAgent)
		tx.put(t, false)
		return nil
	})

	return t, err
}

func (r *TokenRepo) Revoke(ctx context.Context, token string, reason string, at time.Time) (models.VerificationToken, bool, error) {
	var (
		t       models.VerificationToken
		revoked bool
	)
	err := r.write(ctx, func(tx *txn) error {
		var ok bool
		t, ok = tx.getByToken(token)
		if !ok {
			return fmt.Errorf("repo error: %w", apperrors.ErrTokenNotFound)
		}

		if t.Valid {
			revoke(&t, reason, at)
			tx.put(t, false)
			revoked = true
		}
		return nil
	})

	return t, revoked, err
}

func (r *TokenRepo) RevokeForParcel(ctx context.Context, parcelID uuid.UUID, reason string, at time.Time) (int64, error) {
	return r.revokeAll(ctx, reason, at, func(tx *txn) []models.VerificationToken {
		return tx.parcelRows(parcelID)
	})
}

func (r *TokenRepo) RevokeForPickup(ctx context.Context, pickupID uuid.UUID, reason string, at time.Time) (int64, error) {
	return r.revokeAll(ctx, reason, at, func(tx *txn) []models.VerificationToken {
		return tx.pickupRows(pickupID)
	})
}

func (r *TokenRepo) revokeAll(ctx context.Context, reason string, at time.Time, rows func(tx *txn) []models.VerificationToken) (int64, error) {
	var count int64
	err := r.write(ctx, func(tx *txn) error {
		for _, t := range rows(tx) {
			if !t.Valid {
				continue
			}
			revoke(&t, reason, at)
			tx.put(t, false)
			count++
		}
		return nil
	})

	return count, err
}

// DeleteExpiredTemporary outside of transaction deletes rows in short batches
// and never waits for running transactions
func (r *TokenRepo) DeleteExpiredTemporary(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if tx := r.storage.tx; tx != nil {
		rows := tx.rows(tx.table.temporaryIDs(), func(t models.VerificationToken) bool {
			return expiredTemporary(t, before)
		})
		for _, t := range rows {
			tx.remove(t)
		}
		return int64(len(rows)), nil
	}

	ids := r.storage.table.temporaryIDs()

	var count int64
	for start := 0; start < len(ids); start += sweepBatch {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		end := min(start+sweepBatch, len(ids))
		count += r.storage.table.deleteExpired(ids[start:end], before)
	}
	return count, nil
}

// Writing transactions run one at a time already
func (r *TokenRepo) LockSubject(ctx context.Context, _ string) error {
	return ctx.Err()
}

func (r *TokenRepo) read() *txn {
	if r.storage.tx != nil {
		return r.storage.tx
	}
	return readTxn(r.storage.table)
}

// write runs fn in the enclosing transaction or in its own one
func (r *TokenRepo) write(ctx context.Context, fn func(tx *txn) error) error {
	if tx := r.storage.tx; tx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(tx)
	}

	return r.storage.InTx(ctx, func(s repository.Storage) error {
		return fn(s.(*Storage).tx)
	})
}

func validOf(rows []models.VerificationToken, tokenType string) (models.VerificationToken, error) {
	for _, t := range rows {
		if t.Valid && t.Type == tokenType {
			return t, nil
		}
	}
	return models.VerificationToken{}, fmt.Errorf("repo error: %w", apperrors.ErrTokenNotFound)
}

func revoke(t *models.VerificationToken, reason string, at time.Time) {
	t.Valid = false
	t.RevocationReason = &reason
	t.RevokedAt = &at
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
