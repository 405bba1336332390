// Package revocation invalidates tokens on demand and removes stale temporary ones.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/parcelguard/internal/apperrors"
	"github.com/nkiryanov/parcelguard/internal/logger"
	"github.com/nkiryanov/parcelguard/internal/metrics"
	"github.com/nkiryanov/parcelguard/internal/models"
	"github.com/nkiryanov/parcelguard/internal/repository"
)

// Expired temporary tokens are kept this long for audit before deletion
const DefaultRetention = 7 * 24 * time.Hour

type Config struct {
	Retention time.Duration

	// Time source, time.Now if not set
	Now func() time.Time
}

type Manager struct {
	cfg     Config
	storage repository.Storage
	metrics *metrics.Metrics
	logger  logger.Logger
}

func New(cfg Config, storage repository.Storage, m *metrics.Metrics, l logger.Logger) *Manager {
	if cfg.Retention == 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		cfg:     cfg,
		storage: storage,
		metrics: m,
		logger:  l.WithGroup("revocation"),
	}
}

// Revoke invalidates single token. Revoking it again changes nothing:
// reason and time of the first revocation are kept.
func (m *Manager) Revoke(ctx context.Context, token string, reason string) (models.VerificationToken, error) {
	reason, err := normalizeReason(reason)
	if err != nil {
		return models.VerificationToken{}, err
	}

	t, revoked, err := m.storage.Token().Revoke(ctx, token, reason, m.now())
	if err != nil {
		m.systemError(err)
		return models.VerificationToken{}, err
	}

	if !revoked {
		m.logger.Debug("Token was already revoked", "token_id", t.ID)
		return t, nil
	}

	m.logger.Info("Token revoked", "token_id", t.ID, "reason", reason)
	m.metrics.Revoked(1)
	return t, nil
}

// RevokeAllForParcel invalidates every valid token of the parcel, returns count of revoked tokens
func (m *Manager) RevokeAllForParcel(ctx context.Context, parcelID uuid.UUID, reason string) (int64, error) {
	reason, err := normalizeReason(reason)
	if err != nil {
		return 0, err
	}

	n, err := m.storage.Token().RevokeForParcel(ctx, parcelID, reason, m.now())
	if err != nil {
		m.systemError(err)
		return 0, err
	}

	m.logger.Info("Parcel tokens revoked", "parcel_id", parcelID, "count", n, "reason", reason)
	m.metrics.Revoked(n)
	return n, nil
}

// RevokeAllForPickup invalidates every valid token of the pickup, returns count of revoked tokens
func (m *Manager) RevokeAllForPickup(ctx context.Context, pickupID uuid.UUID, reason string) (int64, error) {
	reason, err := normalizeReason(reason)
	if err != nil {
		return 0, err
	}

	n, err := m.storage.Token().RevokeForPickup(ctx, pickupID, reason, m.now())
	if err != nil {
		m.systemError(err)
		return 0, err
	}

	m.logger.Info("Pickup tokens revoked", "pickup_id", pickupID, "count", n, "reason", reason)
	m.metrics.Revoked(n)
	return n, nil
}

// SweepExpired deletes temporary tokens expired longer than retention ago
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	before := m.now().Add(-m.cfg.Retention)

	n, err := m.storage.Token().DeleteExpiredTemporary(ctx, before)
	if err != nil {
		m.metrics.SystemError(metrics.OperationSweep)
		return 0, fmt.Errorf("error while sweeping expired tokens. Err: %w", err)
	}

	if n > 0 {
		m.logger.Info("Expired temporary tokens deleted", "count", n, "expired_before", before)
	}
	m.metrics.Swept(n)
	return n, nil
}

// Truncated to the precision of stored timestamps
func (m *Manager) now() time.Time {
	return m.cfg.Now().UTC().Truncate(time.Microsecond)
}

// Unknown token is caller mistake, not system failure
func (m *Manager) systemError(err error) {
	if !errors.Is(err, apperrors.ErrTokenNotFound) {
		m.metrics.SystemError(metrics.OperationRevoke)
	}
}

func normalizeReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", apperrors.ErrRevocationReasonRequired
	}
	return reason, nil
}
