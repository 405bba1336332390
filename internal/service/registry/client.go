// Package registry is the client of the parcel registry: read-only parcel and
// pickup lookups and the sink of verification audit events.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/parcelguard/internal/apperrors"
	"github.com/nkiryanov/parcelguard/internal/logger"
	"github.com/nkiryanov/parcelguard/internal/models"
)

const (
	CodeRetryAfter = "retry-after"
	CodeUnknown    = "unknown"
)

const (
	defaultTimeout    = 2 * time.Second
	defaultRetryAfter = 60 * time.Second
)

type Error struct {
	Code string

	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("code: %s, retry_after: %s, error: %v", e.Code, e.RetryAfter, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(code string, retryAfter time.Duration, err error) *Error {
	return &Error{
		Code:       code,
		RetryAfter: retryAfter,
		Err:        err,
	}
}

type Client struct {
	Addr string

	client *http.Client
	logger logger.Logger
}

func NewClient(addr string, l logger.Logger) *Client {
	return &Client{
		Addr:   strings.TrimRight(addr, "/"),
		client: &http.Client{Timeout: defaultTimeout},
		logger: l,
	}
}

// GetParcel returns parcel or apperrors.ErrParcelNotFound
func (c *Client) GetParcel(ctx context.Context, id uuid.UUID) (models.Parcel, error) {
	var p models.Parcel
	err := c.get(ctx, "/api/internal/parcels/"+id.String(), apperrors.ErrParcelNotFound, &p)
	return p, err
}

// GetPickup returns pickup or apperrors.ErrPickupNotFound
func (c *Client) GetPickup(ctx context.Context, id uuid.UUID) (models.Pickup, error) {
	var p models.Pickup
	err := c.get(ctx, "/api/internal/pickups/"+id.String(), apperrors.ErrPickupNotFound, &p)
	return p, err
}

// RecordVerification delivers audit event of successful verification
func (c *Client) RecordVerification(ctx context.Context, event models.VerificationEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Addr+"/api/internal/verification-events", bytes.NewReader(body))
	if err != nil {
		return NewError(CodeUnknown, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return NewError(CodeUnknown, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		return nil
	case http.StatusTooManyRequests:
		return c.tooManyRequests(resp)
	default:
		c.logger.Warn("Failed to record verification event", "status_code", resp.StatusCode, "token_id", event.TokenID)
		return NewError(CodeUnknown, 0, fmt.Errorf("unknown status code %d", resp.StatusCode))
	}
}

func (c *Client) get(ctx context.Context, path string, notFound error, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Addr+path, nil)
	if err != nil {
		return NewError(CodeUnknown, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return NewError(CodeUnknown, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.logger.Warn("Failed to decode registry response", "error", err, "path", path)
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("registry error: %w", notFound)
	case http.StatusTooManyRequests:
		return c.tooManyRequests(resp)
	default:
		c.logger.Warn("Registry lookup failed", "status_code", resp.StatusCode, "path", path)
		return NewError(CodeUnknown, 0, fmt.Errorf("unknown status code %d for %s", resp.StatusCode, path))
	}
}

func (c *Client) tooManyRequests(resp *http.Response) error {
	retryAfter := defaultRetryAfter

	header := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		retryAfter = time.Duration(seconds) * time.Second
	}

	c.logger.Warn("Parcel registry throttled", "retry_after", retryAfter)
	return NewError(CodeRetryAfter, retryAfter, errors.New("too many requests"))
}
