package codes

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/parcelguard/internal/models"
	"github.com/nkiryanov/parcelguard/internal/testutil"
	"github.com/nkiryanov/parcelguard/tests/e2e"
)

const (
	VerifyURL = "/api/codes/verify"
	RevokeURL = "/api/codes/revoke"
)

type IssueResponse struct {
	TokenID   uuid.UUID  `json:"token_id"`
	TokenType string     `json:"token_type"`
	Payload   string     `json:"payload"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type VerifyResponse struct {
	Valid             bool                  `json:"valid"`
	Status            string                `json:"status"`
	Message           string                `json:"message"`
	TokenID           *uuid.UUID            `json:"token_id"`
	VerificationCount int64                 `json:"verification_count"`
	TamperingDetected bool                  `json:"tampering_detected"`
	Parcel            *models.ParcelSummary `json:"parcel"`
	Pickup            *models.PickupSummary `json:"pickup"`
}

func post(t *testing.T, url string, auth string, body string) (int, []byte) {
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err, "failed to create request")
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err, "failed to send request")
	defer resp.Body.Close() // nolint:errcheck
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "failed to read response body")

	return resp.StatusCode, data
}

func issue(t *testing.T, url string, auth string, body string) IssueResponse {
	code, data := post(t, url, auth, body)
	require.Equalf(t, http.StatusOK, code, "not expected status code. Body: %s", string(data))

	var res IssueResponse
	require.NoError(t, json.Unmarshal(data, &res), "failed to unmarshal response body")
	return res
}

func verify(t *testing.T, srvURL string, auth string, payload string) VerifyResponse {
	body, err := json.Marshal(map[string]string{"code": payload})
	require.NoError(t, err)

	code, data := post(t, srvURL+VerifyURL, auth, string(body))
	require.Equalf(t, http.StatusOK, code, "not expected status code. Body: %s", string(data))

	var res VerifyResponse
	require.NoError(t, json.Unmarshal(data, &res), "failed to unmarshal response body")
	return res
}

func Test_CodeScenarios(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	e2e.ServeWithTx(pg.Pool, t, func(tx pgx.Tx, srvURL string, s e2e.Services) {
		weight := decimal.NewFromFloat(1.25)
		parcel := models.Parcel{
			ID:                uuid.New(),
			TrackingRef:       "SC12345678",
			Status:            "IN_TRANSIT",
			ServiceType:       "STANDARD",
			Weight:            &weight,
			OriginAgency:      "Dakar Plateau",
			DestinationAgency: "Saint-Louis",
		}
		s.Registry.AddParcel(parcel)

		pickup := models.Pickup{ID: uuid.New(), ParcelID: parcel.ID, TrackingRef: parcel.TrackingRef, State: "REQUESTED", TimeWindow: "14:00-17:00"}
		s.Registry.AddPickup(pickup)

		agent := s.Bearer(t, models.RoleAgent)
		admin := s.Bearer(t, models.RoleAdmin)
		courier := s.Bearer(t, models.RoleCourier)

		t.Run("permanent code lifecycle", func(t *testing.T) {
			testutil.WithTx(tx, t, func(_ pgx.Tx) {
				first := issue(t, srvURL+"/api/codes/parcels/"+parcel.ID.String()+"/permanent", agent, "")

				res := verify(t, srvURL, courier, first.Payload)
				require.True(t, res.Valid)
				assert.Equal(t, models.StatusValid, res.Status)
				assert.Equal(t, int64(1), res.VerificationCount)
				require.NotNil(t, res.Parcel)
				assert.Equal(t, "IN_TRANSIT", res.Parcel.Status)
				assert.Equal(t, "1.25", res.Parcel.Weight.String())

				token := strings.Split(first.Payload, "|")[2]
				code, data := post(t, srvURL+RevokeURL, admin, `{"token": "`+token+`", "reason": "label damaged"}`)
				require.Equalf(t, http.StatusOK, code, "Body: %s", string(data))

				res = verify(t, srvURL, courier, first.Payload)
				assert.False(t, res.Valid)
				assert.Equal(t, models.StatusTokenRevoked, res.Status)
				assert.Equal(t, "Ce QR code a été révoqué: label damaged", res.Message)

				second := issue(t, srvURL+"/api/codes/parcels/"+parcel.ID.String()+"/permanent", agent, "")
				assert.NotEqual(t, first.TokenID, second.TokenID)

				res = verify(t, srvURL, courier, second.Payload)
				assert.True(t, res.Valid)

				res = verify(t, srvURL, courier, first.Payload)
				assert.Equal(t, models.StatusTokenRevoked, res.Status)
				assert.Equal(t, "Ce QR code a été révoqué: label damaged", res.Message, "first revocation reason is kept")

				third := issue(t, srvURL+"/api/codes/parcels/"+parcel.ID.String()+"/permanent", agent, "")
				res = verify(t, srvURL, courier, second.Payload)
				assert.Equal(t, "Ce QR code a été révoqué: superseded", res.Message)
				res = verify(t, srvURL, courier, third.Payload)
				assert.True(t, res.Valid)
			})
		})

		t.Run("pickup code conversion", func(t *testing.T) {
			testutil.WithTx(tx, t, func(_ pgx.Tx) {
				temporary := issue(t, srvURL+"/api/codes/pickups/"+pickup.ID.String()+"/temporary", agent, `{"validity_hours": 24}`)
				require.NotNil(t, temporary.ExpiresAt)
				assert.True(t, strings.Contains(temporary.Payload, "|TMP-SC12345678|"))

				res := verify(t, srvURL, courier, temporary.Payload)
				require.True(t, res.Valid)
				require.NotNil(t, res.Pickup)
				assert.Equal(t, pickup.ID, res.Pickup.ID)
				assert.Equal(t, "14:00-17:00", res.Pickup.TimeWindow)

				permanent := issue(t, srvURL+"/api/codes/pickups/"+pickup.ID.String()+"/convert", agent, "")
				assert.Equal(t, models.TokenTypePermanent, permanent.TokenType)
				assert.Nil(t, permanent.ExpiresAt)

				res = verify(t, srvURL, courier, temporary.Payload)
				assert.Equal(t, models.StatusTokenRevoked, res.Status)
				assert.Equal(t, "Ce QR code a été révoqué: converted", res.Message)

				res = verify(t, srvURL, courier, permanent.Payload)
				assert.True(t, res.Valid)
				assert.Nil(t, res.Pickup)
			})
		})

		t.Run("forged codes", func(t *testing.T) {
			testutil.WithTx(tx, t, func(_ pgx.Tx) {
				issued := issue(t, srvURL+"/api/codes/parcels/"+parcel.ID.String()+"/permanent", agent, "")

				fields := strings.Split(issued.Payload, "|")

				swapped := append([]string(nil), fields...)
				swapped[3] = "SC87654321"
				res := verify(t, srvURL, courier, strings.Join(swapped, "|"))
				assert.Equal(t, models.StatusSignatureInvalid, res.Status)
				assert.True(t, res.TamperingDetected)

				unknown := append([]string(nil), fields...)
				unknown[2] = strings.Repeat("A", 43)
				res = verify(t, srvURL, courier, strings.Join(unknown, "|"))
				assert.Equal(t, models.StatusTokenNotFound, res.Status)
				assert.True(t, res.TamperingDetected)

				res = verify(t, srvURL, courier, "https://example.com/not-a-code")
				assert.Equal(t, models.StatusFormatInvalid, res.Status)

				res = verify(t, srvURL, courier, issued.Payload)
				assert.True(t, res.Valid)
				assert.Equal(t, int64(1), res.VerificationCount, "rejected attempts are not counted")
			})
		})

		t.Run("verification events reach registry", func(t *testing.T) {
			testutil.WithTx(tx, t, func(_ pgx.Tx) {
				issued := issue(t, srvURL+"/api/codes/parcels/"+parcel.ID.String()+"/permanent", agent, "")
				res := verify(t, srvURL, courier, issued.Payload)
				require.True(t, res.Valid)

				require.Eventually(t, func() bool {
					for _, e := range s.Registry.Events() {
						if e.TokenID == issued.TokenID {
							return true
						}
					}
					return false
				}, 2*time.Second, 10*time.Millisecond, "verification event should be delivered")
			})
		})
	})
}
