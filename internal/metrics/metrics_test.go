package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/parcelguard/internal/models"
)

func TestMetrics(t *testing.T) {
	t.Run("verification outcomes", func(t *testing.T) {
		m := New()

		m.Verification(models.StatusValid)
		m.Verification(models.StatusValid)
		m.Verification(models.StatusSignatureInvalid)
		m.Verification(models.StatusVerificationError)

		require.Equal(t, 2.0, promtest.ToFloat64(m.verifications.WithLabelValues(models.StatusValid)))
		require.Equal(t, 1.0, promtest.ToFloat64(m.rejected.WithLabelValues(models.StatusSignatureInvalid)))
		require.Equal(t, 0.0, promtest.ToFloat64(m.rejected.WithLabelValues(models.StatusValid)))
		require.Equal(t, 1.0, promtest.ToFloat64(m.systemErrors.WithLabelValues(OperationVerify)))
	})

	t.Run("counters", func(t *testing.T) {
		m := New()

		m.Issued(models.TokenTypePermanent)
		m.Revoked(3)
		m.Revoked(0)
		m.Swept(2)
		m.AuditDropped()

		require.Equal(t, 1.0, promtest.ToFloat64(m.issued.WithLabelValues(models.TokenTypePermanent)))
		require.Equal(t, 3.0, promtest.ToFloat64(m.revoked))
		require.Equal(t, 2.0, promtest.ToFloat64(m.swept))
		require.Equal(t, 1.0, promtest.ToFloat64(m.auditDropped))
	})

	t.Run("nil metrics is noop", func(t *testing.T) {
		var m *Metrics

		require.NotPanics(t, func() {
			m.Verification(models.StatusValid)
			m.SystemError(OperationIssue)
			m.Issued(models.TokenTypeTemporary)
			m.Revoked(1)
			m.Swept(1)
			m.AuditDropped()
		})
	})

	t.Run("handler exposes metrics", func(t *testing.T) {
		m := New()
		m.Issued(models.TokenTypeTemporary)

		srv := httptest.NewServer(m.Handler())
		defer srv.Close()

		resp, err := http.Get(srv.URL)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		defer resp.Body.Close() // nolint:errcheck

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, string(body), `parcelguard_issued_tokens_total{token_type="TEMPORARY"} 1`)
	})
}
