package e2e

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/parcelguard/internal/handlers"
	"github.com/nkiryanov/parcelguard/internal/logger"
	"github.com/nkiryanov/parcelguard/internal/metrics"
	"github.com/nkiryanov/parcelguard/internal/models"
	"github.com/nkiryanov/parcelguard/internal/repository"
	"github.com/nkiryanov/parcelguard/internal/repository/postgres"
	"github.com/nkiryanov/parcelguard/internal/service/actor"
	"github.com/nkiryanov/parcelguard/internal/service/audit"
	"github.com/nkiryanov/parcelguard/internal/service/issuer"
	"github.com/nkiryanov/parcelguard/internal/service/qrimage"
	"github.com/nkiryanov/parcelguard/internal/service/registry"
	"github.com/nkiryanov/parcelguard/internal/service/revocation"
	"github.com/nkiryanov/parcelguard/internal/service/signer"
	"github.com/nkiryanov/parcelguard/internal/service/verifier"
	"github.com/nkiryanov/parcelguard/internal/testutil"
)

const SecretKey = "0123456789abcdef0123456789abcdef"

type Services struct {
	Storage  repository.Storage
	Issuer   *issuer.Issuer
	Verifier *verifier.Verifier
	Revoker  *revocation.Manager
	Registry *Registry
	Actors   *actor.TokenManager
}

// Bearer returns authorization header value for a new actor with the role
func (s Services) Bearer(t *testing.T, role string) string {
	access, err := s.Actors.Issue(models.Actor{ID: uuid.New(), Role: role})
	require.NoError(t, err, "failed to issue access token")
	return "Bearer " + access
}

// Create db transaction and run server in with that connection (one connection cause one transaction)
// The created transaction passed to inner function: so, you can safely use testutil.WithTx with it
func ServeWithTx(dbpool *pgxpool.Pool, t *testing.T, fn func(tx pgx.Tx, srvURL string, services Services)) {
	testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
		l := logger.NewNoOpLogger()
		m := metrics.New()

		// Initialize storage and external services
		storage := postgres.NewStorage(tx)
		reg := StartRegistry(t)
		registryClient := registry.NewClient(reg.URL, l)

		codeSigner, err := signer.New(SecretKey)
		require.NoError(t, err, "signer should be created without errors")
		actors, err := actor.New(actor.Config{SecretKey: "test-secret"})
		require.NoError(t, err, "actor token manager should be created without errors")

		// Audit events are delivered in background until the test ends
		ctx, cancel := context.WithCancel(t.Context())
		dispatcher := audit.New(audit.Config{Workers: 1}, registryClient, m, l)
		stopped := dispatcher.Run(ctx)
		defer func() {
			cancel()
			<-stopped
		}()

		services := Services{
			Storage:  storage,
			Issuer:   issuer.New(issuer.Config{}, storage, codeSigner, m, l),
			Verifier: verifier.New(verifier.Config{Subjects: registryClient, Audit: dispatcher}, storage, codeSigner, m, l),
			Revoker:  revocation.New(revocation.Config{}, storage, m, l),
			Registry: reg,
			Actors:   actors,
		}

		// Complete all together as router
		router := handlers.NewRouter(
			handlers.Config{StoreTimeout: 5 * time.Second, Metrics: m.Handler()},
			handlers.Services{
				Issuer:   services.Issuer,
				Verifier: services.Verifier,
				Revoker:  services.Revoker,
				Subjects: registryClient,
				Renderer: qrimage.New(0),
				Actors:   actors,
			},
			l,
		)

		// Run http server with the router in transaction
		srv := httptest.NewServer(router)
		defer srv.Close()

		fn(tx, srv.URL, services)
	})
}
