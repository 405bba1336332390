package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/parcelguard/internal/testutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func Test_run(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	port, err := testutil.RandomPort()
	require.NoError(t, err, "failed to get random port to start server")
	listenAddr := fmt.Sprintf("localhost:%d", port)

	// .env of developer must not leak into tests
	getwd := func() (string, error) { return t.TempDir(), nil }
	noenv := func(string) string { return "" }

	t.Run("stop with signal", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond) // Half Second
		t.Cleanup(cancel)

		err = run(ctx, noenv, getwd, []string{
			"--address", listenAddr,
			"--log-level", "debug",
			"--registry", "http://localhost:3000",
			"--database", pg.DSN,
			"--secret-key", testSecret,
		})

		require.NoError(t, err, "on correct stop should not return error")
	})

	t.Run("in memory store", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		t.Cleanup(cancel)

		err := run(ctx, noenv, getwd, []string{
			"--address", listenAddr,
			"--secret-key", testSecret,
			"--environment", "dev",
		})

		require.NoError(t, err, "database is optional")
	})

	t.Run("stop with srv error", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond) // Half Second
		t.Cleanup(cancel)

		// Try to run without secret key. Must fail
		err := run(ctx, noenv, getwd, []string{
			"--address", listenAddr,
			"--log-level", "debug",
			"--database", pg.DSN,
			"--secret-key", "",
		})

		require.Error(t, err, "on incorrect stop should return error")
	})

	t.Run("weak secret key", func(t *testing.T) {
		err := run(t.Context(), noenv, getwd, []string{
			"--address", listenAddr,
			"--secret-key", "short",
		})

		require.Error(t, err)
	})

	t.Run("temporary validity out of range", func(t *testing.T) {
		err := run(t.Context(), noenv, getwd, []string{
			"--address", listenAddr,
			"--secret-key", testSecret,
			"--temporary-validity", "200h",
		})

		require.Error(t, err)
	})
}
