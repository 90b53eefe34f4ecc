package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/materials-commons/sftpdav/pkg/backend"
	"github.com/materials-commons/sftpdav/pkg/backend/backendtest"
	"github.com/materials-commons/sftpdav/pkg/config"
	"github.com/materials-commons/sftpdav/pkg/pool"
	"github.com/materials-commons/sftpdav/pkg/webapi"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		SFTP: config.SFTPConfig{
			Host:           "sftp.test",
			Port:           22,
			User:           "tester",
			Password:       "secret",
			RootPath:       "/srv",
			PoolSize:       2,
			ConnectTimeout: time.Second,
			AcquireTimeout: 50 * time.Millisecond,
		},
		DAV:     config.DAVConfig{Listen: "127.0.0.1:0"},
		Logging: config.LoggingConfig{Level: "info", Output: "stdout"},
	}
}

func TestServeStopsWhenContextIsCancelled(t *testing.T) {
	fs := backendtest.NewFS()
	fs.MkdirAll("/srv")
	factory := backendtest.NewFactory(fs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, testConfig(), factory) }()

	require.Eventually(t, func() bool { return factory.Created() == 2 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	for _, s := range factory.Sessions() {
		require.True(t, s.Closed())
	}
}

func TestServeFailsWhenBackendIsDown(t *testing.T) {
	factory := backendtest.NewFactory(backendtest.NewFS())
	factory.FailNewSessions(errors.New("connection refused"))

	err := serve(context.Background(), testConfig(), factory)
	require.ErrorIs(t, err, pool.ErrBackendUnavailable)
}

func TestServeRejectsBadLogLevel(t *testing.T) {
	cfg := testConfig()
	cfg.Logging.Level = "chatty"
	require.Error(t, serve(context.Background(), cfg, backendtest.NewFactory(backendtest.NewFS())))
}

func TestAdminRoutes(t *testing.T) {
	fs := backendtest.NewFS()
	p, err := pool.New(backend.Descriptor{Host: "sftp.test", User: "tester", RootPath: "/", PoolSize: 2}, backendtest.NewFactory(fs))
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	e := echo.New()
	setupRoutes(RouteDependencies{e: e, pool: p, readOnly: true})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pool", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, true, status["read_only"])

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/show-logging", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "log_level")
}

func TestStatusCommand(t *testing.T) {
	p, err := pool.New(backend.Descriptor{Host: "sftp.test", User: "tester", RootPath: "/data", PoolSize: 1},
		backendtest.NewFactory(backendtest.NewFS()))
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	e := echo.New()
	setupRoutes(RouteDependencies{e: e, pool: p})
	srv := httptest.NewServer(e)
	defer srv.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"status", "--admin", srv.URL})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())

	var status webapi.PoolStatus
	require.NoError(t, json.Unmarshal(out.Bytes(), &status))
	require.Equal(t, "tester@sftp.test:22/data", status.Backend)
	require.Equal(t, 1, status.Pool.Size)
}
