package adminclient

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/materials-commons/sftpdav/pkg/backend"
	"github.com/materials-commons/sftpdav/pkg/backend/backendtest"
	"github.com/materials-commons/sftpdav/pkg/clog"
	"github.com/materials-commons/sftpdav/pkg/pool"
	"github.com/materials-commons/sftpdav/pkg/webapi"
	"github.com/stretchr/testify/require"
)

func startAdminAPI(t *testing.T) *Client {
	t.Helper()

	level := clog.Level()
	t.Cleanup(func() {
		clog.SetLevel(level)
		clog.SetOutput(os.Stdout, "stdout")
	})

	p, err := pool.New(backend.Descriptor{Host: "sftp.test", User: "tester", RootPath: "/data", PoolSize: 2},
		backendtest.NewFactory(backendtest.NewFS()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	e := echo.New()
	g := e.Group("/api")
	logController := webapi.NewLogController()
	g.POST("/set-logging-level", logController.SetLogLevelHandler)
	g.POST("/set-logging-output", logController.SetLogOutputHandler)
	g.POST("/set-logging", logController.SetLoggingHandler)
	g.GET("/show-logging", logController.ShowCurrentLoggingHandler)
	g.GET("/pool", webapi.NewPoolController(p, false).ShowPoolStatusHandler)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return New(srv.URL, 5*time.Second)
}

func TestPoolStatus(t *testing.T) {
	c := startAdminAPI(t)

	status, err := c.PoolStatus(context.Background())
	require.NoErrorf(t, err, "PoolStatus failed: %s", err)
	require.Equal(t, "tester@sftp.test:22/data", status.Backend)
	require.Equal(t, 2, status.Pool.Size)
	require.Equal(t, 2, status.Pool.Ready)
	require.False(t, status.ReadOnly)
}

func TestSetLogging(t *testing.T) {
	c := startAdminAPI(t)
	ctx := context.Background()

	state, err := c.SetLogging(ctx, "debug", "")
	require.NoError(t, err)
	require.Equal(t, "debug", state.LogLevel)

	logFile := filepath.Join(t.TempDir(), "admin.log")
	state, err = c.SetLogging(ctx, "", logFile)
	require.NoError(t, err)
	require.Equal(t, logFile, state.LogOutput)

	state, err = c.SetLogging(ctx, "warn", "stderr")
	require.NoError(t, err)
	require.Equal(t, "warn", state.LogLevel)
	require.Equal(t, "stderr", state.LogOutput)

	state, err = c.SetLogging(ctx, "", "")
	require.NoError(t, err)
	require.Equal(t, "warn", state.LogLevel)
}

func TestServerErrorsCarryMessage(t *testing.T) {
	c := startAdminAPI(t)

	_, err := c.SetLogging(context.Background(), "chatty", "")
	require.ErrorIs(t, err, ErrAdminAPI)
	require.Contains(t, err.Error(), "400")
	require.Contains(t, err.Error(), "invalid log level")
}

func TestUnreachableServer(t *testing.T) {
	c := New("127.0.0.1:1", time.Second)
	_, err := c.PoolStatus(context.Background())
	require.ErrorIs(t, err, ErrAdminAPI)
}
