package webapi

import (
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/materials-commons/sftpdav/pkg/clog"
	"github.com/pkg/errors"
)

// LogController changes the level and destination of the process log at
// runtime.
type LogController struct {
	mu sync.Mutex
}

// LoggingState is the body of set-logging and the reply of every logging endpoint.
type LoggingState struct {
	LogLevel  string `json:"log_level"`
	LogOutput string `json:"log_output"`
}

func NewLogController() *LogController {
	return &LogController{}
}

func (c *LogController) SetLoggingHandler(ctx echo.Context) error {
	var req LoggingState

	if err := ctx.Bind(&req); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	oldLevel := clog.Level()
	if err := c.setLoggingLevel(req.LogLevel); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := c.setLoggingOutput(req.LogOutput); err != nil {
		// Put the level back so a half-applied request leaves nothing behind.
		clog.SetLevel(oldLevel)
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ctx.JSON(http.StatusOK, c.state())
}

func (c *LogController) SetLogLevelHandler(ctx echo.Context) error {
	var req struct {
		LogLevel string `json:"log_level"`
	}

	if err := ctx.Bind(&req); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.setLoggingLevel(req.LogLevel); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ctx.JSON(http.StatusOK, c.state())
}

func (c *LogController) setLoggingLevel(logLevel string) error {
	if err := clog.SetLevelFromString(logLevel); err != nil {
		return errors.Wrapf(err, "invalid log level %s", logLevel)
	}

	return nil
}

func (c *LogController) SetLogOutputHandler(ctx echo.Context) error {
	var req struct {
		LogOutput string `json:"log_output"`
	}

	if err := ctx.Bind(&req); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.setLoggingOutput(req.LogOutput); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ctx.JSON(http.StatusOK, c.state())
}

func (c *LogController) setLoggingOutput(logOutput string) error {
	return clog.SetOutputByName(logOutput)
}

func (c *LogController) ShowCurrentLoggingHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.state())
}

func (c *LogController) state() LoggingState {
	return LoggingState{
		LogLevel:  clog.Level().String(),
		LogOutput: clog.Output(),
	}
}
