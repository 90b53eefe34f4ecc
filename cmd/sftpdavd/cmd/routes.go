package cmd

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/materials-commons/sftpdav/pkg/pool"
	"github.com/materials-commons/sftpdav/pkg/webapi"
)

type RouteDependencies struct {
	e        *echo.Echo
	pool     *pool.Pool
	readOnly bool
}

func setupRoutes(deps RouteDependencies) {
	deps.e.Use(middleware.Recover())
	g := deps.e.Group("/api")

	logController := webapi.NewLogController()
	g.POST("/set-logging-level", logController.SetLogLevelHandler)
	g.POST("/set-logging-output", logController.SetLogOutputHandler)
	g.POST("/set-logging", logController.SetLoggingHandler)
	g.GET("/show-logging", logController.ShowCurrentLoggingHandler)

	poolController := webapi.NewPoolController(deps.pool, deps.readOnly)
	g.GET("/pool", poolController.ShowPoolStatusHandler)
}
