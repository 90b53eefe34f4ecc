package webapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/materials-commons/sftpdav/pkg/backend"
	"github.com/materials-commons/sftpdav/pkg/pool"
)

// PoolStatter is the read-only view of a session pool the admin API needs.
type PoolStatter interface {
	Stats() pool.Stats
	Descriptor() backend.Descriptor
}

type PoolController struct {
	pool     PoolStatter
	readOnly bool
}

type PoolStatus struct {
	Backend  string     `json:"backend"`
	ReadOnly bool       `json:"read_only"`
	Pool     pool.Stats `json:"pool"`
}

func NewPoolController(p PoolStatter, readOnly bool) *PoolController {
	return &PoolController{pool: p, readOnly: readOnly}
}

func (c *PoolController) ShowPoolStatusHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, PoolStatus{
		Backend:  c.pool.Descriptor().String(),
		ReadOnly: c.readOnly,
		Pool:     c.pool.Stats(),
	})
}
