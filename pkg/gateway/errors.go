package gateway

import (
	"errors"
	"net/http"

	"github.com/materials-commons/sftpdav/pkg/pool"
)

// The error taxonomy every gateway operation reports in. Back-end errors never
// leave the gateway unmapped; pool errors pass through unchanged.
var (
	ErrNotFound           = errors.New("not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrBadRequest         = errors.New("bad request")
	ErrNotImplemented     = errors.New("not implemented")
)

var taxonomy = []error{
	ErrNotFound,
	ErrAccessDenied,
	ErrPreconditionFailed,
	ErrBadRequest,
	ErrNotImplemented,
	pool.ErrPoolExhausted,
	pool.ErrBackendUnavailable,
	pool.ErrPoolClosed,
}

// isClassified reports whether err already belongs to the taxonomy.
func isClassified(err error) bool {
	for _, target := range taxonomy {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// HTTPStatus maps a gateway error onto the status code the front end replies with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, pool.ErrPoolExhausted),
		errors.Is(err, pool.ErrBackendUnavailable),
		errors.Is(err, pool.ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusForbidden
	}
}
