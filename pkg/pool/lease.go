package pool

import (
	"sync"

	"github.com/materials-commons/sftpdav/pkg/backend"
	"github.com/materials-commons/sftpdav/pkg/clog"
)

// Lease is exclusive use of one pooled session. Exactly one of Release or Fail
// takes effect; later calls are no-ops.
type Lease struct {
	pool *Pool
	slot *slot
	once sync.Once
}

// Session returns the checked-out session.
func (l *Lease) Session() backend.Session {
	return l.slot.session
}

// Release returns the session to the pool.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.put(l.slot)
	})
}

// Fail discards the session because cause showed it can no longer be
// trusted, and refills the slot. It returns an error wrapping
// ErrBackendUnavailable when no replacement could be created; the slot then
// goes back empty.
func (l *Lease) Fail(cause error) error {
	var err error

	l.once.Do(func() {
		clog.UsingCtx("pool").Warnf("Discarding session %d after failure: %s", l.slot.id, cause)
		closeSession(l.slot)

		if !l.pool.isClosed() {
			err = l.pool.replace(l.slot)
		}

		l.pool.put(l.slot)
	})

	return err
}
