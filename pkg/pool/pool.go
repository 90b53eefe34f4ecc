// Package pool keeps a fixed number of authenticated back-end sessions open
// and hands them out one operation at a time.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/materials-commons/sftpdav/pkg/backend"
	"github.com/materials-commons/sftpdav/pkg/clog"
)

var (
	// ErrPoolExhausted is returned when no session became ready within the acquire timeout.
	ErrPoolExhausted = errors.New("no back-end session available")

	// ErrBackendUnavailable is returned when a session could not be created.
	ErrBackendUnavailable = errors.New("back end unavailable")

	// ErrPoolClosed is returned by Acquire once Close has been called.
	ErrPoolClosed = errors.New("session pool closed")
)

// slot is one of the pool's fixed positions. Its session is nil when the last
// replacement attempt failed; the next Acquire of the slot tries again.
type slot struct {
	id      int
	session backend.Session
}

// Stats is a snapshot of the pool counters.
type Stats struct {
	Size      int `json:"size"`
	Ready     int `json:"ready"`
	InUse     int `json:"in_use"`
	Replaced  int `json:"replaced"`
	Exhausted int `json:"exhausted"`
}

// Pool is a fixed-size set of back-end sessions. Sessions are created eagerly,
// probed on checkout and replaced when they fail.
type Pool struct {
	descriptor backend.Descriptor
	factory    backend.Factory
	ready      chan *slot
	done       chan struct{}

	mu        sync.Mutex
	closed    bool
	inUse     int
	replaced  int
	exhausted int
}

// New opens exactly d.PoolSize sessions through factory. If any of them fails
// the ones already opened are closed and the error wraps ErrBackendUnavailable.
func New(d backend.Descriptor, factory backend.Factory) (*Pool, error) {
	d = d.WithDefaults()
	if d.PoolSize < 0 {
		return nil, fmt.Errorf("%w: invalid pool size %d for %s", ErrBackendUnavailable, d.PoolSize, d)
	}

	p := &Pool{
		descriptor: d,
		factory:    factory,
		ready:      make(chan *slot, d.PoolSize),
		done:       make(chan struct{}),
	}

	for i := 0; i < d.PoolSize; i++ {
		session, err := factory.NewSession(d)
		if err != nil {
			p.drain()
			return nil, fmt.Errorf("%w: creating session %d of %d for %s: %w", ErrBackendUnavailable, i+1, d.PoolSize, d, err)
		}
		p.ready <- &slot{id: i + 1, session: session}
	}

	clog.UsingCtx("pool").Infof("Opened %d sessions to %s", d.PoolSize, d)

	return p, nil
}

// Descriptor returns the descriptor the pool was built from, defaults applied.
func (p *Pool) Descriptor() backend.Descriptor {
	return p.descriptor
}

// Acquire checks out a live session. It waits at most the descriptor's
// AcquireTimeout, or until ctx is done, for one to become ready.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	timer := time.NewTimer(p.descriptor.AcquireTimeout)
	defer timer.Stop()

	var s *slot
	select {
	case s = <-p.ready:
	case <-p.done:
		return nil, ErrPoolClosed
	case <-timer.C:
		p.countExhausted()
		return nil, fmt.Errorf("%w: waited %s", ErrPoolExhausted, p.descriptor.AcquireTimeout)
	case <-ctx.Done():
		p.countExhausted()
		return nil, fmt.Errorf("%w: %w", ErrPoolExhausted, ctx.Err())
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		closeSession(s)
		return nil, ErrPoolClosed
	}
	p.inUse++
	p.mu.Unlock()

	lease := &Lease{pool: p, slot: s}
	if err := p.ensureLive(s); err != nil {
		lease.Release()
		return nil, err
	}

	return lease, nil
}

// With runs fn on a checked-out session and returns the session afterwards.
// When fn fails with an error that leaves the session unusable, the session is
// discarded and replaced instead of returned.
func (p *Pool) With(ctx context.Context, fn func(session backend.Session) error) (err error) {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if backend.IsSessionFailure(err) {
			if replaceErr := lease.Fail(err); replaceErr != nil {
				err = fmt.Errorf("%w: %w", replaceErr, err)
			}
			return
		}
		lease.Release()
	}()

	return fn(lease.Session())
}

// Close stops handing out sessions and closes every ready one. Sessions that
// are checked out are closed when they come back.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.drain()
	clog.UsingCtx("pool").Infof("Closed session pool for %s", p.descriptor)
	return nil
}

// Stats returns the current counters. Ready + InUse equals Size whenever no
// checkout or return is in flight.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Size:      p.descriptor.PoolSize,
		Ready:     len(p.ready),
		InUse:     p.inUse,
		Replaced:  p.replaced,
		Exhausted: p.exhausted,
	}
}

// ensureLive probes the slot's session and replaces it when the probe fails.
func (p *Pool) ensureLive(s *slot) error {
	if s.session != nil {
		_, err := s.session.Stat(".")
		if err == nil {
			return nil
		}

		clog.UsingCtx("pool").Warnf("Session %d failed liveness probe, replacing: %s", s.id, err)
		closeSession(s)
	}

	return p.replace(s)
}

// replace fills an empty slot with a new session.
func (p *Pool) replace(s *slot) error {
	session, err := p.factory.NewSession(p.descriptor)
	if err != nil {
		clog.UsingCtx("pool").Errorf("Unable to replace session %d for %s: %s", s.id, p.descriptor, err)
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	s.session = session

	p.mu.Lock()
	p.replaced++
	p.mu.Unlock()

	clog.UsingCtx("pool").Debugf("Replaced session %d", s.id)
	return nil
}

// put returns a checked-out slot to the ready set, or closes its session when
// the pool has been closed.
func (p *Pool) put(s *slot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inUse--
	if p.closed {
		closeSession(s)
		return
	}

	p.ready <- s
}

func (p *Pool) drain() {
	for {
		select {
		case s := <-p.ready:
			closeSession(s)
		default:
			return
		}
	}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) countExhausted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exhausted++
}

func closeSession(s *slot) {
	if s.session == nil {
		return
	}

	if err := s.session.Close(); err != nil {
		clog.UsingCtx("pool").Debugf("Closing session %d: %s", s.id, err)
	}
	s.session = nil
}
