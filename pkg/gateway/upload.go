package gateway

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// UploadState tracks a single write transaction.
type UploadState int

const (
	UploadBegun UploadState = iota
	UploadBuffering
	UploadCommitting
	UploadDone
	UploadFailed
)

func (s UploadState) String() string {
	switch s {
	case UploadBegun:
		return "begun"
	case UploadBuffering:
		return "buffering"
	case UploadCommitting:
		return "committing"
	case UploadDone:
		return "done"
	case UploadFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s UploadState) terminal() bool {
	return s == UploadDone || s == UploadFailed
}

// ErrUploadFinished is returned when writing to or committing an upload that
// has already been committed or discarded.
var ErrUploadFinished = fmt.Errorf("%w: upload already finished", ErrBadRequest)

// Upload buffers the body of a write in memory until EndWrite sends it to
// the back end in one piece.
type Upload struct {
	// ID identifies the upload in log messages.
	ID string

	davPath     string
	backendPath string

	mu    sync.Mutex
	buf   *bytes.Buffer
	state UploadState
}

// Path returns the front-end path the upload will be written to.
func (u *Upload) Path() string {
	return u.davPath
}

func (u *Upload) Write(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state.terminal() || u.state == UploadCommitting {
		return 0, errors.Wrapf(ErrUploadFinished, "upload %s", u.ID)
	}

	u.state = UploadBuffering
	return u.buf.Write(p)
}

// Len returns the number of bytes buffered so far.
func (u *Upload) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.buf == nil {
		return 0
	}
	return u.buf.Len()
}

func (u *Upload) State() UploadState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Discard drops the buffered bytes without writing them. Discarding a
// finished upload does nothing.
func (u *Upload) Discard() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state.terminal() {
		return
	}
	u.finishLocked(UploadFailed)
}

// commit moves the upload to Committing and returns the buffered bytes.
func (u *Upload) commit() ([]byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state.terminal() || u.state == UploadCommitting {
		return nil, errors.Wrapf(ErrUploadFinished, "upload %s", u.ID)
	}

	u.state = UploadCommitting
	return u.buf.Bytes(), nil
}

func (u *Upload) finish(state UploadState) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.finishLocked(state)
}

func (u *Upload) finishLocked(state UploadState) {
	u.state = state
	u.buf = nil
}
