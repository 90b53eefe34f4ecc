package backend

import (
	"errors"
	"io"
	"io/fs"
	"net"
	"strings"

	"github.com/pkg/sftp"
)

// ErrSessionLost is returned by sessions whose underlying connection is gone.
var ErrSessionLost = errors.New("backend session lost")

// IsNotExist reports whether err means the path does not exist on the back end.
func IsNotExist(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, fs.ErrNotExist) {
		return true
	}

	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == uint32(sftp.ErrSSHFxNoSuchFile)
	}

	return false
}

// IsSessionFailure reports whether err means the session that produced it can
// no longer be trusted. Errors the server answered with (missing file,
// permission denied, generic failure) leave the session usable and return false.
func IsSessionFailure(err error) bool {
	if err == nil {
		return false
	}

	if IsNotExist(err) || errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrExist) {
		return false
	}

	if errors.Is(err, ErrSessionLost) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, sftp.ErrSSHFxConnectionLost) ||
		errors.Is(err, sftp.ErrSSHFxNoConnection) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) {
		return false
	}

	errMsg := strings.ToLower(err.Error())
	for _, msg := range connectionFailureMessages {
		if strings.Contains(errMsg, msg) {
			return true
		}
	}

	return false
}

var connectionFailureMessages = []string{
	"connection lost",
	"connection reset",
	"broken pipe",
	"use of closed network connection",
	"ssh: disconnect",
	"i/o timeout",
}
