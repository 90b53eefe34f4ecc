// Package davfs serves a gateway.Gateway over WebDAV using
// golang.org/x/net/webdav.
package davfs

import (
	"context"
	"errors"
	"os"

	"github.com/materials-commons/sftpdav/pkg/gateway"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/net/webdav"
)

// FileSystem implements webdav.FileSystem on top of a gateway. Every call
// resolves against the back end; nothing is cached between calls.
type FileSystem struct {
	gw *gateway.Gateway
}

var _ webdav.FileSystem = (*FileSystem)(nil)

func NewFileSystem(gw *gateway.Gateway) *FileSystem {
	return &FileSystem{gw: gw}
}

func (fs *FileSystem) Mkdir(ctx context.Context, name string, _ os.FileMode) error {
	return toOSError("mkdir", name, fs.gw.CreateCollection(ctx, name))
}

// OpenFile opens name for reading, or starts a buffered upload when flag asks
// for write access. Uploads always replace the whole file; O_APPEND is not
// supported.
func (fs *FileSystem) OpenFile(ctx context.Context, name string, flag int, _ os.FileMode) (webdav.File, error) {
	if flagSet(flag, os.O_APPEND) {
		return nil, toOSError("open", name, pkgerrors.Wrapf(gateway.ErrNotImplemented, "append to %s", name))
	}

	if !isReadonly(flag) {
		return fs.openForWrite(ctx, name, flag)
	}

	res, err := fs.gw.Resolve(ctx, name)
	switch {
	case err != nil:
		return nil, toOSError("open", name, err)
	case res == nil:
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	case res.IsDir():
		return &dirFile{ctx: ctx, gw: fs.gw, res: res}, nil
	default:
		return &readFile{ctx: ctx, gw: fs.gw, res: res}, nil
	}
}

func (fs *FileSystem) openForWrite(ctx context.Context, name string, flag int) (webdav.File, error) {
	if flagSet(flag, os.O_EXCL) || !flagSet(flag, os.O_CREATE) {
		res, err := fs.gw.Resolve(ctx, name)
		switch {
		case err != nil:
			return nil, toOSError("open", name, err)
		case res != nil && flagSet(flag, os.O_EXCL):
			return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrExist}
		case res == nil && !flagSet(flag, os.O_CREATE):
			return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
		}
	}

	upload, err := fs.gw.BeginWrite(name)
	if err != nil {
		return nil, toOSError("open", name, err)
	}

	return &uploadFile{ctx: ctx, gw: fs.gw, upload: upload}, nil
}

func (fs *FileSystem) RemoveAll(ctx context.Context, name string) error {
	return toOSError("remove", name, fs.gw.Delete(ctx, name))
}

// Rename moves oldName to newName, replacing whatever is there.
func (fs *FileSystem) Rename(ctx context.Context, oldName, newName string) error {
	_, err := fs.gw.Move(ctx, oldName, newName, true)
	return toOSError("rename", oldName, err)
}

func (fs *FileSystem) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	res, err := fs.gw.Resolve(ctx, name)
	switch {
	case err != nil:
		return nil, toOSError("stat", name, err)
	case res == nil:
		return nil, &os.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
	}

	return &fileInfo{Resource: res}, nil
}

// toOSError turns gateway errors into the os errors x/net/webdav checks for
// with os.IsNotExist and friends.
func toOSError(op, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gateway.ErrNotFound):
		return &os.PathError{Op: op, Path: name, Err: os.ErrNotExist}
	case errors.Is(err, gateway.ErrAccessDenied):
		return &os.PathError{Op: op, Path: name, Err: os.ErrPermission}
	case errors.Is(err, gateway.ErrPreconditionFailed):
		return &os.PathError{Op: op, Path: name, Err: os.ErrExist}
	}

	return &os.PathError{Op: op, Path: name, Err: err}
}

func flagSet(flags, flagToCheck int) bool {
	return flags&flagToCheck == flagToCheck
}

func isReadonly(flags int) bool {
	switch {
	case flagSet(flags, os.O_WRONLY):
		return false
	case flagSet(flags, os.O_RDWR):
		return false
	default:
		return true
	}
}
