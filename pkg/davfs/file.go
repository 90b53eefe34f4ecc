package davfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"time"

	"github.com/materials-commons/sftpdav/pkg/gateway"
	"golang.org/x/net/webdav"
)

var errNegativePosition = errors.New("negative position")

// fileInfo adds the x/net/webdav ETager and ContentTyper methods to a
// resource so PROPFIND never has to read file content.
type fileInfo struct {
	*gateway.Resource
}

func (fi *fileInfo) ETag(_ context.Context) (string, error) {
	if fi.IsDir() {
		return "", webdav.ErrNotImplemented
	}
	return fi.Resource.ETag(), nil
}

func (fi *fileInfo) ContentType(_ context.Context) (string, error) {
	if fi.IsDir() {
		return "", webdav.ErrNotImplemented
	}
	return fi.Resource.ContentType(), nil
}

// readFile is an open leaf resource. Content is fetched on the first Read;
// seeking before that only moves the position.
type readFile struct {
	ctx    context.Context
	gw     *gateway.Gateway
	res    *gateway.Resource
	reader *bytes.Reader
	offset int64
}

func (f *readFile) load() error {
	if f.reader != nil {
		return nil
	}

	r, err := f.gw.ReadContent(f.ctx, f.res.Path())
	if err != nil {
		return toOSError("read", f.res.Path(), err)
	}

	if _, err := r.Seek(f.offset, io.SeekStart); err != nil {
		return err
	}

	f.reader = r
	return nil
}

func (f *readFile) Read(p []byte) (int, error) {
	if err := f.load(); err != nil {
		return 0, err
	}
	return f.reader.Read(p)
}

func (f *readFile) Seek(offset int64, whence int) (int64, error) {
	if f.reader != nil {
		return f.reader.Seek(offset, whence)
	}

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.offset + offset
	case io.SeekEnd:
		abs = f.res.Size() + offset
	default:
		return 0, os.ErrInvalid
	}

	if abs < 0 {
		return 0, errNegativePosition
	}

	f.offset = abs
	return abs, nil
}

func (f *readFile) Readdir(_ int) ([]fs.FileInfo, error) {
	return nil, &os.PathError{Op: "readdir", Path: f.res.Path(), Err: os.ErrInvalid}
}

func (f *readFile) Stat() (fs.FileInfo, error) {
	return &fileInfo{Resource: f.res}, nil
}

func (f *readFile) Write(_ []byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: f.res.Path(), Err: os.ErrPermission}
}

func (f *readFile) Close() error {
	f.reader = nil
	return nil
}

// dirFile is an open collection. The listing is fetched once, on the first
// Readdir.
type dirFile struct {
	ctx     context.Context
	gw      *gateway.Gateway
	res     *gateway.Resource
	entries []fs.FileInfo
	loaded  bool
	pos     int
}

// Readdir follows os.File.Readdir: count <= 0 returns everything left with a
// nil error, otherwise at most count entries and io.EOF at the end.
func (f *dirFile) Readdir(count int) ([]fs.FileInfo, error) {
	if !f.loaded {
		resources, err := f.gw.List(f.ctx, f.res.Path())
		if err != nil {
			return nil, toOSError("readdir", f.res.Path(), err)
		}

		f.entries = make([]fs.FileInfo, 0, len(resources))
		for _, r := range resources {
			f.entries = append(f.entries, &fileInfo{Resource: r})
		}
		f.loaded = true
	}

	remaining := f.entries[f.pos:]
	if count <= 0 {
		f.pos = len(f.entries)
		return remaining, nil
	}

	if len(remaining) == 0 {
		return nil, io.EOF
	}

	if count > len(remaining) {
		count = len(remaining)
	}
	f.pos += count

	return remaining[:count], nil
}

func (f *dirFile) Stat() (fs.FileInfo, error) {
	return &fileInfo{Resource: f.res}, nil
}

func (f *dirFile) Read(_ []byte) (int, error) {
	return 0, &os.PathError{Op: "read", Path: f.res.Path(), Err: os.ErrInvalid}
}

func (f *dirFile) Seek(_ int64, _ int) (int64, error) {
	return 0, &os.PathError{Op: "seek", Path: f.res.Path(), Err: os.ErrInvalid}
}

func (f *dirFile) Write(_ []byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: f.res.Path(), Err: os.ErrInvalid}
}

func (f *dirFile) Close() error {
	return nil
}

// uploadFile collects written bytes in a gateway upload and commits them on
// Close.
type uploadFile struct {
	ctx    context.Context
	gw     *gateway.Gateway
	upload *gateway.Upload
	closed bool
}

func (f *uploadFile) Write(p []byte) (int, error) {
	n, err := f.upload.Write(p)
	if err != nil {
		return n, toOSError("write", f.upload.Path(), err)
	}
	return n, nil
}

// Close sends the buffered content to the back end.
func (f *uploadFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	return toOSError("close", f.upload.Path(), f.gw.EndWrite(f.ctx, f.upload))
}

func (f *uploadFile) Stat() (fs.FileInfo, error) {
	return &pendingInfo{name: path.Base(f.upload.Path()), size: int64(f.upload.Len()), modTime: time.Now()}, nil
}

func (f *uploadFile) Read(_ []byte) (int, error) {
	return 0, &os.PathError{Op: "read", Path: f.upload.Path(), Err: os.ErrInvalid}
}

func (f *uploadFile) Seek(_ int64, _ int) (int64, error) {
	return 0, &os.PathError{Op: "seek", Path: f.upload.Path(), Err: os.ErrInvalid}
}

func (f *uploadFile) Readdir(_ int) ([]fs.FileInfo, error) {
	return nil, &os.PathError{Op: "readdir", Path: f.upload.Path(), Err: os.ErrInvalid}
}

// pendingInfo describes an upload that has not reached the back end yet.
type pendingInfo struct {
	name    string
	size    int64
	modTime time.Time
}

func (fi *pendingInfo) Name() string       { return fi.name }
func (fi *pendingInfo) Size() int64        { return fi.size }
func (fi *pendingInfo) Mode() os.FileMode  { return 0644 }
func (fi *pendingInfo) ModTime() time.Time { return fi.modTime }
func (fi *pendingInfo) IsDir() bool        { return false }
func (fi *pendingInfo) Sys() any           { return nil }
