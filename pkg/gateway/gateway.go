// Package gateway maps WebDAV resource operations onto pooled back-end
// sessions. Each operation checks out one session, runs its back-end calls on
// it and returns it before replying, so no session outlives a request.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"

	"github.com/hashicorp/go-uuid"
	"github.com/materials-commons/sftpdav/pkg/backend"
	"github.com/materials-commons/sftpdav/pkg/clog"
	"github.com/materials-commons/sftpdav/pkg/davpath"
	pkgerrors "github.com/pkg/errors"
)

// Sessions runs a function on a checked-out back-end session. *pool.Pool
// implements it.
type Sessions interface {
	With(ctx context.Context, fn func(session backend.Session) error) error
}

type Options struct {
	// Sessions supplies back-end sessions.
	Sessions Sessions

	// RootPath is the back-end directory the front-end tree is rooted at.
	RootPath string

	// ReadOnly makes every mutating operation fail with ErrAccessDenied.
	ReadOnly bool
}

// Gateway is safe for concurrent use. It holds no per-request state.
type Gateway struct {
	sessions Sessions
	paths    davpath.Translator
	readOnly bool
}

func New(opts Options) *Gateway {
	return &Gateway{
		sessions: opts.Sessions,
		paths:    davpath.NewTranslator(opts.RootPath),
		readOnly: opts.ReadOnly,
	}
}

// ReadOnly reports whether mutating operations are rejected.
func (g *Gateway) ReadOnly() bool {
	return g.readOnly
}

// Resolve stats davPath. A path that does not exist returns (nil, nil).
func (g *Gateway) Resolve(ctx context.Context, davPath string) (*Resource, error) {
	p, err := g.paths.ToBackend(davPath)
	if err != nil {
		return nil, g.translate("resolve", davPath, err)
	}

	var fi os.FileInfo
	err = g.sessions.With(ctx, func(session backend.Session) error {
		fi, err = session.Stat(p)
		return err
	})

	switch {
	case backend.IsNotExist(err):
		return nil, nil
	case err != nil:
		return nil, g.translate("resolve", davPath, err)
	}

	return newResource(davPath, fi), nil
}

// List returns the entries of the collection at davPath, without "." and "..".
func (g *Gateway) List(ctx context.Context, davPath string) ([]*Resource, error) {
	p, err := g.paths.ToBackend(davPath)
	if err != nil {
		return nil, g.translate("list", davPath, err)
	}

	var entries []os.FileInfo
	err = g.sessions.With(ctx, func(session backend.Session) error {
		entries, err = readDir(session, p)
		return err
	})
	if err != nil {
		return nil, g.translate("list", davPath, err)
	}

	resources := make([]*Resource, 0, len(entries))
	for _, entry := range entries {
		resources = append(resources, newResource(davpath.ChildPath(davPath, entry.Name()), entry))
	}

	return resources, nil
}

// ListChildren returns the names of the entries of the collection at davPath.
func (g *Gateway) ListChildren(ctx context.Context, davPath string) ([]string, error) {
	resources, err := g.List(ctx, davPath)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(resources))
	for _, r := range resources {
		names = append(names, r.Name())
	}

	return names, nil
}

// ReadContent reads the whole file at davPath. The session is returned to the
// pool before the reader is handed back.
func (g *Gateway) ReadContent(ctx context.Context, davPath string) (*bytes.Reader, error) {
	p, err := g.paths.ToBackend(davPath)
	if err != nil {
		return nil, g.translate("read", davPath, err)
	}

	var data []byte
	err = g.sessions.With(ctx, func(session backend.Session) error {
		r, err := session.Open(p)
		if err != nil {
			return err
		}
		defer func() { _ = r.Close() }()

		data, err = io.ReadAll(r)
		return err
	})
	if err != nil {
		return nil, g.translate("read", davPath, err)
	}

	clog.UsingCtx("gateway").Debugf("Read %d bytes from %s", len(data), p)
	return bytes.NewReader(data), nil
}

// BeginWrite starts buffering a write to davPath. Nothing reaches the back
// end until EndWrite.
func (g *Gateway) BeginWrite(davPath string) (*Upload, error) {
	if g.readOnly {
		return nil, g.readOnlyError("write", davPath)
	}

	p, err := g.paths.ToBackend(davPath)
	if err != nil {
		return nil, g.translate("write", davPath, err)
	}

	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, pkgerrors.Wrapf(ErrAccessDenied, "write %s: unable to create upload id: %s", davPath, err)
	}

	return &Upload{
		ID:          id,
		davPath:     davpath.Clean(davPath),
		backendPath: p,
		buf:         new(bytes.Buffer),
		state:       UploadBegun,
	}, nil
}

// EndWrite writes the buffered bytes of u to the back end on one session. The
// buffer is released whatever the outcome.
func (g *Gateway) EndWrite(ctx context.Context, u *Upload) error {
	data, err := u.commit()
	if err != nil {
		return err
	}

	err = g.sessions.With(ctx, func(session backend.Session) error {
		w, err := session.Create(u.backendPath)
		if err != nil {
			return err
		}

		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return err
		}

		return w.Close()
	})

	if err != nil {
		u.finish(UploadFailed)
		clog.UsingCtx("gateway").WithField("upload", u.ID).Errorf("Upload of %d bytes to %s failed: %s", len(data), u.backendPath, err)
		if isClassified(err) {
			return err
		}
		return pkgerrors.Wrapf(ErrAccessDenied, "write %s: %s", u.davPath, err)
	}

	u.finish(UploadDone)
	clog.UsingCtx("gateway").WithField("upload", u.ID).Debugf("Uploaded %d bytes to %s", len(data), u.backendPath)
	return nil
}

// CreateCollection creates the directory at davPath.
func (g *Gateway) CreateCollection(ctx context.Context, davPath string) error {
	if g.readOnly {
		return g.readOnlyError("mkcol", davPath)
	}

	p, err := g.paths.ToBackend(davPath)
	if err != nil {
		return g.translate("mkcol", davPath, err)
	}

	err = g.sessions.With(ctx, func(session backend.Session) error {
		return session.Mkdir(p)
	})
	if err != nil {
		if isClassified(err) {
			return err
		}
		clog.UsingCtx("gateway").Errorf("Unable to create collection %s: %s", p, err)
		return pkgerrors.Wrapf(ErrAccessDenied, "mkcol %s: %s", davPath, err)
	}

	return nil
}

// Delete removes the file or, recursively, the collection at davPath.
func (g *Gateway) Delete(ctx context.Context, davPath string) error {
	if g.readOnly {
		return g.readOnlyError("delete", davPath)
	}

	if davpath.IsRoot(davPath) {
		return pkgerrors.Wrap(ErrAccessDenied, "delete: the root collection cannot be deleted")
	}

	p, err := g.paths.ToBackend(davPath)
	if err != nil {
		return g.translate("delete", davPath, err)
	}

	err = g.sessions.With(ctx, func(session backend.Session) error {
		return remove(session, p)
	})

	return g.translate("delete", davPath, err)
}

// Move renames src to dest. An existing dest is replaced when overwrite is
// set and is an ErrPreconditionFailed otherwise. existed reports whether dest
// existed beforehand.
func (g *Gateway) Move(ctx context.Context, src, dest string, overwrite bool) (existed bool, err error) {
	if g.readOnly {
		return false, g.readOnlyError("move", src)
	}

	srcPath, destPath, err := g.transferPaths("move", src, dest)
	if err != nil {
		return false, err
	}

	err = g.sessions.With(ctx, func(session backend.Session) error {
		if _, err := session.Lstat(srcPath); err != nil {
			return sourceError(src, err)
		}

		if existed, err = prepareDestination(session, destPath, dest, overwrite); err != nil {
			return err
		}

		return session.Rename(srcPath, destPath)
	})

	clog.UsingCtx("gateway").Debugf("move %s -> %s overwrite=%t: %v", srcPath, destPath, overwrite, err)
	return existed, g.translate("move", src, err)
}

// Copy copies src to dest. depth must be "0" or "infinity"; collections can
// only be copied with "infinity". All checks run before dest is touched.
func (g *Gateway) Copy(ctx context.Context, src, dest string, overwrite bool, depth string) (existed bool, err error) {
	if g.readOnly {
		return false, g.readOnlyError("copy", src)
	}

	if depth != "0" && depth != "infinity" {
		return false, pkgerrors.Wrapf(ErrNotImplemented, "copy %s: depth %q", src, depth)
	}

	srcPath, destPath, err := g.transferPaths("copy", src, dest)
	if err != nil {
		return false, err
	}

	err = g.sessions.With(ctx, func(session backend.Session) error {
		fi, err := session.Stat(srcPath)
		if err != nil {
			return sourceError(src, err)
		}

		if fi.IsDir() && depth != "infinity" {
			return pkgerrors.Wrapf(ErrBadRequest, "copy %s: a collection can only be copied with depth infinity", src)
		}

		if existed, err = prepareDestination(session, destPath, dest, overwrite); err != nil {
			return err
		}

		if fi.IsDir() {
			return copyTree(session, srcPath, destPath)
		}

		return copyFile(session, srcPath, destPath, fi.Mode())
	})

	clog.UsingCtx("gateway").Debugf("copy %s -> %s overwrite=%t depth=%s: %v", srcPath, destPath, overwrite, depth, err)
	return existed, g.translate("copy", src, err)
}

// transferPaths translates and sanity checks the two ends of a move or copy.
func (g *Gateway) transferPaths(op, src, dest string) (srcPath, destPath string, err error) {
	if davpath.IsRoot(src) || davpath.IsRoot(dest) {
		return "", "", pkgerrors.Wrapf(ErrAccessDenied, "%s %s -> %s: the root collection cannot be replaced", op, src, dest)
	}

	if srcPath, err = g.paths.ToBackend(src); err != nil {
		return "", "", g.translate(op, src, err)
	}

	if destPath, err = g.paths.ToBackend(dest); err != nil {
		return "", "", g.translate(op, dest, err)
	}

	switch {
	case srcPath == destPath:
		return "", "", pkgerrors.Wrapf(ErrAccessDenied, "%s %s: source and destination are the same", op, src)
	case davpath.IsWithin(srcPath, destPath):
		return "", "", pkgerrors.Wrapf(ErrBadRequest, "%s %s -> %s: destination is inside the source", op, src, dest)
	case davpath.IsWithin(destPath, srcPath):
		return "", "", pkgerrors.Wrapf(ErrBadRequest, "%s %s -> %s: destination contains the source", op, src, dest)
	}

	return srcPath, destPath, nil
}

// prepareDestination checks whether destPath exists and removes it when
// overwrite allows. A symbolic link at destPath is replaced, not followed.
func prepareDestination(session backend.Session, destPath, dest string, overwrite bool) (bool, error) {
	_, err := session.Lstat(destPath)
	switch {
	case backend.IsNotExist(err):
		return false, nil
	case err != nil:
		return false, err
	case !overwrite:
		return true, pkgerrors.Wrapf(ErrPreconditionFailed, "destination %s exists", dest)
	}

	return true, remove(session, destPath)
}

func sourceError(src string, err error) error {
	if backend.IsNotExist(err) {
		return pkgerrors.Wrapf(ErrNotFound, "source %s", src)
	}
	return err
}

// translate maps err onto the taxonomy. Errors that are already classified
// pass through.
func (g *Gateway) translate(op, davPath string, err error) error {
	switch {
	case err == nil:
		return nil
	case isClassified(err):
		return err
	case errors.Is(err, davpath.ErrEscapesRoot):
		return pkgerrors.Wrapf(ErrAccessDenied, "%s %s: %s", op, davPath, err)
	case backend.IsNotExist(err):
		return pkgerrors.Wrapf(ErrNotFound, "%s %s", op, davPath)
	}

	clog.UsingCtx("gateway").Errorf("%s %s failed: %s", op, davPath, err)
	return pkgerrors.Wrapf(ErrAccessDenied, "%s %s: %s", op, davPath, err)
}

func (g *Gateway) readOnlyError(op, davPath string) error {
	return pkgerrors.Wrapf(ErrAccessDenied, "%s %s: read-only", op, davPath)
}
