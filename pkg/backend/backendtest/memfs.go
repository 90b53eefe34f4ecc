// Package backendtest provides an in-memory back end for tests: a shared file
// tree, sessions over it that can be broken on demand, and a factory that
// counts and optionally fails session creation.
package backendtest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/materials-commons/sftpdav/pkg/backend"
)

type node struct {
	dir     bool
	data    []byte
	mode    os.FileMode
	modTime time.Time

	// link is the absolute target of a symbolic link.
	link string
}

type fileInfo struct {
	name string
	node node
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return int64(len(fi.node.data)) }
func (fi *fileInfo) ModTime() time.Time { return fi.node.modTime }
func (fi *fileInfo) IsDir() bool        { return fi.node.dir }
func (fi *fileInfo) Sys() any           { return nil }

func (fi *fileInfo) Mode() os.FileMode {
	if fi.node.link != "" {
		return fi.node.mode | os.ModeSymlink
	}
	if fi.node.dir {
		return fi.node.mode | os.ModeDir
	}
	return fi.node.mode
}

// FS is a file tree shared by every session a Factory creates.
type FS struct {
	mu    sync.Mutex
	nodes map[string]*node
	ops   []string
	fail  map[string]error

	// IncludeDotEntries makes ReadDir return "." and ".." like some servers do.
	IncludeDotEntries bool
}

func NewFS() *FS {
	return &FS{
		nodes: map[string]*node{"/": {dir: true, mode: 0755, modTime: time.Now()}},
		fail:  make(map[string]error),
	}
}

func clean(p string) string {
	if p == "" || p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}

// MkdirAll creates p and any missing parents.
func (f *FS) MkdirAll(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)
	for dir := p; ; dir = path.Dir(dir) {
		if _, ok := f.nodes[dir]; !ok {
			f.nodes[dir] = &node{dir: true, mode: 0755, modTime: time.Now()}
		}
		if dir == "/" {
			break
		}
	}
}

// WriteFile stores data at p, creating parent directories.
func (f *FS) WriteFile(p string, data []byte, mode os.FileMode) {
	p = clean(p)
	f.MkdirAll(path.Dir(p))

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[p] = &node{data: append([]byte(nil), data...), mode: mode, modTime: time.Now()}
}

// ReadFile returns the content at p and whether p is an existing file.
func (f *FS) ReadFile(p string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.nodes[clean(p)]
	if !ok || n.dir {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// Symlink creates a symbolic link at p pointing to the absolute path target.
// Only a link in the final component of a path is followed.
func (f *FS) Symlink(p, target string) {
	p = clean(p)
	f.MkdirAll(path.Dir(p))

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[p] = &node{link: clean(target), mode: 0777, modTime: time.Now()}
}

// Exists reports whether p exists, without following a symbolic link at p.
func (f *FS) Exists(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.nodes[clean(p)]
	return ok
}

// Mode returns the permission bits stored for p.
func (f *FS) Mode(p string) os.FileMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.nodes[clean(p)]; ok {
		return n.mode
	}
	return 0
}

// Ops returns the mutating operations performed so far, e.g. "remove /a".
func (f *FS) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *FS) ResetOps() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = nil
}

// FailOp makes every call of the named operation ("stat", "lstat", "readdir",
// "open", "create", "mkdir", "remove", "rmdir", "rename", "chmod") on path p
// fail with err. An empty p matches every path.
func (f *FS) FailOp(op, p string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[failKey(op, p)] = err
}

func (f *FS) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = make(map[string]error)
}

func failKey(op, p string) string {
	if p == "" {
		return op
	}
	return op + " " + clean(p)
}

// injected must be called with f.mu held.
func (f *FS) injected(op, p string) error {
	if err, ok := f.fail[failKey(op, p)]; ok {
		return err
	}
	if err, ok := f.fail[op]; ok {
		return err
	}
	return nil
}

func (f *FS) record(op, p string) {
	f.ops = append(f.ops, op+" "+p)
}

func notExist(op, p string) error {
	return &os.PathError{Op: op, Path: p, Err: os.ErrNotExist}
}

func failure(op, p, msg string) error {
	return &os.PathError{Op: op, Path: p, Err: fmt.Errorf("sftp: %s", msg)}
}

// follow resolves a chain of symbolic links at p to the path and node it
// ends at. A dangling link or a loop is reported as missing. f.mu must be held.
func (f *FS) follow(p string) (string, *node, bool) {
	for hops := 0; hops <= 8; hops++ {
		n, ok := f.nodes[p]
		switch {
		case !ok:
			return p, nil, false
		case n.link == "":
			return p, n, true
		}
		p = n.link
	}
	return p, nil, false
}

func (f *FS) stat(p string) (os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)
	if err := f.injected("stat", p); err != nil {
		return nil, err
	}

	_, n, ok := f.follow(p)
	if !ok {
		return nil, notExist("stat", p)
	}
	return &fileInfo{name: path.Base(p), node: *n}, nil
}

func (f *FS) lstat(p string) (os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)
	if err := f.injected("lstat", p); err != nil {
		return nil, err
	}

	n, ok := f.nodes[p]
	if !ok {
		return nil, notExist("lstat", p)
	}
	return &fileInfo{name: path.Base(p), node: *n}, nil
}

func (f *FS) readDir(p string) ([]os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)
	if err := f.injected("readdir", p); err != nil {
		return nil, err
	}

	target, n, ok := f.follow(p)
	switch {
	case !ok:
		return nil, notExist("readdir", p)
	case !n.dir:
		return nil, failure("readdir", p, "not a directory")
	}

	var entries []os.FileInfo
	if f.IncludeDotEntries {
		entries = append(entries,
			&fileInfo{name: ".", node: *n},
			&fileInfo{name: "..", node: node{dir: true, mode: 0755}})
	}

	for _, child := range f.children(target) {
		entries = append(entries, &fileInfo{name: path.Base(child), node: *f.nodes[child]})
	}

	return entries, nil
}

// children returns the direct children of dir sorted by name. f.mu must be held.
func (f *FS) children(dir string) []string {
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}

	var result []string
	for p := range f.nodes {
		if p == dir || !strings.HasPrefix(p, prefix) {
			continue
		}
		if !strings.Contains(p[len(prefix):], "/") {
			result = append(result, p)
		}
	}

	sort.Strings(result)
	return result
}

func (f *FS) open(p string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)
	if err := f.injected("open", p); err != nil {
		return nil, err
	}

	_, n, ok := f.follow(p)
	switch {
	case !ok:
		return nil, notExist("open", p)
	case n.dir:
		return nil, failure("open", p, "is a directory")
	}

	return io.NopCloser(bytes.NewReader(append([]byte(nil), n.data...))), nil
}

func (f *FS) create(p string) (io.WriteCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)
	if err := f.injected("create", p); err != nil {
		return nil, err
	}

	parent, ok := f.nodes[path.Dir(p)]
	switch {
	case !ok:
		return nil, notExist("create", p)
	case !parent.dir:
		return nil, failure("create", p, "parent is not a directory")
	}

	if n, ok := f.nodes[p]; ok && n.dir {
		return nil, failure("create", p, "is a directory")
	}

	mode := os.FileMode(0644)
	if n, ok := f.nodes[p]; ok {
		mode = n.mode
	}
	f.nodes[p] = &node{mode: mode, modTime: time.Now()}
	f.record("create", p)

	return &writer{fs: f, path: p, mode: mode}, nil
}

// writer makes the content visible when it is closed, as a remote file
// handle does after the final write is acknowledged.
type writer struct {
	fs   *FS
	path string
	mode os.FileMode
	buf  bytes.Buffer
}

func (w *writer) Write(p []byte) (int, error) {
	w.fs.mu.Lock()
	err := w.fs.injected("write", w.path)
	w.fs.mu.Unlock()
	if err != nil {
		return 0, err
	}

	return w.buf.Write(p)
}

func (w *writer) Close() error {
	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()

	w.fs.nodes[w.path] = &node{data: w.buf.Bytes(), mode: w.mode, modTime: time.Now()}
	return nil
}

func (f *FS) mkdir(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)
	if err := f.injected("mkdir", p); err != nil {
		return err
	}

	if _, ok := f.nodes[p]; ok {
		return failure("mkdir", p, "file exists")
	}

	parent, ok := f.nodes[path.Dir(p)]
	switch {
	case !ok:
		return notExist("mkdir", p)
	case !parent.dir:
		return failure("mkdir", p, "parent is not a directory")
	}

	f.nodes[p] = &node{dir: true, mode: 0755, modTime: time.Now()}
	f.record("mkdir", p)
	return nil
}

func (f *FS) remove(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)
	if err := f.injected("remove", p); err != nil {
		return err
	}

	n, ok := f.nodes[p]
	switch {
	case !ok:
		return notExist("remove", p)
	case n.dir:
		return failure("remove", p, "is a directory")
	}

	delete(f.nodes, p)
	f.record("remove", p)
	return nil
}

func (f *FS) rmdir(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)
	if err := f.injected("rmdir", p); err != nil {
		return err
	}

	n, ok := f.nodes[p]
	switch {
	case !ok:
		return notExist("rmdir", p)
	case !n.dir:
		return failure("rmdir", p, "not a directory")
	case len(f.children(p)) > 0:
		return failure("rmdir", p, "directory not empty")
	}

	delete(f.nodes, p)
	f.record("rmdir", p)
	return nil
}

func (f *FS) rename(oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	oldPath, newPath = clean(oldPath), clean(newPath)
	if err := f.injected("rename", oldPath); err != nil {
		return err
	}

	if _, ok := f.nodes[oldPath]; !ok {
		return notExist("rename", oldPath)
	}
	if _, ok := f.nodes[newPath]; ok {
		return failure("rename", newPath, "file exists")
	}
	if _, ok := f.nodes[path.Dir(newPath)]; !ok {
		return notExist("rename", newPath)
	}

	for p, n := range f.nodes {
		switch {
		case p == oldPath:
			f.nodes[newPath] = n
			delete(f.nodes, p)
		case strings.HasPrefix(p, oldPath+"/"):
			f.nodes[newPath+strings.TrimPrefix(p, oldPath)] = n
			delete(f.nodes, p)
		}
	}

	f.record("rename", oldPath+" -> "+newPath)
	return nil
}

func (f *FS) chmod(p string, mode os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)
	if err := f.injected("chmod", p); err != nil {
		return err
	}

	n, ok := f.nodes[p]
	if !ok {
		return notExist("chmod", p)
	}

	n.mode = mode.Perm()
	return nil
}

// Session is one connection to an FS. A broken session fails every call with
// backend.ErrSessionLost, as a dropped SSH connection would.
type Session struct {
	ID int

	fs      *FS
	factory *Factory
	mu      sync.Mutex
	broken  bool
	closed  bool
}

var _ backend.Session = (*Session)(nil)

// Break makes every later call on the session fail.
func (s *Session) Break() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broken = true
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return fmt.Errorf("session %d: use of closed session: %w", s.ID, backend.ErrSessionLost)
	case s.broken:
		return fmt.Errorf("session %d: %w", s.ID, backend.ErrSessionLost)
	}

	return nil
}

func (s *Session) Stat(p string) (os.FileInfo, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if s.factory != nil {
		s.factory.countStat()
	}
	return s.fs.stat(p)
}

func (s *Session) Lstat(p string) (os.FileInfo, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.fs.lstat(p)
}

func (s *Session) ReadDir(p string) ([]os.FileInfo, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.fs.readDir(p)
}

func (s *Session) Open(p string) (io.ReadCloser, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.fs.open(p)
}

func (s *Session) Create(p string) (io.WriteCloser, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.fs.create(p)
}

func (s *Session) Mkdir(p string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.fs.mkdir(p)
}

func (s *Session) Remove(p string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.fs.remove(p)
}

func (s *Session) RemoveDirectory(p string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.fs.rmdir(p)
}

func (s *Session) Rename(oldPath, newPath string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.fs.rename(oldPath, newPath)
}

func (s *Session) Chmod(p string, mode os.FileMode) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.fs.chmod(p, mode)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Factory hands out Sessions over FS.
type Factory struct {
	FS *FS

	mu       sync.Mutex
	sessions []*Session
	failWith error
	stats    int
}

var _ backend.Factory = (*Factory)(nil)

func NewFactory(fs *FS) *Factory {
	return &Factory{FS: fs}
}

func (fa *Factory) NewSession(_ backend.Descriptor) (backend.Session, error) {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	if fa.failWith != nil {
		return nil, fa.failWith
	}

	s := &Session{ID: len(fa.sessions) + 1, fs: fa.FS, factory: fa}
	fa.sessions = append(fa.sessions, s)
	return s, nil
}

// FailNewSessions makes later NewSession calls fail with err; nil restores them.
func (fa *Factory) FailNewSessions(err error) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.failWith = err
}

// Created returns how many sessions have been created.
func (fa *Factory) Created() int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return len(fa.sessions)
}

// Sessions returns every session created so far, oldest first.
func (fa *Factory) Sessions() []*Session {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return append([]*Session(nil), fa.sessions...)
}

// Stats returns how many Stat calls all sessions made, probes included.
func (fa *Factory) Stats() int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.stats
}

func (fa *Factory) countStat() {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.stats++
}
