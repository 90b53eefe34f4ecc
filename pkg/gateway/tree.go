package gateway

import (
	"io"
	"os"
	"path"

	"github.com/materials-commons/sftpdav/pkg/backend"
	"github.com/materials-commons/sftpdav/pkg/clog"
)

// Recursive delete and copy run on the single session of the operation that
// started them. Neither is atomic: a failure part way leaves the tree as far
// as the walk got.

// treeFrame is one directory on the walk stack. Entries are handled in
// listing order; a subdirectory is walked completely before the entry after
// it.
type treeFrame struct {
	src     string
	dest    string
	entries []os.FileInfo
	next    int
}

func (f *treeFrame) done() bool {
	return f.next == len(f.entries)
}

func (f *treeFrame) pop() os.FileInfo {
	entry := f.entries[f.next]
	f.next++
	return entry
}

// readDir lists dir without the "." and ".." entries some servers return.
func readDir(session backend.Session, dir string) ([]os.FileInfo, error) {
	entries, err := session.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	filtered := entries[:0]
	for _, entry := range entries {
		if name := entry.Name(); name == "." || name == ".." {
			continue
		}
		filtered = append(filtered, entry)
	}

	return filtered, nil
}

// remove deletes p, walking it first when it is a directory. A symbolic link
// is unlinked and never walked, wherever it points.
func remove(session backend.Session, p string) error {
	fi, err := session.Lstat(p)
	if err != nil {
		return err
	}

	if fi.IsDir() && !isSymlink(fi) {
		return deleteTree(session, p)
	}

	return session.Remove(p)
}

func isSymlink(fi os.FileInfo) bool {
	return fi.Mode()&os.ModeSymlink != 0
}

// deleteTree removes dir and everything below it, children before parents.
func deleteTree(session backend.Session, dir string) error {
	entries, err := readDir(session, dir)
	if err != nil {
		return err
	}

	stack := []*treeFrame{{src: dir, entries: entries}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]

		if top.done() {
			if err := session.RemoveDirectory(top.src); err != nil {
				clog.UsingCtx("gateway").Errorf("Recursive delete failed at %s: %s", top.src, err)
				return err
			}
			stack = stack[:len(stack)-1]
			continue
		}

		entry := top.pop()
		p := path.Join(top.src, entry.Name())

		if entry.IsDir() && !isSymlink(entry) {
			children, err := readDir(session, p)
			if err != nil {
				return err
			}
			stack = append(stack, &treeFrame{src: p, entries: children})
			continue
		}

		if err := session.Remove(p); err != nil {
			clog.UsingCtx("gateway").Errorf("Recursive delete failed at %s: %s", p, err)
			return err
		}
	}

	return nil
}

// copyTree copies the directory srcDir to destDir, permission bits included.
func copyTree(session backend.Session, srcDir, destDir string) error {
	frame, err := openCopyFrame(session, srcDir, destDir)
	if err != nil {
		return err
	}

	stack := []*treeFrame{frame}
	for len(stack) > 0 {
		top := stack[len(stack)-1]

		if top.done() {
			stack = stack[:len(stack)-1]
			continue
		}

		entry := top.pop()
		src := path.Join(top.src, entry.Name())
		dest := path.Join(top.dest, entry.Name())

		if isSymlink(entry) {
			clog.UsingCtx("gateway").Warnf("Skipping symbolic link %s during copy", src)
			continue
		}

		if entry.IsDir() {
			frame, err := openCopyFrame(session, src, dest)
			if err != nil {
				return err
			}
			stack = append(stack, frame)
			continue
		}

		if err := copyFile(session, src, dest, entry.Mode()); err != nil {
			return err
		}
	}

	return nil
}

// openCopyFrame creates dest, copies the mode of src onto it and lists src.
// A dest directory that already exists is reused.
func openCopyFrame(session backend.Session, src, dest string) (*treeFrame, error) {
	if err := makeDestDir(session, src, dest); err != nil {
		return nil, err
	}

	entries, err := readDir(session, src)
	if err != nil {
		return nil, err
	}

	return &treeFrame{src: src, dest: dest, entries: entries}, nil
}

func makeDestDir(session backend.Session, src, dest string) error {
	log := clog.UsingCtx("gateway")

	if err := session.Mkdir(dest); err != nil {
		fi, statErr := session.Lstat(dest)
		if statErr != nil || !fi.IsDir() {
			log.Errorf("Unable to create directory %s: %s", dest, err)
			return err
		}
		log.Warnf("Directory %s already exists, copying into it", dest)
	}

	srcInfo, err := session.Stat(src)
	if err != nil {
		return err
	}

	if err := session.Chmod(dest, srcInfo.Mode().Perm()); err != nil {
		log.Warnf("Unable to copy mode of %s to %s: %s", src, dest, err)
	}

	return nil
}

// copyFile copies the bytes of src to dest and then the permission bits.
func copyFile(session backend.Session, src, dest string, mode os.FileMode) error {
	r, err := session.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	w, err := session.Create(dest)
	if err != nil {
		return err
	}

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		clog.UsingCtx("gateway").Errorf("Copy %s -> %s failed: %s", src, dest, err)
		return err
	}

	if err := w.Close(); err != nil {
		return err
	}

	return session.Chmod(dest, mode.Perm())
}
