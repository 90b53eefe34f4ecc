// Package davpath translates WebDAV request paths into paths on the back end.
// Every translated path lies at or below the configured root.
package davpath

import (
	"errors"
	"path"
	"strings"
)

// ErrEscapesRoot is returned for paths that would resolve above the root.
var ErrEscapesRoot = errors.New("path escapes the configured root")

// Translator maps front-end paths onto one back-end root directory.
type Translator struct {
	root string
}

func NewTranslator(root string) Translator {
	if root == "" {
		root = "/"
	}
	return Translator{root: path.Clean(root)}
}

// Root returns the back-end root directory.
func (t Translator) Root() string {
	return t.root
}

// ToBackend joins davPath onto the root. Leading slashes are stripped and "."
// and ".." segments are resolved first; a path that climbs above the root is
// rejected with ErrEscapesRoot.
func (t Translator) ToBackend(davPath string) (string, error) {
	rel := path.Clean(strings.TrimLeft(davPath, "/"))

	switch {
	case rel == ".":
		return t.root, nil
	case rel == ".." || strings.HasPrefix(rel, "../"):
		return "", ErrEscapesRoot
	}

	p := path.Join(t.root, rel)
	if !IsWithin(t.root, p) {
		return "", ErrEscapesRoot
	}

	return p, nil
}

// Clean returns the canonical, slash-rooted form of a front-end path.
func Clean(name string) string {
	if name == "" || name[0] != '/' {
		name = "/" + name
	}
	return path.Clean(name)
}

// ChildPath returns the front-end path of name inside collection.
func ChildPath(collection, name string) string {
	return path.Join(Clean(collection), name)
}

// IsRoot reports whether davPath names the top of the tree.
func IsRoot(davPath string) bool {
	return Clean(davPath) == "/"
}

// IsWithin reports whether p is dir itself or lies below it. Both paths must
// be clean.
func IsWithin(dir, p string) bool {
	if dir == "/" || dir == p {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}
