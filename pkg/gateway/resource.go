package gateway

import (
	"fmt"
	"mime"
	"os"
	"path"
	"time"

	"github.com/materials-commons/sftpdav/pkg/davpath"
)

const defaultContentType = "application/octet-stream"

// Resource describes one back-end entry as seen at the moment of a request.
// It is never cached. Resource implements os.FileInfo.
type Resource struct {
	davPath      string
	name         string
	isCollection bool
	size         int64
	modTime      time.Time
	mode         os.FileMode
}

func newResource(davPath string, fi os.FileInfo) *Resource {
	davPath = davpath.Clean(davPath)
	name := path.Base(davPath)

	r := &Resource{
		davPath:      davPath,
		name:         name,
		isCollection: fi.IsDir(),
		modTime:      fi.ModTime(),
		mode:         fi.Mode(),
	}

	if !r.isCollection {
		r.size = fi.Size()
	}

	return r
}

// Path returns the front-end path of the resource.
func (r *Resource) Path() string { return r.davPath }

func (r *Resource) Name() string       { return r.name }
func (r *Resource) Size() int64        { return r.size }
func (r *Resource) Mode() os.FileMode  { return r.mode }
func (r *Resource) ModTime() time.Time { return r.modTime }
func (r *Resource) IsDir() bool        { return r.isCollection }
func (r *Resource) Sys() any           { return nil }

// ETag is the quoted "<size>-<mtime seconds>" tag for leaf resources.
func (r *Resource) ETag() string {
	return fmt.Sprintf(`"%d-%d"`, r.size, r.modTime.Unix())
}

// ContentType guesses the media type from the name's extension without
// reading the file.
func (r *Resource) ContentType() string {
	if r.isCollection {
		return ""
	}

	if ct := mime.TypeByExtension(path.Ext(r.name)); ct != "" {
		return ct
	}

	return defaultContentType
}
