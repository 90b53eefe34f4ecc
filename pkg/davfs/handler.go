package davfs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/apex/log"
	"github.com/hashicorp/go-uuid"
	"github.com/materials-commons/sftpdav/pkg/clog"
	"github.com/materials-commons/sftpdav/pkg/gateway"
	"golang.org/x/net/webdav"
)

var (
	errPrefixMismatch       = errors.New("prefix mismatch")
	errInvalidDestination   = errors.New("invalid destination")
	errInvalidOverwrite     = errors.New("invalid overwrite header")
	errDestinationHost      = errors.New("destination is on another host")
	errUnsupportedMoveDepth = errors.New("move only supports depth infinity")
)

type requestIDKey struct{}

type HandlerOptions struct {
	// Prefix is stripped from request paths, e.g. "/dav".
	Prefix string

	// Users enables HTTP basic auth when it holds at least one user.
	Users *Users
}

// Handler is the WebDAV endpoint. PUT, COPY and MOVE are served directly
// against the gateway so their status codes follow the gateway error
// taxonomy and recursive copies stay on one back-end session; everything else
// goes through x/net/webdav with a FileSystem over the same gateway.
type Handler struct {
	gw     *gateway.Gateway
	prefix string
	users  *Users
	dav    *webdav.Handler
}

func NewHandler(gw *gateway.Gateway, opts HandlerOptions) *Handler {
	h := &Handler{
		gw:     gw,
		prefix: strings.TrimSuffix(opts.Prefix, "/"),
		users:  opts.Users,
	}

	h.dav = &webdav.Handler{
		Prefix:     h.prefix,
		FileSystem: NewFileSystem(gw),
		LockSystem: webdav.NewMemLS(),
		Logger:     h.logRequest,
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	if id, err := uuid.GenerateUUID(); err == nil {
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))
	}

	if h.gw.ReadOnly() && isMutating(r.Method) {
		h.fail(w, r, http.StatusForbidden, errors.New("server is read-only"))
		return
	}

	switch r.Method {
	case http.MethodPut:
		h.handlePut(w, r)
	case "COPY", "MOVE":
		h.handleCopyMove(w, r)
	default:
		h.dav.ServeHTTP(w, r)
	}
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) bool {
	if !h.users.Enabled() {
		return true
	}

	username, password, ok := r.BasicAuth()
	if ok && h.users.Validate(username, password) == nil {
		return true
	}

	clog.UsingCtx("dav").WithField("remote", r.RemoteAddr).Infof("Rejected %s %s for user '%s'", r.Method, r.URL.Path, username)
	w.Header().Set("WWW-Authenticate", `Basic realm="sftpdav"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte("401 Unauthorized\n"))
	return false
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	reqPath, err := h.stripPrefix(r.URL.Path)
	if err != nil {
		h.fail(w, r, http.StatusNotFound, err)
		return
	}

	ctx := r.Context()
	upload, err := h.gw.BeginWrite(reqPath)
	if err != nil {
		h.fail(w, r, gateway.HTTPStatus(err), err)
		return
	}

	if _, err := io.Copy(upload, r.Body); err != nil {
		upload.Discard()
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}

	if err := h.gw.EndWrite(ctx, upload); err != nil {
		h.fail(w, r, gateway.HTTPStatus(err), err)
		return
	}

	if res, err := h.gw.Resolve(ctx, reqPath); err == nil && res != nil {
		w.Header().Set("ETag", res.ETag())
	}

	h.logRequest(r, nil)
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleCopyMove(w http.ResponseWriter, r *http.Request) {
	src, err := h.stripPrefix(r.URL.Path)
	if err != nil {
		h.fail(w, r, http.StatusNotFound, err)
		return
	}

	hdr := r.Header.Get("Destination")
	if hdr == "" {
		h.fail(w, r, http.StatusBadRequest, errInvalidDestination)
		return
	}

	u, err := url.Parse(hdr)
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, errInvalidDestination)
		return
	}

	if u.Host != "" && u.Host != r.Host {
		h.fail(w, r, http.StatusBadGateway, errDestinationHost)
		return
	}

	dest, err := h.stripPrefix(u.Path)
	if err != nil {
		h.fail(w, r, http.StatusBadGateway, err)
		return
	}

	overwrite := true
	switch r.Header.Get("Overwrite") {
	case "", "T":
	case "F":
		overwrite = false
	default:
		h.fail(w, r, http.StatusBadRequest, errInvalidOverwrite)
		return
	}

	depth := strings.ToLower(r.Header.Get("Depth"))
	if depth == "" {
		depth = "infinity"
	}

	var existed bool
	if r.Method == "COPY" {
		existed, err = h.gw.Copy(r.Context(), src, dest, overwrite, depth)
	} else {
		if depth != "infinity" {
			h.fail(w, r, http.StatusBadRequest, errUnsupportedMoveDepth)
			return
		}
		existed, err = h.gw.Move(r.Context(), src, dest, overwrite)
	}

	if err != nil {
		h.fail(w, r, gateway.HTTPStatus(err), err)
		return
	}

	h.logRequest(r, nil)
	if existed {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) stripPrefix(p string) (string, error) {
	if h.prefix == "" {
		return p, nil
	}

	if r := strings.TrimPrefix(p, h.prefix); len(r) < len(p) {
		return r, nil
	}

	return p, errPrefixMismatch
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	h.logRequest(r, err)
	http.Error(w, http.StatusText(status), status)
}

func (h *Handler) logRequest(r *http.Request, err error) {
	entry := clog.UsingCtx("dav").WithFields(log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	})

	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		entry = entry.WithField("request", id)
	}

	if err != nil {
		entry.Errorf("WebDAV %s %s failed: %s", r.Method, r.URL.Path, err)
		return
	}

	entry.Debugf("WebDAV %s %s", r.Method, r.URL.Path)
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPut, http.MethodDelete, "MKCOL", "COPY", "MOVE", "PROPPATCH":
		return true
	default:
		return false
	}
}
