package clog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/apex/log"
)

// Handler writes apex/log entries as single text lines:
//
//	LEVEL 2006-01-02 15:04:05 [ctx] message            key=value key=value
//
// The "ctx" field, when present, is pulled out of the field list and printed
// in front of the message so per-component output lines up.
type Handler struct {
	mu     sync.Mutex
	Writer io.WriteCloser
}

var levelToStrings = [...]string{
	log.DebugLevel: "DEBUG",
	log.InfoLevel:  "INFO",
	log.WarnLevel:  "WARN",
	log.ErrorLevel: "ERROR",
	log.FatalLevel: "FATAL",
}

type field struct {
	Name  string
	Value interface{}
}

type byName []field

func (a byName) Len() int           { return len(a) }
func (a byName) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byName) Less(i, j int) bool { return a[i].Name < a[j].Name }

func NewHandler(w io.WriteCloser) *Handler {
	return &Handler{Writer: w}
}

// SetOutput swaps the writer, closing the previous one unless it is stdout or stderr.
func (h *Handler) SetOutput(w io.WriteCloser) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closeWriter()
	h.Writer = w
}

func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closeWriter()
}

func (h *Handler) closeWriter() {
	if h.Writer == nil || h.Writer == os.Stdout || h.Writer == os.Stderr {
		return
	}

	_ = h.Writer.Close()
}

func (h *Handler) HandleLog(e *log.Entry) error {
	level := "UNKNOWN"
	if int(e.Level) >= 0 && int(e.Level) < len(levelToStrings) {
		level = levelToStrings[e.Level]
	}

	var (
		fields []field
		ctx    string
	)

	for k, v := range e.Fields {
		if k == ctxField {
			ctx = fmt.Sprint(v)
			continue
		}
		fields = append(fields, field{k, v})
	}

	sort.Sort(byName(fields))

	var b bytes.Buffer
	_, _ = fmt.Fprintf(&b, "%5s %s", level, time.Now().Format(time.DateTime))
	if ctx != "" {
		_, _ = fmt.Fprintf(&b, " [%s]", ctx)
	}
	_, _ = fmt.Fprintf(&b, " %-25s", e.Message)

	for _, f := range fields {
		_, _ = fmt.Fprintf(&b, " %s=%v", f.Name, f.Value)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, _ = fmt.Fprintln(h.Writer, b.String())

	return nil
}
