package clog

import (
	"io"
	"sync"

	"github.com/apex/log"
)

const ctxField = "ctx"

// ContextLogger hands out log entries tagged with the component ("ctx") that
// produced them. All contexts share one handler and one level so the level
// and destination can be changed at runtime from a single place.
type ContextLogger struct {
	mu      sync.RWMutex
	logger  *log.Logger
	handler *Handler
	output  string
}

func NewContextLogger(w io.WriteCloser, outputName string) *ContextLogger {
	handler := NewHandler(w)
	return &ContextLogger{
		logger: &log.Logger{
			Handler: handler,
			Level:   log.InfoLevel,
		},
		handler: handler,
		output:  outputName,
	}
}

func (l *ContextLogger) SetLevel(level log.Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Level = level
}

func (l *ContextLogger) SetLevelFromString(s string) error {
	level, err := log.ParseLevel(s)
	if err != nil {
		return err
	}

	l.SetLevel(level)
	return nil
}

func (l *ContextLogger) Level() log.Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.logger.Level
}

// SetOutput redirects every context to w. name is what Output reports back.
func (l *ContextLogger) SetOutput(w io.WriteCloser, name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler.SetOutput(w)
	l.output = name
}

func (l *ContextLogger) Output() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.output
}

func (l *ContextLogger) UsingCtx(ctx string) *log.Entry {
	return l.logger.WithField(ctxField, ctx)
}

func (l *ContextLogger) Close() {
	l.handler.Close()
}
