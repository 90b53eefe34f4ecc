package clog

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/apex/log"
)

var clogger = NewContextLogger(os.Stdout, "stdout")

func SetLevel(level log.Level) {
	clogger.SetLevel(level)
}

func SetLevelFromString(s string) error {
	return clogger.SetLevelFromString(s)
}

func Level() log.Level {
	return clogger.Level()
}

func SetOutput(w io.WriteCloser, name string) {
	clogger.SetOutput(w, name)
}

// SetOutputByName switches the log to "stdout", "stderr" or a file opened for
// append. The current output is left alone if the file can't be opened.
func SetOutputByName(name string) error {
	switch name {
	case "stdout":
		SetOutput(os.Stdout, name)
		return nil
	case "stderr":
		SetOutput(os.Stderr, name)
		return nil
	case "":
		return errors.New("log output is required")
	}

	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log output %s: %w", name, err)
	}

	SetOutput(f, name)
	return nil
}

func Output() string {
	return clogger.Output()
}

func UsingCtx(ctx string) *log.Entry {
	return clogger.UsingCtx(ctx)
}

// Global returns the logger for messages that don't belong to a component.
func Global() *log.Entry {
	return clogger.UsingCtx("global")
}
