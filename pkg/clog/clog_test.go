package clog

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apex/log"
	"github.com/stretchr/testify/require"
)

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func TestContextIsPrintedBeforeMessage(t *testing.T) {
	var buf bufferCloser
	l := NewContextLogger(&buf, "buffer")

	l.UsingCtx("pool").WithField("size", 3).Info("pool ready")

	line := buf.String()
	require.Truef(t, strings.HasPrefix(line, " INFO "), "unexpected line %q", line)
	require.Contains(t, line, "[pool] pool ready")
	require.Contains(t, line, "size=3")
	require.NotContains(t, line, "ctx=")
}

func TestLevelFiltersEntries(t *testing.T) {
	var buf bufferCloser
	l := NewContextLogger(&buf, "buffer")

	l.UsingCtx("gateway").Debug("hidden")
	require.Empty(t, buf.String())

	require.NoError(t, l.SetLevelFromString("debug"))
	require.Equal(t, log.DebugLevel, l.Level())
	l.UsingCtx("gateway").Debug("shown")
	require.Contains(t, buf.String(), "shown")

	require.Error(t, l.SetLevelFromString("chatty"))
}

func TestSetOutputClosesPreviousWriter(t *testing.T) {
	var first, second bufferCloser
	l := NewContextLogger(&first, "first")

	l.SetOutput(&second, "second")
	require.True(t, first.closed)
	require.Equal(t, "second", l.Output())

	l.UsingCtx("dav").Warn("moved")
	require.Empty(t, first.String())
	require.Contains(t, second.String(), "moved")
}

func TestSetOutputByName(t *testing.T) {
	t.Cleanup(func() { SetOutput(os.Stdout, "stdout") })

	require.Error(t, SetOutputByName(""))
	require.Error(t, SetOutputByName(filepath.Join(t.TempDir(), "missing", "x.log")))
	require.Equal(t, "stdout", Output())

	logFile := filepath.Join(t.TempDir(), "sftpdav.log")
	require.NoError(t, SetOutputByName(logFile))
	require.Equal(t, logFile, Output())

	UsingCtx("test").Error("to file")
	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	require.Contains(t, string(content), "to file")

	require.NoError(t, SetOutputByName("stderr"))
	require.Equal(t, "stderr", Output())
}
