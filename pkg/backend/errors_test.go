package backend

import (
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
)

func TestIsNotExist(t *testing.T) {
	require.True(t, IsNotExist(os.ErrNotExist))
	require.True(t, IsNotExist(&os.PathError{Op: "stat", Path: "/a", Err: os.ErrNotExist}))
	require.True(t, IsNotExist(&sftp.StatusError{Code: uint32(sftp.ErrSSHFxNoSuchFile)}))
	require.False(t, IsNotExist(&sftp.StatusError{Code: uint32(sftp.ErrSSHFxFailure)}))
	require.False(t, IsNotExist(os.ErrPermission))
	require.False(t, IsNotExist(nil))
}

func TestIsSessionFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not found", &os.PathError{Op: "open", Path: "/a", Err: os.ErrNotExist}, false},
		{"permission", os.ErrPermission, false},
		{"server failure", &sftp.StatusError{Code: uint32(sftp.ErrSSHFxFailure)}, false},
		{"session lost", fmt.Errorf("stat: %w", ErrSessionLost), true},
		{"eof", io.EOF, true},
		{"connection lost", sftp.ErrSSHFxConnectionLost, true},
		{"closed conn", fmt.Errorf("write tcp: use of closed network connection"), true},
		{"net timeout", timeoutError{}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.want, IsSessionFailure(test.err))
		})
	}
}

func TestDescriptorDefaults(t *testing.T) {
	d := Descriptor{Host: "files.example.com", User: "dav"}.WithDefaults()

	require.Equal(t, 22, d.Port)
	require.Equal(t, "/", d.RootPath)
	require.Equal(t, 3, d.PoolSize)
	require.Equal(t, "files.example.com:22", d.Addr())
	require.Equal(t, "dav@files.example.com:22/", d.String())
	require.Equal(t, 30*time.Second, d.KeepAlive)

	d = Descriptor{Host: "files.example.com", KeepAlive: -1}.WithDefaults()
	require.Equal(t, time.Duration(-1), d.KeepAlive)
}
