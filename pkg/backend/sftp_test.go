package backend

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// testServer is an in-process SSH server whose sftp subsystem serves the
// pkg/sftp in-memory file system. Every connection shares the same tree.
type testServer struct {
	host       string
	port       int
	keyPath    string
	knownHosts string
	password   string
}

func writePrivateKey(t *testing.T, path string, key ed25519.PrivateKey) []byte {
	t.Helper()

	block, err := gossh.MarshalPrivateKey(key, "")
	require.NoErrorf(t, err, "MarshalPrivateKey failed: %s", err)

	keyPEM := pem.EncodeToMemory(block)
	if path != "" {
		require.NoError(t, os.WriteFile(path, keyPEM, 0600))
	}

	return keyPEM
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	dir := t.TempDir()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostKeyPEM := writePrivateKey(t, "", hostKey)

	clientPub, clientKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	keyPath := filepath.Join(dir, "id_ed25519")
	writePrivateKey(t, keyPath, clientKey)

	authorized, err := gossh.NewPublicKey(clientPub)
	require.NoError(t, err)

	ts := &testServer{keyPath: keyPath, password: "s3cret"}

	srv, err := wish.NewServer(
		wish.WithHostKeyPEM(hostKeyPEM),
		wish.WithPublicKeyAuth(func(_ ssh.Context, key ssh.PublicKey) bool {
			return ssh.KeysEqual(key, authorized)
		}),
		wish.WithPasswordAuth(func(_ ssh.Context, password string) bool {
			return password == ts.password
		}),
	)
	require.NoErrorf(t, err, "wish.NewServer failed: %s", err)

	handlers := sftp.InMemHandler()
	srv.SubsystemHandlers = map[string]ssh.SubsystemHandler{
		"sftp": func(session ssh.Session) {
			server := sftp.NewRequestServer(session, handlers)
			if err := server.Serve(); err == io.EOF {
				_ = server.Close()
			}
		},
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() { _ = srv.Serve(listener) }()
	t.Cleanup(func() { _ = srv.Close() })

	host, portStr, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	ts.host = host
	ts.port, err = strconv.Atoi(portStr)
	require.NoError(t, err)

	hostSigner, err := gossh.ParsePrivateKey(hostKeyPEM)
	require.NoError(t, err)
	ts.knownHosts = filepath.Join(dir, "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(listener.Addr().String())}, hostSigner.PublicKey())
	require.NoError(t, os.WriteFile(ts.knownHosts, []byte(line+"\n"), 0600))

	return ts
}

func (ts *testServer) descriptor() Descriptor {
	return Descriptor{
		Host:           ts.host,
		Port:           ts.port,
		User:           "dav",
		KeyPath:        ts.keyPath,
		KnownHostsFile: ts.knownHosts,
		RootPath:       "/",
	}
}

func TestSFTPSessionFileOperations(t *testing.T) {
	ts := startTestServer(t)

	session, err := NewSFTPFactory().NewSession(ts.descriptor())
	require.NoErrorf(t, err, "NewSession failed: %s", err)
	defer func() { _ = session.Close() }()

	require.NoError(t, session.Mkdir("/data"))

	w, err := session.Create("/data/hello.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	fi, err := session.Stat("/data/hello.txt")
	require.NoError(t, err)
	require.False(t, fi.IsDir())
	require.Equal(t, int64(11), fi.Size())

	r, err := session.Open("/data/hello.txt")
	require.NoError(t, err)
	content, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, "hello world", string(content))

	entries, err := session.ReadDir("/data")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "hello.txt", entries[0].Name())

	require.NoError(t, session.Rename("/data/hello.txt", "/data/moved.txt"))
	_, err = session.Stat("/data/hello.txt")
	require.Truef(t, IsNotExist(err), "expected not-exist error, got %v", err)

	require.NoError(t, session.Remove("/data/moved.txt"))
	require.NoError(t, session.RemoveDirectory("/data"))
}

func TestSFTPSessionLstatDoesNotFollowLinks(t *testing.T) {
	ts := startTestServer(t)

	session, err := DialSFTP(ts.descriptor())
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	require.NoError(t, session.Mkdir("/target"))
	require.NoError(t, session.(*sftpSession).sftpClient.Symlink("/target", "/link"))

	fi, err := session.Stat("/link")
	require.NoError(t, err)
	require.True(t, fi.IsDir())

	fi, err = session.Lstat("/link")
	require.NoError(t, err)
	require.False(t, fi.IsDir())
	require.NotZero(t, fi.Mode()&os.ModeSymlink)

	_, err = session.Lstat("/missing")
	require.Truef(t, IsNotExist(err), "expected not-exist error, got %v", err)
}

func TestSFTPSessionPasswordAuth(t *testing.T) {
	ts := startTestServer(t)

	d := ts.descriptor()
	d.KeyPath = ""
	d.Password = ts.password

	session, err := DialSFTP(d)
	require.NoErrorf(t, err, "DialSFTP with password failed: %s", err)
	require.NoError(t, session.Close())
}

func TestSFTPSessionClosedSessionFails(t *testing.T) {
	ts := startTestServer(t)

	session, err := DialSFTP(ts.descriptor())
	require.NoError(t, err)
	require.NoError(t, session.Close())

	_, err = session.Stat("/")
	require.Error(t, err)
	require.False(t, IsNotExist(err))
}

func TestDialRejectsMissingRoot(t *testing.T) {
	ts := startTestServer(t)

	d := ts.descriptor()
	d.RootPath = "/does-not-exist"

	_, err := DialSFTP(d)
	require.Error(t, err)
	require.Contains(t, err.Error(), "/does-not-exist")
}

func TestDialRejectsUnknownHostKey(t *testing.T) {
	ts := startTestServer(t)

	other := startTestServer(t)
	d := ts.descriptor()
	d.KnownHostsFile = other.knownHosts

	_, err := DialSFTP(d)
	require.Error(t, err)
}

func TestDialRequiresCredentials(t *testing.T) {
	_, err := DialSFTP(Descriptor{Host: "127.0.0.1", User: "dav", InsecureIgnoreHostKey: true})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no SSH authentication method")
}
