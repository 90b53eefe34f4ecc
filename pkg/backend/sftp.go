package backend

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/materials-commons/sftpdav/pkg/clog"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// sftpSession is a Session backed by a pkg/sftp client running over its own
// SSH connection.
type sftpSession struct {
	sshClient  *ssh.Client
	sftpClient *sftp.Client
	stop       chan struct{}
	closeOnce  sync.Once
}

var _ Session = (*sftpSession)(nil)

func (s *sftpSession) Stat(path string) (os.FileInfo, error)     { return s.sftpClient.Stat(path) }
func (s *sftpSession) Lstat(path string) (os.FileInfo, error)    { return s.sftpClient.Lstat(path) }
func (s *sftpSession) ReadDir(path string) ([]os.FileInfo, error) { return s.sftpClient.ReadDir(path) }
func (s *sftpSession) Mkdir(path string) error                    { return s.sftpClient.Mkdir(path) }
func (s *sftpSession) Remove(path string) error                   { return s.sftpClient.Remove(path) }
func (s *sftpSession) RemoveDirectory(path string) error          { return s.sftpClient.RemoveDirectory(path) }
func (s *sftpSession) Rename(oldPath, newPath string) error       { return s.sftpClient.Rename(oldPath, newPath) }
func (s *sftpSession) Chmod(path string, mode os.FileMode) error  { return s.sftpClient.Chmod(path, mode) }

func (s *sftpSession) Open(path string) (io.ReadCloser, error) {
	f, err := s.sftpClient.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *sftpSession) Create(path string) (io.WriteCloser, error) {
	f, err := s.sftpClient.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Close shuts down the SFTP subsystem and the SSH connection under it.
func (s *sftpSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		sftpErr := s.sftpClient.Close()
		err = s.sshClient.Close()
		if err == nil {
			err = sftpErr
		}
	})
	return err
}

func (s *sftpSession) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, _, err := s.sshClient.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				clog.UsingCtx("backend").Debugf("keepalive failed, stopping: %s", err)
				return
			}
		case <-s.stop:
			return
		}
	}
}

// NewSFTPFactory returns the production session factory: SSH dial, SFTP
// subsystem, root path check, keepalive.
func NewSFTPFactory() Factory {
	return FactoryFunc(DialSFTP)
}

// DialSFTP opens one SFTP session for d, retrying transient dial failures
// d.DialRetries times.
func DialSFTP(d Descriptor) (Session, error) {
	d = d.WithDefaults()

	var session *sftpSession
	err := Retry(context.Background(), DialRetryConfig(d), "dial "+d.Addr(), func() error {
		var err error
		session, err = dialSFTP(d)
		return err
	})
	if err != nil {
		return nil, err
	}

	return session, nil
}

func dialSFTP(d Descriptor) (*sftpSession, error) {
	sshConfig, err := clientConfig(d)
	if err != nil {
		return nil, err
	}

	sshClient, err := ssh.Dial("tcp", d.Addr(), sshConfig)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", d.Addr())
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, errors.Wrap(err, "failed to start sftp subsystem")
	}

	root, err := sftpClient.Stat(d.RootPath)
	switch {
	case err != nil:
		_ = sftpClient.Close()
		_ = sshClient.Close()
		return nil, errors.Wrapf(err, "remote root %s", d.RootPath)
	case !root.IsDir():
		_ = sftpClient.Close()
		_ = sshClient.Close()
		return nil, errors.Errorf("remote root %s is not a directory", d.RootPath)
	}

	session := &sftpSession{
		sshClient:  sshClient,
		sftpClient: sftpClient,
		stop:       make(chan struct{}),
	}

	if d.KeepAlive > 0 {
		go session.keepAlive(d.KeepAlive)
	}

	return session, nil
}

func clientConfig(d Descriptor) (*ssh.ClientConfig, error) {
	authMethods, err := buildAuthMethods(d)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := buildHostKeyCallback(d)
	if err != nil {
		return nil, errors.Wrap(err, "failed to configure host key verification")
	}

	return &ssh.ClientConfig{
		User:            d.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         d.ConnectTimeout,
	}, nil
}

func buildAuthMethods(d Descriptor) ([]ssh.AuthMethod, error) {
	var authMethods []ssh.AuthMethod

	if d.KeyPath != "" {
		keyPath, err := homedir.Expand(d.KeyPath)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid key path %s", d.KeyPath)
		}

		keyData, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read SSH key file")
		}

		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse SSH private key")
		}

		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if d.Password != "" {
		authMethods = append(authMethods, ssh.Password(d.Password))
	}

	if len(authMethods) == 0 {
		return nil, errors.New("no SSH authentication method configured (set a key path or password)")
	}

	return authMethods, nil
}

func buildHostKeyCallback(d Descriptor) (ssh.HostKeyCallback, error) {
	log := clog.UsingCtx("backend")

	if d.InsecureIgnoreHostKey {
		log.Warnf("SSH host key verification disabled for %s", d.Addr())
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if d.KnownHostsFile != "" {
		path, err := homedir.Expand(d.KnownHostsFile)
		if err != nil {
			return nil, err
		}

		callback, err := knownhosts.New(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load known_hosts file %s", path)
		}
		return callback, nil
	}

	if home, err := homedir.Dir(); err == nil {
		defaultKnownHosts := filepath.Join(home, ".ssh", "known_hosts")
		if _, err := os.Stat(defaultKnownHosts); err == nil {
			callback, err := knownhosts.New(defaultKnownHosts)
			if err == nil {
				return callback, nil
			}
			log.Warnf("Could not parse known_hosts file %s: %s", defaultKnownHosts, err)
		}
	}

	log.Warnf("No known_hosts file found for %s, host key verification disabled", d.Addr())
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		return nil
	}, nil
}
