package backend

import (
	"fmt"
	"time"
)

// Descriptor holds the fully resolved parameters for reaching one SFTP
// endpoint. It is built once from configuration and passed by value, so
// nothing downstream can change it after the pool is constructed.
type Descriptor struct {
	// Host is the SSH server hostname or IP address.
	Host string

	// Port is the SSH port (default 22).
	Port int

	// User is the principal to authenticate as.
	User string

	// KeyPath is the path to the private key used for authentication.
	KeyPath string

	// Password enables password authentication when KeyPath is empty.
	Password string

	// KnownHostsFile is the known_hosts file used for host key verification.
	// Defaults to ~/.ssh/known_hosts when it exists.
	KnownHostsFile string

	// InsecureIgnoreHostKey skips host key verification.
	InsecureIgnoreHostKey bool

	// RootPath is the directory on the server that the WebDAV tree maps onto.
	RootPath string

	// PoolSize is the fixed number of sessions kept open (default 3).
	PoolSize int

	// ConnectTimeout bounds the TCP connect and SSH handshake (default 10s).
	ConnectTimeout time.Duration

	// AcquireTimeout bounds how long a request waits for a free session (default 5s).
	AcquireTimeout time.Duration

	// KeepAlive is the interval between SSH keepalive requests (default 30s).
	// A negative interval disables keepalives.
	KeepAlive time.Duration

	// DialRetries is how many extra attempts a failed dial gets.
	DialRetries int
}

// WithDefaults returns a copy of the descriptor with default values applied.
func (d Descriptor) WithDefaults() Descriptor {
	if d.Port == 0 {
		d.Port = 22
	}
	if d.RootPath == "" {
		d.RootPath = "/"
	}
	if d.PoolSize == 0 {
		d.PoolSize = 3
	}
	if d.ConnectTimeout == 0 {
		d.ConnectTimeout = 10 * time.Second
	}
	if d.AcquireTimeout == 0 {
		d.AcquireTimeout = 5 * time.Second
	}
	if d.KeepAlive == 0 {
		d.KeepAlive = 30 * time.Second
	}
	return d
}

// Addr returns host:port.
func (d Descriptor) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// String identifies the endpoint for log messages. It never includes credentials.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s@%s:%d%s", d.User, d.Host, d.Port, d.RootPath)
}
