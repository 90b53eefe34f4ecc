package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

const baseConfig = `
sftp:
  host: files.example.org
  port: 2022
  user: archiver
  key_path: /keys/id_ed25519
  root_path: /srv/data
  pool_size: 4
  connect_timeout: 15s
dav:
  listen: 127.0.0.1:9090
  prefix: /dav
  read_only: true
logging:
  level: DEBUG
`

// isolate keeps the tests away from a real ~/.config/sftpdav/config.yaml.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return dir
}

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "config.yaml", baseConfig)

	cfg, err := Load(path, nil)
	require.NoErrorf(t, err, "Load failed: %s", err)

	require.Equal(t, "files.example.org", cfg.SFTP.Host)
	require.Equal(t, 2022, cfg.SFTP.Port)
	require.Equal(t, 15*time.Second, cfg.SFTP.ConnectTimeout)
	require.Equal(t, 5*time.Second, cfg.SFTP.AcquireTimeout)
	require.Equal(t, 2, cfg.SFTP.DialRetries)
	require.Equal(t, "127.0.0.1:9090", cfg.DAV.Listen)
	require.Equal(t, "/dav", cfg.DAV.Prefix)
	require.True(t, cfg.DAV.ReadOnly)
	require.Equal(t, "localhost:8081", cfg.Admin.Listen)
	require.Equal(t, "debug", cfg.Logging.Level)

	d := cfg.SFTP.Descriptor()
	require.Equal(t, "files.example.org:2022", d.Addr())
	require.Equal(t, "/srv/data", d.RootPath)
	require.Equal(t, 4, d.PoolSize)
	require.Equal(t, 30*time.Second, d.KeepAlive)
}

func TestZeroKeepAliveDisablesKeepalives(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "config.yaml", strings.Replace(baseConfig, "  pool_size: 4\n", "  pool_size: 4\n  keep_alive: 0s\n", 1))

	cfg, err := Load(path, nil)
	require.NoErrorf(t, err, "Load failed: %s", err)
	require.Equal(t, time.Duration(0), cfg.SFTP.KeepAlive)
	require.Less(t, cfg.SFTP.Descriptor().KeepAlive, time.Duration(0))
}

func TestLoadUsesDefaultConfigDir(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sftpdav"), 0700))
	writeFile(t, filepath.Join(dir, "sftpdav"), "config.yaml", baseConfig)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, "files.example.org", cfg.SFTP.Host)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "config.yaml", baseConfig)

	t.Setenv("SFTPDAV_SFTP_POOL_SIZE", "7")
	t.Setenv("SFTPDAV_DAV_USERS", "alice:$2a$10$abc,bob:$2a$10$def")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.SFTP.PoolSize)

	users, err := cfg.DAV.UserTable()
	require.NoError(t, err)
	require.Equal(t, map[string]string{"alice": "$2a$10$abc", "bob": "$2a$10$def"}, users)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "config.yaml", baseConfig)
	t.Setenv("SFTPDAV_SFTP_POOL_SIZE", "7")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("pool-size", 3, "")
	flags.String("listen", "localhost:8080", "")
	require.NoError(t, flags.Parse([]string{"--pool-size=9"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	require.Equal(t, 9, cfg.SFTP.PoolSize)

	// An unset flag does not shadow the file.
	require.Equal(t, "127.0.0.1:9090", cfg.DAV.Listen)
}

func TestLoadDotenvFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "config.yaml", baseConfig)
	dotenv := writeFile(t, dir, ".env", "SFTPDAV_SFTP_ROOT_PATH=/from/dotenv\n")
	t.Setenv(DotenvPathEnv, dotenv)

	// gotenv.Load sets process variables directly, so clear it afterwards.
	t.Setenv("SFTPDAV_SFTP_ROOT_PATH", "")
	require.NoError(t, os.Unsetenv("SFTPDAV_SFTP_ROOT_PATH"))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, "/from/dotenv", cfg.SFTP.RootPath)
}

func TestHostAliasFillsMissingFields(t *testing.T) {
	dir := isolate(t)
	sshConfig := writeFile(t, dir, "ssh_config", `
Host storage
    HostName storage.example.org
    Port 2222
    User fromalias
    IdentityFile /keys/id_storage
`)
	path := writeFile(t, dir, "config.yaml", `
sftp:
  host_alias: storage
  ssh_config: `+sshConfig+`
  user: explicit
  root_path: /data
`)

	cfg, err := Load(path, nil)
	require.NoErrorf(t, err, "Load failed: %s", err)
	require.Equal(t, "storage.example.org", cfg.SFTP.Host)
	require.Equal(t, 2222, cfg.SFTP.Port)
	require.Equal(t, "explicit", cfg.SFTP.User)
	require.Equal(t, "/keys/id_storage", cfg.SFTP.KeyPath)
}

func TestHostAliasMissingConfigFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "config.yaml", `
sftp:
  host_alias: storage
  ssh_config: `+filepath.Join(dir, "missing")+`
  root_path: /data
`)

	_, err := Load(path, nil)
	require.Error(t, err)
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{
			name:   "missing root path",
			config: "sftp:\n  host: h\n  user: u\n  password: p\n",
		},
		{
			name:   "relative root path",
			config: "sftp:\n  host: h\n  user: u\n  password: p\n  root_path: data\n",
		},
		{
			name:   "no credentials",
			config: "sftp:\n  host: h\n  user: u\n  root_path: /data\n",
		},
		{
			name:   "missing host",
			config: "sftp:\n  user: u\n  password: p\n  root_path: /data\n",
		},
		{
			name:   "zero pool size",
			config: "sftp:\n  host: h\n  user: u\n  password: p\n  root_path: /data\n  pool_size: 0\n",
		},
		{
			name:   "bad log level",
			config: "sftp:\n  host: h\n  user: u\n  password: p\n  root_path: /data\nlogging:\n  level: loud\n",
		},
		{
			name:   "malformed user entry",
			config: "sftp:\n  host: h\n  user: u\n  password: p\n  root_path: /data\ndav:\n  users: [alice]\n",
		},
		{
			name:   "admin shares dav address",
			config: "sftp:\n  host: h\n  user: u\n  password: p\n  root_path: /data\ndav:\n  listen: :8080\nadmin:\n  listen: :8080\n",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dir := isolate(t)
			path := writeFile(t, dir, "config.yaml", test.config)
			_, err := Load(path, nil)
			require.Error(t, err)
		})
	}
}

func TestPasswordOnlyIsValid(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "config.yaml", "sftp:\n  host: h\n  user: u\n  password: p\n  root_path: /data\n")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, 22, cfg.SFTP.Port)
	require.Equal(t, "p", cfg.SFTP.Descriptor().Password)
}
