// Package config loads the sftpdavd configuration from defaults, an optional
// config file, SFTPDAV_ environment variables (optionally seeded from a dotenv
// file) and command line flags, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/materials-commons/sftpdav/pkg/backend"
	"github.com/materials-commons/sftpdav/pkg/sshconf"
	"github.com/mitchellh/go-homedir"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

const (
	EnvPrefix     = "SFTPDAV"
	DotenvPathEnv = "SFTPDAV_DOTENV_PATH"
)

type Config struct {
	SFTP    SFTPConfig    `mapstructure:"sftp"`
	DAV     DAVConfig     `mapstructure:"dav"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SFTPConfig describes the back end. When HostAlias is set the matching
// entry of the ssh client config fills in whatever is left empty here.
type SFTPConfig struct {
	Host                  string        `mapstructure:"host" validate:"required"`
	HostAlias             string        `mapstructure:"host_alias"`
	SSHConfig             string        `mapstructure:"ssh_config"`
	Port                  int           `mapstructure:"port" validate:"gte=1,lte=65535"`
	User                  string        `mapstructure:"user" validate:"required"`
	KeyPath               string        `mapstructure:"key_path" validate:"required_without=Password"`
	Password              string        `mapstructure:"password"`
	KnownHosts            string        `mapstructure:"known_hosts"`
	InsecureIgnoreHostKey bool          `mapstructure:"insecure_ignore_host_key"`
	RootPath              string        `mapstructure:"root_path" validate:"required,startswith=/"`
	PoolSize              int           `mapstructure:"pool_size" validate:"gte=1"`
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout" validate:"gt=0"`
	AcquireTimeout        time.Duration `mapstructure:"acquire_timeout" validate:"gt=0"`
	KeepAlive             time.Duration `mapstructure:"keep_alive" validate:"gte=0"`
	DialRetries           int           `mapstructure:"dial_retries" validate:"gte=0"`
}

type DAVConfig struct {
	Listen   string `mapstructure:"listen" validate:"required"`
	Prefix   string `mapstructure:"prefix"`
	ReadOnly bool   `mapstructure:"read_only"`

	// Users holds "name:bcrypt-hash" entries. Empty disables authentication.
	Users []string `mapstructure:"users"`
}

type AdminConfig struct {
	// Listen is the admin API address. Empty disables the admin API.
	Listen string `mapstructure:"listen"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error fatal"`
	Output string `mapstructure:"output"`
}

// flagKeys maps command line flag names onto configuration keys.
var flagKeys = map[string]string{
	"host":                     "sftp.host",
	"host-alias":               "sftp.host_alias",
	"ssh-config":               "sftp.ssh_config",
	"port":                     "sftp.port",
	"user":                     "sftp.user",
	"key":                      "sftp.key_path",
	"known-hosts":              "sftp.known_hosts",
	"insecure-ignore-host-key": "sftp.insecure_ignore_host_key",
	"root":                     "sftp.root_path",
	"pool-size":                "sftp.pool_size",
	"connect-timeout":          "sftp.connect_timeout",
	"acquire-timeout":          "sftp.acquire_timeout",
	"listen":                   "dav.listen",
	"prefix":                   "dav.prefix",
	"read-only":                "dav.read_only",
	"admin-listen":             "admin.listen",
	"log-level":                "logging.level",
	"log-output":               "logging.output",
}

// Load builds the configuration. configPath may be empty, in which case
// config.yaml in DefaultConfigDir is used if it exists. flags may be nil.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	if dotenvPath := os.Getenv(DotenvPathEnv); dotenvPath != "" {
		if err := gotenv.Load(dotenvPath); err != nil {
			return nil, errors.Wrapf(err, "unable to load dotenv file %s", dotenvPath)
		}
	}

	v := viper.New()
	setDefaults(v)
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if err := cfg.resolveHostAlias(); err != nil {
		return nil, err
	}

	if err := ApplyDefaults(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can find it. Keys an ssh
// config host alias may fill in default to their zero value here and get
// their real defaults in ApplyDefaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("sftp.host", "")
	v.SetDefault("sftp.host_alias", "")
	v.SetDefault("sftp.ssh_config", sshconf.DefaultPath)
	v.SetDefault("sftp.port", 0)
	v.SetDefault("sftp.user", "")
	v.SetDefault("sftp.key_path", "")
	v.SetDefault("sftp.password", "")
	v.SetDefault("sftp.known_hosts", "")
	v.SetDefault("sftp.insecure_ignore_host_key", false)
	v.SetDefault("sftp.root_path", "")
	v.SetDefault("sftp.pool_size", 3)
	v.SetDefault("sftp.connect_timeout", 10*time.Second)
	v.SetDefault("sftp.acquire_timeout", 5*time.Second)
	v.SetDefault("sftp.keep_alive", 30*time.Second)
	v.SetDefault("sftp.dial_retries", 2)

	v.SetDefault("dav.listen", "localhost:8080")
	v.SetDefault("dav.prefix", "")
	v.SetDefault("dav.read_only", false)
	v.SetDefault("dav.users", []string{})

	v.SetDefault("admin.listen", "localhost:8081")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	v.AddConfigPath(DefaultConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return errors.Wrap(err, "failed to read config file")
	}

	return nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}

	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}

		if err := v.BindPFlag(key, flag); err != nil {
			return errors.Wrapf(err, "unable to bind flag --%s", name)
		}
	}

	return nil
}

// resolveHostAlias fills empty connection fields from the ssh client config.
// Values set explicitly in the configuration win over the alias entry.
func (c *Config) resolveHostAlias() error {
	if c.SFTP.HostAlias == "" {
		return nil
	}

	entry, err := sshconf.Lookup(c.SFTP.SSHConfig, c.SFTP.HostAlias)
	if err != nil {
		return errors.Wrapf(err, "unable to resolve host alias %s", c.SFTP.HostAlias)
	}

	if c.SFTP.Host == "" {
		c.SFTP.Host = entry.HostName
	}

	if c.SFTP.Port == 0 {
		c.SFTP.Port = entry.Port
	}

	if c.SFTP.User == "" {
		c.SFTP.User = entry.User
	}

	if c.SFTP.KeyPath == "" {
		c.SFTP.KeyPath = entry.IdentityFile
	}

	return nil
}

// ApplyDefaults fills values that are only known after the host alias has
// been resolved and expands ~ in file paths.
func ApplyDefaults(cfg *Config) error {
	if cfg.SFTP.Port == 0 {
		cfg.SFTP.Port = 22
	}

	if cfg.SFTP.User == "" {
		cfg.SFTP.User = os.Getenv("USER")
	}

	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)

	for _, p := range []*string{&cfg.SFTP.KeyPath, &cfg.SFTP.KnownHosts, &cfg.SFTP.SSHConfig} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return errors.Wrapf(err, "unable to expand path %s", *p)
		}
		*p = expanded
	}

	return nil
}

// DefaultConfigDir is $XDG_CONFIG_HOME/sftpdav, or ~/.config/sftpdav.
func DefaultConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "sftpdav")
	}

	home, err := homedir.Dir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "sftpdav")
}

// Descriptor converts the SFTP section into the immutable connection
// descriptor the pool is built from.
func (c SFTPConfig) Descriptor() backend.Descriptor {
	return backend.Descriptor{
		Host:                  c.Host,
		Port:                  c.Port,
		User:                  c.User,
		KeyPath:               c.KeyPath,
		Password:              c.Password,
		KnownHostsFile:        c.KnownHosts,
		InsecureIgnoreHostKey: c.InsecureIgnoreHostKey,
		RootPath:              c.RootPath,
		PoolSize:              c.PoolSize,
		ConnectTimeout:        c.ConnectTimeout,
		AcquireTimeout:        c.AcquireTimeout,
		KeepAlive:             c.keepAlive(),
		DialRetries:           c.DialRetries,
	}.WithDefaults()
}

// keepAlive maps an explicit keep_alive of 0 to the descriptor's disabled
// value; the 30s default is applied by viper before this runs.
func (c SFTPConfig) keepAlive() time.Duration {
	if c.KeepAlive == 0 {
		return -1
	}
	return c.KeepAlive
}

// UserTable parses DAV.Users into a name to bcrypt hash map.
func (c DAVConfig) UserTable() (map[string]string, error) {
	users := make(map[string]string, len(c.Users))
	for _, entry := range c.Users {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		name, hash, found := strings.Cut(entry, ":")
		if !found || name == "" || hash == "" {
			return nil, fmt.Errorf("dav.users: entry %q is not of the form name:bcrypt-hash", entry)
		}
		users[name] = hash
	}

	return users, nil
}
