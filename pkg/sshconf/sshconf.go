// Package sshconf reads connection settings for a host alias from an OpenSSH
// client configuration file.
package sshconf

import (
	"os"
	"strconv"

	"github.com/kevinburke/ssh_config"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
)

const DefaultPath = "~/.ssh/config"

// HostEntry holds the settings an ssh_config file gives for one alias. Fields
// the file does not set are left empty (Port is 0).
type HostEntry struct {
	HostName     string
	Port         int
	User         string
	IdentityFile string
}

// Lookup reads the file at configPath (DefaultPath when empty) and returns the
// settings that apply to alias. HostName falls back to the alias itself.
func Lookup(configPath, alias string) (*HostEntry, error) {
	if configPath == "" {
		configPath = DefaultPath
	}

	path, err := homedir.Expand(configPath)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid ssh config path %s", configPath)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open ssh config %s", path)
	}
	defer func() { _ = f.Close() }()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to parse ssh config %s", path)
	}

	entry := &HostEntry{HostName: alias}

	if hostName, _ := cfg.Get(alias, "HostName"); hostName != "" {
		entry.HostName = hostName
	}

	if port, _ := cfg.Get(alias, "Port"); port != "" {
		if entry.Port, err = strconv.Atoi(port); err != nil {
			return nil, errors.Wrapf(err, "invalid Port %q for host %s", port, alias)
		}
	}

	entry.User, _ = cfg.Get(alias, "User")

	if identityFile, _ := cfg.Get(alias, "IdentityFile"); identityFile != "" {
		if entry.IdentityFile, err = homedir.Expand(identityFile); err != nil {
			return nil, errors.Wrapf(err, "invalid IdentityFile for host %s", alias)
		}
	}

	return entry, nil
}
