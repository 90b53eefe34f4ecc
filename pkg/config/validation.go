package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the struct tags on cfg plus the rules tags can't express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if cfg.SFTP.InsecureIgnoreHostKey && cfg.SFTP.KnownHosts != "" {
		return fmt.Errorf("sftp: known_hosts and insecure_ignore_host_key are mutually exclusive")
	}

	if _, err := cfg.DAV.UserTable(); err != nil {
		return err
	}

	if cfg.Admin.Listen != "" && cfg.Admin.Listen == cfg.DAV.Listen {
		return fmt.Errorf("admin.listen: must differ from dav.listen (%s)", cfg.DAV.Listen)
	}

	return nil
}

// formatValidationError reports the first failing field by its config path.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}

	return err
}
