package davfs

import (
	"crypto/subtle"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidUserOrPassword = errors.New("invalid user or password")

// Users is the HTTP basic auth table: user name to bcrypt hash. An empty
// table turns authentication off.
type Users struct {
	hashes map[string]string

	// verified caches the last password that matched each user's hash so
	// bcrypt only runs when a client presents a different password.
	verified sync.Map
}

func NewUsers(hashes map[string]string) *Users {
	copied := make(map[string]string, len(hashes))
	for name, hash := range hashes {
		copied[name] = hash
	}
	return &Users{hashes: copied}
}

// Enabled reports whether requests have to authenticate.
func (u *Users) Enabled() bool {
	return u != nil && len(u.hashes) > 0
}

func (u *Users) Validate(username, password string) error {
	hash, ok := u.hashes[username]
	if !ok {
		return ErrInvalidUserOrPassword
	}

	if previous, ok := u.verified.Load(username); ok {
		if subtle.ConstantTimeCompare([]byte(previous.(string)), []byte(password)) == 1 {
			return nil
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidUserOrPassword
	}

	u.verified.Store(username, password)
	return nil
}
