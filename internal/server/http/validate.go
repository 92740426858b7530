package httpserver

import (
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/and161185/forum-auth/internal/errs"
)

const (
	maxUsernameLen = 32
	maxPasswordLen = 72 // bcrypt input limit
)

type registerRequest struct {
	Email    string  `json:"email"`
	Username string  `json:"username"`
	Password string  `json:"password"`
	Avatar   *string `json:"avatar"`
}

func (r *registerRequest) normalize() {
	r.Email = strings.TrimSpace(r.Email)
	r.Username = strings.TrimSpace(r.Username)
	if r.Avatar != nil && strings.TrimSpace(*r.Avatar) == "" {
		r.Avatar = nil
	}
}

func (r *registerRequest) validate() error {
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if r.Username == "" {
		return errs.Validationf("username is required")
	}
	if utf8.RuneCountInString(r.Username) > maxUsernameLen {
		return errs.Validationf("username is too long")
	}
	if strings.IndexFunc(r.Username, unicode.IsSpace) >= 0 {
		return errs.Validationf("username must not contain spaces")
	}
	return validatePassword(r.Password)
}

type loginRequest struct {
	Username string `json:"username"` // username or email
	Password string `json:"password"`
}

func (r *loginRequest) validate() error {
	r.Username = strings.TrimSpace(r.Username)
	if r.Username == "" || r.Password == "" {
		return errs.Validationf("username and password are required")
	}
	return nil
}

func validateEmail(s string) error {
	if s == "" {
		return errs.Validationf("email is required")
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return errs.Validationf("email is invalid")
	}
	return nil
}

func validatePassword(s string) error {
	if s == "" {
		return errs.Validationf("password is required")
	}
	if len(s) > maxPasswordLen {
		return errs.Validationf("password is too long")
	}
	return nil
}
