package authapi

import (
	"errors"
	"fmt"
	"strings"

	"huddle/cmd/security/password"

	"github.com/go-playground/validator/v10"
)

const msgFieldsRequired = "All fields are required"

// requestError is a 400 with a client-facing message.
type requestError struct {
	msg string
}

func (e requestError) Error() string { return e.msg }

type requestValidator struct {
	v         *validator.Validate
	cfg       Config
	passwords password.Config
}

func newRequestValidator(cfg Config, passwords password.Config) *requestValidator {
	return &requestValidator{
		v:         validator.New(validator.WithRequiredStructEnabled()),
		cfg:       cfg,
		passwords: passwords,
	}
}

// register trims the request in place and reports the first failing rule.
// Missing fields are reported before any format or length rule.
func (rv *requestValidator) register(req *registerRequest) error {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	var emailErr error
	if err := rv.v.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			if fe.Tag() == "required" {
				return requestError{msg: msgFieldsRequired}
			}
		}
		emailErr = requestError{msg: "Invalid email format"}
	}

	if err := rv.v.Var(req.Username, fmt.Sprintf("min=%d", rv.cfg.UsernameMinLen)); err != nil {
		return requestError{msg: fmt.Sprintf("Username must be at least %d characters long", rv.cfg.UsernameMinLen)}
	}
	if err := rv.v.Var(req.Username, fmt.Sprintf("max=%d", rv.cfg.UsernameMaxLen)); err != nil {
		return requestError{msg: fmt.Sprintf("Username must be at most %d characters long", rv.cfg.UsernameMaxLen)}
	}

	switch err := rv.passwords.Validate(req.Password); {
	case errors.Is(err, password.ErrPasswordTooShort):
		return requestError{msg: fmt.Sprintf("Password must be at least %d characters long", rv.passwords.Policy.MinLength)}
	case errors.Is(err, password.ErrPasswordTooLong):
		return requestError{msg: fmt.Sprintf("Password must be at most %d characters long", rv.passwords.Policy.MaxLength)}
	case err != nil:
		return err
	}

	return emailErr
}

func (rv *requestValidator) login(req *loginRequest) error {
	req.Email = strings.TrimSpace(req.Email)
	if err := rv.v.Struct(req); err != nil {
		return requestError{msg: msgFieldsRequired}
	}
	return nil
}
