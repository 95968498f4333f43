package auth

import (
	"errors"
	"strings"

	"crop-planner/internal/models"
)

var ErrMissingCredentials = errors.New("missing email or password")

// PasswordLogin accepts any non-empty email/password pair. There is no
// credential backend yet; the user name is the local part of the email.
func PasswordLogin(email, password string) (*models.User, error) {
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	name, _, _ := strings.Cut(email, "@")
	return &models.User{
		Email: email,
		Name:  name,
	}, nil
}
