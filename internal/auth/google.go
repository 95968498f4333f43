package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"crop-planner/internal/models"
)

var ErrInvalidCredential = errors.New("invalid google credential")

// DecodeGoogleCredential reads the claims of a Google ID token without
// checking its signature against the issuer.
func DecodeGoogleCredential(credential string) (*models.User, error) {
	if credential == "" {
		return nil, ErrInvalidCredential
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(credential, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	user := &models.User{Extra: map[string]any{}}
	for key, value := range claims {
		s, isString := value.(string)
		switch {
		case key == "name" && isString:
			user.Name = s
		case key == "email" && isString:
			user.Email = s
		case key == "picture" && isString:
			user.Picture = s
		default:
			user.Extra[key] = value
		}
	}

	return user, nil
}
