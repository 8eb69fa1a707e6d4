package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthorizationRequired is returned when no usable token exists and
	// the user has to complete the browser authorization flow.
	ErrAuthorizationRequired = errors.New("authorization required")

	// ErrAuthorizationDenied is returned when the provider redirects back
	// with an error instead of a code.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrInvalidRedirect is returned for callback URIs that do not belong to gitback.
	ErrInvalidRedirect = errors.New("invalid redirect uri")
)

// AuthorizationError carries the provider's error code and description.
type AuthorizationError struct {
	Code        string
	Description string
}

func (e *AuthorizationError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("authorization denied: %s", e.Code)
	}
	return fmt.Sprintf("authorization denied: %s: %s", e.Code, e.Description)
}

// Is makes errors.Is(err, ErrAuthorizationDenied) true.
func (e *AuthorizationError) Is(target error) bool {
	return target == ErrAuthorizationDenied
}
