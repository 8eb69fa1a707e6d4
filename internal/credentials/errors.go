package credentials

import "errors"

var (
	// ErrCredentialMissing is returned when a credential file does not exist.
	ErrCredentialMissing = errors.New("credential missing")

	// ErrCredentialMalformed is returned when a credential file cannot be
	// parsed or lacks a required field.
	ErrCredentialMalformed = errors.New("credential malformed")
)
