package app

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned for an unknown email and for a wrong
	// password alike so responses do not reveal which accounts exist.
	ErrInvalidCredentials = errors.New("Invalid email or password.")

	ErrEmailAndPasswordRequired = errors.New("Email and password are required.")
	ErrEmailAlreadyExists       = errors.New("An account with this email already exists.")
	ErrPasswordTooLong          = errors.New("Password must be at most 72 bytes.")

	// ErrUnauthorized covers missing, malformed, expired and revoked tokens.
	ErrUnauthorized = errors.New("Unauthorized")
	ErrUserNotFound = errors.New("User not found.")

	ErrInvalidJSON           = errors.New("Invalid JSON body.")
	ErrContentRequired       = errors.New("Content is required.")
	ErrInvalidProfilePicture = errors.New("Invalid profile picture.")

	ErrTextRequired     = errors.New("No text provided for analysis.")
	ErrAnalysisDisabled = errors.New("Analysis is not configured.")

	ErrEmailAndAmountRequired = errors.New("Email and amount required")
	ErrInvalidWebhook         = errors.New("Invalid webhook.")
	ErrPaymentsDisabled       = errors.New("Payments are not configured.")
)

// UpstreamError is a non-2xx reply from an external service. Body is the
// upstream payload as received.
type UpstreamError struct {
	Service string
	Status  int
	Body    []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Service, e.Status)
}

// ParseError means an upstream 2xx reply could not be turned into a result.
type ParseError struct {
	Raw []byte
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse upstream response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
