package core

import (
	"net/http"

	"github.com/pkg/errors"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// CredentialError means the backend rejected the presented credentials
// (login password, refresh token, access token).
type CredentialError struct {
	Status  int
	Message string
}

func NewCredentialError(status int, msg string) error {
	if msg == "" {
		msg = "invalid credentials"
	}
	return &CredentialError{Status: status, Message: msg}
}

func (err CredentialError) Error() string {
	return err.Message
}

// NetworkError is a transient failure: transport error, timeout or a server-side (5xx) failure.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func NewNetworkError(op string, status int, err error) error {
	return &NetworkError{Op: op, Status: status, Err: err}
}

func (err NetworkError) Error() string {
	if err.Err == nil {
		return err.Op + ": network failure"
	}
	return err.Op + ": " + err.Err.Error()
}

func (err NetworkError) Unwrap() error {
	return err.Err
}

func IsCredential(err error) bool {
	var cErr *CredentialError
	return errors.As(err, &cErr)
}

// IsUnauthorized reports a rejected access token (401), the only rejection a token refresh can cure.
func IsUnauthorized(err error) bool {
	var cErr *CredentialError
	return errors.As(err, &cErr) && cErr.Status == http.StatusUnauthorized
}

func IsNetwork(err error) bool {
	var nErr *NetworkError
	return errors.As(err, &nErr)
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
