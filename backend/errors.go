package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrInvalidCredentials matches failures with status 401.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrConflict matches failures with status 409 (e.g. duplicate registration).
	ErrConflict = errors.New("conflict")
	// ErrRejected matches every other 4xx failure.
	ErrRejected = errors.New("request rejected")
	// ErrUnavailable matches 5xx failures and transport errors.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrMalformedResponse is returned when a success response cannot be interpreted.
	ErrMalformedResponse = errors.New("malformed backend response")
)

// FieldError is one validation message attached to a failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AuthFailure is a non-success answer from the backend.
type AuthFailure struct {
	Status  int
	Code    string
	Message string
	Details string
	Fields  []FieldError
}

func (f *AuthFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "backend status %d", f.Status)
	if f.Code != "" {
		b.WriteString(" ")
		b.WriteString(f.Code)
	}
	if f.Message != "" {
		b.WriteString(": ")
		b.WriteString(f.Message)
	}
	return b.String()
}

// Unwrap maps the status onto the package sentinels for errors.Is.
func (f *AuthFailure) Unwrap() error {
	switch {
	case f.Status == http.StatusUnauthorized:
		return ErrInvalidCredentials
	case f.Status == http.StatusConflict:
		return ErrConflict
	case f.Status >= 500:
		return ErrUnavailable
	default:
		return ErrRejected
	}
}

// HumanMessage returns a message suitable for showing to the user.
func (f *AuthFailure) HumanMessage() string {
	if f.Message != "" {
		return f.Message
	}
	return http.StatusText(f.Status)
}
