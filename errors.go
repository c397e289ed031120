package crmgate

import (
	"errors"

	"github.com/prospectcrm/crmgate/backend"
	"github.com/prospectcrm/crmgate/internal/rate"
	"github.com/prospectcrm/crmgate/jwt"
	"github.com/prospectcrm/crmgate/session"
)

var (
	// ErrNotReady is returned by every method of a nil or closed Gateway.
	ErrNotReady = errors.New("gateway not initialized")
	// ErrSessionIDRequired is returned when a browser session ID is empty.
	ErrSessionIDRequired = errors.New("session id required")
	// ErrOperationInFlight rejects a login or registration submitted while
	// another one is still running for the same session.
	ErrOperationInFlight = errors.New("operation already in flight")
	// ErrNotAuthenticated is returned by identity updates on an anonymous session.
	ErrNotAuthenticated = errors.New("session not authenticated")
	// ErrInvalidIdentity rejects identity updates that would change the user.
	ErrInvalidIdentity = errors.New("invalid identity")
)

// Backend and storage sentinels, re-exported for errors.Is at call sites.
var (
	ErrInvalidCredentials = backend.ErrInvalidCredentials
	ErrConflict           = backend.ErrConflict
	ErrRejected           = backend.ErrRejected
	ErrBackendUnavailable = backend.ErrUnavailable
	ErrMalformedResponse  = backend.ErrMalformedResponse
	ErrTokenInvalid       = jwt.ErrTokenInvalid
	ErrRedisUnavailable   = session.ErrRedisUnavailable
	ErrSnapshotCorrupt    = session.ErrSnapshotCorrupt
	ErrLoginThrottled     = rate.ErrRateLimited
)

// AuthFailure is a non-success answer from the CRM backend.
type AuthFailure = backend.AuthFailure

// FieldError is one validation message attached to an AuthFailure.
type FieldError = backend.FieldError
