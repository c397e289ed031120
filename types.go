package crmgate

import (
	"context"
	"net/http"

	"github.com/prospectcrm/crmgate/backend"
	"github.com/prospectcrm/crmgate/internal/flows"
	"github.com/prospectcrm/crmgate/route"
	"github.com/prospectcrm/crmgate/session"
)

// Identity is the authenticated user of a session.
type Identity = session.Identity

// State is a copy of one session's Session State.
type State = session.State

// Role is the authorization level of an Identity.
type Role = session.Role

// Phase is the restore state machine of a session.
type Phase = session.Phase

const (
	RoleStandard = session.RoleStandard
	RoleElevated = session.RoleElevated

	PhaseNotStarted = session.PhaseNotStarted
	PhaseChecking   = session.PhaseChecking
	PhaseSettled    = session.PhaseSettled
)

// DisplayNameFor builds the name shown for a user: first and last name,
// falling back to the username and then the email.
func DisplayNameFor(first, last, username, email string) string {
	return session.DisplayNameFor(first, last, username, email)
}

// Requirement is the access level a route declares.
type Requirement = route.Requirement

// Decision is the gate's answer for one navigation.
type Decision = route.Decision

const (
	Public                = route.Public
	Authenticated         = route.Authenticated
	AuthenticatedElevated = route.AuthenticatedElevated
)

// Credentials is the login form.
type Credentials = backend.Credentials

// Registration is the sign-up form.
type Registration = backend.Registration

// AuthBackend is the per-session view of the authentication backend. The
// default implementation is a backend.Conn bound to the session's cookie jar.
type AuthBackend = flows.AuthBackend

// BackendFactory returns the AuthBackend for a session whose backend cookies
// live in jar.
type BackendFactory func(jar http.CookieJar) AuthBackend

// BackendFuncs adapts plain functions to AuthBackend. Nil functions fail with
// ErrBackendUnavailable; a nil LogoutFunc succeeds.
type BackendFuncs struct {
	RestoreFunc  func(ctx context.Context) (*Identity, error)
	LoginFunc    func(ctx context.Context, creds Credentials) (*Identity, error)
	RegisterFunc func(ctx context.Context, reg Registration) (*Identity, error)
	LogoutFunc   func(ctx context.Context) error
}

func (f BackendFuncs) RestoreSession(ctx context.Context) (*Identity, error) {
	if f.RestoreFunc == nil {
		return nil, ErrBackendUnavailable
	}
	return f.RestoreFunc(ctx)
}

func (f BackendFuncs) Login(ctx context.Context, creds Credentials) (*Identity, error) {
	if f.LoginFunc == nil {
		return nil, ErrBackendUnavailable
	}
	return f.LoginFunc(ctx, creds)
}

func (f BackendFuncs) Register(ctx context.Context, reg Registration) (*Identity, error) {
	if f.RegisterFunc == nil {
		return nil, ErrBackendUnavailable
	}
	return f.RegisterFunc(ctx, reg)
}

func (f BackendFuncs) Logout(ctx context.Context) error {
	if f.LogoutFunc == nil {
		return nil
	}
	return f.LogoutFunc(ctx)
}
