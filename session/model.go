package session

import "strings"

// Role is the coarse authorization level of an identity.
type Role uint8

const (
	// RoleStandard is an ordinary CRM user (wire role USER).
	RoleStandard Role = iota
	// RoleElevated is an administrator (wire role ADMIN).
	RoleElevated
)

func (r Role) String() string {
	switch r {
	case RoleElevated:
		return "ELEVATED"
	default:
		return "STANDARD"
	}
}

// ParseRole maps a backend wire role to a Role. Anything that is not an
// explicit administrator role maps to RoleStandard.
func ParseRole(wire string) Role {
	switch strings.ToUpper(strings.TrimSpace(wire)) {
	case "ADMIN", "ROLE_ADMIN", "ELEVATED":
		return RoleElevated
	default:
		return RoleStandard
	}
}

// Identity is the authenticated user as known to the gateway. It is replaced
// wholesale; callers must not mutate an Identity after handing it to a Store.
type Identity struct {
	ID          int64
	Role        Role
	DisplayName string
	Username    string
	Email       string
	IsActive    bool

	// ExpiresAt is the unix time at which the backend credential expires, or 0 when unknown.
	ExpiresAt int64
}

// Clone returns a copy of i, or nil for a nil receiver.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// Elevated reports whether the identity holds the administrator role.
func (i *Identity) Elevated() bool {
	return i != nil && i.Role == RoleElevated
}

// DisplayNameFor builds the display name from the profile fields the backend
// returns: "first last", falling back to username and then email.
func DisplayNameFor(first, last, username, email string) string {
	name := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	if name != "" {
		return name
	}
	if u := strings.TrimSpace(username); u != "" {
		return u
	}
	return strings.TrimSpace(email)
}

// Phase is the restore state machine of a session.
type Phase uint8

const (
	// PhaseNotStarted means no restore has been attempted in the current lifetime.
	PhaseNotStarted Phase = iota
	// PhaseChecking means a restore call is in flight.
	PhaseChecking
	// PhaseSettled means the session state is authoritative until logout.
	PhaseSettled
)

func (p Phase) String() string {
	switch p {
	case PhaseChecking:
		return "CHECKING"
	case PhaseSettled:
		return "SETTLED"
	default:
		return "NOT_STARTED"
	}
}

// State is an immutable view of a session at one point in time.
type State struct {
	Identity    *Identity
	Loading     bool
	Initialized bool
	Phase       Phase

	// UpdatedAt is the unix-nanosecond time of the mutation that produced this state.
	UpdatedAt int64
}

// IsAuthenticated reports whether an identity is present.
func (s State) IsAuthenticated() bool {
	return s.Identity != nil
}

// Settled reports whether the state can be used for authorization decisions.
func (s State) Settled() bool {
	return s.Initialized && !s.Loading
}

// clone detaches the identity pointer so a returned State cannot alias store internals.
func (s State) clone() State {
	s.Identity = s.Identity.Clone()
	return s
}
