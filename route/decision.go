package route

import (
	"fmt"

	"github.com/prospectcrm/crmgate/session"
)

// Requirement is the access level a route declares.
type Requirement uint8

const (
	// Public routes render for everyone once the session is settled.
	Public Requirement = iota
	// Authenticated routes need an identity.
	Authenticated
	// AuthenticatedElevated routes need an administrator identity.
	AuthenticatedElevated
)

func (r Requirement) String() string {
	switch r {
	case Public:
		return "PUBLIC"
	case Authenticated:
		return "AUTHENTICATED"
	case AuthenticatedElevated:
		return "AUTHENTICATED_ELEVATED"
	default:
		return fmt.Sprintf("Requirement(%d)", uint8(r))
	}
}

// Kind is the outcome class of a Decision.
type Kind uint8

const (
	// Pending means the session is not settled; show a neutral loading view.
	Pending Kind = iota
	// Render means the route's screen may be shown.
	Render
	// Redirect means navigate to Decision.Target.
	Redirect
)

func (k Kind) String() string {
	switch k {
	case Pending:
		return "PENDING"
	case Render:
		return "RENDER"
	case Redirect:
		return "REDIRECT"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Target names where a redirect goes.
type Target string

const (
	// TargetSignIn is the sign-in screen.
	TargetSignIn Target = "sign-in"
	// TargetDefaultLanding is the application root, which the root switch
	// turns into the role-based landing.
	TargetDefaultLanding Target = "default-landing"
	// TargetLanding is a concrete role landing chosen by the root switch.
	TargetLanding Target = "landing"
)

// Decision is the gate's answer for one navigation. Path is filled by
// Table.Resolve for redirects; Decide leaves it empty.
type Decision struct {
	Kind   Kind
	Target Target
	Path   string
}

func (d Decision) String() string {
	if d.Kind != Redirect {
		return d.Kind.String()
	}
	if d.Path != "" {
		return fmt.Sprintf("REDIRECT(%s %s)", d.Target, d.Path)
	}
	return fmt.Sprintf("REDIRECT(%s)", d.Target)
}

var (
	pending = Decision{Kind: Pending}
	render  = Decision{Kind: Render}
)

// Decide is the gate for a single route.
//
// It never renders while the session is unsettled, sends anonymous users to
// sign-in, and sends standard users away from elevated routes to the default
// landing.
func Decide(st session.State, req Requirement) Decision {
	if !st.Initialized || st.Loading {
		return pending
	}
	if req == Public {
		return render
	}
	if st.Identity == nil {
		return Decision{Kind: Redirect, Target: TargetSignIn}
	}
	if req == AuthenticatedElevated && st.Identity.Role != session.RoleElevated {
		return Decision{Kind: Redirect, Target: TargetDefaultLanding}
	}
	return render
}
