package route

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/prospectcrm/crmgate/session"
)

// Landing holds the fixed navigation targets of the application.
type Landing struct {
	Root     string
	SignIn   string
	SignUp   string
	Elevated string
	Standard string
}

// DefaultLanding is the CRM layout: /login and /register for anonymous users,
// /admin for administrators and /leads for everyone else.
func DefaultLanding() Landing {
	return Landing{
		Root:     "/",
		SignIn:   "/login",
		SignUp:   "/register",
		Elevated: "/admin",
		Standard: "/leads",
	}
}

// Table is the declared route set. Routes are registered during start-up and
// the table is then frozen; lookups are safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	landing Landing
	routes  map[string]Requirement
	frozen  bool
}

// NewTable returns an empty, unfrozen table.
func NewTable(l Landing) *Table {
	return &Table{
		landing: l,
		routes:  make(map[string]Requirement),
	}
}

// DefaultTable returns the frozen CRM route table.
func DefaultTable() *Table {
	l := DefaultLanding()
	t := NewTable(l)
	for p, req := range map[string]Requirement{
		l.SignIn:  Public,
		l.SignUp:  Public,
		"/logout": Authenticated,
		"/leads":  Authenticated,
		"/emails": Authenticated,
		"/drafts": Authenticated,
		"/admin":  AuthenticatedElevated,
		"/users":  AuthenticatedElevated,
	} {
		if err := t.Register(p, req); err != nil {
			panic(err)
		}
	}
	t.Freeze()
	return t
}

/*
====================================
REGISTRATION
*/

// Register declares path with its requirement. It fails once the table is
// frozen, for an empty path and for duplicates.
func (t *Table) Register(p string, req Requirement) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frozen {
		return errors.New("route table frozen")
	}
	if strings.TrimSpace(p) == "" {
		return errors.New("route path empty")
	}
	if req > AuthenticatedElevated {
		return fmt.Errorf("invalid requirement %d", req)
	}
	p = normalize(p)
	if _, exists := t.routes[p]; exists {
		return fmt.Errorf("route %s already registered", p)
	}
	t.routes[p] = req
	return nil
}

// Freeze stops further registration.
func (t *Table) Freeze() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frozen = true
}

// Frozen reports whether Freeze has been called.
func (t *Table) Frozen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frozen
}

// Validate checks that every landing target is a registered route with a
// requirement that lets its audience reach it.
func (t *Table) Validate() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	checks := []struct {
		name string
		path string
		ok   func(Requirement) bool
	}{
		{"sign-in", t.landing.SignIn, func(r Requirement) bool { return r == Public }},
		{"elevated landing", t.landing.Elevated, func(r Requirement) bool { return r != Public }},
		{"standard landing", t.landing.Standard, func(r Requirement) bool { return r == Authenticated }},
	}
	for _, c := range checks {
		if c.path == "" {
			return fmt.Errorf("%s path empty", c.name)
		}
		req, ok := t.routes[normalize(c.path)]
		if !ok {
			return fmt.Errorf("%s %s not registered", c.name, c.path)
		}
		if !c.ok(req) {
			return fmt.Errorf("%s %s has requirement %s", c.name, c.path, req)
		}
	}
	return nil
}

/*
====================================
LOOKUP
*/

// Lookup returns the requirement declared for p.
func (t *Table) Lookup(p string) (Requirement, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	req, ok := t.routes[normalize(p)]
	return req, ok
}

// Count returns the number of declared routes.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}

// Paths returns the declared paths in sorted order.
func (t *Table) Paths() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.routes))
	for p := range t.routes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Landing returns the table's navigation targets.
func (t *Table) Landing() Landing {
	return t.landing
}

// LandingFor returns the role landing for id, or the sign-in path for nil.
func (t *Table) LandingFor(id *session.Identity) string {
	switch {
	case id == nil:
		return t.landing.SignIn
	case id.Elevated():
		return t.landing.Elevated
	default:
		return t.landing.Standard
	}
}

/*
====================================
ROOT SWITCH
*/

// Resolve is the root switch. Anonymous sessions only reach public routes;
// authenticated sessions only reach private ones, and anything else sends
// them to their role landing. Matched private routes go through Decide.
func (t *Table) Resolve(st session.State, p string) Decision {
	if !st.Settled() {
		return pending
	}
	req, ok := t.Lookup(p)

	if st.Identity == nil {
		if ok && req == Public {
			return render
		}
		return Decision{Kind: Redirect, Target: TargetSignIn, Path: t.landing.SignIn}
	}

	if !ok || req == Public {
		return Decision{Kind: Redirect, Target: TargetLanding, Path: t.LandingFor(st.Identity)}
	}

	d := Decide(st, req)
	if d.Kind == Redirect {
		d.Path = t.PathFor(d.Target, st.Identity)
	}
	return d
}

// PathFor maps a redirect target to a concrete path.
func (t *Table) PathFor(target Target, id *session.Identity) string {
	switch target {
	case TargetSignIn:
		return t.landing.SignIn
	case TargetDefaultLanding:
		return t.landing.Root
	default:
		return t.LandingFor(id)
	}
}

func normalize(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
