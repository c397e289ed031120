package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/prospectcrm/crmgate"
	"github.com/prospectcrm/crmgate/route"
)

// Option customizes a guard.
type Option func(*guardOptions)

type guardOptions struct {
	pending http.Handler
}

// WithPendingHandler replaces the default pending response. The handler
// should keep the 503 status so clients retry.
func WithPendingHandler(h http.Handler) Option {
	return func(o *guardOptions) { o.pending = h }
}

// Guard enforces req on the wrapped handler.
func Guard(gw *crmgate.Gateway, req crmgate.Requirement, opts ...Option) func(http.Handler) http.Handler {
	return gate(gw, opts, func(r *http.Request, sid string) (crmgate.Decision, crmgate.State, error) {
		return gw.Check(r.Context(), sid, req)
	})
}

// RootSwitch enforces the gateway's route table on the request path. Mount
// it as the catch-all so unknown paths land on the role landing or sign-in.
func RootSwitch(gw *crmgate.Gateway, opts ...Option) func(http.Handler) http.Handler {
	return gate(gw, opts, func(r *http.Request, sid string) (crmgate.Decision, crmgate.State, error) {
		return gw.CheckPath(r.Context(), sid, r.URL.Path)
	})
}

// StateFrom returns the session state the guard decided on.
func StateFrom(r *http.Request) (crmgate.State, bool) {
	return crmgate.StateFromContext(r.Context())
}

func gate(
	gw *crmgate.Gateway,
	opts []Option,
	check func(*http.Request, string) (crmgate.Decision, crmgate.State, error),
) func(http.Handler) http.Handler {
	o := guardOptions{pending: http.HandlerFunc(Pending)}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gw == nil {
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
			sid, ok := crmgate.SessionIDFromContext(r.Context())
			if !ok {
				// mounted without Bootstrap; nothing to decide on
				pendingHeaders(w)
				o.pending.ServeHTTP(w, r)
				return
			}

			d, st, err := check(r, sid)
			if err != nil {
				gw.Logger().Error("gate check failed", zap.String("session_id", sid), zap.Error(err))
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}

			switch d.Kind {
			case route.Pending:
				pendingHeaders(w)
				o.pending.ServeHTTP(w, r)
			case route.Redirect:
				Redirect(w, r, d.Path)
			default:
				next.ServeHTTP(w, r.WithContext(crmgate.WithState(r.Context(), st)))
			}
		})
	}
}

// Redirect sends the browser to path: 303 after a POST so the form is not
// resubmitted, 302 otherwise.
func Redirect(w http.ResponseWriter, r *http.Request, path string) {
	code := http.StatusFound
	if r.Method == http.MethodPost {
		code = http.StatusSeeOther
	}
	http.Redirect(w, r, path, code)
}

// Pending is the default response for a session whose restore has not
// settled.
func Pending(w http.ResponseWriter, _ *http.Request) {
	pendingHeaders(w)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("loading\n"))
}

func pendingHeaders(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	w.Header().Set("Cache-Control", "no-store")
}
