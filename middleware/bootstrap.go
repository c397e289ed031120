package middleware

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/prospectcrm/crmgate"
)

// CookieFor returns the session cookie settings of gw.
func CookieFor(gw *crmgate.Gateway) SessionCookie {
	cfg := gw.Config()
	return SessionCookie{Name: cfg.Session.CookieName, Secure: cfg.Session.CookieSecure}
}

// EntryPath picks the navigation path a request activates its session for.
type EntryPath func(*http.Request) string

// RequestPath is the EntryPath of server-rendered navigations.
func RequestPath(r *http.Request) string {
	return r.URL.Path
}

// EntryQuery returns an EntryPath reading the client's current route from
// the query value key, for JSON endpoints called by a single-page client.
// Without a usable value the request path is used.
func EntryQuery(key string) EntryPath {
	return func(r *http.Request) string {
		v := strings.TrimSpace(r.URL.Query().Get(key))
		if !strings.HasPrefix(v, "/") || strings.HasPrefix(v, "//") {
			return r.URL.Path
		}
		return path.Clean(v)
	}
}

// Bootstrap binds every request to a browser session and runs the one-time
// session restore before the request reaches the router. The first
// navigation of a session is held up to Session.AwaitTimeout so server
// rendering sees a settled state; a restore still running after that renders
// as pending.
func Bootstrap(gw *crmgate.Gateway) func(http.Handler) http.Handler {
	return BootstrapFor(gw, RequestPath)
}

// BootstrapFor is Bootstrap activating sessions for the path entry returns.
func BootstrapFor(gw *crmgate.Gateway, entry EntryPath) func(http.Handler) http.Handler {
	if entry == nil {
		entry = RequestPath
	}
	cookie := CookieFor(gw)
	awaitTimeout := gw.Config().Session.AwaitTimeout
	log := gw.Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid, minted := cookie.Issue(w, r)
			ctx := crmgate.WithSessionID(r.Context(), sid)

			if _, err := gw.Activate(ctx, sid, entry(r)); err != nil {
				log.Error("session activation failed", zap.String("session_id", sid), zap.Error(err))
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
			if awaitTimeout > 0 {
				awaitCtx, cancel := context.WithTimeout(ctx, awaitTimeout)
				_, err := gw.Await(awaitCtx, sid)
				cancel()
				if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
					log.Warn("session await failed", zap.String("session_id", sid), zap.Error(err))
				}
			}
			if minted {
				log.Debug("session issued", zap.String("session_id", sid), zap.String("path", r.URL.Path))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
