package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// SessionCookie names and scopes the browser-session cookie.
type SessionCookie struct {
	Name   string
	Secure bool
}

// Read returns the session ID carried by r. Values that are not UUIDs are
// ignored so a forged cookie cannot pick a predictable session ID.
func (c SessionCookie) Read(r *http.Request) (string, bool) {
	ck, err := r.Cookie(c.Name)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(ck.Value)
	id, err := uuid.Parse(v)
	if err != nil || id.Version() != 4 {
		return "", false
	}
	return id.String(), true
}

// Write sets the cookie to sessionID. The cookie is Secure when configured
// or when r arrived over TLS.
func (c SessionCookie) Write(w http.ResponseWriter, r *http.Request, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

// Issue returns the session ID of r, minting and writing a new one when r
// carries none.
func (c SessionCookie) Issue(w http.ResponseWriter, r *http.Request) (string, bool) {
	if id, ok := c.Read(r); ok {
		return id, false
	}
	id := uuid.NewString()
	c.Write(w, r, id)
	return id, true
}
