package web

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/prospectcrm/crmgate"
	"github.com/prospectcrm/crmgate/middleware"
)

const logoutPath = "/logout"

type handlers struct {
	gw      *crmgate.Gateway
	screens Screens
	log     *zap.Logger
}

func sessionID(r *http.Request) string {
	sid, _ := crmgate.SessionIDFromContext(r.Context())
	return sid
}

// clientIP strips the port from RemoteAddr, which RealIP may already have
// replaced with a bare forwarded address.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

/*
====================================
SIGN IN / SIGN UP
====================================
*/

func (h *handlers) signInForm(w http.ResponseWriter, r *http.Request) {
	h.screens.SignIn(w, r, Form{Status: http.StatusOK})
}

func (h *handlers) signUpForm(w http.ResponseWriter, r *http.Request) {
	h.screens.SignUp(w, r, Form{Status: http.StatusOK})
}

func (h *handlers) signIn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.screens.SignIn(w, r, Form{Status: http.StatusBadRequest, Message: "The form could not be read."})
		return
	}
	creds := crmgate.Credentials{
		Email:    strings.TrimSpace(r.PostForm.Get("email")),
		Password: r.PostForm.Get("password"),
	}
	values := map[string]string{"email": creds.Email}
	if creds.Email == "" || creds.Password == "" {
		h.screens.SignIn(w, r, Form{Status: http.StatusBadRequest, Message: "Email and password are required.", Values: values})
		return
	}

	ctx := crmgate.WithClientIP(r.Context(), clientIP(r))
	id, err := h.gw.Login(ctx, sessionID(r), creds)
	if err != nil {
		f := h.failureForm(err, "login")
		f.Values = values
		h.screens.SignIn(w, r, f)
		return
	}
	middleware.Redirect(w, r, h.gw.Routes().LandingFor(id))
}

func (h *handlers) signUp(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.screens.SignUp(w, r, Form{Status: http.StatusBadRequest, Message: "The form could not be read."})
		return
	}
	reg := crmgate.Registration{
		Name:     strings.TrimSpace(r.PostForm.Get("name")),
		Surname:  strings.TrimSpace(r.PostForm.Get("surname")),
		Email:    strings.TrimSpace(r.PostForm.Get("email")),
		Phone:    strings.TrimSpace(r.PostForm.Get("phone")),
		Username: strings.TrimSpace(r.PostForm.Get("username")),
		Password: r.PostForm.Get("password"),
	}
	values := map[string]string{
		"name":     reg.Name,
		"surname":  reg.Surname,
		"email":    reg.Email,
		"phone":    reg.Phone,
		"username": reg.Username,
	}
	if missing := missingFields(reg); len(missing) > 0 {
		h.screens.SignUp(w, r, Form{Status: http.StatusBadRequest, Message: "Please fill in every required field.", Fields: missing, Values: values})
		return
	}

	id, err := h.gw.Register(r.Context(), sessionID(r), reg)
	if err != nil {
		f := h.failureForm(err, "register")
		f.Values = values
		h.screens.SignUp(w, r, f)
		return
	}
	middleware.Redirect(w, r, h.gw.Routes().LandingFor(id))
}

func missingFields(reg crmgate.Registration) []crmgate.FieldError {
	var out []crmgate.FieldError
	for _, f := range []struct{ name, value string }{
		{"name", reg.Name},
		{"surname", reg.Surname},
		{"email", reg.Email},
		{"username", reg.Username},
		{"password", reg.Password},
	} {
		if f.value == "" {
			out = append(out, crmgate.FieldError{Field: f.name, Message: "required"})
		}
	}
	return out
}

// failureForm maps a login or registration error onto the form status and
// the message shown to the user.
func (h *handlers) failureForm(err error, op string) Form {
	var failure *crmgate.AuthFailure
	switch {
	case errors.As(err, &failure):
		f := Form{Message: failure.HumanMessage(), Fields: failure.Fields}
		switch {
		case errors.Is(err, crmgate.ErrInvalidCredentials):
			f.Status = http.StatusUnauthorized
		case errors.Is(err, crmgate.ErrConflict):
			f.Status = http.StatusConflict
		case errors.Is(err, crmgate.ErrBackendUnavailable):
			f.Status = http.StatusServiceUnavailable
			f.Message = "The service is unavailable. Try again shortly."
		default:
			f.Status = http.StatusBadRequest
		}
		return f
	case errors.Is(err, crmgate.ErrLoginThrottled):
		return Form{Status: http.StatusTooManyRequests, Message: "Too many sign-in attempts. Try again later."}
	case errors.Is(err, crmgate.ErrOperationInFlight):
		return Form{Status: http.StatusConflict, Message: "A request is already in progress."}
	case errors.Is(err, crmgate.ErrBackendUnavailable):
		h.log.Warn(op+" backend unavailable", zap.Error(err))
		return Form{Status: http.StatusServiceUnavailable, Message: "The service is unavailable. Try again shortly."}
	default:
		h.log.Error(op+" failed", zap.Error(err))
		return Form{Status: http.StatusBadGateway, Message: "Something went wrong. Try again."}
	}
}

/*
====================================
SIGN OUT / PAGES
====================================
*/

func (h *handlers) signOut(w http.ResponseWriter, r *http.Request) {
	if err := h.gw.Logout(r.Context(), sessionID(r)); err != nil {
		h.log.Error("logout failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	middleware.Redirect(w, r, h.gw.Routes().Landing().SignIn)
}

func (h *handlers) page(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, _ := middleware.StateFrom(r)
		h.screens.Page(w, r, Page{Path: path, State: st})
	}
}

func (h *handlers) notFound(w http.ResponseWriter, r *http.Request) {
	h.screens.NotFound(w, r)
}
