package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/prospectcrm/crmgate"
)

const maxBodyBytes = 64 << 10

type userView struct {
	ID          int64  `json:"id"`
	Role        string `json:"role"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username,omitempty"`
	Email       string `json:"email,omitempty"`
	IsActive    bool   `json:"isActive"`
}

type sessionView struct {
	Authenticated bool      `json:"authenticated"`
	Loading       bool      `json:"loading"`
	Initialized   bool      `json:"initialized"`
	Phase         string    `json:"phase"`
	User          *userView `json:"user,omitempty"`
	Landing       string    `json:"landing,omitempty"`
}

// identityPatch is a profile edit. The role cannot be changed from the client.
type identityPatch struct {
	ID          int64   `json:"id"`
	DisplayName *string `json:"displayName"`
	Username    *string `json:"username"`
	Email       *string `json:"email"`
	Name        *string `json:"name"`
	Surname     *string `json:"surname"`
}

type apiError struct {
	Error string `json:"error"`
}

func viewOfUser(id *crmgate.Identity) *userView {
	if id == nil {
		return nil
	}
	role := "USER"
	if id.Elevated() {
		role = "ADMIN"
	}
	return &userView{
		ID:          id.ID,
		Role:        role,
		DisplayName: id.DisplayName,
		Username:    id.Username,
		Email:       id.Email,
		IsActive:    id.IsActive,
	}
}

func (h *handlers) viewOf(st crmgate.State) sessionView {
	v := sessionView{
		Authenticated: st.IsAuthenticated(),
		Loading:       st.Loading,
		Initialized:   st.Initialized,
		Phase:         st.Phase.String(),
		User:          viewOfUser(st.Identity),
	}
	if st.Settled() {
		v.Landing = h.gw.Routes().LandingFor(st.Identity)
	}
	return v
}

func (h *handlers) sessionState(w http.ResponseWriter, r *http.Request) {
	st, err := h.gw.State(r.Context(), sessionID(r))
	if err != nil {
		h.apiFailure(w, err)
		return
	}
	if !st.Settled() {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, http.StatusOK, h.viewOf(st))
}

func (h *handlers) unauthorized(w http.ResponseWriter, r *http.Request) {
	if _, err := h.gw.Unauthorized(r.Context(), sessionID(r)); err != nil {
		h.apiFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) updateIdentity(w http.ResponseWriter, r *http.Request) {
	var patch identityPatch
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}

	sid := sessionID(r)
	st, err := h.gw.State(r.Context(), sid)
	if err != nil {
		h.apiFailure(w, err)
		return
	}
	if st.Identity == nil {
		h.apiFailure(w, crmgate.ErrNotAuthenticated)
		return
	}

	next, err := h.gw.UpdateIdentity(r.Context(), sid, patch.apply(st.Identity))
	if err != nil {
		h.apiFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOfUser(next))
}

func (p identityPatch) apply(cur *crmgate.Identity) *crmgate.Identity {
	next := cur.Clone()
	next.ID = p.ID
	if p.Username != nil {
		next.Username = strings.TrimSpace(*p.Username)
	}
	if p.Email != nil {
		next.Email = strings.TrimSpace(*p.Email)
	}
	switch {
	case p.DisplayName != nil && strings.TrimSpace(*p.DisplayName) != "":
		next.DisplayName = strings.TrimSpace(*p.DisplayName)
	case p.Name != nil || p.Surname != nil:
		var first, last string
		if p.Name != nil {
			first = *p.Name
		}
		if p.Surname != nil {
			last = *p.Surname
		}
		next.DisplayName = crmgate.DisplayNameFor(first, last, next.Username, next.Email)
	}
	return next
}

func (h *handlers) apiFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, crmgate.ErrNotAuthenticated):
		writeJSON(w, http.StatusUnauthorized, apiError{Error: "not authenticated"})
	case errors.Is(err, crmgate.ErrInvalidIdentity):
		writeJSON(w, http.StatusBadRequest, apiError{Error: "identity cannot change user"})
	case errors.Is(err, crmgate.ErrSessionIDRequired):
		writeJSON(w, http.StatusBadRequest, apiError{Error: "session required"})
	default:
		h.log.Error("session api failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: http.StatusText(http.StatusServiceUnavailable)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
