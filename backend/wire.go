package backend

import (
	"encoding/json"
	"strings"

	"github.com/prospectcrm/crmgate/session"
)

type envelope struct {
	Success   *bool           `json:"success"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Error     *errorBody      `json:"error"`
	ErrorCode string          `json:"errorCode"`
	Errors    []FieldError    `json:"errors"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func (e *envelope) failure(status int) *AuthFailure {
	f := &AuthFailure{
		Status:  status,
		Code:    e.ErrorCode,
		Message: e.Message,
		Fields:  e.Errors,
	}
	if e.Error != nil {
		if e.Error.Code != "" {
			f.Code = e.Error.Code
		}
		if f.Message == "" {
			f.Message = e.Error.Message
		}
		f.Details = e.Error.Details
	}
	return f
}

// userInfo accepts both the full user DTO (name/surname/role/isActive) and
// the slim login DTO (firstName/lastName, no role).
type userInfo struct {
	ID        int64           `json:"id"`
	Username  string          `json:"username"`
	Email     string          `json:"email"`
	Name      string          `json:"name"`
	Surname   string          `json:"surname"`
	FirstName string          `json:"firstName"`
	LastName  string          `json:"lastName"`
	Role      json.RawMessage `json:"role"`
	IsActive  *bool           `json:"isActive"`
}

type loginData struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresIn    int64     `json:"expiresIn"`
	User         *userInfo `json:"user"`
}

type registerData struct {
	User *userInfo `json:"user"`
	userInfo
}

func (u *userInfo) hasRole() bool {
	_, ok := u.role()
	return ok
}

// role reads either "ADMIN" or {"name":"ADMIN"}.
func (u *userInfo) role() (string, bool) {
	raw := strings.TrimSpace(string(u.Role))
	if raw == "" || raw == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(u.Role, &s); err == nil {
		return s, s != ""
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(u.Role, &obj); err == nil {
		return obj.Name, obj.Name != ""
	}
	return "", false
}

func (u *userInfo) identity() (*session.Identity, bool) {
	if u == nil || u.ID <= 0 {
		return nil, false
	}
	first, last := u.Name, u.Surname
	if first == "" && last == "" {
		first, last = u.FirstName, u.LastName
	}
	wireRole, _ := u.role()
	active := true
	if u.IsActive != nil {
		active = *u.IsActive
	}
	return &session.Identity{
		ID:          u.ID,
		Role:        session.ParseRole(wireRole),
		DisplayName: session.DisplayNameFor(first, last, u.Username, u.Email),
		Username:    u.Username,
		Email:       u.Email,
		IsActive:    active,
	}, true
}

// Credentials is the login request body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is the /users/register request body.
type Registration struct {
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Username string `json:"username"`
	Password string `json:"password"`
}
