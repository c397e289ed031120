package web

import (
	"html/template"
	"net/http"

	"github.com/prospectcrm/crmgate"
)

// Form is what a sign-in or sign-up screen is drawn with.
type Form struct {
	Status  int
	Message string
	Fields  []crmgate.FieldError
	Values  map[string]string
}

// Page is a gated CRM page the session is allowed to see.
type Page struct {
	Path  string
	State crmgate.State
}

// Screens draws the gateway's HTML responses. Implementations must write the
// status they are given; Pending must answer 503.
type Screens interface {
	SignIn(w http.ResponseWriter, r *http.Request, f Form)
	SignUp(w http.ResponseWriter, r *http.Request, f Form)
	Page(w http.ResponseWriter, r *http.Request, p Page)
	Pending(w http.ResponseWriter, r *http.Request)
	NotFound(w http.ResponseWriter, r *http.Request)
}

const layout = `{{define "head"}}<!doctype html><html><head><meta charset="utf-8"><title>{{.}} · CRM</title></head><body>{{end}}
{{define "foot"}}</body></html>{{end}}
{{define "errors"}}{{if .Message}}<p class="error" role="alert">{{.Message}}</p>{{end}}{{range .Fields}}<p class="field-error" data-field="{{.Field}}">{{.Message}}</p>{{end}}{{end}}
{{define "signin"}}{{template "head" "Sign in"}}<h1>Sign in</h1>{{template "errors" .}}
<form method="post" action="/login">
<input type="email" name="email" value="{{index .Values "email"}}" required>
<input type="password" name="password" required>
<button type="submit">Sign in</button>
</form><a href="/register">Create an account</a>{{template "foot"}}{{end}}
{{define "signup"}}{{template "head" "Sign up"}}<h1>Create an account</h1>{{template "errors" .}}
<form method="post" action="/register">
<input name="name" value="{{index .Values "name"}}" required>
<input name="surname" value="{{index .Values "surname"}}" required>
<input type="email" name="email" value="{{index .Values "email"}}" required>
<input name="phone" value="{{index .Values "phone"}}">
<input name="username" value="{{index .Values "username"}}" required>
<input type="password" name="password" required>
<button type="submit">Sign up</button>
</form><a href="/login">Sign in</a>{{template "foot"}}{{end}}
{{define "page"}}{{template "head" .Path}}<header>{{with .State.Identity}}<span>{{.DisplayName}}</span>{{end}}
<form method="post" action="/logout"><button type="submit">Log out</button></form></header>
<main data-page="{{.Path}}"></main>{{template "foot"}}{{end}}
{{define "pending"}}{{template "head" "Loading"}}<p>Loading…</p>{{template "foot"}}{{end}}
{{define "notfound"}}{{template "head" "Not found"}}<p>Page not found.</p>{{template "foot"}}{{end}}`

type defaultScreens struct {
	tpl *template.Template
}

// DefaultScreens returns bare HTML screens. Production deployments replace
// them with the client application's shell.
func DefaultScreens() Screens {
	return defaultScreens{tpl: template.Must(template.New("screens").Parse(layout))}
}

func (s defaultScreens) SignIn(w http.ResponseWriter, _ *http.Request, f Form) {
	s.render(w, "signin", f.Status, f.withValues())
}

func (s defaultScreens) SignUp(w http.ResponseWriter, _ *http.Request, f Form) {
	s.render(w, "signup", f.Status, f.withValues())
}

func (s defaultScreens) Page(w http.ResponseWriter, _ *http.Request, p Page) {
	s.render(w, "page", http.StatusOK, p)
}

func (s defaultScreens) Pending(w http.ResponseWriter, _ *http.Request) {
	s.render(w, "pending", http.StatusServiceUnavailable, nil)
}

func (s defaultScreens) NotFound(w http.ResponseWriter, _ *http.Request) {
	s.render(w, "notfound", http.StatusNotFound, nil)
}

func (s defaultScreens) render(w http.ResponseWriter, name string, status int, data any) {
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = s.tpl.ExecuteTemplate(w, name, data)
}

func (f Form) withValues() Form {
	if f.Values == nil {
		f.Values = map[string]string{}
	}
	return f
}
