package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/prospectcrm/crmgate"
)

// fakeCRM is the CRM backend: cookie-based sessions under /v1.
type fakeCRM struct {
	*httptest.Server
	role        string
	meCalls     atomic.Int32
	logoutCalls atomic.Int32
	meGate      chan struct{}
}

func crmJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// newFakeCRM returns the backend. A non-nil meGate holds /auth/me until it
// is closed.
func newFakeCRM(t *testing.T, role string, meGate chan struct{}) *fakeCRM {
	t.Helper()
	crm := &fakeCRM{role: role, meGate: meGate}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds crmgate.Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds.Password != "secret" {
			crmJSON(w, http.StatusUnauthorized, map[string]any{
				"success": false,
				"message": "Invalid email or password",
			})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "access_token", Value: "opaque-1", Path: "/", HttpOnly: true})
		crmJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"accessToken": "opaque-1",
				"expiresIn":   3600,
				"user": map[string]any{
					"id": 1, "username": "ada", "email": creds.Email,
					"firstName": "Ada", "lastName": "Lovelace", "role": crm.role,
				},
			},
		})
	})
	mux.HandleFunc("GET /v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		crm.meCalls.Add(1)
		if crm.meGate != nil {
			select {
			case <-crm.meGate:
			case <-r.Context().Done():
				return
			}
		}
		if _, err := r.Cookie("access_token"); err != nil {
			crmJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "No token"})
			return
		}
		crmJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"id": 1, "username": "ada", "email": "ada@example.com",
				"name": "Ada", "surname": "Lovelace", "role": crm.role, "isActive": true,
			},
		})
	})
	mux.HandleFunc("POST /v1/auth/logout", func(w http.ResponseWriter, _ *http.Request) {
		crm.logoutCalls.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "access_token", Value: "", Path: "/", MaxAge: -1})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/users/register", func(w http.ResponseWriter, r *http.Request) {
		var reg crmgate.Registration
		_ = json.NewDecoder(r.Body).Decode(&reg)
		if reg.Username == "taken" {
			crmJSON(w, http.StatusConflict, map[string]any{
				"success": false,
				"message": "Username already exists",
				"errors":  []map[string]string{{"field": "username", "message": "already taken"}},
			})
			return
		}
		crmJSON(w, http.StatusCreated, map[string]any{
			"success": true,
			"data": map[string]any{
				"id": 2, "username": reg.Username, "email": reg.Email,
				"name": reg.Name, "surname": reg.Surname, "role": "USER",
			},
		})
	})
	crm.Server = httptest.NewServer(mux)
	t.Cleanup(crm.Close)
	return crm
}

type harness struct {
	crm     *fakeCRM
	gw      *crmgate.Gateway
	server  *httptest.Server
	browser *http.Client
}

func newHarness(t *testing.T, role string, mutate func(*crmgate.Config)) *harness {
	t.Helper()
	return newHarnessFor(t, newFakeCRM(t, role, nil), mutate)
}

func newHarnessFor(t *testing.T, crm *fakeCRM, mutate func(*crmgate.Config), opts ...func(*crmgate.Builder)) *harness {
	t.Helper()

	cfg := crmgate.DefaultConfig()
	cfg.Backend.BaseURL = crm.URL + "/v1"
	cfg.Session.AwaitTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	b := crmgate.New().WithConfig(cfg)
	for _, opt := range opts {
		opt(b)
	}
	gw, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(gw.Close)

	srv := httptest.NewServer(NewRouter(RouterOptions{
		Gateway: gw,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("metrics")) }),
	}))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	browser := &http.Client{
		Jar:     jar,
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &harness{crm: crm, gw: gw, server: srv, browser: browser}
}

type reply struct {
	status   int
	location string
	body     string
	header   http.Header
}

func (h *harness) do(t *testing.T, req *http.Request) reply {
	t.Helper()
	resp, err := h.browser.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return reply{status: resp.StatusCode, location: resp.Header.Get("Location"), body: string(body), header: resp.Header}
}

func (h *harness) get(t *testing.T, path string) reply {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.server.URL+path, nil)
	require.NoError(t, err)
	return h.do(t, req)
}

func (h *harness) post(t *testing.T, path string, form url.Values) reply {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.server.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return h.do(t, req)
}

func (h *harness) send(t *testing.T, method, path, body string) reply {
	t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return h.do(t, req)
}

func (h *harness) login(t *testing.T) reply {
	t.Helper()
	return h.post(t, "/login", url.Values{"email": {"ada@example.com"}, "password": {"secret"}})
}

func TestAnonymousIsSentToSignIn(t *testing.T) {
	h := newHarness(t, "USER", nil)

	r := h.get(t, "/leads")
	require.Equal(t, http.StatusFound, r.status)
	require.Equal(t, "/login", r.location)
	require.Equal(t, int32(1), h.crm.meCalls.Load())

	r = h.get(t, "/login")
	require.Equal(t, http.StatusOK, r.status)
	require.Contains(t, r.body, `action="/login"`)

	r = h.get(t, "/nope")
	require.Equal(t, http.StatusFound, r.status)
	require.Equal(t, "/login", r.location)
	require.Equal(t, int32(1), h.crm.meCalls.Load(), "restore runs once per session lifetime")
}

func TestEntrySurfaceNeverCallsBackend(t *testing.T) {
	h := newHarness(t, "USER", nil)
	r := h.get(t, "/register")
	require.Equal(t, http.StatusOK, r.status)
	require.Contains(t, r.body, "Create an account")
	require.Zero(t, h.crm.meCalls.Load())
}

func TestLoginLandsByRole(t *testing.T) {
	cases := []struct {
		role    string
		landing string
	}{
		{"USER", "/leads"},
		{"ADMIN", "/admin"},
	}
	for _, tc := range cases {
		t.Run(tc.role, func(t *testing.T) {
			h := newHarness(t, tc.role, nil)
			require.Equal(t, http.StatusOK, h.get(t, "/login").status)

			r := h.login(t)
			require.Equal(t, http.StatusSeeOther, r.status)
			require.Equal(t, tc.landing, r.location)

			r = h.get(t, tc.landing)
			require.Equal(t, http.StatusOK, r.status)
			require.Contains(t, r.body, "Ada Lovelace")

			r = h.get(t, "/")
			require.Equal(t, http.StatusFound, r.status)
			require.Equal(t, tc.landing, r.location)

			r = h.get(t, "/login")
			require.Equal(t, http.StatusFound, r.status)
			require.Equal(t, tc.landing, r.location)
		})
	}
}

func TestStandardUserKeptOutOfAdmin(t *testing.T) {
	h := newHarness(t, "USER", nil)
	require.Equal(t, http.StatusSeeOther, h.login(t).status)

	r := h.get(t, "/users")
	require.Equal(t, http.StatusFound, r.status)
	require.Equal(t, "/", r.location)
	require.Equal(t, http.StatusOK, h.get(t, "/emails").status)
}

func TestLoginFailureRerendersForm(t *testing.T) {
	h := newHarness(t, "USER", nil)

	r := h.post(t, "/login", url.Values{"email": {"ada@example.com"}, "password": {"wrong"}})
	require.Equal(t, http.StatusUnauthorized, r.status)
	require.Contains(t, r.body, "Invalid email or password")
	require.Contains(t, r.body, `value="ada@example.com"`)

	r = h.post(t, "/login", url.Values{"email": {"ada@example.com"}})
	require.Equal(t, http.StatusBadRequest, r.status)
	require.Contains(t, r.body, "required")

	r = h.get(t, "/leads")
	require.Equal(t, http.StatusFound, r.status)
	require.Equal(t, "/login", r.location)
}

func TestSignInThrottledAfterRepeatedFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := newHarnessFor(t, newFakeCRM(t, "USER", nil), func(c *crmgate.Config) {
		c.Throttle.MaxAttempts = 2
	}, func(b *crmgate.Builder) { b.WithRedis(rdb) })

	for i := 0; i < 2; i++ {
		r := h.post(t, "/login", url.Values{"email": {"ada@example.com"}, "password": {"wrong"}})
		require.Equal(t, http.StatusUnauthorized, r.status)
	}
	r := h.post(t, "/login", url.Values{"email": {"ada@example.com"}, "password": {"secret"}})
	require.Equal(t, http.StatusTooManyRequests, r.status)
	require.Contains(t, r.body, "Too many sign-in attempts")

	r = h.post(t, "/login", url.Values{"email": {"grace@example.com"}, "password": {"secret"}})
	require.Equal(t, http.StatusSeeOther, r.status, "other accounts are unaffected")
}

func TestRegister(t *testing.T) {
	h := newHarness(t, "USER", nil)
	form := url.Values{
		"name": {"Grace"}, "surname": {"Hopper"}, "email": {"grace@example.com"},
		"username": {"taken"}, "password": {"pw"},
	}

	r := h.post(t, "/register", form)
	require.Equal(t, http.StatusConflict, r.status)
	require.Contains(t, r.body, "Username already exists")
	require.Contains(t, r.body, `data-field="username"`)

	form.Set("username", "grace")
	r = h.post(t, "/register", form)
	require.Equal(t, http.StatusSeeOther, r.status)
	require.Equal(t, "/leads", r.location)

	form.Del("surname")
	r = h.post(t, "/register", form)
	require.Equal(t, http.StatusSeeOther, r.status, "signed-in sessions are switched away from sign-up")
}

func TestLogoutEndsSession(t *testing.T) {
	h := newHarness(t, "USER", nil)
	require.Equal(t, http.StatusSeeOther, h.login(t).status)

	r := h.post(t, "/logout", nil)
	require.Equal(t, http.StatusSeeOther, r.status)
	require.Equal(t, "/login", r.location)
	require.Equal(t, int32(1), h.crm.logoutCalls.Load())

	r = h.get(t, "/leads")
	require.Equal(t, http.StatusFound, r.status)
	require.Equal(t, "/login", r.location)

	r = h.post(t, "/logout", nil)
	require.Equal(t, http.StatusSeeOther, r.status)
	require.Equal(t, "/login", r.location)
	require.Equal(t, int32(1), h.crm.logoutCalls.Load(), "anonymous logout is redirected before the backend")
}

func TestSessionAPI(t *testing.T) {
	h := newHarness(t, "ADMIN", nil)

	r := h.get(t, "/api/session")
	require.Equal(t, http.StatusOK, r.status)
	var view sessionView
	require.NoError(t, json.Unmarshal([]byte(r.body), &view))
	require.False(t, view.Authenticated)
	require.True(t, view.Initialized)
	require.Equal(t, "/login", view.Landing)

	r = h.send(t, http.MethodPut, "/api/session/identity", `{"id":1,"displayName":"Countess"}`)
	require.Equal(t, http.StatusUnauthorized, r.status)

	require.Equal(t, http.StatusSeeOther, h.login(t).status)

	r = h.get(t, "/api/session")
	view = sessionView{}
	require.NoError(t, json.Unmarshal([]byte(r.body), &view))
	require.True(t, view.Authenticated)
	require.Equal(t, "ADMIN", view.User.Role)
	require.Equal(t, "/admin", view.Landing)

	r = h.send(t, http.MethodPut, "/api/session/identity", `{"id":1,"displayName":"Countess"}`)
	require.Equal(t, http.StatusOK, r.status)
	require.Contains(t, r.body, `"displayName":"Countess"`)
	require.Contains(t, r.body, `"role":"ADMIN"`)

	r = h.send(t, http.MethodPut, "/api/session/identity", `{"id":2,"displayName":"Someone else"}`)
	require.Equal(t, http.StatusBadRequest, r.status)

	r = h.send(t, http.MethodPut, "/api/session/identity", `{"role":"ADMIN"}`)
	require.Equal(t, http.StatusBadRequest, r.status)

	r = h.send(t, http.MethodPost, "/api/session/unauthorized", "")
	require.Equal(t, http.StatusNoContent, r.status)

	r = h.get(t, "/admin")
	require.Equal(t, http.StatusFound, r.status)
	require.Equal(t, "/login", r.location)
}

func TestSessionAPIOnEntrySurfaceSkipsRestore(t *testing.T) {
	h := newHarness(t, "USER", nil)

	r := h.get(t, "/api/session?entry=/login")
	require.Equal(t, http.StatusOK, r.status)
	var view sessionView
	require.NoError(t, json.Unmarshal([]byte(r.body), &view))
	require.True(t, view.Initialized)
	require.False(t, view.Loading)
	require.False(t, view.Authenticated)
	require.Zero(t, h.crm.meCalls.Load())

	r = h.get(t, "/api/session?entry=/leads")
	require.Equal(t, http.StatusOK, r.status)
	require.Zero(t, h.crm.meCalls.Load(), "settled session is not restored again")
}

func TestPendingWhileRestoreRuns(t *testing.T) {
	gate := make(chan struct{})
	h := newHarnessFor(t, newFakeCRM(t, "USER", gate), func(c *crmgate.Config) {
		c.Session.AwaitTimeout = 20 * time.Millisecond
	})

	sid := uuid.NewString()
	withSession := func(path string) *http.Request {
		req, err := http.NewRequest(http.MethodGet, h.server.URL+path, nil)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: "crm_session", Value: sid})
		return req
	}

	first := make(chan reply, 1)
	go func() {
		resp, err := h.browser.Do(withSession("/leads"))
		if err != nil {
			first <- reply{}
			return
		}
		_ = resp.Body.Close()
		first <- reply{status: resp.StatusCode, location: resp.Header.Get("Location")}
	}()
	require.Eventually(t, func() bool { return h.crm.meCalls.Load() == 1 }, 2*time.Second, time.Millisecond)

	r := h.do(t, withSession("/leads"))
	require.Equal(t, http.StatusServiceUnavailable, r.status)
	require.Equal(t, "1", r.header.Get("Retry-After"))
	require.Contains(t, r.body, "Loading")

	close(gate)
	got := <-first
	require.Equal(t, http.StatusFound, got.status)
	require.Equal(t, "/login", got.location)
	require.Equal(t, int32(1), h.crm.meCalls.Load())
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, "USER", nil)

	r := h.get(t, "/healthz")
	require.Equal(t, http.StatusOK, r.status)
	require.Equal(t, "OK", r.body)

	r = h.get(t, "/metrics")
	require.Equal(t, "metrics", r.body)
	require.Zero(t, h.gw.Sessions(), "health and metrics do not open sessions")
}
