package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prospectcrm/crmgate/jwt"
	"github.com/prospectcrm/crmgate/session"
)

const (
	// DefaultBaseURL is the backend API root used when Config.BaseURL is empty.
	DefaultBaseURL = "http://localhost:8080/v1"
	// DefaultAccessCookie is the cookie the backend stores the access token in.
	DefaultAccessCookie = "access_token"

	maxResponseBytes = 1 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	UserAgent    string
	AccessCookie string
}

// Client talks to the CRM backend. It is safe for concurrent use.
type Client struct {
	config    Config
	base      *url.URL
	transport http.RoundTripper
	tokens    *jwt.Reader
	now       func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

// WithTokenReader enables access-token inspection after login and restore.
func WithTokenReader(r *jwt.Reader) Option {
	return func(c *Client) { c.tokens = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AccessCookie == "" {
		cfg.AccessCookie = DefaultAccessCookie
	}
	if cfg.Timeout < 0 {
		return nil, errors.New("backend timeout must be >= 0")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend url must be http or https, got %q", cfg.BaseURL)
	}

	c := &Client{
		config:    cfg,
		base:      base,
		transport: http.DefaultTransport,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the parsed backend root.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// Session binds the client to one browser session's cookie jar.
func (c *Client) Session(jar http.CookieJar) *Conn {
	return &Conn{
		client: c,
		http: &http.Client{
			Transport: c.transport,
			Jar:       jar,
			Timeout:   c.config.Timeout,
		},
		jar: jar,
	}
}

// Conn is a Client bound to one cookie jar.
type Conn struct {
	client *Client
	http   *http.Client
	jar    http.CookieJar
}

// RestoreSession asks the backend who the holder of the jar's credential is.
func (c *Conn) RestoreSession(ctx context.Context) (*session.Identity, error) {
	var user userInfo
	if err := c.do(ctx, http.MethodGet, &user, nil, "auth", "me"); err != nil {
		return nil, err
	}
	id, ok := user.identity()
	if !ok {
		return nil, fmt.Errorf("%w: user id missing", ErrMalformedResponse)
	}
	if err := c.bindCredential(id, ""); err != nil {
		return nil, err
	}
	return id, nil
}

// Login exchanges credentials for a backend session. When the login payload
// omits the role, the identity is completed with /auth/me; if that fails the
// identity keeps the standard role.
func (c *Conn) Login(ctx context.Context, creds Credentials) (*session.Identity, error) {
	var data loginData
	if err := c.do(ctx, http.MethodPost, &data, creds, "auth", "login"); err != nil {
		return nil, err
	}
	id, ok := data.User.identity()
	if !ok {
		return nil, fmt.Errorf("%w: user id missing", ErrMalformedResponse)
	}

	if data.AccessToken != "" && c.jar != nil && !c.hasAccessCookie() {
		c.jar.SetCookies(c.client.base, []*http.Cookie{{
			Name:  c.client.config.AccessCookie,
			Value: data.AccessToken,
			Path:  "/",
		}})
	}
	if data.ExpiresIn > 0 {
		id.ExpiresAt = c.client.now().Add(time.Duration(data.ExpiresIn) * time.Second).Unix()
	}

	if !data.User.hasRole() {
		if full, err := c.RestoreSession(ctx); err == nil && full.ID == id.ID {
			if full.ExpiresAt == 0 {
				full.ExpiresAt = id.ExpiresAt
			}
			return full, nil
		}
	}
	if err := c.bindCredential(id, data.AccessToken); err != nil {
		return nil, err
	}
	return id, nil
}

// Register creates an account. The backend answers with the user either
// directly in data or under data.user.
func (c *Conn) Register(ctx context.Context, reg Registration) (*session.Identity, error) {
	var data registerData
	if err := c.do(ctx, http.MethodPost, &data, reg, "users", "register"); err != nil {
		return nil, err
	}
	user := data.User
	if user == nil {
		user = &data.userInfo
	}
	id, ok := user.identity()
	if !ok {
		return nil, fmt.Errorf("%w: user id missing", ErrMalformedResponse)
	}
	return id, nil
}

// Logout ends the backend session. Callers treat failures as advisory.
func (c *Conn) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, nil, nil, "auth", "logout")
}

// bindCredential cross-checks the access token (explicit, or from the jar)
// against id and records its expiry. Without a token reader it is a no-op.
func (c *Conn) bindCredential(id *session.Identity, token string) error {
	reader := c.client.tokens
	if reader == nil {
		return nil
	}
	if token == "" {
		token = c.accessCookie()
	}
	if token == "" {
		return nil
	}
	claims, err := reader.Parse(token)
	if err != nil {
		if reader.Verifies() {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return nil
	}
	if claims.UserID != id.ID {
		return fmt.Errorf("%w: token user %d does not match identity %d", ErrMalformedResponse, claims.UserID, id.ID)
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return nil
}

func (c *Conn) accessCookie() string {
	if c.jar == nil {
		return ""
	}
	for _, ck := range c.jar.Cookies(c.client.base) {
		if ck.Name == c.client.config.AccessCookie {
			return ck.Value
		}
	}
	return ""
}

func (c *Conn) hasAccessCookie() bool {
	return c.accessCookie() != ""
}

func (c *Conn) do(ctx context.Context, method string, out any, in any, path ...string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.client.base.JoinPath(path...).String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ua := c.client.config.UserAgent; ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr != nil {
			return &AuthFailure{Status: resp.StatusCode}
		}
		return env.failure(resp.StatusCode)
	}
	if out == nil {
		if decodeErr == nil && env.Success != nil && !*env.Success {
			return env.failure(resp.StatusCode)
		}
		return nil
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, decodeErr)
	}
	if env.Success != nil && !*env.Success {
		return env.failure(resp.StatusCode)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%w: data missing", ErrMalformedResponse)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
