package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeAccess is the tokenType claim the backend puts on access tokens.
const TokenTypeAccess = "ACCESS"

// ErrTokenInvalid is returned for any token the Reader refuses.
var ErrTokenInvalid = errors.New("access token invalid")

// Config configures a Reader.
//
// With a Secret the Reader verifies HS256 signatures, issuer, audience and
// expiry. Without one it only decodes the claims and checks expiry; the
// backend remains the authority on validity.
type Config struct {
	Secret   []byte
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// AccessClaims are the claims of a backend access token.
type AccessClaims struct {
	UserID    int64  `json:"userId"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"tokenType,omitempty"`
	jwt.RegisteredClaims
}

// Reader parses backend access tokens. It is safe for concurrent use.
type Reader struct {
	config Config
	now    func() time.Time
}

// NewReader describes the newreader operation and its observable behavior.
//
// NewReader returns an error when the leeway is outside [0, 2m].
func NewReader(cfg Config) (*Reader, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	return &Reader{config: cfg, now: time.Now}, nil
}

// Verifies reports whether signatures are checked.
func (r *Reader) Verifies() bool {
	return len(r.config.Secret) > 0
}

// Parse decodes tokenStr and validates it according to the Reader's Config.
// Every failure wraps ErrTokenInvalid.
func (r *Reader) Parse(tokenStr string) (*AccessClaims, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	var claims *AccessClaims
	var err error
	if r.Verifies() {
		claims, err = r.parseVerified(tokenStr)
	} else {
		claims, err = r.parseUnverified(tokenStr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if claims.TokenType != "" && !strings.EqualFold(claims.TokenType, TokenTypeAccess) {
		return nil, fmt.Errorf("%w: token type %q", ErrTokenInvalid, claims.TokenType)
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: missing userId", ErrTokenInvalid)
	}
	return claims, nil
}

// Sign issues an HS256 token for c. It exists for stub backends and tests;
// it fails when no secret is configured.
func (r *Reader) Sign(c AccessClaims) (string, error) {
	if !r.Verifies() {
		return "", errors.New("sign requires a secret")
	}
	if c.Issuer == "" {
		c.Issuer = r.config.Issuer
	}
	if len(c.Audience) == 0 && r.config.Audience != "" {
		c.Audience = jwt.ClaimStrings{r.config.Audience}
	}
	if c.TokenType == "" {
		c.TokenType = TokenTypeAccess
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(r.config.Secret)
}

func (r *Reader) parseVerified(tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	}
	if r.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(r.config.Leeway))
	}
	if r.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(r.config.Issuer))
	}
	if r.config.Audience != "" {
		options = append(options, jwt.WithAudience(r.config.Audience))
	}

	token, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return r.config.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func (r *Reader) parseUnverified(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.ExpiresAt == nil {
		return nil, jwt.ErrTokenRequiredClaimMissing
	}
	if r.now().After(claims.ExpiresAt.Add(r.config.Leeway)) {
		return nil, jwt.ErrTokenExpired
	}
	return claims, nil
}
