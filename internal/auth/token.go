package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultAccessTTL is applied when the codec is constructed without an
// explicit access-token lifetime.
const DefaultAccessTTL = 15 * time.Minute

// issuedAtSkew is the tolerated clock skew when validating issued-at.
const issuedAtSkew = 5 * time.Second

// Claims are the verified contents of an access token.
type Claims struct {
	Roles  []string `json:"roles"`
	Entity string   `json:"entity,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and validates short-lived access tokens with HS256. Validation
// is a pure function of the token and the secret; it never touches storage.
type Codec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// CodecOption configures Codec behavior.
type CodecOption func(*Codec)

// WithAccessTTL overrides the access-token lifetime.
func WithAccessTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) CodecOption {
	return func(c *Codec) {
		if iss := strings.TrimSpace(issuer); iss != "" {
			c.issuer = iss
		}
	}
}

// WithCodecClock overrides the time source (useful for tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a Codec. The signing secret is mandatory; a service
// without one must refuse to start.
func NewCodec(secret string, opts ...CodecOption) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is not configured")
	}
	c := &Codec{
		secret: []byte(secret),
		issuer: "gatehouse",
		ttl:    DefaultAccessTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL returns the configured access-token lifetime.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue signs an access token for the given subject, roles and optional
// entity scope. Returns the signed token and its expiry.
func (c *Codec) Issue(username string, roles []string, entity string) (string, time.Time, error) {
	username = NormalizeUsername(username)
	if username == "" {
		return "", time.Time{}, errors.New("auth: username is required")
	}

	now := c.now().UTC()
	exp := now.Add(c.ttl)
	claims := Claims{
		Roles:  append([]string(nil), roles...),
		Entity: entity,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// Validate verifies the token signature and claims. Signature, format and
// algorithm failures are ErrInvalidToken; a correctly signed token past its
// expiry is ErrTokenExpired.
func (c *Codec) Validate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := c.validateClaims(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *Codec) validateClaims(claims *Claims) error {
	if claims.Issuer != c.issuer {
		return ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return ErrInvalidToken
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return ErrInvalidToken
	}
	now := c.now().UTC()
	if claims.IssuedAt.Time.After(now.Add(issuedAtSkew)) {
		return ErrInvalidToken
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return ErrInvalidToken
	}
	if !claims.ExpiresAt.Time.After(now) {
		return ErrTokenExpired
	}
	return nil
}
