package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// DefaultRole is assigned when a token carries no role claim.
const DefaultRole = "user"

var (
	ErrMissingToken = errors.New("token is required")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Identity is the caller extracted from a verified token.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type roleMetadata struct {
	Role string `json:"role,omitempty"`
}

// Claims is the JWT payload issued by the identity provider.
type Claims struct {
	Email        string        `json:"email,omitempty"`
	Role         string        `json:"role,omitempty"`
	AppMetadata  *roleMetadata `json:"app_metadata,omitempty"`
	UserMetadata *roleMetadata `json:"user_metadata,omitempty"`
	jwtlib.RegisteredClaims
}

func (c *Claims) resolveRole() string {
	if c.AppMetadata != nil {
		if role := strings.TrimSpace(c.AppMetadata.Role); role != "" {
			return role
		}
	}
	if c.UserMetadata != nil {
		if role := strings.TrimSpace(c.UserMetadata.Role); role != "" {
			return role
		}
	}
	if role := strings.TrimSpace(c.Role); role != "" {
		return role
	}
	return DefaultRole
}

// Verifier validates HS256 tokens against a shared secret and optional issuer.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewVerifier constructs a verifier. The secret must not be empty.
func NewVerifier(secret, issuer string, leeway time.Duration) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	if leeway < 0 {
		leeway = 0
	}
	return &Verifier{
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
		leeway: leeway,
		now:    time.Now,
	}, nil
}

// WithClock overrides the verifier clock for deterministic tests.
func (v *Verifier) WithClock(clock func() time.Time) {
	if clock != nil {
		v.now = clock
	}
}

// Verify parses a token string and returns the identity it carries.
func (v *Verifier) Verify(raw string) (Identity, error) {
	token := NormalizeToken(raw)
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithLeeway(v.leeway),
		jwtlib.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(v.issuer))
	}

	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return Identity{
		ID:    subject,
		Email: strings.TrimSpace(claims.Email),
		Role:  claims.resolveRole(),
	}, nil
}

// Sign issues a token for the identity using the verifier's secret and issuer.
func (v *Verifier) Sign(id Identity, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		Email: id.Email,
		Role:  id.Role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// NormalizeToken trims spaces and strips optional Bearer prefix.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}
