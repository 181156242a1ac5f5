package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// ErrTokenExpired is returned for a well-formed but expired token.
var ErrTokenExpired = errors.New("token expired")

// JWTConfig configures HS256 bearer token validation.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// Claims are the token claims the gateway reads.
type Claims struct {
	jwt.RegisteredClaims
	Tier string `json:"tier,omitempty"`
}

// JWTAuthenticator validates bearer tokens.
type JWTAuthenticator struct {
	cfg JWTConfig
	now func() time.Time
}

// NewJWTAuthenticator creates a JWT authenticator.
func NewJWTAuthenticator(cfg JWTConfig) *JWTAuthenticator {
	return &JWTAuthenticator{cfg: cfg, now: time.Now}
}

// Authenticate implements Authenticator.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	token, ok := bearerToken(r)
	if !ok || strings.Count(token, ".") != 2 {
		return nil, ErrUnauthenticated
	}
	claims, err := a.Parse(token)
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: claims.Subject, Tier: claims.Tier, Method: "jwt"}, nil
}

// Parse validates token and returns its claims.
func (a *JWTAuthenticator) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.cfg.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, ErrTokenExpired)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !parsed.Valid {
		return nil, ErrUnauthenticated
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	if a.cfg.Issuer != "" && claims.Issuer != a.cfg.Issuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrUnauthenticated, claims.Issuer)
	}
	if a.cfg.Audience != "" && !claims.VerifyAudience(a.cfg.Audience, true) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthenticated)
	}
	return claims, nil
}

// Issue signs a token for userID valid for ttl.
func (a *JWTAuthenticator) Issue(userID, tier string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Tier: tier,
	}
	if a.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{a.cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.Secret))
}
