package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/sogeor/flow/domain"
)

const (
	// SessionCookie is the cookie carrying the session token.
	SessionCookie = "token"
	// SelfAlias addresses the caller's own account in a path.
	SelfAlias = "me"
)

// Principal is the verified identity behind a request.
type Principal struct {
	AccountID string
}

// SessionConfig configures Sessions.
type SessionConfig struct {
	Secret       string
	TokenTTL     time.Duration
	CookieTTL    time.Duration
	CookieSecure bool
}

// Sessions issues and verifies HS256 session tokens. The signed expiry
// (TokenTTL) and the cookie expiry (CookieTTL) are independent; there is no
// refresh, so a browser loses the session when the cookie expires even
// though the token itself would still verify.
type Sessions struct {
	secret    []byte
	tokenTTL  time.Duration
	cookieTTL time.Duration
	secure    bool
	parser    *jwt.Parser
	now       func() time.Time
}

type sessionClaims struct {
	AccountID string `json:"id"`
	jwt.RegisteredClaims
}

func NewSessions(cfg SessionConfig) *Sessions {
	return &Sessions{
		secret:    []byte(cfg.Secret),
		tokenTTL:  cfg.TokenTTL,
		cookieTTL: cfg.CookieTTL,
		secure:    cfg.CookieSecure,
		// Expiry is checked in Verify against s.now.
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation()),
		now:    time.Now,
	}
}

// Issue signs a token binding the session to accountID.
func (s *Sessions) Issue(accountID string) (string, error) {
	if accountID == "" {
		return "", errors.New("issue session: empty account id")
	}
	now := s.now()
	claims := sessionClaims{
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks the signature and expiry of token. A token is valid while
// the current time is strictly before its expiry. Every failure is reported
// as domain.ErrUnauthenticated.
func (s *Sessions) Verify(token string) (Principal, error) {
	if token == "" {
		return Principal{}, domain.ErrUnauthenticated
	}
	var claims sessionClaims
	_, err := s.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return Principal{}, domain.ErrUnauthenticated
	}
	if !claims.VerifyExpiresAt(s.now(), true) {
		return Principal{}, domain.ErrUnauthenticated
	}
	if claims.AccountID == "" {
		return Principal{}, domain.ErrUnauthenticated
	}
	return Principal{AccountID: claims.AccountID}, nil
}

// Cookie wraps token in the session cookie.
func (s *Sessions) Cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  s.now().Add(s.cookieTTL),
		MaxAge:   int(s.cookieTTL / time.Second),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// ResolveSelfAlias substitutes the principal's id for SelfAlias. Any other
// id is returned as is: the caller is not checked against it.
func ResolveSelfAlias(p Principal, requested string) string {
	if requested == SelfAlias {
		return p.AccountID
	}
	return requested
}
