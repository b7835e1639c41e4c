package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	errMissingToken     = errors.New("missing session token")
	errBadAuthorization = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

// sessionToken returns the token from the session cookie or, failing that,
// from an Authorization: Bearer header. The cookie wins when both are set.
func sessionToken(req *http.Request) (string, error) {
	if ck, err := req.Cookie(SessionCookie); err == nil && ck.Value != "" {
		return ck.Value, nil
	}
	values := req.Header.Values(echo.HeaderAuthorization)
	if len(values) == 0 {
		return "", errMissingToken
	}
	return bearerToken(values[0])
}

func bearerToken(raw string) (string, error) {
	raw = strings.Trim(raw, " ")
	if raw == "" {
		return "", errMissingToken
	}
	if len(raw) <= len(bearerPrefix) || !strings.HasPrefix(raw, bearerPrefix) {
		return "", errBadAuthorization
	}
	token := raw[len(bearerPrefix):]
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}
