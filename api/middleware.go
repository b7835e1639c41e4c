package api

import (
	"github.com/labstack/echo/v4"

	"github.com/sogeor/flow/domain"
)

const principalKey = "principal"

// RequireSession rejects requests without a valid session with the uniform
// authentication error and stores the Principal for the handler.
func RequireSession(s *Sessions) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := sessionToken(c.Request())
			if err != nil {
				return domain.ErrUnauthenticated
			}
			p, err := s.Verify(token)
			if err != nil {
				return err
			}
			c.Set(principalKey, p)
			return next(c)
		}
	}
}

func principalFrom(c echo.Context) Principal {
	p, _ := c.Get(principalKey).(Principal)
	return p
}

// accountParam resolves the :id path parameter of account routes.
func accountParam(c echo.Context) string {
	return ResolveSelfAlias(principalFrom(c), c.Param("id"))
}
