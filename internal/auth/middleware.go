package auth

import (
	"errors"
	"strings"

	"github.com/abdusco/shortly/internal"
	"github.com/labstack/echo/v4"
)

const identityKey = "identity"

var errNoCredentials = errors.New("no credentials")

// NewAuthMiddleware resolves the caller identity and stores it on the echo
// context. Requests without credentials continue as anonymous; invalid
// credentials are rejected with 401.
func NewAuthMiddleware(auther *Authenticator) echo.MiddlewareFunc {
	type authStrategy func(c echo.Context) (Identity, error)
	strategies := []authStrategy{
		auther.authWithBearer,
		auther.authWithBasicAuth,
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, strategy := range strategies {
				identity, err := strategy(c)
				if errors.Is(err, errNoCredentials) {
					continue
				}
				if err != nil {
					if errors.Is(err, internal.ErrUnauthenticated) {
						return echo.NewHTTPError(401, "invalid credentials").SetInternal(err)
					}
					return err
				}
				c.Set(identityKey, identity)
				return next(c)
			}

			c.Set(identityKey, Identity{})
			return next(c)
		}
	}
}

func (a *Authenticator) authWithBearer(c echo.Context) (Identity, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return Identity{}, errNoCredentials
	}
	return a.authenticateToken(c.Request().Context(), strings.TrimSpace(token))
}

func (a *Authenticator) authWithBasicAuth(c echo.Context) (Identity, error) {
	username, password, ok := c.Request().BasicAuth()
	if !ok {
		return Identity{}, errNoCredentials
	}
	return a.Authenticate(c.Request().Context(), username, password)
}

// CurrentIdentity returns the identity stored by the auth middleware.
func CurrentIdentity(c echo.Context) Identity {
	identity, _ := c.Get(identityKey).(Identity)
	return identity
}

func CurrentAccount(c echo.Context) *internal.Account {
	return CurrentIdentity(c).Account
}

func IsTokenAuthenticated(c echo.Context) bool {
	return CurrentIdentity(c).TokenUsed
}

// RequireToken admits only callers authenticated with an API token.
func RequireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity := CurrentIdentity(c)
		if identity.Anonymous() || !identity.TokenUsed {
			return internal.ErrForbidden
		}
		return next(c)
	}
}

// RequireAccountCredentials admits only callers that sent email and password.
func RequireAccountCredentials(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity := CurrentIdentity(c)
		if identity.Anonymous() || identity.TokenUsed {
			return internal.ErrForbidden
		}
		return next(c)
	}
}
