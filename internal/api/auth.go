package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/victornm/tquiz/internal/clock"
	"github.com/victornm/tquiz/internal/errors"
)

const userIDKey = "user_id"

// Authenticator verifies HS256 bearer tokens. The token subject is the user ID.
type Authenticator struct {
	secret []byte
	issuer string
	clock  clock.Clock
}

func NewAuthenticator(secret, issuer string, c clock.Clock) *Authenticator {
	if c == nil {
		c = clock.System{}
	}

	return &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
		clock:  c,
	}
}

// Issue signs a token for the user. Credentials are checked elsewhere; this only mints the token.
func (a *Authenticator) Issue(userID string, ttl time.Duration) (string, error) {
	now := a.clock.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})

	s, err := t.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return s, nil
}

// Verify returns the user ID carried by a valid token.
func (a *Authenticator) Verify(token string) (string, error) {
	t, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.clock.Now),
	)
	if err != nil {
		return "", unauthenticated("invalid token: %v", err)
	}

	sub, err := t.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", unauthenticated("token has no subject")
	}

	return sub, nil
}

// authenticate reads the token from the Authorization header, or from the access_token query
// parameter for WebSocket clients that cannot set headers.
func (a *API) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok {
			token = c.Query("access_token")
		}

		if token == "" {
			a.abort(c, unauthenticated("missing bearer token"))
			return
		}

		uid, err := a.auth.Verify(token)
		if err != nil {
			a.abort(c, err)
			return
		}

		c.Set(userIDKey, uid)
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func unauthenticated(format string, args ...any) *errors.Error {
	return errors.New(errors.CodeUnauthenticated, errors.WithMessagef(format, args...))
}
