package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

// GetAuthTokenFromHTTPRequest returns the bearer token of a request, or an
// empty string when there is none.
func GetAuthTokenFromHTTPRequest(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ")
}

// VerifyAuthToken returns a websocket handshake that rejects connections
// whose bearer token does not match secret. An empty secret disables the
// check.
func VerifyAuthToken(ctx context.Context, secret string) func(*websocket.Config, *http.Request) error {
	return func(c *websocket.Config, r *http.Request) error {
		if err := verifyToken(secret, GetAuthTokenFromHTTPRequest(r)); err != nil {
			logs.WithTag("remote_addr", r.RemoteAddr).Error(err)
			return err
		}
		return nil
	}
}

// VerifyAuthTokenHandler wraps next with the same bearer-token check as
// VerifyAuthToken.
func VerifyAuthTokenHandler(secret string, next http.HandlerFunc) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := verifyToken(secret, GetAuthTokenFromHTTPRequest(r)); err != nil {
			logs.WithTag("remote_addr", r.RemoteAddr).Error(err)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	}
}

func verifyToken(secret, token string) error {
	if secret == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(token)) != 1 {
		return errors.New("invalid auth token")
	}
	return nil
}
