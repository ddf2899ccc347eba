// internal/handlers/session.go
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/imposter-gg/imposter-server/internal/auth"
)

// EnsureEphemeralUser returns the caller's uid, minting a fresh anonymous
// identity (and setting the auth cookie) if the request carries no valid
// token.
func EnsureEphemeralUser(w http.ResponseWriter, r *http.Request) (string, error) {
	cookieHeader := r.Header.Get("Cookie")
	if strings.Contains(cookieHeader, "auth_token=") {
		token := extractCookieToken(cookieHeader, "auth_token")
		uid, err := auth.AuthenticateJWT(token)
		if err == nil {
			return uid, nil
		}
		// fall through: invalid/expired token gets a fresh identity
	}

	uid := uuid.NewString()
	token, err := auth.CreateJWT(uid)
	if err != nil {
		return "", fmt.Errorf("failed to create ephemeral JWT: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})
	return uid, nil
}
