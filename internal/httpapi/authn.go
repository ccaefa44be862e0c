package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"hireline.io/internal/session"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/signup",
	"/v1/login",
	"/v1/approve",
	"/v1/forgot-password",
	"/v1/reset-password",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.sessions == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		credential, err := extractBearer(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.sessions.Verify(credential)
		if err != nil {
			if errors.Is(err, session.ErrInvalidCredential) {
				writeError(w, r, http.StatusUnauthorized, "invalid or expired credential")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := session.ContextWithClaims(r.Context(), claims)
		ctx = session.ContextWithCredential(ctx, credential)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireClaims(w http.ResponseWriter, r *http.Request) (*session.Claims, bool) {
	claims, ok := session.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return claims, true
}

func extractBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer credential")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	credential := strings.TrimSpace(header[len(bearer):])
	if credential == "" {
		return "", errors.New("missing bearer credential")
	}
	return credential, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
