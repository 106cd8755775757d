package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"resqlink.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth validates the bearer token and resolves the caller from storage.
// The role and scope always come from the current identity record, never the
// claim, so demotions and scope edits apply on the next request.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}

		claims, err := a.tokens.Validate(token)
		if err != nil {
			unauthorized(w, r, "invalid token")
			return
		}

		caller, err := a.identity.ResolveCaller(r.Context(), claims.Subject)
		if err != nil {
			// A token whose identity no longer exists is as good as invalid.
			unauthorized(w, r, "invalid token")
			return
		}

		ctx := auth.ContextWithCaller(r.Context(), caller)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="resqlink"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
