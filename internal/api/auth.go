package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireToken guards the cache endpoints of the query API with the
// server.token bearer token. Challenges follow RFC 6750.
func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			switch {
			case !ok || given == "":
				w.Header().Set("WWW-Authenticate", `Bearer realm="termine"`)
				httpError(w, http.StatusUnauthorized, "authentication_error", "missing bearer token")
			case subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1:
				w.Header().Set("WWW-Authenticate", `Bearer realm="termine", error="invalid_token"`)
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid bearer token")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
