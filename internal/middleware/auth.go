package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKey returns middleware that requires the key returned by key, sent as
// X-API-Key or as an Authorization bearer token. The key is looked up per
// request so a reloaded secret takes effect without a restart. An empty key
// rejects every request.
func APIKey(key func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("X-API-Key")
			if presented == "" {
				authHeader := r.Header.Get("Authorization")
				if authHeader == "" {
					unauthorized(w, "authorization required")
					return
				}
				token, ok := strings.CutPrefix(authHeader, "Bearer ")
				if !ok {
					unauthorized(w, "invalid authorization header")
					return
				}
				presented = token
			}

			want := key()
			if want == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(want)) != 1 {
				unauthorized(w, "invalid api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="opsloop"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
