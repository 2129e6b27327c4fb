package adminapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authMiddleware requires a "Bearer <token>" Authorization header
// matching s.Token, compared in constant time the same way the teacher's
// tryBasicAuth compares credentials.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.Token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
