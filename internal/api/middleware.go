package api

import (
	"log"
	"net"
	"net/http"
	"strings"

	"anonchat/internal/auth"
)

func getIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequireAdmin guards the moderation surface with a bearer token from
// /admin/login.
func RequireAdmin(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			if _, err := auth.ValidateAdminToken(tokenString, secret); err != nil {
				log.Printf("[ADMIN] Invalid token from %s: %v", getIP(r), err)
				http.Error(w, "Session expired or invalid", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
