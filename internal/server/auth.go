package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	tokenCookieName = "sp_token"
	tokenCookieTTL  = 24 * time.Hour
)

// requireToken guards the dashboard. A valid token query parameter is
// exchanged for a session cookie and redirected away, so the token never
// sticks around in the address bar or shared links.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if queryToken := r.URL.Query().Get("token"); queryToken != "" {
			if !tokenMatches(queryToken, s.token) {
				s.log.Warn("dashboard auth rejected",
					zap.String("path", r.URL.Path),
					zap.String("remote", r.RemoteAddr),
				)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			http.SetCookie(w, &http.Cookie{
				Name:     tokenCookieName,
				Value:    s.token,
				Path:     "/",
				HttpOnly: true,
				MaxAge:   int(tokenCookieTTL / time.Second),
				SameSite: http.SameSiteLaxMode,
			})

			clean := *r.URL
			q := clean.Query()
			q.Del("token")
			clean.RawQuery = q.Encode()
			http.Redirect(w, r, clean.String(), http.StatusFound)
			return
		}

		cookie, err := r.Cookie(tokenCookieName)
		if err != nil || !tokenMatches(cookie.Value, s.token) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func tokenMatches(candidate, want string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(want)) == 1
}
