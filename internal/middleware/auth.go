package middleware

import (
	"net/http"
	"strings"

	"larder/internal/auth"
	"larder/internal/store"
)

// RequireAuth validates the bearer token, checks the backing session is
// still live, and populates AuthContext with the caller's active data scope.
func RequireAuth(secret []byte, sessions *store.SessionStore, users *store.UserStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				unauthorized(w)
				return
			}

			claims, err := auth.ParseToken(secret, token)
			if err != nil {
				unauthorized(w)
				return
			}

			sess, err := sessions.GetByID(claims.SessionID)
			if err != nil || sess == nil || sess.UserID != claims.Subject {
				unauthorized(w)
				return
			}

			user, err := users.GetByID(sess.UserID)
			if err != nil || user == nil {
				unauthorized(w)
				return
			}

			ac := auth.AuthContext{
				UserID:    user.ID,
				ScopeID:   user.Scope(),
				SessionID: sess.ID,
			}
			if user.FamilyID != nil {
				ac.FamilyID = *user.FamilyID
			}

			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	// WebSocket clients can't set headers from the browser API.
	return r.URL.Query().Get("token")
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized"}`))
}
