package identity

import "net/http"

// Middleware resolves the caller identity for every request and stores it
// on the request context, rejecting with 401 when requireAuth is set and
// no credentials were presented.
func Middleware(mgr *Manager, requireAuth bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := Resolve(r, mgr, requireAuth)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), id)))
		})
	}
}
