package httpapi

import (
	"net/http"
	"strings"

	"github.com/rs/cors"
)

// newCORS mirrors allowed origins with credentials. Origins are compared
// without a trailing slash.
func newCORS(allowed []string) *cors.Cors {
	origins := make([]string, 0, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	return cors.New(cors.Options{
		AllowedOrigins:       origins,
		AllowCredentials:     true,
		AllowedMethods:       []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:       []string{"Content-Type", "Authorization", requestIDHeader},
		ExposedHeaders:       []string{"Content-Disposition", requestIDHeader},
		OptionsSuccessStatus: http.StatusNoContent,
	})
}

// withCORS rejects preflights from unknown origins with 403 and hands
// everything else to c.
func withCORS(next http.Handler, c *cors.Cors) http.Handler {
	wrapped := c.Handler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
		if preflight && r.Header.Get("Origin") != "" && !c.OriginAllowed(r) {
			w.Header().Add("Vary", "Origin")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		wrapped.ServeHTTP(w, r)
	})
}
