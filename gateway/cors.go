package gateway

import (
	"net/http"
	"strings"

	"github.com/rs/cors"
)

const corsMaxAge = 600

// withCORS wraps next with a credentialed CORS policy for origins. An empty
// list disables CORS entirely rather than allowing every origin.
func withCORS(next http.Handler, origins []string) http.Handler {
	allowed := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			allowed = append(allowed, o)
		}
	}
	if len(allowed) == 0 {
		return next
	}
	return cors.New(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{authorizationHeader, "Content-Type", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader, wwwAuthenticateHeader},
		AllowCredentials: true,
		MaxAge:           corsMaxAge,
	}).Handler(next)
}
