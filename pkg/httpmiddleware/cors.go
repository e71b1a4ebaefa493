package httpmiddleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSConfig configures CORS.
type CORSConfig struct {
	// AllowOrigins lists allowed origins. Empty or "*" allows any origin.
	AllowOrigins []string
	// AllowMethods defaults to GET, POST and OPTIONS.
	AllowMethods []string
	AllowHeaders []string
	// MaxAge of preflight results in seconds; 0 omits the header.
	MaxAge int
}

// CORS answers preflight requests and sets Access-Control-Allow-Origin on
// actual requests from allowed origins. Mount it on the routes browsers call
// cross-origin, not globally.
func CORS(cfg CORSConfig) Middleware {
	methods := cfg.AllowMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowOrigins,
		AllowedMethods: methods,
		AllowedHeaders: cfg.AllowHeaders,
		MaxAge:         cfg.MaxAge,
	})
}
