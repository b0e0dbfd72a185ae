package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

var (
	allowedHeaders = []string{"Content-Type", "X-Amz-Date", "Authorization", "X-Api-Key", "X-Amz-Security-Token"}
	allowedMethods = []string{http.MethodOptions, http.MethodPost, http.MethodGet}
)

type RouterConfig struct {
	CORSOrigins []string
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

func NewRouter(app *App, config RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(defaultCORSHeaders(config.CORSOrigins))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: config.CORSOrigins,
		AllowedMethods: allowedMethods,
		AllowedHeaders: allowedHeaders,
		MaxAge:         300,
	}))

	r.Get("/ping", PingHandler)
	if config.Metrics != nil {
		r.Handle("/metrics", config.Metrics)
	}

	r.Post("/moderate", app.ModerateHandler)
	r.Get("/records/*", app.GetRecordHandler)
	r.Get("/users/{userID}/records", app.ListRecordsHandler)

	return r
}

// defaultCORSHeaders stamps the allowed headers and methods on every response
// to an allowed origin; cors.Handler only sends them on preflight. Requests
// without an Origin also get the first allowed origin.
func defaultCORSHeaders(origins []string) func(http.Handler) http.Handler {
	allowHeaders := strings.Join(allowedHeaders, ",")
	allowMethods := strings.Join(allowedMethods, ",")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if len(origins) > 0 && (origin == "" || originAllowed(origins, origin)) {
				h := w.Header()
				if origin == "" {
					h.Set("Access-Control-Allow-Origin", origins[0])
				}
				h.Set("Access-Control-Allow-Headers", allowHeaders)
				h.Set("Access-Control-Allow-Methods", allowMethods)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origins []string, origin string) bool {
	for _, o := range origins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
