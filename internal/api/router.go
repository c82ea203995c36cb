package api

import (
	"net/http"
	"strings"

	"github.com/ashureev/amora/internal/identity"
	"github.com/ashureev/amora/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Routes bundles the handlers served by the API.
type Routes struct {
	Users          *identity.Verifier
	Health         *HealthHandler
	Functions      *FunctionsHandler
	Chats          *ChatHandler
	Media          *MediaHandler
	Feed           http.Handler
	AllowedOrigins []string
	AccessLog      bool
}

// NewRouter builds the HTTP router.
func NewRouter(rt Routes) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	if rt.AccessLog {
		r.Use(chiMiddleware.Logger)
	}
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(corsPolicy(rt.AllowedOrigins))

	// Public routes.
	rt.Health.RegisterHealth(r)
	rt.Functions.RegisterRoutes(r)
	if rt.Media != nil {
		rt.Media.RegisterFiles(r)
	}

	// User-token routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(rt.Users))
		rt.Chats.RegisterRoutes(r)
		if rt.Media != nil {
			rt.Media.RegisterUpload(r)
		}
		if rt.Feed != nil {
			r.Get("/ws/chats/{chatID}", rt.Feed.ServeHTTP)
		}
	})

	return r
}

// corsPolicy applies allowedOrigins to the app routes and an open policy to
// the edge functions, which are called by profile backends on any origin.
func corsPolicy(allowedOrigins []string) func(http.Handler) http.Handler {
	restricted := middleware.CORS(allowedOrigins)
	open := middleware.CORS([]string{"*"})
	return func(next http.Handler) http.Handler {
		app, functions := restricted(next), open(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, FunctionsPrefix+"/") {
				functions.ServeHTTP(w, r)
				return
			}
			app.ServeHTTP(w, r)
		})
	}
}
