package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/airules/internal/recipeservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// events, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *recipeservice.Service, authEnabled bool, token string, events http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Recipes.
	r.Get("/recipes", h.ListRecipes)
	r.Get("/recipes/{key}", h.GetRecipe)
	r.Post("/refresh", h.Refresh)
	r.Get("/search", h.Search)
	r.Get("/categories", h.Categories)

	// Cache administration.
	r.Get("/cache", h.CacheStatus)
	r.Delete("/cache", h.ClearCache)

	// Endpoint configuration and diagnostics.
	r.Get("/config/endpoints", h.GetEndpoints)
	r.Patch("/config/endpoints", h.UpdateEndpoints)
	r.Get("/diagnostics", h.Diagnostics)

	// SSE endpoint (protected by same auth middleware).
	if events != nil {
		r.Get("/events", events.ServeHTTP)
	}

	return r
}
