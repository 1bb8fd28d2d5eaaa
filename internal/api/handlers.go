package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/airules/internal/apperr"
	"github.com/starford/airules/internal/catalog"
	"github.com/starford/airules/internal/recipe"
	"github.com/starford/airules/internal/recipeservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *recipeservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *recipeservice.Service) *Handler {
	return &Handler{svc: svc}
}

// ListRecipes handles GET /api/recipes.
//
//	@Summary		List recipes with optional pagination and filtering
//	@Tags			recipes
//	@Produce		json
//	@Param			category	query		string	false	"Filter by category"
//	@Param			tag			query		string	false	"Filter by tag"
//	@Param			origin		query		string	false	"Filter by origin"	Enums(remote, local, bundled)
//	@Param			limit		query		int		false	"Page size"
//	@Param			offset		query		int		false	"Page offset"
//	@Success		200			{object}	RecipeListResponse
//	@Security		BearerAuth
//	@Router			/recipes [get]
func (h *Handler) ListRecipes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	f := catalog.Filter{
		Category: q.Get("category"),
		Tag:      q.Get("tag"),
		Origin:   q.Get("origin"),
		Limit:    limit,
		Offset:   offset,
	}

	rows, total, err := h.svc.Browse(r.Context(), f)
	if err != nil {
		writeInternal(w, "list recipes", err)
		return
	}
	if rows == nil {
		rows = []catalog.Row{}
	}
	writeJSON(w, http.StatusOK, RecipeListResponse{
		Recipes: rows,
		Total:   total,
		Tier:    h.svc.Tier().String(),
	})
}

// GetRecipe handles GET /api/recipes/{key}.
//
//	@Summary		Get a single recipe by key
//	@Tags			recipes
//	@Produce		json
//	@Param			key	path		string	true	"Recipe key"
//	@Success		200	{object}	RecipeDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/recipes/{key} [get]
func (h *Handler) GetRecipe(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("key is required"))
		return
	}
	rec, err := h.svc.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			writeInternal(w, "get recipe", err, slog.String("key", key))
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Refresh handles POST /api/refresh.
//
//	@Summary		Force a refresh from the remote repository
//	@Tags			recipes
//	@Produce		json
//	@Success		200	{object}	RefreshResponse
//	@Security		BearerAuth
//	@Router			/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Refresh(r.Context()))
}

// Search handles GET /api/search.
//
// A blank q matches every recipe.
//
//	@Summary		Case-insensitive substring search across recipes
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	false	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	results := h.svc.Search(r.Context(), q)
	if limit, _ := strconv.Atoi(r.URL.Query().Get("limit")); limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	if results == nil {
		results = []recipe.Recipe{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Query: q, Results: results})
}

// Categories handles GET /api/categories.
//
//	@Summary		List categories with recipe counts
//	@Tags			recipes
//	@Produce		json
//	@Success		200	{object}	CategoriesResponse
//	@Security		BearerAuth
//	@Router			/categories [get]
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	counts, err := h.svc.CategoryCounts(r.Context())
	if err != nil {
		writeInternal(w, "categories", err)
		return
	}
	if counts == nil {
		counts = []catalog.CategoryCount{}
	}
	writeJSON(w, http.StatusOK, CategoriesResponse{Categories: counts})
}

// CacheStatus handles GET /api/cache.
//
//	@Summary		Inspect the local recipe cache
//	@Tags			cache
//	@Produce		json
//	@Success		200	{object}	cache.Status
//	@Security		BearerAuth
//	@Router			/cache [get]
func (h *Handler) CacheStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.CacheStatus())
}

// ClearCache handles DELETE /api/cache.
//
//	@Summary		Remove the local recipe cache
//	@Tags			cache
//	@Success		204	"Cache cleared"
//	@Security		BearerAuth
//	@Router			/cache [delete]
func (h *Handler) ClearCache(w http.ResponseWriter, _ *http.Request) {
	if err := h.svc.ClearCache(); err != nil {
		writeInternal(w, "clear cache", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetEndpoints handles GET /api/config/endpoints.
//
//	@Summary		Show the remote endpoint configuration
//	@Tags			config
//	@Produce		json
//	@Success		200	{object}	EndpointsResponse
//	@Security		BearerAuth
//	@Router			/config/endpoints [get]
func (h *Handler) GetEndpoints(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, endpointsResponse(h.svc.Endpoints()))
}

// UpdateEndpoints handles PATCH /api/config/endpoints.
//
//	@Summary		Change the remote endpoint configuration
//	@Tags			config
//	@Accept			json
//	@Produce		json
//	@Param			body	body		UpdateEndpointsRequest	true	"Fields to change"
//	@Success		200		{object}	EndpointsResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/config/endpoints [patch]
func (h *Handler) UpdateEndpoints(w http.ResponseWriter, r *http.Request) {
	var req UpdateEndpointsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body: "+err.Error()))
		return
	}
	p, err := req.patch()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid ttl: "+err.Error()))
		return
	}
	if p.Empty() {
		writeJSON(w, http.StatusBadRequest, errorBody("no fields to update"))
		return
	}
	s, err := h.svc.UpdateEndpoints(p)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, endpointsResponse(s))
}

// Diagnostics handles GET /api/diagnostics.
//
//	@Summary		Probe the remote endpoints
//	@Tags			config
//	@Produce		json
//	@Success		200	{object}	diagnostics.Report
//	@Failure		502	{object}	diagnostics.Report
//	@Security		BearerAuth
//	@Router			/diagnostics [get]
func (h *Handler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	rep := h.svc.Diagnose(r.Context())
	status := http.StatusOK
	if !rep.OK() {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, rep)
}
