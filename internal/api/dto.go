package api

import (
	"time"

	"github.com/starford/airules/internal/catalog"
	"github.com/starford/airules/internal/endpoint"
	"github.com/starford/airules/internal/recipe"
	"github.com/starford/airules/internal/recipeservice"
)

// RecipeDetail is the full recipe response type (aliased from the domain layer).
type RecipeDetail = recipe.Recipe

// RecipeListItem is a lightweight item in a list response.
type RecipeListItem = catalog.Row

// RecipeListResponse wraps paginated recipe listings.
type RecipeListResponse struct {
	Recipes []RecipeListItem `json:"recipes" validate:"required"`
	Total   int              `json:"total" example:"42" validate:"required"`
	Tier    string           `json:"tier" example:"cached" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Query   string         `json:"query" example:"react"`
	Results []RecipeDetail `json:"results" validate:"required"`
}

// CategoriesResponse lists categories with their recipe counts.
type CategoriesResponse struct {
	Categories []catalog.CategoryCount `json:"categories" validate:"required"`
}

// RefreshResponse is returned after a forced refresh.
type RefreshResponse = recipeservice.Summary

// EndpointsResponse is the endpoint configuration with the TTL rendered
// as a duration string.
type EndpointsResponse struct {
	ListEndpoint         string `json:"listEndpoint" example:"https://api.github.com/repos/o/r/contents/recipes"`
	ContentEndpointBase  string `json:"contentEndpointBase" example:"https://raw.githubusercontent.com/o/r/main/recipes/"`
	TTL                  string `json:"ttl" example:"24h0m0s"`
	AllowBundledFallback bool   `json:"allowBundledFallback"`
}

// UpdateEndpointsRequest is a partial endpoint update. Omitted fields are
// left unchanged. TTL uses Go duration syntax.
type UpdateEndpointsRequest struct {
	ListEndpoint         *string `json:"listEndpoint,omitempty"`
	ContentEndpointBase  *string `json:"contentEndpointBase,omitempty"`
	TTL                  *string `json:"ttl,omitempty" example:"12h"`
	AllowBundledFallback *bool   `json:"allowBundledFallback,omitempty"`
}

func (r UpdateEndpointsRequest) patch() (endpoint.Patch, error) {
	p := endpoint.Patch{
		ListEndpoint:         r.ListEndpoint,
		ContentEndpointBase:  r.ContentEndpointBase,
		AllowBundledFallback: r.AllowBundledFallback,
	}
	if r.TTL != nil {
		d, err := time.ParseDuration(*r.TTL)
		if err != nil {
			return p, err
		}
		p.TTL = &d
	}
	return p, nil
}

func endpointsResponse(s endpoint.Settings) EndpointsResponse {
	return EndpointsResponse{
		ListEndpoint:         s.ListEndpoint,
		ContentEndpointBase:  s.ContentEndpointBase,
		TTL:                  s.TTL.String(),
		AllowBundledFallback: s.AllowBundledFallback,
	}
}
