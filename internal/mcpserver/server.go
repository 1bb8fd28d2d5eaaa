// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes airules recipe tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/airules/internal/apperr"
	"github.com/starford/airules/internal/recipe"
	"github.com/starford/airules/internal/recipeservice"
)

// Server wraps the MCP server with recipe tools.
type Server struct {
	mcp *server.MCPServer
	svc *recipeservice.Service
}

// recipeItem is the compact form used in list and search results.
type recipeItem struct {
	Key      string   `json:"key"`
	Name     string   `json:"name"`
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Origin   string   `json:"origin"`
}

// New creates a new MCP server with all recipe tools registered.
func New(svc *recipeservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"airules",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_recipes",
		mcp.WithDescription("List available recipes, optionally restricted to one category."),
		mcp.WithString("category", mcp.Description("Optional category (e.g. frontend, backend)")),
	), s.listRecipes)

	s.mcp.AddTool(mcp.NewTool("search_recipes",
		mcp.WithDescription("Case-insensitive substring search over recipe name, description, "+
			"category, tech stack and tags."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchRecipes)

	s.mcp.AddTool(mcp.NewTool("get_recipe",
		mcp.WithDescription("Return the full recipe, including tech stack and rules, as JSON."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Recipe key (file name without extension)")),
	), s.getRecipe)

	s.mcp.AddTool(mcp.NewTool("refresh_recipes",
		mcp.WithDescription("Bypass the cache and fetch recipes from the remote repository. "+
			"Falls back to the stale cache or bundled recipes when the remote fails."),
	), s.refreshRecipes)

	s.mcp.AddTool(mcp.NewTool("test_connection",
		mcp.WithDescription("Probe the remote listing and content endpoints and report "+
			"reachability, latency and rate limit. Does not touch the cache."),
	), s.testConnection)

	s.mcp.AddTool(mcp.NewTool("get_recipe_format",
		mcp.WithDescription("Returns the recipe file format. Call this before writing local recipes."),
	), s.getRecipeFormat)

	s.mcp.AddResource(
		mcp.NewResource(RecipeFormatURI, "Recipe Format",
			mcp.WithResourceDescription("File format of airules recipes."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readRecipeFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listRecipes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category := strings.TrimSpace(req.GetString("category", ""))
	recipes := s.svc.List(ctx, category)
	if len(recipes) == 0 {
		if category != "" {
			return mcp.NewToolResultText(fmt.Sprintf("no recipes in category %q", category)), nil
		}
		return mcp.NewToolResultText("no recipes available"), nil
	}
	return jsonResult(items(recipes))
}

func (s *Server) searchRecipes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results := s.svc.Search(ctx, query)
	if limit := req.GetInt("limit", 20); limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return jsonResult(items(results))
}

func (s *Server) getRecipe(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	r, err := s.svc.Get(ctx, key)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", key)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(r)
}

func (s *Server) refreshRecipes(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Refresh(ctx))
}

func (s *Server) testConnection(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rep := s.svc.Diagnose(ctx)
	var b strings.Builder
	if err := rep.Render(&b); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !rep.OK() {
		return mcp.NewToolResultError(b.String()), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) getRecipeFormat(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(RecipeFormatContract), nil
}

func (s *Server) readRecipeFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      RecipeFormatURI,
			MIMEType: "text/markdown",
			Text:     RecipeFormatContract,
		},
	}, nil
}

func items(recipes []recipe.Recipe) []recipeItem {
	out := make([]recipeItem, 0, len(recipes))
	for _, r := range recipes {
		out = append(out, recipeItem{
			Key:      r.Key,
			Name:     r.Name,
			Category: r.Category,
			Tags:     r.Tags,
			Origin:   string(r.Source.Origin),
		})
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
