package api

import (
	"log/slog"
	"net/http"

	"github.com/rlanders/imagewell/internal/api/middleware"
	"github.com/rlanders/imagewell/internal/gateway"
	"github.com/rlanders/imagewell/internal/search"
)

// RouterDeps bundles all dependencies needed by the HTTP router.
type RouterDeps struct {
	Sessions   *search.Manager
	Gateway    gateway.Gateway
	ImageProxy http.Handler
	Logger     *slog.Logger
	BasePath   string
	StaticDir  string
}

// Router sets up all HTTP routes for the application.
type Router struct {
	sessions     *search.Manager
	gw           gateway.Gateway
	imageProxy   http.Handler
	logger       *slog.Logger
	basePath     string
	staticAssets *StaticAssets
}

// NewRouter creates a new Router with all routes configured.
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		sessions:     deps.Sessions,
		gw:           deps.Gateway,
		imageProxy:   deps.ImageProxy,
		logger:       deps.Logger,
		basePath:     deps.BasePath,
		staticAssets: NewStaticAssets(deps.StaticDir, deps.Logger),
	}
}

// Handler returns the fully configured HTTP handler with middleware applied.
func (r *Router) Handler() http.Handler {
	searchLimit := middleware.NewSearchRateLimiter()
	mux := http.NewServeMux()
	bp := r.basePath

	mux.HandleFunc("GET "+bp+"/api/v1/health", r.handleHealth)

	// Session API
	mux.Handle("POST "+bp+"/api/v1/search",
		searchLimit.Middleware(http.HandlerFunc(r.handleSearchStart)))
	mux.HandleFunc("POST "+bp+"/api/v1/search/{id}/more", r.handleSearchMore)
	mux.HandleFunc("GET "+bp+"/api/v1/search/{id}", r.handleSearchGet)
	mux.HandleFunc("POST "+bp+"/api/v1/search/{id}/images/report", r.handleImageReport)

	// Upstream-shaped pass-through
	mux.Handle("GET "+bp+"/api/search",
		searchLimit.Middleware(http.HandlerFunc(r.handleSearchPassthrough)))

	// Image proxy (GET + preflight)
	mux.Handle(bp+"/api/image-proxy", r.imageProxy)

	mux.Handle("GET "+bp+"/static/", r.staticAssets.Handler(bp))
	mux.HandleFunc("GET "+bp+"/{$}", r.handleIndex)

	return middleware.Logging(r.logger)(middleware.SecurityHeaders(mux))
}
