package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"finitefield.org/usermapping/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

const (
	apiPrefix      = "/api/v1"
	docsPath       = "/api-docs"
	requestTimeout = 60 * time.Second

	codeRouteNotFound    = "route_not_found"
	codeMethodNotAllowed = "method_not_allowed"
)

// surface is one group of API paths served by a single registrar. A registry or mapping
// registrar owns several top-level paths and registers them itself; the internal surface is
// mounted under its prefix so its middlewares stay scoped to it.
type surface struct {
	name        string
	paths       []string
	mounted     bool
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	docs        RouteRegistrar

	registry surface
	mappings surface
	exports  surface
	internal surface
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter builds the service router. Surfaces without a registrar answer 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.CleanPath,
			middleware.Timeout(requestTimeout),
		},
		registry: surface{name: "registry", paths: []string{"/src_user_fields", "/trg_user_fields", "/src_user_options", "/trg_user_options"}},
		mappings: surface{name: "mappings", paths: []string{"/mapping_user_fields", "/mapping_user_fields_options"}},
		exports:  surface{name: "exports", paths: []string{"/export", "/mapping"}},
		internal: surface{name: "internal", paths: []string{"/internal"}, mounted: true},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(codeRouteNotFound, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(codeMethodNotAllowed, fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)
	r.Route(docsPath, func(group chi.Router) {
		if cfg.docs != nil {
			cfg.docs(group)
			return
		}
		notImplemented(group, "docs")
	})

	r.Route(apiPrefix, func(api chi.Router) {
		for _, s := range []surface{cfg.registry, cfg.mappings, cfg.exports, cfg.internal} {
			s.attach(api)
		}
	})
	// Unversioned export downloads, as served before the /api/v1 prefix existed.
	if cfg.exports.registrar != nil {
		r.Group(func(legacy chi.Router) {
			cfg.exports.registrar(legacy)
		})
	}
	return r
}

func (s surface) attach(api chi.Router) {
	if s.registrar != nil && !s.mounted {
		s.registrar(api)
		return
	}
	for _, path := range s.paths {
		api.Route(path, func(group chi.Router) {
			for _, mw := range s.middlewares {
				if mw != nil {
					group.Use(mw)
				}
			}
			if s.registrar != nil {
				s.registrar(group)
				return
			}
			notImplemented(group, s.name)
		})
	}
}

// WithMiddlewares appends global middleware after the defaults.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithRegistryRoutes serves the src/trg field and option registries.
func WithRegistryRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.registry.registrar = reg
	}
}

// WithMappingRoutes serves field and option mappings.
func WithMappingRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.mappings.registrar = reg
	}
}

// WithExportRoutes serves the mapping document and workbook downloads.
func WithExportRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.exports.registrar = reg
	}
}

func WithDocsRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.docs = reg
	}
}

// WithInternalRoutes serves the scheduler-facing ingestion and publish operations under /internal.
func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.internal.registrar = reg
	}
}

// WithInternalMiddlewares adds middleware that only guards /internal.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.internal.middlewares = append(cfg.internal.middlewares, mw...)
	}
}

func notImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(httpx.CodeNotImplemented, fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
