// Package handlers implements the HTTP API: system endpoints, the user and
// product resources, and the API documentation.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/tjfontaine/service-template/internal/cache"
	"github.com/tjfontaine/service-template/internal/httpclient"
	"github.com/tjfontaine/service-template/internal/models"
	"github.com/tjfontaine/service-template/internal/schemas"
	"github.com/tjfontaine/service-template/internal/server"
	"github.com/tjfontaine/service-template/internal/service"
	"github.com/tjfontaine/service-template/internal/storage/sqldb"
)

// Deps are the collaborators of the HTTP API. Users and Products are
// required; the rest only feed the deep health check.
type Deps struct {
	Name      string
	Version   string
	Users     *service.Users
	Products  *service.Products
	Databases *sqldb.Registry
	Cache     *cache.Service
	Probe     *httpclient.Client
	CheckURLs []string
	Logger    *slog.Logger
}

type Handlers struct {
	service   string
	version   string
	databases *sqldb.Registry
	cache     *cache.Service
	probe     *httpclient.Client
	checkURLs []string
	logger    *slog.Logger

	users    *crud[models.User, schemas.UserCreateRequest, schemas.UserUpdateRequest]
	products *crud[models.Product, schemas.ProductCreateRequest, schemas.ProductUpdateRequest]
}

func New(d Deps) *Handlers {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:   d.Name,
		version:   d.Version,
		databases: d.Databases,
		cache:     d.Cache,
		probe:     d.Probe,
		checkURLs: d.CheckURLs,
		logger:    logger,
		users: &crud[models.User, schemas.UserCreateRequest, schemas.UserUpdateRequest]{
			resource: d.Users, module: "user", entity: "User", logger: logger,
		},
		products: &crud[models.Product, schemas.ProductCreateRequest, schemas.ProductUpdateRequest]{
			resource: d.Products, module: "product", entity: "Product", logger: logger,
		},
	}
}

// Routes returns the static route table.
func (h *Handlers) Routes() []server.RouteGroup {
	return []server.RouteGroup{
		{
			Module: "system",
			Routes: []server.Route{
				{Method: http.MethodGet, Pattern: "/", Summary: "Root endpoint", Handler: h.root},
				{Method: http.MethodGet, Pattern: "/health", Summary: "Health check", Handler: h.health},
			},
		},
		{
			Module: "docs",
			Routes: []server.Route{
				{Method: http.MethodGet, Pattern: "/docs", Summary: "Swagger UI", Handler: h.swaggerUI},
				{Method: http.MethodGet, Pattern: "/redoc", Summary: "ReDoc", Handler: h.redoc},
				{Method: http.MethodGet, Pattern: "/openapi.json", Summary: "OpenAPI document", Handler: h.openAPIJSON},
				{Method: http.MethodGet, Pattern: "/openapi.yaml", Summary: "OpenAPI document", Handler: h.openAPIYAML},
			},
		},
		h.users.routes(),
		h.products.routes(),
	}
}
