package service

import (
	"log/slog"
	"time"

	"github.com/tjfontaine/service-template/internal/cache"
	"github.com/tjfontaine/service-template/internal/models"
	"github.com/tjfontaine/service-template/internal/repository"
	"github.com/tjfontaine/service-template/internal/storage/sqldb"
)

type (
	Users    = Resource[models.User]
	Products = Resource[models.Product]
)

// NewUsers serves users from db, caching reads in c when it is non-nil.
func NewUsers(db *sqldb.DB, c *cache.Service, ttl time.Duration, logger *slog.Logger) *Users {
	opts := []ResourceOption[models.User]{WithFilters[models.User]("name", "nick_name", "email")}
	if c != nil {
		opts = append(opts, WithCache[models.User](c, "user", ttl))
	}
	return NewResource(repository.New[models.User](db, models.UserTable, logger), logger, opts...)
}

func NewProducts(db *sqldb.DB, logger *slog.Logger) *Products {
	return NewResource(repository.New[models.Product](db, models.ProductTable, logger), logger,
		WithFilters[models.Product]("name", "category"))
}
