// Package service holds the business operations behind the HTTP handlers.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tjfontaine/service-template/internal/cache"
	"github.com/tjfontaine/service-template/internal/repository"
	"github.com/tjfontaine/service-template/internal/schemas"
)

// Payload is a validated create or update body.
type Payload interface {
	Validate() error
	Fields() map[string]any
}

// Resource implements CRUD for one entity type. When a cache is configured,
// reads by ID go through it under "<prefix>:<id>".
type Resource[T any] struct {
	repo    *repository.Repository[T]
	cache   *cache.Service
	prefix  string
	ttl     time.Duration
	filters []string
	logger  *slog.Logger
}

type ResourceOption[T any] func(*Resource[T])

// WithCache enables cache-aside reads.
func WithCache[T any](c *cache.Service, prefix string, ttl time.Duration) ResourceOption[T] {
	return func(r *Resource[T]) {
		r.cache = c
		r.prefix = prefix
		r.ttl = ttl
	}
}

// WithFilters lists the query parameters accepted as exact-match filters.
func WithFilters[T any](names ...string) ResourceOption[T] {
	return func(r *Resource[T]) { r.filters = names }
}

func NewResource[T any](repo *repository.Repository[T], logger *slog.Logger, opts ...ResourceOption[T]) *Resource[T] {
	r := &Resource[T]{repo: repo, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resource[T]) Repository() *repository.Repository[T] { return r.repo }

// Filters returns the accepted filter parameters.
func (r *Resource[T]) Filters() []string { return r.filters }

func (r *Resource[T]) cacheKey(id int64) string {
	return fmt.Sprintf("%s:%d", r.prefix, id)
}

func (r *Resource[T]) Create(ctx context.Context, p Payload) (*T, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return r.repo.CreateFields(ctx, p.Fields())
}

func (r *Resource[T]) Get(ctx context.Context, id int64) (*T, error) {
	if r.cache != nil {
		var cached T
		ok, err := r.cache.Get(ctx, r.cacheKey(id), &cached)
		if err == nil && ok {
			return &cached, nil
		}
	}

	row, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		if err := r.cache.Set(ctx, r.cacheKey(id), row, r.ttl); err != nil {
			r.logger.LogAttrs(ctx, slog.LevelWarn, "failed to populate cache",
				slog.String("key", r.cacheKey(id)),
				slog.String("error", err.Error()),
			)
		}
	}
	return row, nil
}

// Update applies the set fields of p. An empty update returns the row as is.
func (r *Resource[T]) Update(ctx context.Context, id int64, p Payload) (*T, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	fields := p.Fields()
	if len(fields) == 0 {
		return r.repo.GetByID(ctx, id)
	}
	row, err := r.repo.Update(ctx, id, fields)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, id)
	return row, nil
}

func (r *Resource[T]) Delete(ctx context.Context, id int64) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

func (r *Resource[T]) List(ctx context.Context, q schemas.ListQuery) (*repository.Page[T], error) {
	return r.repo.Paginate(ctx, q.Page, q.PageSize, repository.PageOptions{
		OrderBy: q.OrderBy,
		Desc:    q.Desc,
		Filters: repository.Filters(q.Filters),
	})
}

func (r *Resource[T]) invalidate(ctx context.Context, id int64) {
	if r.cache == nil {
		return
	}
	if _, err := r.cache.Delete(ctx, r.cacheKey(id)); err != nil {
		r.logger.LogAttrs(ctx, slog.LevelWarn, "failed to invalidate cache",
			slog.String("key", r.cacheKey(id)),
			slog.String("error", err.Error()),
		)
	}
}
