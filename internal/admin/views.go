package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/tjfontaine/service-template/internal/models"
	"github.com/tjfontaine/service-template/internal/repository"
	"github.com/tjfontaine/service-template/internal/schemas"
	"github.com/tjfontaine/service-template/internal/service"
)

// Field is one input of a create form.
type Field struct {
	Name     string
	Label    string
	Type     string // text, email, textarea, number, integer
	Required bool
}

// View is one model page of the dashboard. Build it with ResourceView or
// RepositoryView so the data functions are bound.
type View struct {
	Name       string
	Slug       string
	Columns    []string
	Searchable []string
	Fields     []Field
	CanCreate  bool
	CanDelete  bool

	list   func(ctx context.Context, page, pageSize int, filters map[string]any) ([]row, int64, error)
	create func(ctx context.Context, values map[string]any) error
	remove func(ctx context.Context, id int64) error
}

type row struct {
	ID    int64
	Cells []string
}

// ResourceView binds v to a service resource. Creates are decoded into C and
// validated by the resource; deletes invalidate its cache.
func ResourceView[T any, C service.Payload](v View, res *service.Resource[T]) View {
	repo, cols := res.Repository(), v.Columns
	v.list = func(ctx context.Context, page, pageSize int, filters map[string]any) ([]row, int64, error) {
		p, err := res.List(ctx, schemas.ListQuery{Page: page, PageSize: pageSize, OrderBy: "id", Filters: filters})
		if err != nil {
			return nil, 0, err
		}
		return toRows(repo, p.Items, cols), p.Total, nil
	}
	if v.CanCreate {
		v.create = func(ctx context.Context, values map[string]any) error {
			var payload C
			data, err := json.Marshal(values)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(data, &payload); err != nil {
				return fmt.Errorf("failed to decode form: %w", err)
			}
			_, err = res.Create(ctx, payload)
			return err
		}
	}
	if v.CanDelete {
		v.remove = res.Delete
	}
	return v
}

// RepositoryView binds v directly to a repository, newest rows first.
func RepositoryView[T any](v View, repo *repository.Repository[T]) View {
	cols := v.Columns
	v.list = func(ctx context.Context, page, pageSize int, filters map[string]any) ([]row, int64, error) {
		p, err := repo.Paginate(ctx, page, pageSize, repository.PageOptions{
			OrderBy: "id",
			Desc:    true,
			Filters: repository.Filters(filters),
		})
		if err != nil {
			return nil, 0, err
		}
		return toRows(repo, p.Items, cols), p.Total, nil
	}
	if v.CanCreate {
		v.create = func(ctx context.Context, values map[string]any) error {
			_, err := repo.CreateFields(ctx, repository.Fields(values))
			return err
		}
	}
	if v.CanDelete {
		v.remove = repo.Delete
	}
	return v
}

// DefaultViews are the Users, Products and read-only Audit logs pages.
// audit may be nil when audit entries are not stored.
func DefaultViews(users *service.Users, products *service.Products, audit *service.AuditLogs) []View {
	views := []View{
		ResourceView[models.User, schemas.UserCreateRequest](View{
			Name:       "Users",
			Slug:       "users",
			Columns:    []string{"id", "name"},
			Searchable: []string{"name"},
			Fields: []Field{
				{Name: "name", Label: "Name", Type: "text", Required: true},
				{Name: "nick_name", Label: "Nick name", Type: "text", Required: true},
				{Name: "email", Label: "Email", Type: "email"},
			},
			CanCreate: true,
			CanDelete: true,
		}, users),
		ResourceView[models.Product, schemas.ProductCreateRequest](View{
			Name:       "Products",
			Slug:       "products",
			Columns:    []string{"id", "name", "price", "stock"},
			Searchable: []string{"name"},
			Fields: []Field{
				{Name: "name", Label: "Name", Type: "text", Required: true},
				{Name: "description", Label: "Description", Type: "textarea"},
				{Name: "price", Label: "Price", Type: "number", Required: true},
				{Name: "stock", Label: "Stock", Type: "integer"},
				{Name: "category", Label: "Category", Type: "text"},
			},
			CanCreate: true,
			CanDelete: true,
		}, products),
	}
	if audit != nil {
		views = append(views, RepositoryView(View{
			Name:       "Audit logs",
			Slug:       "audit-logs",
			Columns:    []string{"id", "create_time", "method", "path", "status", "module", "summary", "username", "client_ip", "response_time"},
			Searchable: []string{"method", "path", "module"},
		}, audit.Repository()))
	}
	return views
}

func toRows[T any](repo *repository.Repository[T], items []T, cols []string) []row {
	out := make([]row, 0, len(items))
	for i := range items {
		vals := repo.Values(&items[i])
		r := row{Cells: make([]string, len(cols))}
		if id, ok := vals["id"].(int64); ok {
			r.ID = id
		}
		for j, c := range cols {
			r.Cells[j] = formatValue(vals[c])
		}
		out = append(out, r)
	}
	return out
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		return x.Format(time.DateTime)
	case string:
		return x
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return ""
		}
		return formatValue(rv.Elem().Interface())
	}
	return fmt.Sprint(v)
}
