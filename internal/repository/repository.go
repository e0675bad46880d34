// Package repository provides generic CRUD access over one table.
//
// Each entity is a struct with `db` tags. The repository manages the id,
// create_time and update_time columns; the remaining writable columns are
// listed in a Table. Filters are exact-match equality on exposed columns.
package repository

import (
	"context"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/reflectx"

	"github.com/tjfontaine/service-template/internal/storage/sqldb"
)

const (
	columnID         = "id"
	columnCreateTime = "create_time"
	columnUpdateTime = "update_time"

	// DefaultLimit applies to List calls without a limit.
	DefaultLimit = 100
)

// Table describes the table behind an entity type.
type Table struct {
	Name    string
	Entity  string   // name used in error messages, e.g. "User"
	Columns []string // writable columns, excluding id and timestamps
}

// Fields is a partial column → value mapping.
type Fields map[string]any

// Filters is a column → value mapping matched with equality. A nil value
// matches NULL.
type Filters map[string]any

// ListOptions controls List.
type ListOptions struct {
	Offset  int
	Limit   int
	OrderBy string
	Desc    bool
	Filters Filters
}

// Page is one window of a paginated listing.
type Page[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// TotalPages returns ceil(total/pageSize).
func TotalPages(total int64, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}

// Repository implements CRUD for entity type T stored in one table.
type Repository[T any] struct {
	db      *sqldb.DB
	tx      *sqlx.Tx
	table   Table
	mapper  *reflectx.Mapper
	columns map[string]bool
	logger  *slog.Logger
	now     func() time.Time
}

// New returns a repository for T on db.
func New[T any](db *sqldb.DB, table Table, logger *slog.Logger) *Repository[T] {
	if logger == nil {
		logger = slog.Default()
	}
	cols := map[string]bool{columnID: true, columnCreateTime: true, columnUpdateTime: true}
	for _, c := range table.Columns {
		cols[c] = true
	}
	return &Repository[T]{
		db:      db,
		table:   table,
		mapper:  reflectx.NewMapperFunc("db", strings.ToLower),
		columns: cols,
		logger:  logger.With(slog.String("table", table.Name)),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithTx returns a copy bound to a caller-managed transaction. Calls on the
// copy neither commit nor roll back.
func (r *Repository[T]) WithTx(tx *sqlx.Tx) *Repository[T] {
	cp := *r
	cp.tx = tx
	return &cp
}

// Table returns the table description.
func (r *Repository[T]) Table() Table {
	return r.table
}

// DB returns the underlying database.
func (r *Repository[T]) DB() *sqldb.DB {
	return r.db
}

func (r *Repository[T]) queryer() sqlx.ExtContext {
	if r.tx != nil {
		return r.tx
	}
	return r.db.DB
}

// inTx runs fn in a transaction committed on success and rolled back on
// error or panic. With a bound transaction fn runs directly in it.
func (r *Repository[T]) inTx(ctx context.Context, op string, fn func(q sqlx.ExtContext) error) (err error) {
	if r.tx != nil {
		return fn(r.tx)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return r.classify(op, nil, fmt.Errorf("begin transaction: %w", err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.ErrorContext(ctx, "rollback failed", slog.String("op", op), slog.String("error", rbErr.Error()))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return r.classify(op, nil, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (r *Repository[T]) selectColumns() string {
	cols := make([]string, 0, len(r.table.Columns)+3)
	cols = append(cols, columnID)
	cols = append(cols, r.table.Columns...)
	cols = append(cols, columnCreateTime, columnUpdateTime)
	return strings.Join(cols, ", ")
}

// where builds an AND-ed equality clause. Keys are sorted for stable SQL.
func (r *Repository[T]) where(filters Filters) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		if !r.columns[k] {
			return "", nil, fmt.Errorf("%w: %s", ErrUnknownColumn, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		v := filters[k]
		if isNil(v) {
			parts = append(parts, k+" IS NULL")
			continue
		}
		parts = append(parts, k+" = ?")
		args = append(args, sqlValue(v))
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

// writable returns the columns and values of fields in table order,
// skipping managed columns.
func (r *Repository[T]) writable(fields Fields) ([]string, []any, error) {
	for k := range fields {
		if !r.columns[k] {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownColumn, k)
		}
	}
	cols := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	for _, c := range r.table.Columns {
		if v, ok := fields[c]; ok {
			cols = append(cols, c)
			args = append(args, sqlValue(v))
		}
	}
	return cols, args, nil
}

func (r *Repository[T]) insert(ctx context.Context, q sqlx.ExtContext, fields Fields) (int64, error) {
	cols, args, err := r.writable(fields)
	if err != nil {
		return 0, err
	}
	now := r.now()
	cols = append(cols, columnCreateTime, columnUpdateTime)
	args = append(args, now, now)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", r.table.Name, strings.Join(cols, ", "), placeholders)

	if r.db.Dialect.SupportsReturning() {
		var id int64
		if err := q.QueryRowxContext(ctx, r.db.Rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}

	res, err := q.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *Repository[T]) get(ctx context.Context, q sqlx.ExtContext, id int64) (*T, error) {
	var dest T
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", r.selectColumns(), r.table.Name)
	if err := sqlx.GetContext(ctx, q, &dest, r.db.Rebind(query), id); err != nil {
		return nil, err
	}
	return &dest, nil
}

// Create inserts entity and returns the stored row.
func (r *Repository[T]) Create(ctx context.Context, entity *T) (*T, error) {
	return r.CreateFields(ctx, r.FieldsOf(entity))
}

// CreateFields inserts a row from a partial mapping and returns it.
func (r *Repository[T]) CreateFields(ctx context.Context, fields Fields) (*T, error) {
	var out *T
	err := r.inTx(ctx, "create", func(q sqlx.ExtContext) error {
		id, err := r.insert(ctx, q, fields)
		if err != nil {
			return r.classify("create", nil, err)
		}
		out, err = r.get(ctx, q, id)
		return r.classify("create", id, err)
	})
	if err != nil {
		r.logError(ctx, "create", err)
		return nil, err
	}
	return out, nil
}

// BulkCreate inserts every entity in one transaction.
func (r *Repository[T]) BulkCreate(ctx context.Context, entities []*T) ([]*T, error) {
	out := make([]*T, 0, len(entities))
	err := r.inTx(ctx, "bulk_create", func(q sqlx.ExtContext) error {
		for _, e := range entities {
			id, err := r.insert(ctx, q, r.FieldsOf(e))
			if err != nil {
				return r.classify("bulk_create", nil, err)
			}
			row, err := r.get(ctx, q, id)
			if err != nil {
				return r.classify("bulk_create", id, err)
			}
			out = append(out, row)
		}
		return nil
	})
	if err != nil {
		r.logError(ctx, "bulk_create", err)
		return nil, err
	}
	return out, nil
}

// GetByID returns the row with id or a not-found error.
func (r *Repository[T]) GetByID(ctx context.Context, id int64) (*T, error) {
	row, err := r.get(ctx, r.queryer(), id)
	if err != nil {
		return nil, r.classify("get", id, err)
	}
	return row, nil
}

// GetByIDs returns the rows whose id is in ids, ordered by id.
func (r *Repository[T]) GetByIDs(ctx context.Context, ids []int64) ([]T, error) {
	if len(ids) == 0 {
		return []T{}, nil
	}
	query, args, err := sqlx.In(
		fmt.Sprintf("SELECT %s FROM %s WHERE id IN (?) ORDER BY id", r.selectColumns(), r.table.Name), ids)
	if err != nil {
		return nil, r.classify("get", nil, err)
	}
	out := []T{}
	if err := sqlx.SelectContext(ctx, r.queryer(), &out, r.db.Rebind(query), args...); err != nil {
		return nil, r.classify("get", nil, err)
	}
	return out, nil
}

// GetOne returns the first row matching filters or a not-found error.
func (r *Repository[T]) GetOne(ctx context.Context, filters Filters) (*T, error) {
	items, err := r.List(ctx, ListOptions{Limit: 1, Filters: filters})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, r.notFound("get", nil)
	}
	return &items[0], nil
}

// List returns rows matching opts.Filters ordered by opts.OrderBy (id by
// default) within the offset/limit window.
func (r *Repository[T]) List(ctx context.Context, opts ListOptions) ([]T, error) {
	where, args, err := r.where(opts.Filters)
	if err != nil {
		return nil, r.classify("list", nil, err)
	}

	orderBy := opts.OrderBy
	if orderBy == "" {
		orderBy = columnID
	}
	if !r.columns[orderBy] {
		return nil, r.classify("list", nil, fmt.Errorf("%w: %s", ErrUnknownColumn, orderBy))
	}
	direction := "ASC"
	if opts.Desc {
		direction = "DESC"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	offset := max(opts.Offset, 0)

	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s %s LIMIT ? OFFSET ?",
		r.selectColumns(), r.table.Name, where, orderBy, direction)
	args = append(args, int64(limit), int64(offset))

	out := []T{}
	if err := sqlx.SelectContext(ctx, r.queryer(), &out, r.db.Rebind(query), args...); err != nil {
		return nil, r.classify("list", nil, err)
	}
	return out, nil
}

// Count returns the number of rows matching filters.
func (r *Repository[T]) Count(ctx context.Context, filters Filters) (int64, error) {
	where, args, err := r.where(filters)
	if err != nil {
		return 0, r.classify("count", nil, err)
	}
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", r.table.Name, where)
	if err := sqlx.GetContext(ctx, r.queryer(), &n, r.db.Rebind(query), args...); err != nil {
		return 0, r.classify("count", nil, err)
	}
	return n, nil
}

// Exists reports whether any row matches filters.
func (r *Repository[T]) Exists(ctx context.Context, filters Filters) (bool, error) {
	n, err := r.Count(ctx, filters)
	return n > 0, err
}

// Update applies fields to the row with id and returns the updated row.
func (r *Repository[T]) Update(ctx context.Context, id int64, fields Fields) (*T, error) {
	var out *T
	err := r.inTx(ctx, "update", func(q sqlx.ExtContext) error {
		n, err := r.update(ctx, q, fields, Filters{columnID: id})
		if err != nil {
			return r.classify("update", id, err)
		}
		if n == 0 {
			return r.notFound("update", id)
		}
		out, err = r.get(ctx, q, id)
		return r.classify("update", id, err)
	})
	if err != nil {
		r.logError(ctx, "update", err)
		return nil, err
	}
	return out, nil
}

// UpdateEntity writes every writable column of entity to the row with id.
func (r *Repository[T]) UpdateEntity(ctx context.Context, id int64, entity *T) (*T, error) {
	return r.Update(ctx, id, r.FieldsOf(entity))
}

// UpdateByFilters applies fields to every matching row and returns the
// number of rows changed.
func (r *Repository[T]) UpdateByFilters(ctx context.Context, filters Filters, fields Fields) (int64, error) {
	var n int64
	err := r.inTx(ctx, "update", func(q sqlx.ExtContext) error {
		var err error
		n, err = r.update(ctx, q, fields, filters)
		return r.classify("update", nil, err)
	})
	if err != nil {
		r.logError(ctx, "update", err)
		return 0, err
	}
	return n, nil
}

func (r *Repository[T]) update(ctx context.Context, q sqlx.ExtContext, fields Fields, filters Filters) (int64, error) {
	cols, args, err := r.writable(fields)
	if err != nil {
		return 0, err
	}
	cols = append(cols, columnUpdateTime)
	args = append(args, r.now())

	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = ?"
	}
	where, whereArgs, err := r.where(filters)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("UPDATE %s SET %s%s", r.table.Name, strings.Join(sets, ", "), where)
	res, err := q.ExecContext(ctx, r.db.Rebind(query), append(args, whereArgs...)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes the row with id or returns a not-found error.
func (r *Repository[T]) Delete(ctx context.Context, id int64) error {
	err := r.inTx(ctx, "delete", func(q sqlx.ExtContext) error {
		n, err := r.delete(ctx, q, Filters{columnID: id})
		if err != nil {
			return r.classify("delete", id, err)
		}
		if n == 0 {
			return r.notFound("delete", id)
		}
		return nil
	})
	if err != nil {
		r.logError(ctx, "delete", err)
	}
	return err
}

// DeleteByFilters removes every matching row and returns how many were
// deleted. Empty filters are rejected.
func (r *Repository[T]) DeleteByFilters(ctx context.Context, filters Filters) (int64, error) {
	if len(filters) == 0 {
		return 0, r.classify("delete", nil, fmt.Errorf("refusing to delete without filters"))
	}
	var n int64
	err := r.inTx(ctx, "delete", func(q sqlx.ExtContext) error {
		var err error
		n, err = r.delete(ctx, q, filters)
		return r.classify("delete", nil, err)
	})
	if err != nil {
		r.logError(ctx, "delete", err)
		return 0, err
	}
	return n, nil
}

func (r *Repository[T]) delete(ctx context.Context, q sqlx.ExtContext, filters Filters) (int64, error) {
	where, args, err := r.where(filters)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, r.db.Rebind(fmt.Sprintf("DELETE FROM %s%s", r.table.Name, where)), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetOrCreate returns the row matching filters, creating it from filters
// merged with defaults when none exists. created reports which happened.
func (r *Repository[T]) GetOrCreate(ctx context.Context, filters Filters, defaults Fields) (row *T, created bool, err error) {
	err = r.inTx(ctx, "get_or_create", func(q sqlx.ExtContext) error {
		existing, err := r.withQueryer(q).GetOne(ctx, filters)
		if err == nil {
			row = existing
			return nil
		}
		if KindOf(err) != KindNotFound {
			return err
		}
		fields := make(Fields, len(filters)+len(defaults))
		for k, v := range defaults {
			fields[k] = v
		}
		for k, v := range filters {
			fields[k] = v
		}
		id, err := r.insert(ctx, q, fields)
		if err != nil {
			return r.classify("create", nil, err)
		}
		row, err = r.get(ctx, q, id)
		created = true
		return r.classify("create", id, err)
	})
	if err != nil {
		r.logError(ctx, "get_or_create", err)
		return nil, false, err
	}
	return row, created, nil
}

// withQueryer binds q when it is a transaction.
func (r *Repository[T]) withQueryer(q sqlx.ExtContext) *Repository[T] {
	if tx, ok := q.(*sqlx.Tx); ok {
		return r.WithTx(tx)
	}
	return r
}

// PageOptions controls Paginate.
type PageOptions struct {
	OrderBy string
	Desc    bool
	Filters Filters
}

// Paginate returns page (1-based) of pageSize rows with totals.
func (r *Repository[T]) Paginate(ctx context.Context, page, pageSize int, opts PageOptions) (*Page[T], error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	total, err := r.Count(ctx, opts.Filters)
	if err != nil {
		return nil, err
	}
	// An offset past math.MaxInt is past every row.
	if page-1 > math.MaxInt/pageSize {
		return &Page[T]{
			Items:      []T{},
			Total:      total,
			Page:       page,
			PageSize:   pageSize,
			TotalPages: TotalPages(total, pageSize),
		}, nil
	}
	items, err := r.List(ctx, ListOptions{
		Offset:  (page - 1) * pageSize,
		Limit:   pageSize,
		OrderBy: opts.OrderBy,
		Desc:    opts.Desc,
		Filters: opts.Filters,
	})
	if err != nil {
		return nil, err
	}

	return &Page[T]{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: TotalPages(total, pageSize),
	}, nil
}

// FieldsOf returns the writable columns of entity. Nil pointer fields map to
// NULL and entity is not modified.
func (r *Repository[T]) FieldsOf(entity *T) Fields {
	return r.read(entity, r.table.Columns)
}

// Values returns every selected column of entity, managed columns included.
func (r *Repository[T]) Values(entity *T) map[string]any {
	return r.read(entity, r.Columns())
}

func (r *Repository[T]) read(entity *T, cols []string) map[string]any {
	v := reflect.Indirect(reflect.ValueOf(entity))
	out := make(map[string]any, len(cols))
	for i, idx := range r.mapper.TraversalsByName(v.Type(), cols) {
		if len(idx) == 0 {
			continue
		}
		out[cols[i]] = reflectx.FieldByIndexesReadOnly(v, idx).Interface()
	}
	return out
}

// HasColumn reports whether name is a filterable column.
func (r *Repository[T]) HasColumn(name string) bool {
	return r.columns[name]
}

// Columns returns id, the writable columns and the timestamps in order.
func (r *Repository[T]) Columns() []string {
	return slices.Concat([]string{columnID}, r.table.Columns, []string{columnCreateTime, columnUpdateTime})
}

func (r *Repository[T]) logError(ctx context.Context, op string, err error) {
	kind := KindOf(err)
	if kind == KindNotFound {
		return
	}
	r.logger.ErrorContext(ctx, "repository operation failed",
		slog.String("op", op),
		slog.String("kind", kind.String()),
		slog.String("error", err.Error()))
}

// sqlValue dereferences pointers and widens numeric kinds so every driver
// receives one of the driver.Value types.
func sqlValue(v any) any {
	if v == nil {
		return nil
	}
	if _, ok := v.(driver.Valuer); ok {
		return v
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	}
	return rv.Interface()
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
