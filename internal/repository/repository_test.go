package repository_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/tjfontaine/service-template/internal/models"
	"github.com/tjfontaine/service-template/internal/repository"
	"github.com/tjfontaine/service-template/internal/storage/migrations"
	"github.com/tjfontaine/service-template/internal/storage/sqldb"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newDB opens a migrated in-memory database unique to the test.
func newDB(t *testing.T) *sqldb.DB {
	t.Helper()
	db, err := sqldb.Open(context.Background(), sqldb.Config{
		Name: "default",
		URL:  fmt.Sprintf("sqlite:///file:repo_%s?mode=memory&cache=shared", t.Name()),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mg, err := migrations.New(db, discardLogger())
	if err != nil {
		t.Fatalf("migrations.New() error = %v", err)
	}
	defer mg.Close()
	if err := mg.Up(); err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	return db
}

func newUsers(t *testing.T) *repository.Repository[models.User] {
	return repository.New[models.User](newDB(t), models.UserTable, discardLogger())
}

func strptr(s string) *string { return &s }

// =============================================================================
// Create / Get
// =============================================================================

func TestRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	created, err := users.Create(ctx, &models.User{Name: "Ada", NickName: "ada", Email: strptr("ada@example.com")})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID == 0 {
		t.Fatal("Create() did not assign an ID")
	}
	if created.CreateTime.IsZero() || created.UpdateTime.IsZero() {
		t.Error("Create() should set timestamps")
	}

	got, err := users.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "Ada" || got.NickName != "ada" {
		t.Errorf("GetByID() = %+v, want Ada/ada", got)
	}
	if got.Email == nil || *got.Email != "ada@example.com" {
		t.Errorf("Email = %v, want ada@example.com", got.Email)
	}
}

func TestRepository_CreateFields_NullColumn(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	u, err := users.CreateFields(ctx, repository.Fields{"name": "Bob", "nick_name": "bob"})
	if err != nil {
		t.Fatalf("CreateFields() error = %v", err)
	}
	if u.Email != nil {
		t.Errorf("Email = %v, want nil", *u.Email)
	}

	n, err := users.Count(ctx, repository.Filters{"email": nil})
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count(email IS NULL) = %d, want 1", n)
	}
}

func TestRepository_GetByID_NotFound(t *testing.T) {
	users := newUsers(t)

	_, err := users.GetByID(context.Background(), 999)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("GetByID() error = %v, want ErrNotFound", err)
	}
	if got, want := err.Error(), "User with ID 999 not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestRepository_Create_Duplicate(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	if _, err := users.Create(ctx, &models.User{Name: "A", NickName: "a", Email: strptr("dup@example.com")}); err != nil {
		t.Fatalf("first Create() error = %v", err)
	}
	_, err := users.Create(ctx, &models.User{Name: "B", NickName: "b", Email: strptr("dup@example.com")})
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("second Create() error = %v, want ErrDuplicate", err)
	}
	if errors.Is(err, repository.ErrOperation) {
		t.Error("duplicate error must not match ErrOperation")
	}
	if kind := repository.KindOf(err); kind != repository.KindDuplicate {
		t.Errorf("KindOf() = %v, want duplicate", kind)
	}

	// The failed insert was rolled back.
	n, _ := users.Count(ctx, nil)
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestRepository_Create_NilPointerIsNull(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	first := &models.User{Name: "A", NickName: "a"}
	if _, err := users.Create(ctx, first); err != nil {
		t.Fatalf("first Create() error = %v", err)
	}
	if first.Email != nil {
		t.Errorf("Create() modified input Email = %q, want nil", *first.Email)
	}
	second, err := users.Create(ctx, &models.User{Name: "B", NickName: "b"})
	if err != nil {
		t.Fatalf("second Create() error = %v, want nil for two NULL emails", err)
	}
	if second.Email != nil {
		t.Errorf("Email = %q, want nil", *second.Email)
	}

	var nulls int
	if err := users.DB().GetContext(ctx, &nulls, "SELECT COUNT(*) FROM users WHERE email IS NULL"); err != nil {
		t.Fatalf("count NULL emails: %v", err)
	}
	if nulls != 2 {
		t.Errorf("NULL emails = %d, want 2", nulls)
	}

	fields := users.FieldsOf(&models.User{Name: "C"})
	if v, ok := fields["email"]; !ok || v.(*string) != nil {
		t.Errorf("FieldsOf()[email] = %v, want nil *string", v)
	}
}

func TestRepository_UnknownColumn(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	_, err := users.List(ctx, repository.ListOptions{Filters: repository.Filters{"password": "x"}})
	if !errors.Is(err, repository.ErrUnknownColumn) {
		t.Errorf("List() error = %v, want ErrUnknownColumn", err)
	}
	if !errors.Is(err, repository.ErrOperation) {
		t.Errorf("List() error = %v, want ErrOperation kind", err)
	}

	if _, err := users.List(ctx, repository.ListOptions{OrderBy: "name; DROP TABLE users"}); !errors.Is(err, repository.ErrUnknownColumn) {
		t.Errorf("List(order) error = %v, want ErrUnknownColumn", err)
	}
	if _, err := users.CreateFields(ctx, repository.Fields{"name": "x", "nick_name": "x", "role": "admin"}); !errors.Is(err, repository.ErrUnknownColumn) {
		t.Errorf("CreateFields() error = %v, want ErrUnknownColumn", err)
	}
}

// =============================================================================
// Listing
// =============================================================================

func seedUsers(t *testing.T, users *repository.Repository[models.User], n int) {
	t.Helper()
	batch := make([]*models.User, n)
	for i := range batch {
		batch[i] = &models.User{Name: fmt.Sprintf("user-%02d", i+1), NickName: fmt.Sprintf("n%d", (i+1)%3)}
	}
	if _, err := users.BulkCreate(context.Background(), batch); err != nil {
		t.Fatalf("BulkCreate() error = %v", err)
	}
}

func TestRepository_Paginate(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)
	seedUsers(t, users, 25)

	page, err := users.Paginate(ctx, 2, 10, repository.PageOptions{})
	if err != nil {
		t.Fatalf("Paginate() error = %v", err)
	}
	if len(page.Items) != 10 {
		t.Errorf("len(Items) = %d, want 10", len(page.Items))
	}
	if page.Total != 25 {
		t.Errorf("Total = %d, want 25", page.Total)
	}
	if page.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3", page.TotalPages)
	}
	if page.Page != 2 || page.PageSize != 10 {
		t.Errorf("Page/PageSize = %d/%d, want 2/10", page.Page, page.PageSize)
	}
	if page.Items[0].Name != "user-11" {
		t.Errorf("first item = %s, want user-11", page.Items[0].Name)
	}

	last, err := users.Paginate(ctx, 3, 10, repository.PageOptions{})
	if err != nil {
		t.Fatalf("Paginate(3) error = %v", err)
	}
	if len(last.Items) != 5 {
		t.Errorf("len(last.Items) = %d, want 5", len(last.Items))
	}
}

func TestRepository_Paginate_Defaults(t *testing.T) {
	users := newUsers(t)
	seedUsers(t, users, 3)

	page, err := users.Paginate(context.Background(), 0, 0, repository.PageOptions{})
	if err != nil {
		t.Fatalf("Paginate() error = %v", err)
	}
	if page.Page != 1 || page.PageSize != 20 {
		t.Errorf("Page/PageSize = %d/%d, want 1/20", page.Page, page.PageSize)
	}
	if page.TotalPages != 1 {
		t.Errorf("TotalPages = %d, want 1", page.TotalPages)
	}
}

func TestRepository_Paginate_HugePage(t *testing.T) {
	users := newUsers(t)
	seedUsers(t, users, 3)

	page, err := users.Paginate(context.Background(), math.MaxInt, 10, repository.PageOptions{})
	if err != nil {
		t.Fatalf("Paginate() error = %v", err)
	}
	if len(page.Items) != 0 {
		t.Errorf("len(Items) = %d, want 0 past the last page", len(page.Items))
	}
	if page.Page != math.MaxInt || page.Total != 3 || page.TotalPages != 1 {
		t.Errorf("Page/Total/TotalPages = %d/%d/%d, want %d/3/1", page.Page, page.Total, page.TotalPages, math.MaxInt)
	}
}

func TestTotalPages(t *testing.T) {
	tests := []struct {
		total    int64
		pageSize int
		want     int
	}{
		{0, 10, 0},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{25, 10, 3},
		{25, 0, 0},
	}
	for _, tt := range tests {
		if got := repository.TotalPages(tt.total, tt.pageSize); got != tt.want {
			t.Errorf("TotalPages(%d, %d) = %d, want %d", tt.total, tt.pageSize, got, tt.want)
		}
	}
}

func TestRepository_ListFilterOrder(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)
	seedUsers(t, users, 9)

	items, err := users.List(ctx, repository.ListOptions{
		Filters: repository.Filters{"nick_name": "n0"},
		OrderBy: "name",
		Desc:    true,
	})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}
	if items[0].Name != "user-09" || items[2].Name != "user-03" {
		t.Errorf("order = %s..%s, want user-09..user-03", items[0].Name, items[2].Name)
	}

	one, err := users.GetOne(ctx, repository.Filters{"name": "user-05"})
	if err != nil {
		t.Fatalf("GetOne() error = %v", err)
	}
	if one.Name != "user-05" {
		t.Errorf("GetOne() = %s, want user-05", one.Name)
	}
	if _, err := users.GetOne(ctx, repository.Filters{"name": "nobody"}); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("GetOne(nobody) error = %v, want ErrNotFound", err)
	}

	ok, err := users.Exists(ctx, repository.Filters{"name": "user-01"})
	if err != nil || !ok {
		t.Errorf("Exists() = %v, %v, want true", ok, err)
	}
}

func TestRepository_GetByIDs(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)
	seedUsers(t, users, 5)

	got, err := users.GetByIDs(ctx, []int64{4, 2, 42})
	if err != nil {
		t.Fatalf("GetByIDs() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != 4 {
		t.Errorf("GetByIDs() = %+v, want ids 2,4", got)
	}

	empty, err := users.GetByIDs(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("GetByIDs(nil) = %v, %v, want empty", empty, err)
	}
}

// =============================================================================
// Update / Delete
// =============================================================================

func TestRepository_Update(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	u, err := users.Create(ctx, &models.User{Name: "Old", NickName: "o"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	updated, err := users.Update(ctx, u.ID, repository.Fields{"name": "New"})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Name != "New" || updated.NickName != "o" {
		t.Errorf("Update() = %+v, want New/o", updated)
	}
	if updated.UpdateTime.Before(u.UpdateTime) {
		t.Error("update_time should not move backwards")
	}

	if _, err := users.Update(ctx, 999, repository.Fields{"name": "x"}); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Update(999) error = %v, want ErrNotFound", err)
	}

	updated.NickName = "renamed"
	again, err := users.UpdateEntity(ctx, u.ID, updated)
	if err != nil {
		t.Fatalf("UpdateEntity() error = %v", err)
	}
	if again.NickName != "renamed" {
		t.Errorf("NickName = %s, want renamed", again.NickName)
	}
}

func TestRepository_UpdateAndDeleteByFilters(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)
	seedUsers(t, users, 6)

	n, err := users.UpdateByFilters(ctx, repository.Filters{"nick_name": "n1"}, repository.Fields{"nick_name": "one"})
	if err != nil {
		t.Fatalf("UpdateByFilters() error = %v", err)
	}
	if n != 2 {
		t.Errorf("UpdateByFilters() = %d, want 2", n)
	}

	deleted, err := users.DeleteByFilters(ctx, repository.Filters{"nick_name": "one"})
	if err != nil {
		t.Fatalf("DeleteByFilters() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("DeleteByFilters() = %d, want 2", deleted)
	}

	if _, err := users.DeleteByFilters(ctx, nil); err == nil {
		t.Error("DeleteByFilters(nil) should be rejected")
	}

	total, _ := users.Count(ctx, nil)
	if total != 4 {
		t.Errorf("Count() = %d, want 4", total)
	}
}

func TestRepository_Delete(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	u, err := users.Create(ctx, &models.User{Name: "Gone", NickName: "g"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := users.Delete(ctx, u.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := users.Delete(ctx, u.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

// =============================================================================
// GetOrCreate / transactions
// =============================================================================

func TestRepository_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	first, created, err := users.GetOrCreate(ctx, repository.Filters{"name": "Solo"}, repository.Fields{"nick_name": "s"})
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if !created {
		t.Error("first GetOrCreate() should create")
	}

	second, created, err := users.GetOrCreate(ctx, repository.Filters{"name": "Solo"}, repository.Fields{"nick_name": "other"})
	if err != nil {
		t.Fatalf("second GetOrCreate() error = %v", err)
	}
	if created {
		t.Error("second GetOrCreate() should not create")
	}
	if second.ID != first.ID || second.NickName != "s" {
		t.Errorf("second = %+v, want existing row", second)
	}
}

func TestRepository_WithTx_Rollback(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	tx, err := users.DB().BeginTxx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTxx() error = %v", err)
	}
	txUsers := users.WithTx(tx)
	if _, err := txUsers.Create(ctx, &models.User{Name: "Temp", NickName: "t"}); err != nil {
		t.Fatalf("Create() in tx error = %v", err)
	}
	n, err := txUsers.Count(ctx, nil)
	if err != nil || n != 1 {
		t.Fatalf("Count() in tx = %d, %v, want 1", n, err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	n, err = users.Count(ctx, nil)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Count() after rollback = %d, want 0", n)
	}
}

func TestRepository_BulkCreate_RollsBackOnDuplicate(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	_, err := users.BulkCreate(ctx, []*models.User{
		{Name: "A", NickName: "a", Email: strptr("same@example.com")},
		{Name: "B", NickName: "b", Email: strptr("same@example.com")},
	})
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("BulkCreate() error = %v, want ErrDuplicate", err)
	}
	n, _ := users.Count(ctx, nil)
	if n != 0 {
		t.Errorf("Count() = %d, want 0 after rollback", n)
	}
}

func TestRepository_Products(t *testing.T) {
	ctx := context.Background()
	products := repository.New[models.Product](newDB(t), models.ProductTable, discardLogger())

	p, err := products.Create(ctx, &models.Product{Name: "Widget", Price: 9.99, Stock: 3, Category: strptr("tools")})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if p.Price != 9.99 || p.Stock != 3 {
		t.Errorf("Create() = %+v, want price 9.99 stock 3", p)
	}

	values := products.Values(p)
	if values["name"] != "Widget" {
		t.Errorf("Values()[name] = %v, want Widget", values["name"])
	}
	if _, ok := values["id"]; !ok {
		t.Error("Values() should include id")
	}
}
