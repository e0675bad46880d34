package schemas

import (
	"errors"
	"net/url"
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }

func fieldsOf(err error) []string {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return nil
	}
	out := make([]string, len(ve.Errors))
	for i, fe := range ve.Errors {
		out[i] = strings.Join(fe.Loc, ".")
	}
	return out
}

// ============================================================================
// User Validation Tests
// ============================================================================

func TestUserCreateRequest_Validate(t *testing.T) {
	tests := []struct {
		name   string
		req    UserCreateRequest
		fields []string
	}{
		{"valid", UserCreateRequest{Name: "John Doe", NickName: "johndoe", Email: strPtr("john@example.com")}, nil},
		{"valid without email", UserCreateRequest{Name: "J", NickName: "j"}, nil},
		{"empty name", UserCreateRequest{Name: "", NickName: "j"}, []string{"body.name"}},
		{"long nick", UserCreateRequest{Name: "J", NickName: strings.Repeat("n", 51)}, []string{"body.nick_name"}},
		{"bad email", UserCreateRequest{Name: "J", NickName: "j", Email: strPtr("nope")}, []string{"body.email"}},
		{"display name email", UserCreateRequest{Name: "J", NickName: "j", Email: strPtr("J <j@x.io>")}, []string{"body.email"}},
		{"everything wrong", UserCreateRequest{Email: strPtr("")}, []string{"body.name", "body.nick_name", "body.email"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fieldsOf(tt.req.Validate())
			if strings.Join(got, ",") != strings.Join(tt.fields, ",") {
				t.Errorf("Validate() fields = %v, want %v", got, tt.fields)
			}
		})
	}
}

func TestUserCreateRequest_NameLengthCountsRunes(t *testing.T) {
	req := UserCreateRequest{Name: strings.Repeat("é", 100), NickName: "x"}
	if err := req.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestUserUpdateRequest(t *testing.T) {
	empty := UserUpdateRequest{}
	if err := empty.Validate(); err != nil {
		t.Errorf("empty Validate() error = %v", err)
	}
	if got := len(empty.Fields()); got != 0 {
		t.Errorf("empty Fields() len = %d, want 0", got)
	}

	req := UserUpdateRequest{NickName: strPtr("")}
	if got := fieldsOf(req.Validate()); len(got) != 1 || got[0] != "body.nick_name" {
		t.Errorf("Validate() fields = %v, want [body.nick_name]", got)
	}

	req = UserUpdateRequest{Name: strPtr("Jane")}
	fields := req.Fields()
	if fields["name"] != "Jane" || len(fields) != 1 {
		t.Errorf("Fields() = %v, want only name", fields)
	}
}

// ============================================================================
// Product Validation Tests
// ============================================================================

func TestProductCreateRequest_Validate(t *testing.T) {
	tests := []struct {
		name   string
		req    ProductCreateRequest
		fields []string
	}{
		{"valid", ProductCreateRequest{Name: "Laptop", Price: 999.99, Stock: 50}, nil},
		{"zero price", ProductCreateRequest{Name: "L", Price: 0}, []string{"body.price"}},
		{"three decimals", ProductCreateRequest{Name: "L", Price: 1.005}, []string{"body.price"}},
		{"negative stock", ProductCreateRequest{Name: "L", Price: 1, Stock: -1}, []string{"body.stock"}},
		{"long category", ProductCreateRequest{Name: "L", Price: 1, Category: strPtr(strings.Repeat("c", 51))}, []string{"body.category"}},
		{"long description", ProductCreateRequest{Name: "L", Price: 1, Description: strPtr(strings.Repeat("d", 1001))}, []string{"body.description"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fieldsOf(tt.req.Validate())
			if strings.Join(got, ",") != strings.Join(tt.fields, ",") {
				t.Errorf("Validate() fields = %v, want %v", got, tt.fields)
			}
		})
	}
}

func TestProductUpdateRequest_Fields(t *testing.T) {
	price := 899.99
	stock := 45
	req := ProductUpdateRequest{Price: &price, Stock: &stock}
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	fields := req.Fields()
	if fields["price"] != 899.99 || fields["stock"] != 45 || len(fields) != 2 {
		t.Errorf("Fields() = %v", fields)
	}
}

// ============================================================================
// Query Parsing Tests
// ============================================================================

func TestParseListQuery(t *testing.T) {
	lq, err := ParseListQuery(url.Values{}, "name")
	if err != nil {
		t.Fatalf("ParseListQuery() error = %v", err)
	}
	if lq.Page != 1 || lq.PageSize != DefaultPageSize {
		t.Errorf("defaults = %d/%d, want 1/%d", lq.Page, lq.PageSize, DefaultPageSize)
	}

	lq, err = ParseListQuery(url.Values{
		"page": {"3"}, "page_size": {"25"}, "name": {"ada"}, "email": {"x"},
		"order_by": {"name"}, "desc": {"true"},
	}, "name")
	if err != nil {
		t.Fatalf("ParseListQuery() error = %v", err)
	}
	if lq.Page != 3 || lq.PageSize != 25 || lq.OrderBy != "name" || !lq.Desc {
		t.Errorf("ParseListQuery() = %+v", lq)
	}
	if len(lq.Filters) != 1 || lq.Filters["name"] != "ada" {
		t.Errorf("Filters = %v, want only name", lq.Filters)
	}
}

func TestParseListQuery_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		query url.Values
		field string
	}{
		{"page zero", url.Values{"page": {"0"}}, "query.page"},
		{"page too big", url.Values{"page": {"2147483648"}}, "query.page"},
		{"page text", url.Values{"page": {"abc"}}, "query.page"},
		{"page size zero", url.Values{"page_size": {"0"}}, "query.page_size"},
		{"page size too big", url.Values{"page_size": {"101"}}, "query.page_size"},
		{"desc garbage", url.Values{"desc": {"maybe"}}, "query.desc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseListQuery(tt.query)
			got := fieldsOf(err)
			if len(got) != 1 || got[0] != tt.field {
				t.Errorf("fields = %v, want [%s]", got, tt.field)
			}
		})
	}
}

func TestParseID(t *testing.T) {
	if id, err := ParseID("42"); err != nil || id != 42 {
		t.Errorf("ParseID(42) = %d, %v", id, err)
	}
	if _, err := ParseID("x"); fieldsOf(err) == nil {
		t.Errorf("ParseID(x) error = %v, want ValidationError", err)
	}
}

func TestValidationError_Message(t *testing.T) {
	err := UserCreateRequest{}.Validate()
	if !strings.Contains(err.Error(), "body.name") {
		t.Errorf("Error() = %q, want it to mention body.name", err.Error())
	}
}
