package schemas

import (
	"math"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	MaxPage         = math.MaxInt32
)

// ListQuery holds the common list parameters plus exact-match filters.
type ListQuery struct {
	Page     int
	PageSize int
	OrderBy  string
	Desc     bool
	Filters  map[string]any
}

func query(field string) []string { return []string{"query", field} }

// ParseListQuery reads page, page_size, order_by, desc and the allowed
// filter parameters. Empty filter values are ignored.
func ParseListQuery(q url.Values, filters ...string) (ListQuery, error) {
	v := &ValidationError{}
	lq := ListQuery{Page: 1, PageSize: DefaultPageSize, Filters: map[string]any{}}

	if s := q.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		switch {
		case err != nil:
			v.add(query("page"), "int_parsing", "Input should be a valid integer, unable to parse string as an integer")
		case n < 1:
			v.add(query("page"), "greater_than_equal", "Input should be greater than or equal to 1")
		case n > MaxPage:
			v.add(query("page"), "less_than_equal", "Input should be less than or equal to 2147483647")
		default:
			lq.Page = n
		}
	}
	if s := q.Get("page_size"); s != "" {
		n, err := strconv.Atoi(s)
		switch {
		case err != nil:
			v.add(query("page_size"), "int_parsing", "Input should be a valid integer, unable to parse string as an integer")
		case n < 1:
			v.add(query("page_size"), "greater_than_equal", "Input should be greater than or equal to 1")
		case n > MaxPageSize:
			v.add(query("page_size"), "less_than_equal", "Input should be less than or equal to 100")
		default:
			lq.PageSize = n
		}
	}

	lq.OrderBy = q.Get("order_by")
	if s := q.Get("desc"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil && !strings.EqualFold(s, "desc") {
			v.add(query("desc"), "bool_parsing", "Input should be a valid boolean, unable to interpret input")
		}
		lq.Desc = b || strings.EqualFold(s, "desc")
	}

	for _, f := range filters {
		if s := q.Get(f); s != "" {
			lq.Filters[f] = s
		}
	}

	if err := v.errOrNil(); err != nil {
		return ListQuery{}, err
	}
	return lq, nil
}

// ParseID parses a path identifier.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, NewValidationError([]string{"path", "id"}, "int_parsing",
			"Input should be a valid integer, unable to parse string as an integer")
	}
	return id, nil
}
