package shared

import (
	"net/http"
	"strconv"

	"hrpay/internal/transport/http/api"
)

// Pagination is a limit/offset window read from the query string.
type Pagination struct {
	Limit  int
	Offset int
}

// ParsePagination falls back to defaultLimit for a missing or non-positive
// limit and clamps it to maxLimit. Malformed values are ignored.
func ParsePagination(r *http.Request, defaultLimit, maxLimit int) Pagination {
	page := Pagination{
		Limit:  queryInt(r, "limit", defaultLimit, 1),
		Offset: queryInt(r, "offset", 0, 0),
	}
	if maxLimit > 0 && page.Limit > maxLimit {
		page.Limit = maxLimit
	}
	return page
}

func (p Pagination) Meta(total int) api.ListMeta {
	return api.ListMeta{Total: total, Limit: p.Limit, Offset: p.Offset}
}

func queryInt(r *http.Request, name string, fallback, min int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < min {
		return fallback
	}
	return v
}
