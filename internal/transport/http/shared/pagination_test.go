package shared

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePagination(t *testing.T) {
	cases := []struct {
		query string
		want  Pagination
	}{
		{query: "", want: Pagination{Limit: 50}},
		{query: "?limit=10&offset=20", want: Pagination{Limit: 10, Offset: 20}},
		{query: "?limit=0&offset=-3", want: Pagination{Limit: 50}},
		{query: "?limit=abc", want: Pagination{Limit: 50}},
		{query: "?limit=9999", want: Pagination{Limit: 200}},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/items"+tc.query, nil)
		assert.Equal(t, tc.want, ParsePagination(r, 50, 200), tc.query)
	}
}

func TestPaginationMeta(t *testing.T) {
	meta := Pagination{Limit: 25, Offset: 50}.Meta(120)
	assert.Equal(t, 120, meta.Total)
	assert.Equal(t, 25, meta.Limit)
	assert.Equal(t, 50, meta.Offset)
}
