package pagination

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct{ id int64 }

func TestBuildCursorPageInfo(t *testing.T) {
	rows := []*row{{id: 1}, {id: 2}, {id: 3}}

	page, info := BuildCursorPageInfo(rows, 2, func(r *row) string { return strconv.FormatInt(r.id, 10) })

	require.Len(t, page, 2)
	assert.True(t, info.HasMore)
	assert.Equal(t, int64(2), Pagination{PageToken: info.NextPageToken}.AfterID())
}

func TestBuildCursorPageInfoLastPage(t *testing.T) {
	rows := []*row{{id: 1}}

	page, info := BuildCursorPageInfo(rows, 2, func(r *row) string { return strconv.FormatInt(r.id, 10) })

	assert.Len(t, page, 1)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}

func TestLimit(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Limit())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Limit())
	assert.Equal(t, 5, Pagination{PageSize: 5}.Limit())
	assert.Equal(t, int64(0), Pagination{PageToken: "%%%"}.AfterID())
}
