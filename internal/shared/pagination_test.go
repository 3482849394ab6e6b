package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePagination(t *testing.T) {
	p := ParsePagination("3", "25")
	require.Equal(t, 3, p.Page)
	require.Equal(t, 25, p.PerPage)
	require.Equal(t, 50, p.Offset())

	p = ParsePagination("", "junk")
	require.Equal(t, 1, p.Page)
	require.Equal(t, 20, p.PerPage)
	require.Zero(t, p.Offset())

	require.Equal(t, 200, NewPagination(1, 1000).PerPage)
}
