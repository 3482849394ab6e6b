package ids

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewIsMonotonic(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	first := At(at)
	second := At(at)
	require.Len(t, first, 26)
	require.Less(t, first, second)
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	got, err := Time(At(at))
	require.NoError(t, err)
	require.True(t, got.Equal(at))

	_, err = Time("not-a-ulid")
	require.Error(t, err)
}
