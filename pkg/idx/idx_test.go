package idx_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sableauth/sable/pkg/idx"
)

func TestNewRoundTrips(t *testing.T) {
	id := idx.New()
	require.False(t, id.IsZero())
	require.Len(t, id.String(), 26)

	parsed, err := idx.Parse(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "not-a-ulid", "01HQ7T3Z1MZ0JQ3M6MZQ1FQ3Z"} {
		_, err := idx.Parse(s)
		require.ErrorIs(t, err, idx.ErrInvalid, s)
	}
}

func TestIdsSortByCreationTime(t *testing.T) {
	a := idx.NewAt(time.Unix(1, 0).UTC())
	b := idx.NewAt(time.Unix(2, 0).UTC())
	require.Less(t, a.String(), b.String())

	// Same millisecond, monotonic entropy breaks the tie.
	at := time.Unix(3, 0).UTC()
	c := idx.NewAt(at)
	d := idx.NewAt(at)
	require.Less(t, c.String(), d.String())
}

func TestTimeExtraction(t *testing.T) {
	at := time.Unix(1700000000, 0).UTC()
	id := idx.NewAt(at)
	require.WithinDuration(t, at, id.Time(), time.Millisecond)

	require.True(t, idx.ID("junk").Time().IsZero())
}
