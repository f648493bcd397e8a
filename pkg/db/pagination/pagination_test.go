package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type row struct {
	ID        string
	CreatedAt time.Time
}

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 600, time.UTC)
	encoded, err := EncodeCursor(NewCursor(at, "42"))
	require.NoError(t, err)

	decoded, err := DecodeCursor(encoded)
	require.NoError(t, err)
	require.Equal(t, "42", decoded.ID)

	got, err := decoded.Time()
	require.NoError(t, err)
	require.True(t, got.Equal(at))
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	require.Error(t, err)

	encoded, err := EncodeCursor(Cursor{CreatedAt: "yesterday", ID: "1"})
	require.NoError(t, err)
	_, err = DecodeCursor(encoded)
	require.Error(t, err)
}

func TestBuildCursorPageInfo(t *testing.T) {
	now := time.Now()
	rows := []*row{{ID: "3", CreatedAt: now}, {ID: "2", CreatedAt: now.Add(-time.Second)}, {ID: "1", CreatedAt: now.Add(-2 * time.Second)}}
	extract := func(r *row) Cursor { return NewCursor(r.CreatedAt, r.ID) }

	page, info, err := BuildCursorPageInfo(rows, 2, extract)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.True(t, info.HasMore)

	next, err := DecodeCursor(info.NextCursor)
	require.NoError(t, err)
	require.Equal(t, "2", next.ID)

	page, info, err = BuildCursorPageInfo(rows, 5, extract)
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextCursor)
}
