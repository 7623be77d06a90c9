package bucket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	t1 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 = time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
)

func TestOrderByLastModifiedThenKey(t *testing.T) {
	entries := []Entry{
		{Key: "b", LastModified: t2},
		{Key: "z", LastModified: t1},
		{Key: "a", LastModified: t1},
	}
	Sort(entries)
	require.Equal(t, "a", entries[0].Key)
	require.Equal(t, "z", entries[1].Key)
	require.Equal(t, "b", entries[2].Key)
}

func TestOrderTieBreaks(t *testing.T) {
	// Same time and key: non-latest < latest, implicit version id <
	// real one, regular entry < delete marker.
	latest := Entry{Key: "k", LastModified: t1, IsLatest: true}
	stale := Entry{Key: "k", LastModified: t1}
	require.True(t, Less(stale, latest))
	require.False(t, Less(latest, stale))

	withID := Entry{Key: "k", LastModified: t1, VersionID: "abc123"}
	nullID := Entry{Key: "k", LastModified: t1, VersionID: "null"}
	require.True(t, Less(nullID, withID))
	require.False(t, Less(withID, nullID))

	marker := Entry{Key: "k", LastModified: t1, IsDeleteMarker: true}
	regular := Entry{Key: "k", LastModified: t1}
	require.True(t, Less(regular, marker))
	require.False(t, Less(marker, regular))
}

func TestOrderIsDeterministic(t *testing.T) {
	entries := []Entry{
		{Key: "f1", LastModified: t2, IsDeleteMarker: true, VersionID: "v9"},
		{Key: "f1", LastModified: t1, VersionID: "null", IsLatest: true},
		{Key: "f2", LastModified: t1, VersionID: "v1"},
		{Key: "f1", LastModified: t1, VersionID: "v2"},
	}
	a := make([]Entry, len(entries))
	copy(a, entries)
	Sort(a)
	b := []Entry{entries[3], entries[0], entries[1], entries[2]}
	Sort(b)
	require.Equal(t, a, b)
}

func TestHasRealVersionID(t *testing.T) {
	require.False(t, Entry{}.HasRealVersionID())
	require.False(t, Entry{VersionID: "null"}.HasRealVersionID())
	require.True(t, Entry{VersionID: "3sL4kqtJlcpXroDTDmJ"}.HasRealVersionID())
}

func TestObjectURL(t *testing.T) {
	e := Entry{Key: "dir/file one.csv", VersionID: "v1"}
	require.Equal(t,
		"https://data.s3.amazonaws.com/dir/file%20one.csv?versionId=v1",
		ObjectURL("data", e))

	implicit := Entry{Key: "f.csv", VersionID: "null"}
	require.Equal(t, "https://data.s3.amazonaws.com/f.csv", ObjectURL("data", implicit))
}
