package ledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-data/quarry/errors"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.1", -1},
		{"2.0", "2.0.0", 0},
		{"10.0", "9.0", 1},
		{"1.0.0.1", "1.0.0.2", -1},
		{"0.20150102", "0.20150103", -1},
		{"v1", "v2", -1},
		// Unparseable tokens fall back to lexicographic order.
		{"release-a", "release-b", -1},
	}
	for _, tt := range tests {
		got := Compare(tt.a, tt.b)
		norm := func(n int) int {
			if n < 0 {
				return -1
			}
			if n > 0 {
				return 1
			}
			return 0
		}
		require.Equal(t, tt.want, norm(got), "Compare(%q, %q)", tt.a, tt.b)
	}
}

func TestRecordIdempotentAppend(t *testing.T) {
	l := New()
	require.NoError(t, l.Record("1.0", "data.csv", "data_1.0.csv", "annexed"))
	require.NoError(t, l.Record("1.0", "data.csv", "data_1.0.csv", "annexed"))

	items := l.Items("1.0")
	require.Len(t, items, 1)
	require.Equal(t, "annexed", items["data.csv"]["data_1.0.csv"])
}

func TestRecordConflictIsFatal(t *testing.T) {
	l := New()
	require.NoError(t, l.Record("1.0", "data.csv", "data_1.0.csv", "annexed"))

	err := l.Record("1.0", "data.csv", "data_1.0.csv", "indexed")
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrVersionConflict))
}

func TestSetCurrentMonotonic(t *testing.T) {
	l := New()
	require.NoError(t, l.SetCurrent("1.0"))
	require.NoError(t, l.SetCurrent("1.0")) // equal is allowed
	require.NoError(t, l.SetCurrent("2.0"))

	err := l.SetCurrent("1.5")
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrVersionRegression))
	require.Equal(t, "2.0", l.Current())
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "versions-incoming.json")

	l := New()
	require.NoError(t, l.Record("1.0", "a.dat", "a_1.0.dat", "annexed"))
	require.NoError(t, l.Record("2.0", "a.dat", "a_2.0.dat", "annexed"))
	require.NoError(t, l.SetCurrent("2.0"))
	require.NoError(t, l.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "2.0", got.Current())
	require.Equal(t, []string{"1.0", "2.0"}, got.Versions())
	require.Equal(t, "annexed", got.Items("1.0")["a.dat"]["a_1.0.dat"])
	require.True(t, got.Has("2.0"))
	require.False(t, got.Has("3.0"))
}

func TestLoadMissingFileIsFresh(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	require.Equal(t, "", l.Current())
	require.Empty(t, l.Versions())
}

func TestFilePath(t *testing.T) {
	got := FilePath("/repo", "feature/x")
	require.Equal(t, filepath.Join("/repo", ".quarry", "versions-feature_x.json"), got)

	require.Equal(t, filepath.Join("/repo", ".quarry", "versions-incoming.json"), FilePath("/repo", ""))
}
