package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, branch string) *DB {
	t.Helper()
	d, err := Open(t.TempDir(), branch, nil)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestSetGetRoundTrip(t *testing.T) {
	d := openTestDB(t, "incoming")

	rec := Record{
		Size:     512,
		MTime:    time.Date(2026, 4, 1, 8, 30, 0, 0, time.UTC),
		Filename: "file.dat",
	}
	require.NoError(t, d.Set("sub/file.dat", rec, "http://example.com/file.dat"))

	got, url, ok, err := d.Get("sub/file.dat")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "http://example.com/file.dat", url)
	require.True(t, rec.Equal(got), "stored record differs: %+v vs %+v", rec, got)

	_, _, ok, err = d.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIsDifferent(t *testing.T) {
	d := openTestDB(t, "incoming")

	rec := Record{Size: 100, MTime: time.Unix(1700000000, 0), Filename: "a.bin"}
	require.NoError(t, d.Set("a.bin", rec, "http://example.com/a.bin"))

	tests := []struct {
		name      string
		path      string
		candidate Record
		url       string
		want      bool
	}{
		{"unchanged", "a.bin", rec, "http://example.com/a.bin", false},
		{"unknown path", "b.bin", rec, "", true},
		{"size changed", "a.bin", Record{Size: 101, MTime: rec.MTime, Filename: "a.bin"}, "", true},
		{"filename changed", "a.bin", Record{Size: 100, MTime: rec.MTime, Filename: "z.bin"}, "", true},
		{"filename not reported", "a.bin", Record{Size: 100, MTime: rec.MTime}, "", false},
		{"size not reported", "a.bin", Record{Size: -1, MTime: rec.MTime, Filename: "a.bin"}, "", false},
		{"size not reported but mtime changed", "a.bin", Record{Size: -1, MTime: rec.MTime.Add(time.Hour), Filename: "a.bin"}, "", true},
		{"url changed", "a.bin", rec, "http://example.com/moved.bin", true},
		{"mtime drift under a second", "a.bin", Record{Size: 100, MTime: rec.MTime.Add(900 * time.Millisecond), Filename: "a.bin"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.IsDifferent(tt.path, tt.candidate, tt.url)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestObsoleteTracksPasses(t *testing.T) {
	dir := t.TempDir()

	d, err := Open(dir, "incoming", nil)
	require.NoError(t, err)
	require.NoError(t, d.Set("keep.dat", Record{Size: 1}, ""))
	require.NoError(t, d.Set("gone.dat", Record{Size: 2}, ""))
	require.NoError(t, d.Close())

	// Second pass only touches keep.dat.
	d, err = Open(dir, "incoming", nil)
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, d.Touch("keep.dat"))

	obsolete, err := d.Obsolete()
	require.NoError(t, err)
	require.Equal(t, []string{"gone.dat"}, obsolete)
}

func TestResetForgetsEverything(t *testing.T) {
	d := openTestDB(t, "incoming")
	require.NoError(t, d.Set("a", Record{Size: 1}, ""))
	require.NoError(t, d.Reset())

	diff, err := d.IsDifferent("a", Record{Size: 1}, "")
	require.NoError(t, err)
	require.True(t, diff, "after reset everything must look changed")
}

func TestBranchIsolation(t *testing.T) {
	dir := t.TempDir()

	inc, err := Open(dir, "incoming", nil)
	require.NoError(t, err)
	defer inc.Close()
	require.NoError(t, inc.Set("a", Record{Size: 1}, ""))

	master, err := Open(dir, "master", nil)
	require.NoError(t, err)
	defer master.Close()

	_, _, ok, err := master.Get("a")
	require.NoError(t, err)
	require.False(t, ok, "branches must not share status state")
	require.Equal(t, "master", master.Branch())
}

func TestBranchNameSanitization(t *testing.T) {
	d := openTestDB(t, "feature/v1:test")
	require.NoError(t, d.Set("a", Record{Size: 1}, ""))
}
