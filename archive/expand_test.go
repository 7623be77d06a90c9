package archive

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func makeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestDetectFormat(t *testing.T) {
	cases := map[string]string{
		"data.tar.gz":     "tar.gz",
		"data.tgz":        "tgz",
		"data.zip":        "zip",
		"data.gz":         "gz",
		"data.tar.bz2":    "tar.bz2",
		"data.csv":        "",
		"tarball":         "",
		"DATA.ZIP":        "zip",
		"a.b.c.tar.xz":    "tar.xz",
		"release.tar.zst": "tar.zst",
	}
	for name, want := range cases {
		require.Equal(t, want, DetectFormat(name), name)
	}
}

func TestExpandZip(t *testing.T) {
	src := makeZip(t, map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "beta",
	})
	dest := t.TempDir()

	added, err := Expand(src, dest, Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "sub/b.txt"}, added)

	b, err := os.ReadFile(filepath.Join(dest, "sub", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "beta", string(b))
}

func TestExpandStripsSharedTopDir(t *testing.T) {
	src := makeZip(t, map[string]string{
		"pkg-1.0/a.txt":     "alpha",
		"pkg-1.0/sub/b.txt": "beta",
	})
	dest := t.TempDir()

	added, err := Expand(src, dest, Options{StripTopDir: true})
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "sub/b.txt"}, added)
}

func TestExpandKeepsTopDirWhenNotShared(t *testing.T) {
	src := makeZip(t, map[string]string{
		"pkg/a.txt": "alpha",
		"b.txt":     "beta",
	})
	dest := t.TempDir()

	added, err := Expand(src, dest, Options{StripTopDir: true})
	require.NoError(t, err)
	require.Equal(t, []string{"b.txt", "pkg/a.txt"}, added)
}

func TestExpandExcludes(t *testing.T) {
	src := makeZip(t, map[string]string{
		"data.csv":   "x",
		"README.md":  "x",
		"notes/n.md": "x",
	})
	dest := t.TempDir()

	excl, err := CompileExcludes([]string{`\.md$`})
	require.NoError(t, err)

	added, err := Expand(src, dest, Options{Exclude: excl})
	require.NoError(t, err)
	require.Equal(t, []string{"data.csv"}, added)
}

func TestExpandRefusesOverwrite(t *testing.T) {
	src := makeZip(t, map[string]string{"a.txt": "new"})
	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "a.txt"), []byte("old"), 0o644))

	_, err := Expand(src, dest, Options{})
	require.Error(t, err)

	added, err := Expand(src, dest, Options{Overwrite: true})
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt"}, added)
	b, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "new", string(b))
}

func TestExpandUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.csv")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	_, err := Expand(path, t.TempDir(), Options{})
	require.Error(t, err)

	excl, err := CompileExcludes([]string{"("})
	require.Error(t, err)
	require.Nil(t, excl)
}
