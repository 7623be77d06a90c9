package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testDownloader(t *testing.T, handler http.Handler, opts DownloaderOptions) (*Downloader, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	if opts.Backoff == 0 {
		opts.Backoff = time.Millisecond
	}
	return NewDownloader(WrapClient(srv.Client()), opts), srv
}

func TestGetStatus(t *testing.T) {
	d, srv := testDownloader(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Length", "42")
		w.Header().Set("Last-Modified", "Wed, 21 Oct 2015 07:28:00 GMT")
		w.Header().Set("Content-Disposition", `attachment; filename="report_2.1.csv"`)
		w.WriteHeader(http.StatusOK)
	}), DownloaderOptions{})

	st, err := d.GetStatus(context.Background(), srv.URL+"/files/report")
	require.NoError(t, err)
	require.Equal(t, int64(42), st.Size)
	require.Equal(t, "report_2.1.csv", st.Filename)
	require.Equal(t, time.Date(2015, 10, 21, 7, 28, 0, 0, time.UTC), st.MTime.UTC())
}

func TestGetStatusFilenameFallsBackToURLPath(t *testing.T) {
	d, srv := testDownloader(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), DownloaderOptions{})

	st, err := d.GetStatus(context.Background(), srv.URL+"/data/archive_1.0.tar.gz")
	require.NoError(t, err)
	require.Equal(t, "archive_1.0.tar.gz", st.Filename)
	require.Equal(t, int64(-1), st.Size)
}

func TestGetStatusNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	d, srv := testDownloader(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}), DownloaderOptions{Attempts: 3})

	_, err := d.GetStatus(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestGetStatusRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	d, srv := testDownloader(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Length", "7")
		w.WriteHeader(http.StatusOK)
	}), DownloaderOptions{Attempts: 3})

	st, err := d.GetStatus(context.Background(), srv.URL+"/flaky")
	require.NoError(t, err)
	require.Equal(t, int64(7), st.Size)
	require.Equal(t, int32(3), calls.Load())
}

func TestDownloadWritesFile(t *testing.T) {
	d, srv := testDownloader(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload bytes"))
	}), DownloaderOptions{})

	dest := filepath.Join(t.TempDir(), "sub", "out.bin")
	n, err := d.Download(context.Background(), srv.URL+"/out.bin", dest)
	require.NoError(t, err)
	require.Equal(t, int64(len("payload bytes")), n)

	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "payload bytes", string(b))
}

func TestDownloadRejectsBlockedURL(t *testing.T) {
	d := NewDownloader(NewClient(time.Second, ClientOptions{}), DownloaderOptions{})
	_, err := d.Download(context.Background(), "http://127.0.0.1/x", filepath.Join(t.TempDir(), "x"))
	require.Error(t, err)
}

func TestRateLimiterSpacesRequests(t *testing.T) {
	d, srv := testDownloader(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), DownloaderOptions{RequestsPerSecond: 50})

	start := time.Now()
	for range 3 {
		_, err := d.GetStatus(context.Background(), srv.URL+"/x")
		require.NoError(t, err)
	}
	// Two limiter waits at 50 req/s is at least 40ms.
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}
