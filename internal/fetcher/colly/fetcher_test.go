package collyfetcher

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nas2net/oss-relay/internal/relay"
)

func TestFetchReturnsBodyAndHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), relay.FetchRequest{URL: srv.URL + "/img.png"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []byte("png-bytes"), resp.Body)
	require.Equal(t, "image/png", resp.Headers.Get("Content-Type"))
	require.Greater(t, resp.Duration, time.Duration(0))
}

func TestFetchSurfacesHTTPErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), relay.FetchRequest{URL: srv.URL + "/missing"})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFetchRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: 10 * time.Second})
	_, err := f.Fetch(ctx, relay.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchFailsOnUnreachableHost(t *testing.T) {
	t.Parallel()

	f := New(Config{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), relay.FetchRequest{URL: "http://127.0.0.1:1/nope"})
	require.Error(t, err)
}

func TestBuildCollectorAppliesLimits(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "oss-relay-test", Timeout: time.Second, MaxBodyBytes: 1024})
	var result relay.FetchResponse
	collector := f.buildCollector(relay.FetchRequest{URL: "https://example.com", MaxBytes: 512}, time.Now(), &result, new(error))
	require.Equal(t, "oss-relay-test", collector.UserAgent)
	require.True(t, collector.IgnoreRobotsTxt)
	require.True(t, collector.ParseHTTPErrorResponse)
	// One byte past the cap so oversized bodies are detectable.
	require.Equal(t, 513, collector.MaxBodySize)
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 1024))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(context.Background(), relay.FetchRequest{URL: srv.URL + "/big.bin", MaxBytes: 100})
	require.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestFetchAllowsBodyAtLimit(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("y"), 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), relay.FetchRequest{URL: srv.URL + "/exact.bin", MaxBytes: 100})
	require.NoError(t, err)
	require.Equal(t, payload, resp.Body)
}

func TestFetchAppliesConfiguredBodyCap(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("z"), 256))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second, MaxBodyBytes: 64})
	_, err := f.Fetch(context.Background(), relay.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, ErrBodyTooLarge)
}
