// Package collyfetcher implements Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/nas2net/oss-relay/internal/relay"
)

// ErrBodyTooLarge signals a response body that exceeds the configured size
// cap. Callers must treat the fetch as failed; the partial body is discarded.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodyBytes caps response bodies. Zero means the collector default.
	MaxBodyBytes int64
}

// Fetcher implements relay.Fetcher using the Colly collector. Each Fetch runs
// on a fresh clone so per-request limits never leak between calls.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher with a pooled HTTP transport.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request relay.FetchRequest) (relay.FetchResponse, error) {
	if request.MaxBytes == 0 {
		request.MaxBytes = f.cfg.MaxBodyBytes
	}

	var (
		result   relay.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return relay.FetchResponse{}, err
	}
	if request.MaxBytes > 0 && int64(len(result.Body)) > request.MaxBytes {
		return relay.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, ErrBodyTooLarge)
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	request relay.FetchRequest,
	start time.Time,
	result *relay.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	// Deliver non-2xx responses through OnResponse so callers see the status
	// code instead of a transport error.
	collector.ParseHTTPErrorResponse = true

	timeout := request.Timeout
	if timeout == 0 {
		timeout = f.cfg.Timeout
	}
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	// The collector reads one byte past the cap so Fetch can tell an
	// oversized body apart from one that is exactly at the limit; colly
	// truncates at MaxBodySize instead of erroring.
	if request.MaxBytes > 0 {
		collector.MaxBodySize = int(request.MaxBytes) + 1
	}
	collector.WithTransport(f.transport)

	collector.OnResponse(func(r *colly.Response) {
		*result = relay.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	collector.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})

	return collector
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
