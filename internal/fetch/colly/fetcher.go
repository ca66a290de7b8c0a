// Package collyfetcher implements document retrieval using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/docpipe/docpipe/internal/pipeline"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Fetcher implements pipeline.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Probe issues a HEAD request and returns the advertised content type.
// Servers that reject HEAD yield an empty type rather than an error so the
// caller can fall back to sniffing the body.
func (f *Fetcher) Probe(ctx context.Context, locator string) (string, error) {
	collector := f.newCollector()

	var contentType string
	collector.OnResponse(func(r *colly.Response) {
		contentType = r.Headers.Get("Content-Type")
	})

	if err := f.run(ctx, func() error { return collector.Head(locator) }); err != nil {
		return "", nil
	}
	return contentType, nil
}

// Fetch executes a single HTTP GET and returns the full body.
func (f *Fetcher) Fetch(ctx context.Context, locator string) (pipeline.FetchResponse, error) {
	collector := f.newCollector()

	start := time.Now()
	var (
		result   pipeline.FetchResponse
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		result = pipeline.FetchResponse{
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        append([]byte(nil), r.Body...),
			Duration:    time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			result.StatusCode = r.StatusCode
		}
		fetchErr = err
	})

	if err := f.run(ctx, func() error { return collector.Visit(locator) }); err != nil {
		return result, err
	}
	if fetchErr != nil {
		return result, fmt.Errorf("%w: %v", pipeline.ErrFetchFailed, fetchErr)
	}
	return result, nil
}

func (f *Fetcher) newCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	return collector
}

func (f *Fetcher) run(ctx context.Context, visit func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- visit()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %v", pipeline.ErrFetchFailed, err)
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

var _ pipeline.Fetcher = (*Fetcher)(nil)
