// Package collyfetch implements live URL fetching with gocolly. It is the
// fallback path for URLs that have no usable archive snapshot.
package collyfetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher fetches one URL per call through a Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher with a pooled transport and a robots.txt cache so each
// municipality domain is probed once, not once per document.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	transport := newRobotsCacheTransport(newHTTPTransport())
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET and returns the body, the Content-Type
// header, and the status code. Non-2xx statuses are returned with the body,
// not as errors; the caller decides how to treat them.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, int, error) {
	var (
		body     []byte
		mimeType string
		status   int
		fetchErr error
	)

	collector := f.baseCollector.Clone()
	collector.WithTransport(f.transport)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
		mimeType = r.Headers.Get("Content-Type")
		status = r.StatusCode
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			// Keep the status so 4xx/5xx pages surface as such instead of
			// as opaque transport errors.
			body = append([]byte(nil), r.Body...)
			mimeType = r.Headers.Get("Content-Type")
			status = r.StatusCode
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return nil, "", 0, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, "", 0, fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
		}
		if err != nil && status == 0 {
			return nil, "", 0, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		return body, mimeType, status, nil
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
