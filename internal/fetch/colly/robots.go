package collyfetch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// robotsCacheTransport memoizes robots.txt responses per host. The crawl
// visits many documents per municipality domain and Colly probes robots.txt
// before each one; one probe per host is enough.
type robotsCacheTransport struct {
	base http.RoundTripper

	mu    sync.RWMutex
	cache map[string]*cachedRobots
}

type cachedRobots struct {
	status int
	body   []byte
}

func newRobotsCacheTransport(base http.RoundTripper) *robotsCacheTransport {
	return &robotsCacheTransport{
		base:  base,
		cache: make(map[string]*cachedRobots),
	}
}

func (t *robotsCacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if !isRobotsTxtRequest(req) {
		return t.base.RoundTrip(req)
	}

	host := req.URL.Host
	t.mu.RLock()
	cached, ok := t.cache[host]
	t.mu.RUnlock()
	if ok {
		return cached.response(req), nil
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		// An unreachable robots.txt must not take the whole domain down
		// with it; treat it as allow-all and do not cache the failure.
		return syntheticAllowAllResponse(req), nil //nolint:nilerr
	}
	body, readErr := io.ReadAll(resp.Body)
	closeErr := resp.Body.Close()
	if readErr != nil || closeErr != nil {
		return syntheticAllowAllResponse(req), nil
	}

	entry := &cachedRobots{status: resp.StatusCode, body: body}
	t.mu.Lock()
	t.cache[host] = entry
	t.mu.Unlock()
	return entry.response(req), nil
}

func (c *cachedRobots) response(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    c.status,
		Status:        fmt.Sprintf("%d %s", c.status, http.StatusText(c.status)),
		Body:          io.NopCloser(bytes.NewReader(c.body)),
		ContentLength: int64(len(c.body)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func isRobotsTxtRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

func syntheticAllowAllResponse(req *http.Request) *http.Response {
	const body = "User-agent: *\nAllow: /"
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        make(http.Header),
		Request:       req,
	}
}
