// Package wayback implements the archival capability against the Internet
// Archive's Wayback Machine: Save Page Now for submissions, the availability
// API for recent-capture reuse, and the web endpoint for snapshot content.
package wayback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/socialtoolkit/lawharvest/internal/pipeline"
)

// Endpoint defaults for the Wayback Machine.
const (
	defaultSaveURL      = "https://web.archive.org/save/"
	defaultWebURL       = "https://web.archive.org/web/"
	defaultAvailableURL = "https://archive.org/wayback/available"
)

// snapshotPath matches /web/20260831123045/https://... in a Location or
// Content-Location header. The 14 digits are YYYYMMDDhhmmss.
var snapshotPath = regexp.MustCompile(`/web/(\d{14})(?:[a-z_]*)/`)

// Config controls the Wayback client.
type Config struct {
	SaveURL      string
	WebURL       string
	AvailableURL string
	UserAgent    string
	Timeout      time.Duration
	// ReuseWithin reuses an existing public capture instead of forcing a
	// new one when the archive already holds a snapshot this recent.
	// Zero disables reuse.
	ReuseWithin time.Duration
}

func (c *Config) defaults() {
	if c.SaveURL == "" {
		c.SaveURL = defaultSaveURL
	}
	if c.WebURL == "" {
		c.WebURL = defaultWebURL
	}
	if c.AvailableURL == "" {
		c.AvailableURL = defaultAvailableURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "lawharvest/0.1"
	}
}

// Client implements pipeline.Archiver.
type Client struct {
	cfg    Config
	client *http.Client
}

// New builds a Client. A nil httpClient gets a default with the configured
// timeout.
func New(cfg Config, httpClient *http.Client) *Client {
	cfg.defaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, client: httpClient}
}

// Submit archives rawURL and returns the resulting snapshot reference.
// When ReuseWithin is set and the archive already holds a capture that
// recent, the existing capture is returned without a new save.
func (c *Client) Submit(ctx context.Context, rawURL string) (pipeline.ArchiveSnapshot, error) {
	if c.cfg.ReuseWithin > 0 {
		if snap, ok, err := c.available(ctx, rawURL); err == nil && ok {
			if time.Since(snap.Timestamp) <= c.cfg.ReuseWithin {
				return snap, nil
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.SaveURL+rawURL, nil)
	if err != nil {
		return pipeline.ArchiveSnapshot{}, fmt.Errorf("%w: build save request: %v", pipeline.ErrArchiveRejected, err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return pipeline.ArchiveSnapshot{}, fmt.Errorf("save page now: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16)) //nolint:errcheck // drain for keep-alive

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return pipeline.ArchiveSnapshot{}, fmt.Errorf("%w: save returned 429", pipeline.ErrArchiveRateLimited)
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusUnavailableForLegalReasons:
		// Robots-disallowed, excluded, or unreachable URLs come back in
		// this range and will not succeed on retry.
		return pipeline.ArchiveSnapshot{}, fmt.Errorf("%w: save returned %d", pipeline.ErrArchiveRejected, resp.StatusCode)
	case resp.StatusCode >= 500:
		return pipeline.ArchiveSnapshot{}, fmt.Errorf("save returned %d", resp.StatusCode)
	}

	loc := resp.Header.Get("Content-Location")
	if loc == "" {
		loc = resp.Request.URL.Path
	}
	m := snapshotPath.FindStringSubmatch(loc)
	if m == nil {
		return pipeline.ArchiveSnapshot{}, fmt.Errorf("save response carried no snapshot path (status %d)", resp.StatusCode)
	}
	ts, err := time.Parse("20060102150405", m[1])
	if err != nil {
		return pipeline.ArchiveSnapshot{}, fmt.Errorf("parse snapshot timestamp %q: %w", m[1], err)
	}
	return pipeline.ArchiveSnapshot{
		SnapshotID: m[1],
		RawURL:     rawURL,
		Timestamp:  ts,
		MimeType:   resp.Header.Get("Content-Type"),
		HTTPStatus: resp.StatusCode,
	}, nil
}

// Fetch retrieves the archived bytes for a snapshot. The id_ flag asks the
// Wayback Machine for the original capture without its replay banner.
func (c *Client) Fetch(ctx context.Context, snap pipeline.ArchiveSnapshot) ([]byte, string, error) {
	url := fmt.Sprintf("%s%sid_/%s", c.cfg.WebURL, snap.SnapshotID, snap.RawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build snapshot request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch snapshot %s: %w", snap.SnapshotID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", fmt.Errorf("%w: snapshot %s", pipeline.ErrSnapshotNotFound, snap.SnapshotID)
	}
	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("snapshot %s returned %d", snap.SnapshotID, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read snapshot body: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

type availableResponse struct {
	ArchivedSnapshots struct {
		Closest struct {
			Available bool   `json:"available"`
			URL       string `json:"url"`
			Timestamp string `json:"timestamp"`
			Status    string `json:"status"`
		} `json:"closest"`
	} `json:"archived_snapshots"`
}

// available asks the availability API for the closest existing capture.
func (c *Client) available(ctx context.Context, rawURL string) (pipeline.ArchiveSnapshot, bool, error) {
	params := url.Values{"url": {rawURL}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.AvailableURL+"?"+params.Encode(), nil)
	if err != nil {
		return pipeline.ArchiveSnapshot{}, false, fmt.Errorf("build availability request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return pipeline.ArchiveSnapshot{}, false, fmt.Errorf("availability probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return pipeline.ArchiveSnapshot{}, false, fmt.Errorf("availability probe returned %d", resp.StatusCode)
	}
	var parsed availableResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return pipeline.ArchiveSnapshot{}, false, fmt.Errorf("decode availability response: %w", err)
	}
	closest := parsed.ArchivedSnapshots.Closest
	if !closest.Available || closest.Timestamp == "" {
		return pipeline.ArchiveSnapshot{}, false, nil
	}
	ts, err := time.Parse("20060102150405", closest.Timestamp)
	if err != nil {
		return pipeline.ArchiveSnapshot{}, false, fmt.Errorf("parse availability timestamp %q: %w", closest.Timestamp, err)
	}
	return pipeline.ArchiveSnapshot{
		SnapshotID: closest.Timestamp,
		RawURL:     rawURL,
		Timestamp:  ts,
	}, true, nil
}
