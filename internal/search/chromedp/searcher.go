// Package headless executes search-engine queries in a real browser.
//
// Search engines serve little to no result markup to plain HTTP clients, so
// the searcher renders the result page with chromedp and harvests result
// links from the DOM. Block and CAPTCHA pages are surfaced as
// pipeline.ErrSearchBlocked, never as an empty result.
package headless

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/socialtoolkit/lawharvest/internal/pipeline"
)

// Config controls the headless search session.
type Config struct {
	BaseURL           string
	UserAgent         string
	NavigationTimeout time.Duration
	MaxResults        int
}

// Searcher implements pipeline.Searcher with headless Chrome.
type Searcher struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a Searcher backed by a shared Chrome exec allocator.
func New(cfg Config) (*Searcher, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.google.com/search"
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Searcher{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context, shutting down the browser.
func (s *Searcher) Close() {
	s.allocCancel()
}

// Search renders the result page for queryText and returns the harvested
// result URLs. A query that matches nothing returns an empty result and a
// nil error; a block page returns ErrSearchBlocked.
func (s *Searcher) Search(ctx context.Context, queryText string) (pipeline.SearchResult, error) {
	taskCtx, taskCancel := chromedp.NewContext(s.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, s.cfg.NavigationTimeout)
	defer cancel()

	// Tie the chromedp task to the caller's context.
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-taskCtx.Done():
		}
	}()

	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		s.sessionSetup(),
		chromedp.Navigate(s.resultPageURL(queryText)),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return pipeline.SearchResult{}, fmt.Errorf("search canceled: %w", ctx.Err())
		}
		return pipeline.SearchResult{}, fmt.Errorf("render result page: %w", err)
	}

	if blocked(finalURL, html) {
		return pipeline.SearchResult{}, pipeline.ErrSearchBlocked
	}

	urls := parseResultLinks(html, s.cfg.MaxResults)
	return pipeline.SearchResult{URLs: urls, Count: len(urls)}, nil
}

func (s *Searcher) resultPageURL(queryText string) string {
	q := url.Values{}
	q.Set("q", queryText)
	q.Set("num", strconv.Itoa(s.cfg.MaxResults))
	return s.cfg.BaseURL + "?" + q.Encode()
}

func (s *Searcher) sessionSetup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}
