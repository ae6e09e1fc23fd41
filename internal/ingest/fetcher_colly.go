package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// CollyFetcher implements Fetcher interface using Colly for web scraping.
// It provides rate limiting, retries, and respects robots.txt.
type CollyFetcher struct {
	UserAgent         string
	MaxRetries        int
	RequestTimeout    time.Duration
	DomainDelay       time.Duration
	RandomDelayFactor float64
	IgnoreRobotsTxt   bool
	MaxBodySize       int // bytes, 0 = unlimited
	DetectCharset     bool
	CacheDir          string // empty = no cache
}

// NewCollyFetcher creates a CollyFetcher with sensible defaults.
func NewCollyFetcher() *CollyFetcher {
	return &CollyFetcher{
		UserAgent:         DefaultUserAgent,
		MaxRetries:        3,
		RequestTimeout:    30 * time.Second,
		DomainDelay:       1 * time.Second,
		RandomDelayFactor: 0.5,
		IgnoreRobotsTxt:   false,
		MaxBodySize:       10 * 1024 * 1024, // 10MB
		DetectCharset:     true,
	}
}

// CollyFetcherWithConfig creates a CollyFetcher from a FetchConfig.
func CollyFetcherWithConfig(cfg FetchConfig) *CollyFetcher {
	f := NewCollyFetcher()

	if cfg.TimeoutSeconds > 0 {
		f.RequestTimeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if cfg.RateLimitRPS > 0 {
		f.DomainDelay = time.Duration(float64(time.Second) / cfg.RateLimitRPS)
	}
	f.MaxRetries = max(cfg.MaxRetries, 0)
	if cfg.UserAgent != "" {
		f.UserAgent = cfg.UserAgent
	}

	return f
}

// buildCollector creates a configured Colly collector.
func (f *CollyFetcher) buildCollector(allowedDomains []string) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.UserAgent(f.UserAgent),
		colly.MaxBodySize(f.MaxBodySize),
		colly.AllowURLRevisit(),
	}

	if len(allowedDomains) > 0 {
		opts = append(opts, colly.AllowedDomains(allowedDomains...))
	}
	if f.DetectCharset {
		opts = append(opts, colly.DetectCharset())
	}
	if f.IgnoreRobotsTxt {
		opts = append(opts, colly.IgnoreRobotsTxt())
	}
	if f.CacheDir != "" {
		opts = append(opts, colly.CacheDir(f.CacheDir))
	}

	c := colly.NewCollector(opts...)

	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       f.DomainDelay,
		RandomDelay: time.Duration(float64(f.DomainDelay) * f.RandomDelayFactor),
	})

	c.SetRequestTimeout(f.RequestTimeout)
	return c
}

// Fetch implements the Fetcher interface, returning a FetchedDocument.
func (f *CollyFetcher) Fetch(ctx context.Context, targetURL string) (*FetchedDocument, error) {
	parsedURL, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	c := f.buildCollector([]string{parsedURL.Host})

	var (
		mu       sync.Mutex
		result   *FetchedDocument
		fetchErr error
		once     sync.Once
	)
	done := make(chan struct{})
	finish := func() { once.Do(func() { close(done) }) }

	c.OnResponse(func(r *colly.Response) {
		mu.Lock()
		result = &FetchedDocument{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        io.NopCloser(bytes.NewReader(r.Body)),
			FetchedAt:   time.Now(),
			Headers:     map[string][]string(r.Headers.Clone()),
		}
		mu.Unlock()
		finish()
	})

	c.OnError(func(r *colly.Response, err error) {
		retries, _ := r.Request.Ctx.GetAny("retries").(int)
		if retries < f.MaxRetries && ctx.Err() == nil {
			r.Request.Ctx.Put("retries", retries+1)
			log.Printf("[Colly] Retry %d/%d for %s: %v", retries+1, f.MaxRetries, r.Request.URL, err)
			time.Sleep(time.Duration(retries+1) * time.Second)
			if retryErr := r.Request.Retry(); retryErr == nil {
				return
			}
		}
		mu.Lock()
		fetchErr = fmt.Errorf("fetch failed after %d retries: %w", retries, err)
		mu.Unlock()
		finish()
	})

	visitErr := make(chan error, 1)
	go func() {
		visitErr <- c.Visit(targetURL)
		finish()
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}

	if err := <-visitErr; err != nil {
		return nil, fmt.Errorf("visit failed: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if fetchErr != nil {
		return nil, fetchErr
	}
	if result == nil {
		return nil, fmt.Errorf("no response received for %s", targetURL)
	}
	if result.StatusCode != 200 {
		return nil, fmt.Errorf("unexpected status code: %d", result.StatusCode)
	}
	return result, nil
}
