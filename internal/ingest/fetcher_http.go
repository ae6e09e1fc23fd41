package ingest

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultUserAgent identifies the crawler to the sites it visits.
const DefaultUserAgent = "GrantDiscoveryBot/1.0 (+https://github.com/david/grant-discovery)"

const defaultAcceptLanguage = "en-AU,en;q=0.8"

var blockedPrefixes = mustPrefixes(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, s := range cidrs {
		out = append(out, netip.MustParsePrefix(s))
	}
	return out
}

// NewFetcher builds the fetch capability named by kind: "simple" (single
// attempt), "colly" (colly collector honouring robots.txt), or anything else
// for the rate-limited HTTP client with retries.
func NewFetcher(kind string, cfg FetchConfig) Fetcher {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "simple":
		f := NewHTTPFetcher()
		if cfg.TimeoutSeconds > 0 {
			f.Client.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
		}
		if cfg.UserAgent != "" {
			f.UserAgent = cfg.UserAgent
		}
		return f
	case "colly":
		return CollyFetcherWithConfig(cfg)
	default:
		return NewRateLimitedFetcher(cfg)
	}
}

// HTTPFetcher makes a single GET per call.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		Client:    newSafeClient(30*time.Second, ""),
		UserAgent: DefaultUserAgent,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*FetchedDocument, error) {
	req, err := newPageRequest(ctx, url, firstNonEmpty(f.UserAgent, DefaultUserAgent), defaultAcceptLanguage)
	if err != nil {
		return nil, err
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return documentFrom(url, resp), nil
}

// RateLimitedFetcher keeps one client and one ticker per host. With
// MaxRetries > 0 it retries timeouts and 429/5xx responses with exponential
// backoff; the default is a single attempt.
type RateLimitedFetcher struct {
	cfg      FetchConfig
	clients  map[string]*http.Client
	limiters map[string]*time.Ticker
	mu       sync.Mutex
}

func NewRateLimitedFetcher(cfg FetchConfig) *RateLimitedFetcher {
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 1.0
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = defaultAcceptLanguage
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	return &RateLimitedFetcher{
		cfg:      cfg,
		clients:  make(map[string]*http.Client),
		limiters: make(map[string]*time.Ticker),
	}
}

// Close stops the per-host tickers.
func (f *RateLimitedFetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for host, t := range f.limiters {
		t.Stop()
		delete(f.limiters, host)
	}
}

func (f *RateLimitedFetcher) forHost(host string) (*http.Client, *time.Ticker) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[host]; ok {
		return client, f.limiters[host]
	}

	client := newSafeClient(time.Duration(f.cfg.TimeoutSeconds)*time.Second, f.cfg.ProxyURL)
	interval := time.Duration(float64(time.Second) / f.cfg.RateLimitRPS)
	if interval <= 0 {
		interval = time.Second
	}
	limiter := time.NewTicker(interval)

	f.clients[host] = client
	f.limiters[host] = limiter
	return client, limiter
}

func (f *RateLimitedFetcher) Fetch(ctx context.Context, rawURL string) (*FetchedDocument, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q", rawURL)
	}

	client, limiter := f.forHost(u.Host)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-limiter.C:
	}

	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// 0.5s, 1s, 2s ... plus jitter
			backoff := time.Duration(500*(1<<uint(attempt-1)))*time.Millisecond +
				time.Duration(rand.Intn(100))*time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := newPageRequest(ctx, rawURL, f.cfg.UserAgent, f.cfg.AcceptLanguage)
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			if shouldRetry(err, 0) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("failed to execute request: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			return documentFrom(rawURL, resp), nil
		}
		resp.Body.Close()
		if !shouldRetry(nil, resp.StatusCode) {
			return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		lastErr = fmt.Errorf("status code %d", resp.StatusCode)
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func newPageRequest(ctx context.Context, url, userAgent, acceptLanguage string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", acceptLanguage)
	req.Header.Set("Cache-Control", "no-cache")
	return req, nil
}

func documentFrom(url string, resp *http.Response) *FetchedDocument {
	return &FetchedDocument{
		URL:         url,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
		FetchedAt:   time.Now(),
		Headers:     resp.Header,
	}
}

// newSafeClient returns a client that refuses to dial or redirect into
// private address space.
func newSafeClient(timeout time.Duration, proxy string) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           safeDialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if proxy != "" {
		if proxyURL, err := url.Parse(proxy); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return &http.Client{
		Timeout:       timeout,
		Transport:     transport,
		CheckRedirect: safeCheckRedirect,
	}
}

func safeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return nil, fmt.Errorf("blocked private IP: %s", ip)
		}
	}

	d := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	return d.DialContext(ctx, network, addr)
}

func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsLinkLocalMulticast() || ip.IsLinkLocalUnicast() ||
		ip.IsMulticast() || ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func safeCheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after 10 redirects")
	}
	if req.URL == nil {
		return fmt.Errorf("invalid redirect URL")
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("redirect scheme blocked")
	}

	host := req.URL.Hostname()
	if host == "" {
		return fmt.Errorf("redirect host missing")
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".local") {
		return fmt.Errorf("redirect to internal host blocked")
	}
	ips, err := net.DefaultResolver.LookupIP(req.Context(), "ip", host)
	if err != nil {
		return err
	}
	if len(ips) == 0 {
		return fmt.Errorf("redirect host resolved to no addresses")
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("redirect to private IP blocked: %s", ip)
		}
	}
	return nil
}

// shouldRetry reports whether a transport error or status code is transient.
func shouldRetry(err error, statusCode int) bool {
	if err != nil {
		netErr, ok := err.(interface{ Timeout() bool })
		return ok && netErr.Timeout()
	}
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
