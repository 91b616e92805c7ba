// Package cntd talks to the docs.cntd.ru listing, metadata and document
// endpoints.
package cntd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
	"github.com/JakeFAU/corpus-reconciler/internal/policy/ratelimit"
)

// DefaultBaseURL is the public CNTD host.
const DefaultBaseURL = "https://docs.cntd.ru"

// Config controls the HTTP client.
type Config struct {
	BaseURL   string
	UserAgent string
	// Timeout bounds a single request. Defaults to 30s.
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	// Date optionally narrows listings to a registration year, e.g. "2025".
	Date string
}

// Client implements corpus.ListingFetcher, corpus.MetadataFetcher and
// corpus.ContentExtractor.
type Client struct {
	cfg           Config
	base          *url.URL
	limiter       *ratelimit.Limiter
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type response struct {
	status  int
	headers http.Header
	body    []byte
}

// New builds a Client. limiter may be nil, in which case one is built from
// cfg.RatePerSecond and cfg.Burst.
func New(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{RPS: cfg.RatePerSecond, Burst: cfg.Burst})
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = true
	c.MaxBodySize = 0
	c.WithTransport(newHTTPTransport())

	return &Client{
		cfg:           cfg,
		base:          base,
		limiter:       limiter,
		baseCollector: c,
		logger:        logger,
	}, nil
}

// DocumentURL is the public page of a document.
func (c *Client) DocumentURL(docID string) string {
	return c.base.String() + "/document/" + url.PathEscape(docID)
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// get performs one rate-limited GET and classifies every failure as a
// *corpus.Error.
func (c *Client) get(ctx context.Context, op, id, rawURL, accept string) ([]byte, error) {
	if err := c.limiter.Wait(ctx, rawURL); err != nil {
		return nil, err
	}

	var (
		resp     response
		fetchErr error
	)
	collector := c.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.SetRequestTimeout(c.cfg.Timeout)

	collector.OnRequest(func(r *colly.Request) {
		if accept != "" {
			r.Headers.Set("Accept", accept)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		resp = response{
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		}
		if r.Headers != nil {
			resp.headers = r.Headers.Clone()
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	start := time.Now()
	if err := runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		return nil, classifyTransport(op, id, err)
	}
	c.logger.Debug("cntd request",
		zap.String("url", rawURL),
		zap.Int("status", resp.status),
		zap.Duration("elapsed", time.Since(start)),
	)
	if err := c.checkStatus(op, id, rawURL, resp); err != nil {
		return nil, err
	}
	return resp.body, nil
}

func (c *Client) checkStatus(op, id, rawURL string, resp response) error {
	switch {
	case resp.status >= 200 && resp.status < 300:
		return nil
	case resp.status == http.StatusTooManyRequests:
		wait := parseRetryAfter(resp.headers.Get("Retry-After"), time.Now())
		if wait > 0 {
			c.limiter.Cooldown(rawURL, wait)
		}
		e := corpus.Errorf(corpus.KindRateLimited, op, "status %d", resp.status).WithID(id)
		e.RetryAfter = wait
		return e
	case resp.status == http.StatusRequestTimeout || resp.status >= 500:
		return corpus.Errorf(corpus.KindTransientNetwork, op, "status %d", resp.status).WithID(id)
	default:
		return corpus.Errorf(corpus.KindMalformedResponse, op, "status %d", resp.status).WithID(id)
	}
}

func classifyTransport(op, id string, err error) error {
	kind := corpus.KindTransientNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = corpus.KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = corpus.KindTimeout
	}
	return corpus.E(kind, op, err).WithID(id)
}

func runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
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
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
