package cntd

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
	"github.com/JakeFAU/corpus-reconciler/internal/policy/ratelimit"
)

// HeadlessConfig controls the browser-backed extractor.
type HeadlessConfig struct {
	BaseURL           string
	UserAgent         string
	MaxParallel       int
	NavigationTimeout time.Duration
}

// HeadlessExtractor renders document pages in headless Chrome before
// extracting their text. It is used for pages that build the text client-side.
type HeadlessExtractor struct {
	cfg         HeadlessConfig
	base        string
	slots       chan struct{}
	limiter     *ratelimit.Limiter
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewHeadless creates a HeadlessExtractor. limiter may be shared with the
// HTTP client so both respect the same per-host budget.
func NewHeadless(cfg HeadlessConfig, limiter *ratelimit.Limiter, logger *zap.Logger) (*HeadlessExtractor, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &HeadlessExtractor{
		cfg:         cfg,
		base:        strings.TrimRight(cfg.BaseURL, "/"),
		slots:       slots,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close shuts the browser down.
func (h *HeadlessExtractor) Close() {
	h.allocCancel()
}

// ExtractContent navigates to the document and extracts its rendered text.
func (h *HeadlessExtractor) ExtractContent(ctx context.Context, docID, docURL string) (string, error) {
	const op = "cntd.headless_content"
	if docURL == "" {
		docURL = h.base + "/document/" + docID
	}
	if err := h.acquire(ctx); err != nil {
		return "", err
	}
	defer h.release()
	if err := h.limiter.Wait(ctx, docURL); err != nil {
		return "", err
	}

	taskCtx, taskCancel := chromedp.NewContext(h.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, h.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := &documentStatus{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var html string
	actions := []chromedp.Action{
		h.networkSetupAction(),
		chromedp.Navigate(docURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("headless run canceled: %w", ctx.Err())
		}
		if taskCtx.Err() != nil {
			return "", corpus.E(corpus.KindTimeout, op, err).WithID(docID)
		}
		return "", corpus.E(corpus.KindTransientNetwork, op, err).WithID(docID)
	}

	if status := meta.get(); status >= 400 {
		return "", corpus.Errorf(statusKind(status), op, "status %d", status).WithID(docID)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", malformed(op, docID, err)
	}
	text := textFromDocument(doc)
	h.logger.Debug("headless extraction",
		zap.String("doc_id", docID),
		zap.Int("chars", len(text)),
	)
	return text, nil
}

func (h *HeadlessExtractor) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if h.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(h.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (h *HeadlessExtractor) acquire(ctx context.Context) error {
	if h.slots == nil {
		return nil
	}
	select {
	case h.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (h *HeadlessExtractor) release() {
	if h.slots == nil {
		return
	}
	select {
	case <-h.slots:
	default:
	}
}

// documentStatus records the status of the top-level document response.
type documentStatus struct {
	mu     sync.Mutex
	status int
}

func (d *documentStatus) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	if d.status == 0 {
		d.status = int(resp.Response.Status)
	}
	d.mu.Unlock()
}

func (d *documentStatus) get() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func statusKind(status int) corpus.Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return corpus.KindRateLimited
	case status == http.StatusRequestTimeout || status >= 500:
		return corpus.KindTransientNetwork
	default:
		return corpus.KindMalformedResponse
	}
}
