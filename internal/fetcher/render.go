package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"restock-monitor/internal/assert"
	"restock-monitor/internal/components/telemetry"
	"restock-monitor/internal/registry"

	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"
)

const (
	report_render_fetch   = "render.fetch"
	report_render_browser = "render.browser"
)

type RenderOptions struct {
	// Timeout bounds a single render once the host and a render slot are free.
	Timeout time.Duration
	// SettleDelay is how long a page is given to run its scripts after loading.
	SettleDelay time.Duration
	// MaxRenders caps how many pages are rendered at the same time.
	MaxRenders int64
	// ExecPath overrides the chrome binary, it is located automatically when empty.
	ExecPath string
}

type (
	renderFunc func(ctx context.Context, url string) (string, error)
	launchFunc func(ctx context.Context) (context.Context, context.CancelFunc, error)
)

// RenderFetcher loads pages in a shared headless chrome, one tab per fetch.
type RenderFetcher struct {
	options RenderOptions
	limiter *HostLimiter
	tel     telemetry.API
	slots   *semaphore.Weighted
	render  renderFunc
	launch  launchFunc

	mutex         sync.Mutex
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	// launching is closed when the launch in progress finishes
	launching chan struct{}
}

func NewRenderFetcher(options RenderOptions, limiter *HostLimiter, tel telemetry.API) *RenderFetcher {
	assert.NotNil(tel, "telemetry")
	assert.Positive(options.MaxRenders, "max renders")

	f := &RenderFetcher{
		options: options,
		limiter: limiter,
		tel:     telemetry.NewScopedAPI("fetcher", tel),
		slots:   semaphore.NewWeighted(options.MaxRenders),
	}
	f.render = f.renderChrome
	f.launch = f.launchChrome
	return f
}

func (f *RenderFetcher) Fetch(ctx context.Context, product registry.Product) ([]byte, error) {
	err := f.limiter.Wait(ctx, product.URL)
	if err != nil {
		return nil, newFetchError(product, registry.StrategyDynamic, fmt.Errorf("wait for host: %w", err))
	}

	err = f.slots.Acquire(ctx, 1)
	if err != nil {
		return nil, newFetchError(product, registry.StrategyDynamic, fmt.Errorf("wait for render slot: %w", err))
	}
	defer f.slots.Release(1)

	if f.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.options.Timeout)
		defer cancel()
	}

	html, err := f.render(ctx, product.URL)
	if err != nil {
		return nil, newFetchError(product, registry.StrategyDynamic, err)
	}

	f.tel.ReportDebug(report_render_fetch, product.ID, len(html))
	return []byte(html), nil
}

// browser returns the context of the shared browser, launching it if it is not
// running yet. Only one launch runs at a time, other callers wait for it or for
// their own ctx.
func (f *RenderFetcher) browser(ctx context.Context) (context.Context, error) {
	for {
		f.mutex.Lock()
		if f.browserCtx != nil && f.browserCtx.Err() == nil {
			browserCtx := f.browserCtx
			f.mutex.Unlock()
			return browserCtx, nil
		}
		if f.launching != nil {
			launching := f.launching
			f.mutex.Unlock()
			select {
			case <-launching:
				continue
			case <-ctx.Done():
				return nil, fmt.Errorf("wait for browser: %w", ctx.Err())
			}
		}
		launching := make(chan struct{})
		f.launching = launching
		f.mutex.Unlock()

		browserCtx, cancelBrowser, err := f.launch(ctx)

		f.mutex.Lock()
		f.launching = nil
		if err == nil {
			f.browserCtx = browserCtx
			f.cancelBrowser = cancelBrowser
		}
		f.mutex.Unlock()
		close(launching)

		if err != nil {
			err = fmt.Errorf("launch browser: %w", err)
			f.tel.ReportBroken(report_render_browser, err)
			return nil, err
		}
		return browserCtx, nil
	}
}

// launchChrome starts a headless chrome that outlives ctx, ctx only bounds the
// launch itself.
func (f *RenderFetcher) launchChrome(ctx context.Context) (context.Context, context.CancelFunc, error) {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(UserAgent),
		chromedp.WindowSize(1920, 1080),
	)
	if f.options.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.options.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	cancel := func() {
		cancelBrowser()
		cancelAlloc()
	}

	stop := context.AfterFunc(ctx, cancel)
	// the first run on a fresh context launches the browser
	err := chromedp.Run(browserCtx)
	if !stop() {
		cancel()
		return nil, nil, ctx.Err()
	}
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return browserCtx, cancel, nil
}

func (f *RenderFetcher) renderChrome(ctx context.Context, url string) (string, error) {
	browserCtx, err := f.browser(ctx)
	if err != nil {
		return "", err
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	// closes the tab when the caller gives up on the fetch
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var html string
	err = chromedp.Run(
		tabCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(f.options.SettleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("render: %w", ctx.Err())
		}
		return "", fmt.Errorf("render: %w", err)
	}
	return html, nil
}

// Close shuts down the shared browser, a later fetch launches a new one.
func (f *RenderFetcher) Close() {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.cancelBrowser != nil {
		f.cancelBrowser()
		f.cancelBrowser = nil
		f.browserCtx = nil
	}
}
