package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromeRenderer renders pages in one shared headless Chrome, opening a tab
// per page. Chrome starts on the first Render and stops on Close.
type ChromeRenderer struct {
	timeout time.Duration
	flags   []chromedp.ExecAllocatorOption
	logger  *zap.Logger

	mu      sync.Mutex
	browser context.Context
	stop    func()
}

// ChromeOption configures a ChromeRenderer.
type ChromeOption func(*ChromeRenderer)

// WithPageTimeout bounds each page render.
func WithPageTimeout(d time.Duration) ChromeOption {
	return func(c *ChromeRenderer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithExecPath runs the Chrome binary at path instead of searching PATH.
func WithExecPath(path string) ChromeOption {
	return func(c *ChromeRenderer) { c.flags = append(c.flags, chromedp.ExecPath(path)) }
}

// WithChromeLogger sets the renderer logger.
func WithChromeLogger(l *zap.Logger) ChromeOption {
	return func(c *ChromeRenderer) { c.logger = l }
}

// NewChromeRenderer configures a renderer. No browser is launched yet.
func NewChromeRenderer(opts ...ChromeOption) *ChromeRenderer {
	c := &ChromeRenderer{
		timeout: DefaultPageTimeout,
		logger:  zap.NewNop(),
		flags: append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(DefaultUserAgent),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Render opens pageURL in a new tab and returns the DOM once the body is
// ready. Cancelling ctx closes the tab but leaves Chrome running.
func (c *ChromeRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	browser, err := c.start(ctx)
	if err != nil {
		return "", &PageError{URL: pageURL, Err: err}
	}

	tab, closeTab := chromedp.NewContext(browser)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, c.timeout)
	defer cancel()
	stopWatch := context.AfterFunc(ctx, cancel)
	defer stopWatch()

	var html string
	if err := chromedp.Run(tab,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &PageError{URL: pageURL, Err: fmt.Errorf("chrome render: %w", err)}
	}

	c.logger.Debug("rendered page", zap.String("url", pageURL), zap.Int("bytes", len(html)))
	return html, nil
}

// start launches Chrome once. The browser outlives ctx.
func (c *ChromeRenderer) start(ctx context.Context) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser != nil {
		return c.browser, nil
	}

	alloc, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), c.flags...)
	browser, cancelBrowser := chromedp.NewContext(alloc)
	if err := chromedp.Run(browser); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}
	c.logger.Info("started headless chrome")

	c.browser = browser
	c.stop = func() {
		cancelBrowser()
		cancelAlloc()
	}
	return browser, nil
}

// Close stops Chrome if it was started.
func (c *ChromeRenderer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		c.stop()
		c.browser, c.stop = nil, nil
	}
	return nil
}
