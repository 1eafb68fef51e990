package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"

	"github.com/polzovatel/hierarchical-browser-agent/internal/config"
	"github.com/polzovatel/hierarchical-browser-agent/internal/plan"
)

type pwController struct {
	pw         *playwright.Playwright
	browser    playwright.Browser
	context    playwright.BrowserContext
	page       playwright.Page
	navTimeout time.Duration
	actTimeout time.Duration
	logger     zerolog.Logger
}

func openPlaywright(_ context.Context, cfg config.Browser, storagePath string, logger zerolog.Logger) (*pwController, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	opts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	}
	if cfg.ViewportW > 0 && cfg.ViewportH > 0 {
		opts.Viewport = &playwright.Size{Width: cfg.ViewportW, Height: cfg.ViewportH}
	}
	if strings.TrimSpace(storagePath) != "" {
		if _, err := os.Stat(storagePath); err == nil {
			opts.StorageStatePath = playwright.String(storagePath)
			logger.Info().Str("path", storagePath).Msg("loading storage state")
		} else {
			logger.Warn().Str("path", storagePath).Msg("storage state not found, starting clean")
		}
	}
	bctx, err := browser.NewContext(opts)
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("new page: %w", err)
	}

	nav, action := timeouts(cfg)
	page.SetDefaultTimeout(float64(action.Milliseconds()))
	page.SetDefaultNavigationTimeout(float64(nav.Milliseconds()))

	return &pwController{
		pw:         pw,
		browser:    browser,
		context:    bctx,
		page:       page,
		navTimeout: nav,
		actTimeout: action,
		logger:     logger,
	}, nil
}

func (c *pwController) Close(_ context.Context) error {
	if c.page != nil {
		_ = c.page.Close()
	}
	if c.context != nil {
		_ = c.context.Close()
	}
	if c.browser != nil {
		_ = c.browser.Close()
	}
	if c.pw != nil {
		return c.pw.Stop()
	}
	return nil
}

func (c *pwController) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(c.navTimeout.Milliseconds())),
	})
	return wrap(err)
}

func (c *pwController) visible(selector string) (playwright.Locator, error) {
	// First() avoids strict mode violations when several nodes match
	first := c.page.Locator(selector).First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(c.actTimeout.Milliseconds())),
	}); err != nil {
		return nil, wrap(err)
	}
	return first, nil
}

func (c *pwController) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	first, err := c.visible(selector)
	if err != nil {
		return err
	}
	if err := first.ScrollIntoViewIfNeeded(); err != nil {
		c.logger.Debug().Err(err).Str("selector", selector).Msg("scroll into view failed, clicking anyway")
	}
	return wrap(first.Click())
}

func (c *pwController) ClickText(ctx context.Context, text string, exact bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	first := c.page.GetByText(text, playwright.PageGetByTextOptions{
		Exact: playwright.Bool(exact),
	}).First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(c.actTimeout.Milliseconds())),
	}); err != nil {
		return wrap(err)
	}
	return wrap(first.Click())
}

// ClickByCoordinates clicks at specific coordinates (fallback when selector fails)
func (c *pwController) ClickByCoordinates(ctx context.Context, x, y float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(c.page.Mouse().Click(x, y))
}

func (c *pwController) Fill(ctx context.Context, selector, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	first, err := c.visible(selector)
	if err != nil {
		return err
	}
	return wrap(first.Fill(text))
}

// Type sends key presses one by one, for inputs that react to keystrokes.
func (c *pwController) Type(ctx context.Context, selector, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	first, err := c.visible(selector)
	if err != nil {
		return err
	}
	return wrap(first.PressSequentially(text, playwright.LocatorPressSequentiallyOptions{
		Delay: playwright.Float(20),
	}))
}

func (c *pwController) Read(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(selector) == "" {
		val, err := c.page.InnerText("body")
		return val, wrap(err)
	}

	first, err := c.visible(selector)
	if err == nil {
		val, err := first.InnerText()
		if err == nil && strings.TrimSpace(val) != "" {
			return val, nil
		}
	}

	// iframes
	for _, frame := range c.page.Frames() {
		if frame == c.page.MainFrame() {
			continue
		}
		loc := frame.Locator(selector).First()
		if err := loc.WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateVisible,
			Timeout: playwright.Float(3000),
		}); err == nil {
			val, err := loc.InnerText()
			if err == nil && strings.TrimSpace(val) != "" {
				return val, nil
			}
		}
	}
	return "", fmt.Errorf("selector not found in any frame: %s", selector)
}

func (c *pwController) Scroll(ctx context.Context, direction string, distance int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if distance <= 0 {
		distance = defaultScrollAmount
		if vh, err := c.page.Evaluate(call(viewportHeightScript)); err == nil {
			if n, ok := vh.(float64); ok && n > 0 {
				distance = int(n)
			}
		}
	}
	if _, err := c.page.Evaluate(call(scrollScript, normalizeDirection(direction), distance)); err != nil {
		return 0, wrap(err)
	}
	return distance, nil
}

func (c *pwController) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = c.actTimeout
	}
	return wrap(c.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
		State:   playwright.WaitForSelectorStateVisible,
	}))
}

// WaitForStableDOM waits for network idle and then for a quiet DOM.
func (c *pwController) WaitForStableDOM(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if err := c.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}); err != nil {
		_ = c.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State:   playwright.LoadStateDomcontentloaded,
			Timeout: playwright.Float(1000),
		})
	}
	_, err := c.page.Evaluate(call(stableDOMScript))
	return wrap(err)
}

func (c *pwController) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := c.page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypeJpeg,
	})
	return data, wrap(err)
}

func (c *pwController) State(ctx context.Context) (plan.PageState, error) {
	if err := ctx.Err(); err != nil {
		return plan.PageState{}, err
	}
	st := plan.PageState{URL: c.page.URL()}
	title, err := c.page.Title()
	if err != nil {
		return st, wrap(err)
	}
	st.Title = title
	content, err := c.page.Content()
	if err != nil {
		return st, wrap(err)
	}
	st.Content = content
	if size := c.page.ViewportSize(); size != nil {
		st.Viewport = plan.Viewport{Width: size.Width, Height: size.Height}
	}
	return st, nil
}

func (c *pwController) SaveState(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state, err := c.context.StorageState()
	if err != nil {
		return wrap(err)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal storage: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
